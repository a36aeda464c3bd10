package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection service metrics for production monitoring
var (
	// Detection run metrics
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_detection_runs_total",
			Help: "Total number of detection runs",
		},
		[]string{"source", "status"}, // source: json/csv, status: ok/error/timeout
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmsight_detection_duration_seconds",
			Help:    "Detection run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"source"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"severity"},
	)

	SeriesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_series_skipped_total",
			Help: "Total number of metric series skipped during detection",
		},
		[]string{"reason"}, // reason: too_short/zero_variance/other
	)

	MethodFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_method_failures_total",
			Help: "Total number of per-entity detection method failures",
		},
		[]string{"method"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmsight_cache_hits_total",
			Help: "Total number of detection result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmsight_cache_misses_total",
			Help: "Total number of detection result cache misses",
		},
	)

	// Store metrics
	RunsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmsight_runs_persisted_total",
			Help: "Total number of detection runs written to the store",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmsight_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsight_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
