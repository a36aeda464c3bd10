package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-analytics/internal/cache"
	"github.com/farmsight/farmsight-analytics/internal/db"
	"github.com/farmsight/farmsight-analytics/internal/detection"
	"github.com/farmsight/farmsight-analytics/internal/ingest"
	"github.com/farmsight/farmsight-analytics/internal/metrics"
)

// maxRequestBody bounds detection request payloads (32 MiB).
const maxRequestBody = 32 << 20

// detectRequest is the JSON body of POST /api/v1/detect.
type detectRequest struct {
	Rows   []detection.Row  `json:"rows"`
	Config *configOverrides `json:"config,omitempty"`
}

// configOverrides holds optional per-request detection parameters. Absent
// fields keep the server's configured values.
type configOverrides struct {
	ZMedium         *float64 `json:"z_medium,omitempty"`
	ZHigh           *float64 `json:"z_high,omitempty"`
	ZCritical       *float64 `json:"z_critical,omitempty"`
	Contamination   *float64 `json:"contamination,omitempty"`
	MinSeriesLength *int     `json:"min_series_length,omitempty"`
	RollingWindow   *int     `json:"rolling_window,omitempty"`
}

// detectResponse wraps a detection result with the run metadata attached at
// persistence time.
type detectResponse struct {
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
	*detection.DetectionResult
}

func (o *configOverrides) apply(cfg *detection.Config) {
	if o == nil {
		return
	}
	if o.ZMedium != nil {
		cfg.ZThresholds.Medium = *o.ZMedium
	}
	if o.ZHigh != nil {
		cfg.ZThresholds.High = *o.ZHigh
	}
	if o.ZCritical != nil {
		cfg.ZThresholds.Critical = *o.ZCritical
	}
	if o.Contamination != nil {
		cfg.Contamination = *o.Contamination
	}
	if o.MinSeriesLength != nil {
		cfg.MinSeriesLength = *o.MinSeriesLength
	}
	if o.RollingWindow != nil {
		cfg.RollingWindow = *o.RollingWindow
	}
}

// handleDetect runs detection over JSON rows.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req detectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cfg := s.detectionConfig()
	req.Config.apply(&cfg)

	s.runDetection(w, r, "json", req.Rows, cfg)
}

// handleDetectCSV runs detection over an uploaded CSV file.
func (s *Server) handleDetectCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxRequestBody); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form file \"file\"")
		return
	}
	defer file.Close()

	rows, err := ingest.Parse(file)
	if err != nil {
		var ingErr *ingest.Error
		if errors.As(err, &ingErr) {
			writeError(w, http.StatusBadRequest, ingErr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("csv parse error: %v", err))
		return
	}

	s.runDetection(w, r, "csv", rows, s.detectionConfig())
}

// runDetection is the shared pipeline behind both detect endpoints: cache
// lookup, engine run under the configured deadline, persistence, broadcast.
func (s *Server) runDetection(w http.ResponseWriter, r *http.Request, source string, rows []detection.Row, cfg detection.Config) {
	if err := cfg.Validate(); err != nil {
		metrics.DetectionRunsTotal.WithLabelValues(source, "error").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var cacheKey string
	if s.cache != nil {
		key, err := cache.Key(rows, cfg)
		if err == nil {
			cacheKey = key
			if result, ok := s.cache.Get(key); ok {
				metrics.CacheHits.Inc()
				metrics.DetectionRunsTotal.WithLabelValues(source, "ok").Inc()
				writeJSON(w, http.StatusOK, detectResponse{
					Cached:          true,
					DetectionResult: result,
				})
				return
			}
			metrics.CacheMisses.Inc()
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.detectTimeout())
	defer cancel()

	// The engine has no internal cancellation checkpoints, so the deadline
	// is enforced here: the run races the context and loses its caller when
	// the deadline wins.
	type outcome struct {
		result *detection.DetectionResult
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		result, err := s.orchestrator.Detect(ctx, rows, cfg)
		done <- outcome{result, err}
	}()

	var result *detection.DetectionResult
	var err error
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.DetectionRunsTotal.WithLabelValues(source, "timeout").Inc()
			s.logger.Warn("abandoning detection run after deadline",
				zap.String("source", source),
				zap.Duration("timeout", s.detectTimeout()),
			)
			writeError(w, http.StatusGatewayTimeout, "detection run exceeded deadline")
			return
		}
		// Client went away; nobody is waiting for the result.
		metrics.DetectionRunsTotal.WithLabelValues(source, "error").Inc()
		return
	case o := <-done:
		result, err = o.result, o.err
	}
	metrics.DetectionDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		var structural *detection.StructuralInputError
		var confErr *detection.ConfigurationError
		switch {
		case errors.As(err, &structural), errors.As(err, &confErr):
			metrics.DetectionRunsTotal.WithLabelValues(source, "error").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			metrics.DetectionRunsTotal.WithLabelValues(source, "timeout").Inc()
			writeError(w, http.StatusGatewayTimeout, "detection run exceeded deadline")
		default:
			metrics.DetectionRunsTotal.WithLabelValues(source, "error").Inc()
			s.logger.Error("detection run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "detection run failed")
		}
		return
	}

	s.observeResult(result)

	run := &db.RunRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Summary:   result.Summary,
		Skipped:   len(result.Skipped),
		Failures:  len(result.MethodFailures),
		Records:   result.Records,
	}
	if err := s.store.SaveRun(r.Context(), run); err != nil {
		metrics.StoreErrors.WithLabelValues("save_run").Inc()
		s.logger.Error("failed to persist detection run",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
		// The result is still valid; report it without run metadata.
		run.ID = ""
		run.CreatedAt = time.Time{}
	} else {
		metrics.RunsPersisted.Inc()
	}

	if s.cache != nil && cacheKey != "" {
		s.cache.Set(cacheKey, result)
	}

	resp := detectResponse{
		RunID:           run.ID,
		CreatedAt:       run.CreatedAt,
		DetectionResult: result,
	}
	s.hub.broadcast(resp)

	metrics.DetectionRunsTotal.WithLabelValues(source, "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// observeResult feeds run outcome counters.
func (s *Server) observeResult(result *detection.DetectionResult) {
	for _, rec := range result.Records {
		metrics.AnomaliesDetected.WithLabelValues(string(rec.Severity)).Inc()
	}
	for _, sk := range result.Skipped {
		metrics.SeriesSkipped.WithLabelValues(skipReasonLabel(sk.Reason)).Inc()
	}
	for _, f := range result.MethodFailures {
		metrics.MethodFailures.WithLabelValues(string(f.Method)).Inc()
	}
}

// skipReasonLabel collapses free-text skip reasons to the bounded label set
// of farmsight_series_skipped_total. Free text would mint one time series per
// distinct point count.
func skipReasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "series too short"):
		return "too_short"
	case strings.HasPrefix(reason, "zero variance"):
		return "zero_variance"
	default:
		return "other"
	}
}

// handleAnomalies lists persisted anomaly records with optional filters.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := db.AnomalyQuery{
		EntityID:   r.URL.Query().Get("entity"),
		MetricName: r.URL.Query().Get("metric"),
		Limit:      100,
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		q.Severity = detection.Severity(sev)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	anomalies, err := s.store.QueryAnomalies(r.Context(), q)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("query_anomalies").Inc()
		s.logger.Error("anomaly query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "anomaly query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// handleAnomaliesSummary returns severity counts for the latest run.
func (s *Server) handleAnomaliesSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.store.LatestSummary(r.Context())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("latest_summary").Inc()
		s.logger.Error("summary query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "summary query failed")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "no detection runs recorded yet")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleRuns lists recent detection runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_runs").Inc()
		s.logger.Error("run list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunByID returns one run with its records.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/api/v1/runs/"):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_run").Inc()
		s.logger.Error("run lookup failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles readiness check requests. Ready means the server is
// running and the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running || s.store.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
