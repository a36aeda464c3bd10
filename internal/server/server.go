// Package server exposes the detection engine over HTTP.
//
// Responsibilities:
//   - Accept detection requests as JSON rows or CSV uploads
//   - Consult the result cache before running the engine
//   - Persist completed runs and serve queries over them
//   - Broadcast completed runs to WebSocket subscribers
//   - Expose health, readiness, and Prometheus metrics endpoints
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-analytics/internal/cache"
	"github.com/farmsight/farmsight-analytics/internal/config"
	"github.com/farmsight/farmsight-analytics/internal/db"
	"github.com/farmsight/farmsight-analytics/internal/detection"
	"github.com/farmsight/farmsight-analytics/internal/middleware"
)

// Server is the farmsight-analytics HTTP service.
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	orchestrator *detection.Orchestrator
	store        db.Store
	cache        *cache.ResultCache
	hub          *hub
	limiter      *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a server around an already-open store.
func NewServer(cfg *config.Config, logger *zap.Logger, store db.Store) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:       cfg,
		logger:       logger,
		orchestrator: detection.NewOrchestrator(detection.WithLogger(logger)),
		store:        store,
		hub:          newHub(logger),
		ctx:          ctx,
		cancel:       cancel,
	}

	if cfg.Cache.Enabled {
		srv.cache = cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		srv.limiter = middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute)
	}

	return srv, nil
}

// Start begins serving HTTP requests. It returns once the listener goroutine
// is launched.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.detectTimeout() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server",
			zap.String("host", s.config.Server.Host),
			zap.Int("port", s.config.Server.Port),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.cancel()
	s.hub.closeAll()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// detectTimeout returns the configured per-request deadline for one
// detection run.
func (s *Server) detectTimeout() time.Duration {
	secs := s.config.Server.DetectTimeoutSeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// detectionConfig derives per-run engine parameters from server
// configuration.
func (s *Server) detectionConfig() detection.Config {
	d := s.config.Detection
	cfg := detection.DefaultConfig()

	if d.ZMedium > 0 {
		cfg.ZThresholds.Medium = d.ZMedium
	}
	if d.ZHigh > 0 {
		cfg.ZThresholds.High = d.ZHigh
	}
	if d.ZCritical > 0 {
		cfg.ZThresholds.Critical = d.ZCritical
	}
	if d.Contamination > 0 {
		cfg.Contamination = d.Contamination
	}
	if d.MinSeriesLength > 0 {
		cfg.MinSeriesLength = d.MinSeriesLength
	}
	if d.RollingWindow > 0 {
		cfg.RollingWindow = d.RollingWindow
	}
	cfg.Workers = d.Workers

	if len(d.ExpectedRanges) > 0 {
		cfg.ExpectedRanges = make(map[string]detection.Range, len(d.ExpectedRanges))
		for name, r := range d.ExpectedRanges {
			cfg.ExpectedRanges[name] = detection.Range{Low: r.Low, High: r.High}
		}
	}

	return cfg
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Detection runs are expensive, so they sit behind the rate limiter.
	detect := s.handleDetect
	detectCSV := s.handleDetectCSV
	if s.limiter != nil {
		detect = s.limiter.Wrap(detect)
		detectCSV = s.limiter.Wrap(detectCSV)
	}
	mux.HandleFunc("/api/v1/detect", detect)
	mux.HandleFunc("/api/v1/detect/csv", detectCSV)

	// Persisted anomalies
	mux.HandleFunc("/api/v1/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/v1/anomalies/summary", s.handleAnomaliesSummary)
	mux.HandleFunc("/api/v1/anomalies/stream", s.handleStream)

	// Runs
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunByID)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())
}
