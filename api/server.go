package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/phishguard"
	"github.com/docutag/phishguard/config"
	"github.com/docutag/phishguard/model"
	"github.com/docutag/phishguard/models"
)

const (
	maxRequestBody = 1 << 20
	maxBatchBody   = 16 << 20
	reloadTimeout  = 2 * time.Minute
)

// FeedbackStore persists user reports and flags. db.DB implements it.
type FeedbackStore interface {
	SaveReport(ctx context.Context, r *models.Report) error
	SaveReports(ctx context.Context, reports []models.Report) (int, error)
	SaveFlag(ctx context.Context, f *models.Flag) error
}

// Server represents the API server
type Server struct {
	engine      *phishguard.Engine
	registry    *model.Registry
	tuning      *config.Store
	feedback    FeedbackStore
	logger      *slog.Logger
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
	Logger      *slog.Logger
}

// Services are the components the server exposes. Feedback may be nil, in
// which case the feedback endpoints answer 503.
type Services struct {
	Engine   *phishguard.Engine
	Registry *model.Registry
	Tuning   *config.Store
	Feedback FeedbackStore
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8000",
		CORSEnabled: true,
	}
}

// NewServer creates a new API server
func NewServer(cfg Config, svc Services) (*Server, error) {
	if svc.Engine == nil || svc.Registry == nil || svc.Tuning == nil {
		return nil, fmt.Errorf("engine, registry and tuning store are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine:      svc.Engine,
		registry:    svc.Registry,
		tuning:      svc.Tuning,
		feedback:    svc.Feedback,
		logger:      cfg.Logger,
		addr:        cfg.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: cfg.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/predict", s.handlePredict)
	s.mux.HandleFunc("/predict_batch", s.handlePredictBatch)
	s.mux.HandleFunc("/reload_models", s.handleReloadModels)
	s.mux.HandleFunc("/model_info", s.handleModelInfo)
	s.mux.HandleFunc("/report", s.handleReport)
	s.mux.HandleFunc("/report_bulk", s.handleReportBulk)
	s.mux.HandleFunc("/flag", s.handleFlag)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "phishguard",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !quietPath(r.URL.Path)
		}),
	)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the feedback store
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if c, ok := s.feedback.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func quietPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Skip health checks and scrapes to reduce noise
		if quietPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleHealth(w, r)
}

// handleHealth reports liveness only; readiness is /ready
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "phishguard",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	info := s.registry.Info()
	if !info.Ready {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"error":  info.Error,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ready",
		"snapshot_id": info.SnapshotID,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.PredictRequest
	if err := decodeBody(w, r, maxRequestBody, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.engine.Predict(r.Context(), req)
	if err != nil {
		s.respondPredictError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.BatchRequest
	if err := decodeBody(w, r, maxBatchBody, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Items) == 0 {
		respondJSON(w, http.StatusOK, models.BatchResponse{Predictions: []models.Prediction{}})
		return
	}

	preds, err := s.engine.PredictBatch(r.Context(), req.Items)
	if err != nil {
		s.respondPredictError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.BatchResponse{Predictions: preds})
}

// handleReloadModels re-reads tuning, then rebuilds the model snapshot with
// the current threshold multiplier.
func (s *Server) handleReloadModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	t, err := s.tuning.Reload()
	if err != nil {
		s.logger.Warn("tuning reload failed, keeping previous values", "error", err)
	}

	// The reload outlives the request so a disconnecting client cannot
	// interrupt it halfway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), reloadTimeout)
	defer cancel()

	snap, err := s.registry.Reload(ctx, t.AEThresholdMultiplier)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "ok",
		"snapshot_id":           snap.ID,
		"models_last_loaded_at": snap.LoadedAt,
	})
}

// ModelInfoResponse combines registry state with the active tuning
type ModelInfoResponse struct {
	model.Info
	Tuning config.Tuning `json:"tuning"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	respondJSON(w, http.StatusOK, ModelInfoResponse{
		Info:   s.registry.Info(),
		Tuning: s.tuning.Current(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.feedbackRequest(w, r) {
		return
	}

	var report models.Report
	if err := decodeBody(w, r, maxRequestBody, &report); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if report.AppID == "" || report.Type == "" {
		respondError(w, http.StatusBadRequest, "app_id and type are required")
		return
	}

	if err := s.feedback.SaveReport(r.Context(), &report); err != nil {
		s.logger.Error("failed to save report", "app_id", report.AppID, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleReportBulk(w http.ResponseWriter, r *http.Request) {
	if !s.feedbackRequest(w, r) {
		return
	}

	var req models.BulkReportRequest
	if err := decodeBody(w, r, maxBatchBody, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	written, err := s.feedback.SaveReports(r.Context(), req.Items)
	if err != nil {
		s.logger.Error("failed to save reports", "count", len(req.Items), "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"written": written,
	})
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	if !s.feedbackRequest(w, r) {
		return
	}

	var flag models.Flag
	if err := decodeBody(w, r, maxRequestBody, &flag); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if flag.AppID == "" || flag.URL == "" {
		respondError(w, http.StatusBadRequest, "app_id and url are required")
		return
	}

	if err := s.feedback.SaveFlag(r.Context(), &flag); err != nil {
		s.logger.Error("failed to save flag", "app_id", flag.AppID, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusCreated, flag)
}

// feedbackRequest rejects non-POST requests and requests arriving while no
// feedback store is configured.
func (s *Server) feedbackRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if s.feedback == nil {
		respondError(w, http.StatusServiceUnavailable, "feedback store not configured")
		return false
	}
	return true
}

func (s *Server) respondPredictError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, phishguard.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, phishguard.ErrNotReady):
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "models not ready",
			"detail": err.Error(),
		})
	default:
		s.logger.Error("prediction failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
