// Package api provides the HTTP REST API server for b3fetch.
//
// It exposes asset acquisition, raw audit payloads, ticker classification,
// health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/pipeline"
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

// Service is the acquisition surface the API serves.
type Service interface {
	Fetch(ctx context.Context, raw string) (pipeline.Result, error)
	RawAudit(ctx context.Context, raw string) (*models.RawAcquisitionResult, error)
	Classify(ctx context.Context, raw string) models.ClassificationResult
	ClearClassificationCache(ctx context.Context) error
}

// BreakerReporter exposes circuit breaker states for the health endpoint.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Options configures a Server.
type Options struct {
	Config   *config.Config
	Service  Service
	Breakers BreakerReporter // optional
	Metrics  http.Handler    // optional; mounted at /metrics
	Logger   logger.Logger
	Version  string
	Now      func() time.Time
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	svc      Service
	breakers BreakerReporter
	metrics  http.Handler
	log      logger.Logger
	version  string
	now      func() time.Time
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		svc:      opts.Service,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		version:  opts.Version,
		now:      opts.Now,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	s.log = s.log.With(logger.Component("api"))
	if s.version == "" {
		s.version = "dev"
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.API.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", logger.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if s.cfg.API.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.API.RequestTimeout))
	}

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/assets/{ticker}", s.handleAsset)
		r.Get("/assets/{ticker}/raw", s.handleRawAudit)

		r.Get("/classify/{ticker}", s.handleClassify)
		r.Delete("/classify/cache", s.handleClearCache)

		r.Get("/config", s.handleGetConfig)
		r.Get("/config/secrets", s.handleGetSecrets)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// AssetResponse is the body of GET /api/v1/assets/{ticker}.
type AssetResponse struct {
	Classification models.ClassificationResult `json:"classification"`
	Record         models.Record               `json:"record"`
	Age            string                      `json:"age"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":        "ok",
		"version":       s.version,
		"market_status": utils.MarketStatus(s.now()),
		"time_brt":      s.now().In(utils.BRT).Format(time.RFC3339),
	}
	if s.breakers != nil {
		states := s.breakers.BreakerStates()
		data["breakers"] = states
		for _, st := range states {
			if st != "closed" {
				data["status"] = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	res, err := s.svc.Fetch(r.Context(), ticker)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: AssetResponse{
			Classification: res.Classification,
			Record:         res.Record,
			Age:            s.now().Sub(res.Record.Base().LastUpdated).Truncate(time.Second).String(),
		},
	})
}

func (s *Server) handleRawAudit(w http.ResponseWriter, r *http.Request) {
	raw, err := s.svc.RawAudit(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: raw})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	c := s.svc.Classify(r.Context(), chi.URLParam(r, "ticker"))
	if !c.Ticker.Valid() {
		writeError(w, http.StatusBadRequest, codeInvalidTicker, "invalid ticker")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: c})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearClassificationCache(r.Context()); err != nil {
		s.log.Error("clear classification cache failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to clear classification cache")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "cleared"}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
		Code:    code,
	})
}
