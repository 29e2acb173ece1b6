package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/channel"
	"github.com/JakeFAU/ytcrawler/internal/config"
	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/metrics"
	"github.com/JakeFAU/ytcrawler/internal/quota"
)

// Crawler triggers crawl runs.
type Crawler interface {
	RunBackfill(ctx context.Context) (crawler.RunReport, error)
	RunIncremental(ctx context.Context) (crawler.RunReport, error)
}

// ChannelService manages tracked channels.
type ChannelService interface {
	Insert(ctx context.Context, in crawler.ChannelInput) (crawler.Channel, error)
	List(ctx context.Context) ([]crawler.Channel, error)
	Update(ctx context.Context, channelID string, patch crawler.ChannelPatch) (crawler.Channel, error)
	ResetForBackfill(ctx context.Context, channelID string) (crawler.Channel, error)
}

// QuotaService exposes the quota ledger and credential.
type QuotaService interface {
	Load(ctx context.Context) (crawler.QuotaState, error)
	SetAPIKey(ctx context.Context, apiKey string) (crawler.QuotaState, error)
	Tracker() *quota.Tracker
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the HTTP surface.
type Dependencies struct {
	Channels ChannelService
	Crawler  Crawler
	Quota    QuotaService
	Logs     crawler.LogStore
	Ready    Pinger
}

// Server wires HTTP handlers to the crawl services.
type Server struct {
	router chi.Router
	deps   Dependencies
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(otelhttp.NewMiddleware("ytcrawler.api"))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Crawl runs block until every channel is processed.
		r.Post("/crawl/backfill", s.runBackfill)
		r.Post("/crawl/incremental", s.runIncremental)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.listChannels)
				r.Post("/", s.insertChannel)
				r.Patch("/{channelID}", s.updateChannel)
				r.Post("/{channelID}/reset", s.resetChannel)
			})
			r.Get("/quota", s.getQuota)
			r.Put("/quota/api-key", s.setAPIKey)
			r.Get("/logs", s.listLogs)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto status codes. Unknown errors are
// logged and reported generically.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	s.writeError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, channel.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, crawler.ErrChannelNotFound):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, crawler.ErrRunInProgress):
		return http.StatusConflict, crawler.ErrRunInProgress.Error()
	case errors.Is(err, channel.ErrQuotaUnavailable):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, crawler.ErrNoAPIKey):
		return http.StatusServiceUnavailable, crawler.ErrNoAPIKey.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
