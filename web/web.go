// Package web serves the job API over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/web/auth"
	"github.com/gosom/gmaps-extractor/web/middleware"
)

// JobService is the part of the orchestrator the API exposes.
type JobService interface {
	Submit(ctx context.Context, userID string, params models.JobParams) (*models.Job, error)
	Get(ctx context.Context, jobID, userID string) (*models.Job, error)
	History(ctx context.Context, userID string, status models.Status, limit int) ([]models.Job, error)
	Cancel(ctx context.Context, jobID, userID string) (*models.Job, error)
	Delete(ctx context.Context, jobID, userID string) error
	Export(ctx context.Context, jobID, userID string, spec exporter.FieldSpec) (*exporter.Export, error)
}

// Subscriber streams the events of one job.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan broadcast.Event, func())
}

type Config struct {
	Addr              string        `envconfig:"ADDR" default:":8080"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`
}

type ServerOption func(*Server)

func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics exposes h on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

type Server struct {
	cfg     Config
	svc     JobService
	events  Subscriber
	metrics http.Handler
	log     *zap.Logger
	handler http.Handler
}

func New(cfg Config, svc JobService, events Subscriber, opts ...ServerOption) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		events: events,
		log:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.routes()

	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Authenticate)

	api.HandleFunc("/jobs", s.submitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.deleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/cancel", s.cancelJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/export", s.exportJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/events", s.streamEvents).Methods(http.MethodGet)

	return middleware.Chain(router,
		middleware.Recoverer(s.log),
		middleware.RequestLogger(s.log),
		middleware.CORS,
		middleware.SecurityHeaders,
	)
}

// Handler returns the root handler with all middlewares applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errc := make(chan error, 1)

	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
