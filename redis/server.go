package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/redis/config"
)

const defaultShutdownTimeout = 30 * time.Second

// Server runs queued jobs. Tasks still running at shutdown are pushed back
// to the queue by asynq and resume from their checkpoint on the next worker.
type Server struct {
	server *asynq.Server
	log    *zap.Logger
}

// NewServer creates a worker server with the provided configuration
func NewServer(cfg *config.RedisConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	srv := asynq.NewServer(
		cfg.AsynqOpt(),
		asynq.Config{
			Concurrency:     cfg.Workers,
			Queues:          cfg.QueuePriorities,
			StrictPriority:  true,
			ShutdownTimeout: defaultShutdownTimeout,
			Logger:          log.Named("asynq").Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
		},
	)

	return &Server{
		server: srv,
		log:    log,
	}
}

// Run processes tasks with handler until ctx is done.
func (s *Server) Run(ctx context.Context, handler asynq.Handler) error {
	if err := s.server.Start(handler); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.log.Info("worker started")

	<-ctx.Done()

	s.log.Info("worker shutting down")
	s.server.Shutdown()

	return nil
}
