package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/models"
)

// Handler executes queued jobs on a worker.
type Handler struct {
	runner extractor.JobRunner
	log    *zap.Logger
}

// HandlerOption is a function that configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger of the handler.
func WithLogger(log *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler creates a handler that hands run tasks to runner.
func NewHandler(runner extractor.JobRunner, opts ...HandlerOption) *Handler {
	h := &Handler{
		runner: runner,
		log:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if task.Type() != TypeRunExtraction {
		return fmt.Errorf("%w: unknown task type %s", asynq.SkipRetry, task.Type())
	}

	payload, err := ParseRunPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.log.With(zap.String("job_id", payload.JobID))
	log.Info("running queued job")

	if err := h.runner.RunJob(ctx, payload.JobID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warn("queued job no longer exists")

			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}

		log.Error("queued job returned an error", zap.Error(err))

		return err
	}

	return nil
}

// Mux returns a ServeMux routing run tasks to the handler.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRunExtraction, h)

	return mux
}
