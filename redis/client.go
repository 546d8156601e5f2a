package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/redis/config"
	"github.com/gosom/gmaps-extractor/redis/tasks"
)

var _ extractor.Launcher = (*Client)(nil)

// Client enqueues job runs for the worker pool. It is the Launcher of the
// web process in queue mode.
type Client struct {
	client    *asynq.Client
	timeout   time.Duration
	retention time.Duration
}

// NewClient creates a queue client with the provided configuration.
func NewClient(cfg *config.RedisConfig) *Client {
	return &Client{
		client:    asynq.NewClient(cfg.AsynqOpt()),
		timeout:   cfg.TaskTimeout,
		retention: cfg.RetentionPeriod,
	}
}

// Launch enqueues the run task of a job. The task is never retried by the
// queue: an interrupted job stays processing and resumes from its checkpoint
// on the next recovery pass.
func (c *Client) Launch(ctx context.Context, jobID string) error {
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Queue(tasks.PriorityDefault),
	}

	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}

	if c.retention > 0 {
		opts = append(opts, asynq.Retention(c.retention))
	}

	task, err := tasks.NewRunTask(jobID, opts...)
	if err != nil {
		return err
	}

	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
