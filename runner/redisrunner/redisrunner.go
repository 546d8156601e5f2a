// Package redisrunner runs queued jobs on an asynq worker.
package redisrunner

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/redis"
	"github.com/gosom/gmaps-extractor/redis/tasks"
	"github.com/gosom/gmaps-extractor/runner"
)

// RedisRunner implements the runner.Runner interface for Redis-backed task processing.
type RedisRunner struct {
	deps    *runner.Deps
	log     *zap.Logger
	server  *redis.Server
	handler *tasks.Handler
	orch    *extractor.Orchestrator
}

// New creates a new RedisRunner from the provided configuration.
func New(ctx context.Context, cfg *runner.Config, log *zap.Logger) (*RedisRunner, error) {
	if cfg.RunMode != runner.RunModeWorker {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	deps, err := runner.NewDeps(ctx, cfg, log, runner.StoreDefault)
	if err != nil {
		return nil, err
	}

	r, err := build(ctx, deps, log)
	if err != nil {
		return nil, multierr.Append(err, deps.Close())
	}

	return r, nil
}

func build(ctx context.Context, deps *runner.Deps, log *zap.Logger) (*RedisRunner, error) {
	rcfg, err := deps.RedisConfig()
	if err != nil {
		return nil, err
	}

	if deps.Cfg.Env.Job.JobTimeout >= rcfg.TaskTimeout {
		log.Warn("task timeout does not exceed the job timeout, jobs may be cut before they fail cleanly",
			zap.Duration("job_timeout", deps.Cfg.Env.Job.JobTimeout),
			zap.Duration("task_timeout", rcfg.TaskTimeout),
		)
	}

	client, err := deps.Redis()
	if err != nil {
		return nil, err
	}

	pipeline, err := deps.NewPipeline(ctx)
	if err != nil {
		return nil, err
	}

	publisher := broadcast.NewRedisPublisher(client, broadcast.DefaultChannelPrefix, log.Named("events"))

	// The worker never submits, so the launcher is unused.
	orch := deps.NewOrchestrator(pipeline, extractor.WithPublisher(publisher))

	return &RedisRunner{
		deps:    deps,
		log:     log,
		server:  redis.NewServer(rcfg, log.Named("worker")),
		handler: tasks.NewHandler(orch, tasks.WithLogger(log.Named("tasks"))),
		orch:    orch,
	}, nil
}

// Run processes queued jobs until ctx is done.
func (r *RedisRunner) Run(ctx context.Context) error {
	r.log.Info("starting worker")

	return r.server.Run(ctx, r.handler.Mux())
}

// Close gracefully shuts down the Redis runner.
func (r *RedisRunner) Close(context.Context) error {
	return r.deps.Close()
}
