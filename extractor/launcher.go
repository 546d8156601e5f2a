package extractor

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Launcher starts the background task of a job. Launch must not block on
// the extraction itself.
type Launcher interface {
	Launch(ctx context.Context, jobID string) error
}

// JobRunner is the body of a background task.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, jobID string) error

func (f LauncherFunc) Launch(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// GoroutineLauncher runs every job in its own goroutine of the current
// process. The tasks are detached from the submitting request and live as
// long as the base context.
type GoroutineLauncher struct {
	base   context.Context
	runner JobRunner
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewGoroutineLauncher(base context.Context, runner JobRunner, log *zap.Logger) *GoroutineLauncher {
	if log == nil {
		log = zap.NewNop()
	}

	return &GoroutineLauncher{base: base, runner: runner, log: log}
}

func (l *GoroutineLauncher) Launch(_ context.Context, jobID string) error {
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		// the process outlives a broken task
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("recovered from panic in background task",
					zap.String("job_id", jobID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()

		_ = l.runner.RunJob(l.base, jobID)
	}()

	return nil
}

// Wait blocks until every launched task returned.
func (l *GoroutineLauncher) Wait() {
	l.wg.Wait()
}
