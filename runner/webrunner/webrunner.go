// Package webrunner serves the job API. Jobs run in the same process unless
// queue mode hands them to redis backed workers.
package webrunner

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/redis"
	"github.com/gosom/gmaps-extractor/runner"
	"github.com/gosom/gmaps-extractor/web"
)

type webrunner struct {
	cfg    *runner.Config
	deps   *runner.Deps
	log    *zap.Logger
	broker *broadcast.Broker
	orch   *extractor.Orchestrator
	srv    *web.Server
	queue  *redis.Client
	relay  goredis.UniversalClient

	// base bounds in-process jobs; cancelled after the server stopped.
	base   context.Context
	cancel context.CancelFunc
}

func New(ctx context.Context, cfg *runner.Config, log *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	deps, err := runner.NewDeps(ctx, cfg, log, runner.StoreDefault)
	if err != nil {
		return nil, err
	}

	w := &webrunner{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		broker: broadcast.NewBroker(broadcast.WithLogger(log.Named("broker"))),
	}

	w.base, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := w.setup(ctx); err != nil {
		w.cancel()
		return nil, multierr.Append(err, deps.Close())
	}

	w.srv = web.New(cfg.Env.HTTP, w.orch, w.broker,
		web.WithLogger(log.Named("http")),
		web.WithMetrics(deps.Metrics.Handler()),
	)

	return w, nil
}

func (w *webrunner) setup(ctx context.Context) error {
	if w.cfg.Queue {
		rcfg, err := w.deps.RedisConfig()
		if err != nil {
			return err
		}

		w.relay, err = w.deps.Redis()
		if err != nil {
			return err
		}

		w.queue = redis.NewClient(rcfg)

		// Jobs never run here: the pipeline lives on the workers.
		w.orch = w.deps.NewOrchestrator(nil,
			extractor.WithLauncher(w.queue),
			extractor.WithPublisher(w.broker),
		)

		return nil
	}

	pipeline, err := w.deps.NewPipeline(ctx)
	if err != nil {
		return err
	}

	w.orch = w.deps.NewOrchestrator(pipeline,
		extractor.WithPublisher(w.broker),
		extractor.WithBaseContext(w.base),
	)

	return nil
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.srv.Run(ctx)
	})

	if w.relay != nil {
		egroup.Go(func() error {
			return broadcast.Relay(ctx, w.relay, broadcast.DefaultChannelPrefix, w.broker, w.log.Named("relay"))
		})
	} else {
		n, err := w.orch.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover jobs: %w", err)
		}

		if n > 0 {
			w.log.Info("resuming interrupted jobs", zap.Int("count", n))
		}
	}

	err := egroup.Wait()

	w.cancel()
	w.orch.Wait()

	return err
}

func (w *webrunner) Close(context.Context) error {
	w.cancel()

	var err error

	if w.queue != nil {
		err = multierr.Append(err, w.queue.Close())
	}

	err = multierr.Append(err, w.broker.Close())

	return multierr.Append(err, w.deps.Close())
}
