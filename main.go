package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/runner"
	"github.com/gosom/gmaps-extractor/runner/filerunner"
	"github.com/gosom/gmaps-extractor/runner/installplaywright"
	"github.com/gosom/gmaps-extractor/runner/redisrunner"
	"github.com/gosom/gmaps-extractor/runner/webrunner"
)

func main() {
	_ = godotenv.Load() // Load .env file if present

	cfg, err := runner.ParseConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	runner.Banner(cfg)

	log, err := runner.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, cfg, log)

	stop()
	_ = log.Sync()
	runner.Telemetry().Close()

	os.Exit(code)
}

func run(ctx context.Context, cfg *runner.Config, log *zap.Logger) int {
	runnerInstance, err := runnerFactory(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return 1
	}

	defer func() {
		if err := runnerInstance.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run failed", zap.Error(err))
		return 1
	}

	return 0
}

func runnerFactory(ctx context.Context, cfg *runner.Config, log *zap.Logger) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeFile:
		return filerunner.New(ctx, cfg, log)
	case runner.RunModeWorker:
		return redisrunner.New(ctx, cfg, log)
	case runner.RunModeInstallPlaywright:
		return installplaywright.New(cfg, log)
	case runner.RunModeWeb:
		return webrunner.New(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
