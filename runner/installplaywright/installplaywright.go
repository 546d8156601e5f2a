// Package installplaywright downloads the playwright driver and the
// chromium build the pipeline drives.
package installplaywright

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/runner"
)

type installer struct {
	verbose bool
	log     *zap.Logger
}

func New(cfg *runner.Config, log *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeInstallPlaywright {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &installer{verbose: cfg.Debug, log: log}, nil
}

func (i *installer) Run(context.Context) error {
	i.log.Info("installing playwright driver and chromium")

	err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  i.verbose,
	})
	if err != nil {
		return fmt.Errorf("playwright install: %w", err)
	}

	i.log.Info("playwright installed")

	return nil
}

func (i *installer) Close(context.Context) error {
	return nil
}
