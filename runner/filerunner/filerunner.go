// Package filerunner runs a single extraction from the command line and
// writes its results to a file or stdout.
package filerunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/runner"
	"github.com/gosom/gmaps-extractor/tlmt"
)

// cliUser owns the job of a command line run.
const cliUser = "cli"

var ErrJobFailed = errors.New("extraction did not complete")

type fileRunner struct {
	cfg     *runner.Config
	deps    *runner.Deps
	log     *zap.Logger
	orch    *extractor.Orchestrator
	output  io.Writer
	outfile *os.File
}

func New(ctx context.Context, cfg *runner.Config, log *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeFile {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	deps, err := runner.NewDeps(ctx, cfg, log, runner.StoreMemory)
	if err != nil {
		return nil, err
	}

	pipeline, err := deps.NewPipeline(ctx)
	if err != nil {
		return nil, multierr.Append(err, deps.Close())
	}

	ans := &fileRunner{
		cfg:  cfg,
		deps: deps,
		log:  log,
		orch: deps.NewOrchestrator(pipeline, extractor.WithBaseContext(ctx)),
	}

	if err := ans.setOutput(); err != nil {
		return nil, multierr.Append(err, deps.Close())
	}

	return ans, nil
}

func (r *fileRunner) Run(ctx context.Context) (err error) {
	t0 := time.Now().UTC()

	defer func() {
		params := map[string]any{
			"duration": time.Now().UTC().Sub(t0).String(),
		}

		if err != nil {
			params["error"] = err.Error()
		}

		_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("file_runner", params))
	}()

	job, err := r.orch.Submit(ctx, cliUser, r.cfg.JobParams())
	if err != nil {
		return err
	}

	r.orch.Wait()

	return r.write(ctx, job.ID)
}

// write exports the finished job. Extra work runs on a context detached
// from cancellation so that a job interrupted by a signal still reports.
func (r *fileRunner) write(ctx context.Context, jobID string) error {
	ctx = context.WithoutCancel(ctx)

	job, err := r.orch.Get(ctx, jobID, cliUser)
	if err != nil {
		return err
	}

	for _, line := range job.Logs {
		r.log.Debug(line)
	}

	switch job.Status {
	case models.StatusCompleted:
	case models.StatusProcessing:
		return fmt.Errorf("%w: interrupted after %d places", ErrJobFailed, job.LastCheckpointIndex+1)
	default:
		return fmt.Errorf("%w: %s", ErrJobFailed, job.ErrorMessage)
	}

	r.log.Info("extraction completed",
		zap.Int("results", job.TotalResults),
		zap.Int("duplicates_skipped", job.DuplicatesSkipped),
		zap.Int("without_phone_skipped", job.WithoutPhoneSkipped),
		zap.Int("without_website_skipped", job.WithoutWebsiteSkipped),
		zap.Int("failed_places", job.FailedPlaces),
	)

	if len(job.Results) == 0 {
		r.log.Warn("no results to write")
		return nil
	}

	out, err := r.orch.Export(ctx, jobID, cliUser, exporter.FieldSpec{Format: r.cfg.Format, Columns: r.cfg.Columns})
	if err != nil {
		return err
	}

	if _, err := r.output.Write(out.Data); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	return nil
}

func (r *fileRunner) Close(context.Context) error {
	var err error

	if r.outfile != nil {
		err = multierr.Append(err, r.outfile.Close())
	}

	return multierr.Append(err, r.deps.Close())
}

func (r *fileRunner) setOutput() error {
	switch r.cfg.ResultsFile {
	case "stdout", "":
		if r.cfg.Format == exporter.FormatXLSX {
			return fmt.Errorf("%w: xlsx output needs -results", runner.ErrInvalidConfig)
		}

		r.output = os.Stdout
	default:
		f, err := os.Create(r.cfg.ResultsFile)
		if err != nil {
			return err
		}

		r.outfile = f
		r.output = f
	}

	return nil
}
