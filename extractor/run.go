package extractor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/tlmt"
)

// execution is the background task's view of one job. Only the event
// consumer goroutine touches it while the pipeline runs.
type execution struct {
	job models.Job
	log *zap.Logger
	// detached is set once the stored job left processing; later writes
	// are skipped.
	detached bool
	// saved counts the raw records held by the last checkpoint.
	saved int
}

// RunJob is the body of a job's background task. It resumes from the
// job's checkpoint if one exists, relays pipeline events in order and
// writes the terminal status. A failure of the extraction is recorded on
// the job and not returned.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) error {
	log := o.log.With(zap.String("job_id", jobID))

	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		log.Error("failed to load job", zap.Error(err))

		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if job.Status != models.StatusProcessing {
		log.Info("job is not processing, nothing to run", zap.String("status", string(job.Status)))

		return nil
	}

	defer o.metrics.Started()()

	ex := &execution{job: job, log: log}

	started := o.now()
	ex.job.StartedAt = &started
	ex.job.CompletedAt = nil
	o.save(ctx, ex)
	o.logLine(ctx, ex, gmaps.LevelInfo, "Extraction started")

	resume, err := o.checkpoints.Load(ctx, jobID)
	if err != nil {
		o.logLine(ctx, ex, gmaps.LevelWarn, "Checkpoint could not be read, starting from the beginning")

		resume = nil
	}

	if resume != nil {
		at := resume.SavedAt
		ex.job.LastCheckpointIndex = resume.LastProcessedIndex
		ex.job.LastCheckpointAt = &at
		ex.saved = len(resume.Records)

		o.save(ctx, ex)
		o.logLine(ctx, ex, gmaps.LevelInfo,
			fmt.Sprintf("Resuming after item %d with %d records", resume.LastProcessedIndex+1, len(resume.Records)))
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.JobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
	}

	defer cancel()

	events := make(chan gmaps.Event, o.cfg.EventBuffer)
	applied := make(chan struct{})

	go func() {
		defer close(applied)

		for ev := range events {
			o.apply(ctx, ex, ev)
		}
	}()

	res, runErr := o.runPipeline(runCtx, gmaps.Request{JobID: jobID, Params: job.Params, Resume: resume}, events)

	close(events)
	<-applied

	final := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		o.complete(final, ex, res)
	case ctx.Err() != nil:
		// the process is shutting down; the job stays processing and is
		// picked up again by Recover
		o.logLine(final, ex, gmaps.LevelWarn, "Extraction interrupted, it will be resumed on restart")
		log.Warn("extraction interrupted", zap.Error(runErr))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		o.fail(final, ex, fmt.Errorf("job timed out after %s", o.cfg.JobTimeout))
	default:
		o.fail(final, ex, runErr)
	}

	return nil
}

// runPipeline turns a panic of the pipeline into an error so that only
// this job fails.
func (o *Orchestrator) runPipeline(ctx context.Context, req gmaps.Request, events chan<- gmaps.Event) (res gmaps.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("recovered from panic in extraction",
				zap.String("job_id", req.JobID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)

			res, err = gmaps.Result{}, fmt.Errorf("recovered from panic: %v", r)
		}
	}()

	return o.pipeline.Run(ctx, req, events)
}

func (o *Orchestrator) apply(ctx context.Context, ex *execution, ev gmaps.Event) {
	if ex.detached {
		return
	}

	switch ev := ev.(type) {
	case gmaps.LogEvent:
		o.appendLine(ctx, ex, models.LogLine(ev.At, string(ev.Level), ev.Message))
	case gmaps.ProgressEvent:
		ex.job.Progress = ev.Percent

		if o.save(ctx, ex) {
			o.publisher.Publish(ctx, broadcast.Progress(ex.job.ID, ev.Percent, ev.Processed, ev.Total, ev.Message))
		}
	case gmaps.CheckpointEvent:
		o.checkpoint(ctx, ex, ev.Checkpoint)
	}
}

// checkpoint persists cp only while the job is still processing, then
// records the pointer on the job. A checkpoint that outlived its job is
// removed again.
func (o *Orchestrator) checkpoint(ctx context.Context, ex *execution, cp models.Checkpoint) {
	ex.job.FailedPlaces = cp.FailedPlaces

	if !o.save(ctx, ex) {
		return
	}

	ok := o.checkpoints.Save(ctx, &cp)
	if o.checkpoints.Enabled() {
		o.metrics.CheckpointSaved(ok)
	}

	if !ok {
		return
	}

	at := cp.SavedAt
	ex.job.LastCheckpointIndex = cp.LastProcessedIndex
	ex.job.LastCheckpointAt = &at
	ex.saved = len(cp.Records)

	if o.save(ctx, ex) || !ex.detached {
		return
	}

	if err := o.checkpoints.Delete(ctx, ex.job.ID); err != nil {
		ex.log.Warn("failed to delete checkpoint", zap.Error(err))
	}
}

// save writes the job if it is still processing and reports whether it
// did.
func (o *Orchestrator) save(ctx context.Context, ex *execution) bool {
	if ex.detached {
		return false
	}

	ok, err := o.repo.UpdateIf(ctx, &ex.job, models.StatusProcessing)
	if err != nil {
		ex.log.Warn("failed to update job", zap.Error(err))

		return false
	}

	if !ok {
		ex.detached = true
		ex.log.Info("job left processing, ignoring further updates")
	}

	return ok
}

func (o *Orchestrator) logLine(ctx context.Context, ex *execution, level gmaps.Level, msg string) {
	o.appendLine(ctx, ex, models.LogLine(o.now(), string(level), msg))
}

func (o *Orchestrator) appendLine(ctx context.Context, ex *execution, line string) {
	if ex.detached {
		return
	}

	ok, err := o.repo.AppendLog(ctx, ex.job.ID, models.StatusProcessing, line)
	if err != nil {
		ex.log.Warn("failed to append log", zap.Error(err))

		return
	}

	if !ok {
		ex.detached = true

		return
	}

	o.publisher.Publish(ctx, broadcast.Log(ex.job.ID, line))
}

func (o *Orchestrator) complete(ctx context.Context, ex *execution, res gmaps.Result) {
	job := &ex.job
	now := o.now()

	job.Status = models.StatusCompleted
	job.Results = res.Records
	job.TotalResults = len(res.Records)
	job.DuplicatesSkipped = res.DuplicatesSkipped
	job.WithoutPhoneSkipped = res.WithoutPhoneSkipped
	job.WithoutWebsiteSkipped = res.WithoutWebsiteSkipped
	job.FailedPlaces = res.FailedPlaces
	job.Progress = 100
	job.CompletedAt = &now

	if !o.finalize(ctx, ex) {
		return
	}

	o.terminalLine(ctx, ex, gmaps.LevelInfo, fmt.Sprintf(
		"Extraction completed: %d results (%d duplicates, %d without phone, %d without website, %d failed places)",
		job.TotalResults, job.DuplicatesSkipped, job.WithoutPhoneSkipped, job.WithoutWebsiteSkipped, job.FailedPlaces,
	))

	if err := o.checkpoints.Delete(ctx, job.ID); err != nil {
		ex.log.Warn("failed to delete checkpoint", zap.Error(err))
	}

	o.publisher.Publish(ctx, broadcast.Complete(job.ID, job.TotalResults))
	o.finished(ctx, ex)

	ex.log.Info("job completed", zap.Int("total_results", job.TotalResults), zap.Int("failed_places", job.FailedPlaces))
}

// fail records err on the job. The checkpoint is kept so the job can be
// resumed.
func (o *Orchestrator) fail(ctx context.Context, ex *execution, err error) {
	job := &ex.job
	now := o.now()

	job.Status = models.StatusFailed
	job.ErrorMessage = err.Error()
	job.CompletedAt = &now

	if !o.finalize(ctx, ex) {
		return
	}

	o.terminalLine(ctx, ex, gmaps.LevelError, "Extraction failed: "+job.ErrorMessage)
	o.publisher.Publish(ctx, broadcast.Failure(job.ID, job.ErrorMessage))

	if o.cfg.RefundOnEmptyFailure && ex.saved == 0 {
		if rerr := o.quota.Refund(ctx, job.UserID); rerr != nil {
			ex.log.Warn("failed to refund usage", zap.Error(rerr))
		}
	}

	o.finished(ctx, ex)

	ex.log.Error("job failed", zap.Error(err))
}

// finalize writes the terminal status exactly once. When another writer
// got there first the result is dropped together with the checkpoint.
func (o *Orchestrator) finalize(ctx context.Context, ex *execution) bool {
	ok, err := o.repo.UpdateIf(ctx, &ex.job, models.StatusProcessing)
	if err != nil {
		ex.log.Error("failed to store terminal status", zap.String("status", string(ex.job.Status)), zap.Error(err))

		return false
	}

	if ok {
		return true
	}

	ex.log.Info("job already left processing, discarding result", zap.String("result", string(ex.job.Status)))

	if err := o.checkpoints.Delete(ctx, ex.job.ID); err != nil {
		ex.log.Warn("failed to delete checkpoint", zap.Error(err))
	}

	return false
}

func (o *Orchestrator) terminalLine(ctx context.Context, ex *execution, level gmaps.Level, msg string) {
	line := models.LogLine(o.now(), string(level), msg)

	if _, err := o.repo.AppendLog(ctx, ex.job.ID, ex.job.Status, line); err != nil {
		ex.log.Warn("failed to append log", zap.Error(err))

		return
	}

	o.publisher.Publish(ctx, broadcast.Log(ex.job.ID, line))
}

func (o *Orchestrator) finished(ctx context.Context, ex *execution) {
	o.metrics.Finished(ex.job.Status, elapsed(&ex.job))

	if o.telemetry == nil {
		return
	}

	if err := o.telemetry.Send(ctx, tlmt.JobFinished(&ex.job)); err != nil {
		ex.log.Debug("failed to send telemetry", zap.Error(err))
	}
}
