// Package extractor owns the lifecycle of extraction jobs: submission,
// the background run of the scrape pipeline, cancellation, deletion and
// export.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/checkpoint"
	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/metrics"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/quota"
	"github.com/gosom/gmaps-extractor/tlmt"
)

// Pipeline runs one extraction. *gmaps.Pipeline implements it.
type Pipeline interface {
	Run(ctx context.Context, req gmaps.Request, events chan<- gmaps.Event) (gmaps.Result, error)
}

// Serializer renders records for download. *exporter.Exporter implements it.
type Serializer interface {
	Render(ctx context.Context, records []models.Record, spec exporter.FieldSpec) (*exporter.Export, error)
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithQuota(q models.UsageLimiter) Option {
	return func(o *Orchestrator) {
		if q != nil {
			o.quota = q
		}
	}
}

func WithCheckpoints(s *checkpoint.Store) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.checkpoints = s
		}
	}
}

func WithPublisher(p broadcast.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithSerializer(s Serializer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithLauncher replaces the in-process goroutine launcher, e.g. with a
// queue backed one.
func WithLauncher(l Launcher) Option {
	return func(o *Orchestrator) {
		o.launcher = l
	}
}

// WithBaseContext sets the context background tasks of the default
// launcher run under. Cancelling it interrupts them.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.base = ctx
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithTelemetry(t tlmt.Telemetry) Option {
	return func(o *Orchestrator) {
		o.telemetry = t
	}
}

// Orchestrator is the single writer of job records.
type Orchestrator struct {
	cfg         Config
	repo        models.JobRepository
	pipeline    Pipeline
	quota       models.UsageLimiter
	checkpoints *checkpoint.Store
	publisher   broadcast.Publisher
	serializer  Serializer
	launcher    Launcher
	metrics     *metrics.Metrics
	telemetry   tlmt.Telemetry
	base        context.Context
	log         *zap.Logger
	now         func() time.Time
}

func New(cfg Config, repo models.JobRepository, pipeline Pipeline, opts ...Option) *Orchestrator {
	cfg.setDefaults()

	o := &Orchestrator{
		cfg:        cfg,
		repo:       repo,
		pipeline:   pipeline,
		quota:      quota.Unlimited{},
		publisher:  broadcast.Nop{},
		serializer: exporter.New(),
		base:       context.Background(),
		log:        zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.checkpoints == nil || !cfg.CheckpointsEnabled {
		o.checkpoints = checkpoint.Disabled()
	}

	if o.launcher == nil {
		o.launcher = NewGoroutineLauncher(o.base, o, o.log)
	}

	return o
}

// Submit validates params, checks the user's quota, stores a new
// processing job and launches its background task.
func (o *Orchestrator) Submit(ctx context.Context, userID string, params models.JobParams) (*models.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.BadRequest("missing user id")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	ok, err := o.quota.HasQuota(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check quota: %w", err)
	}

	if !ok {
		return nil, models.BadRequest("job quota exceeded")
	}

	now := o.now()

	job := models.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Params:    params,
		Status:    models.StatusProcessing,
		CreatedAt: now,
		Logs:      []string{models.LogLine(now, string(gmaps.LevelInfo), fmt.Sprintf("Job created for %q", params.Keyword))},
	}

	if err := o.repo.Create(ctx, &job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log := o.log.With(zap.String("job_id", job.ID), zap.String("user_id", userID))

	if err := o.launcher.Launch(ctx, job.ID); err != nil {
		log.Error("failed to launch job", zap.Error(err))

		job.Status = models.StatusFailed
		job.ErrorMessage = "failed to schedule job: " + err.Error()
		job.CompletedAt = &now

		if _, uerr := o.repo.UpdateIf(context.WithoutCancel(ctx), &job, models.StatusProcessing); uerr != nil {
			log.Error("failed to mark unscheduled job", zap.Error(uerr))
		}

		return nil, fmt.Errorf("failed to launch job: %w", err)
	}

	if err := o.quota.CommitUsage(ctx, userID); err != nil {
		log.Warn("failed to commit usage", zap.Error(err))
	}

	o.metrics.Submitted()

	log.Info("job submitted", zap.String("keyword", params.Keyword), zap.Int("max_results", params.MaxResults))

	return &job, nil
}

// Get returns a job owned by userID.
func (o *Orchestrator) Get(ctx context.Context, jobID, userID string) (*models.Job, error) {
	job, err := o.owned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// History lists the user's jobs, newest first.
func (o *Orchestrator) History(ctx context.Context, userID string, status models.Status, limit int) ([]models.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.BadRequest("missing user id")
	}

	if status != "" && !status.Valid() {
		return nil, models.BadRequest(fmt.Sprintf("invalid status %q", status))
	}

	if limit <= 0 || limit > o.cfg.HistoryLimit {
		limit = o.cfg.HistoryLimit
	}

	return o.repo.Select(ctx, models.SelectParams{UserID: userID, Status: status, Limit: limit})
}

// Cancel moves a processing job to cancelled. The background task is not
// interrupted; its eventual result is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, userID string) (*models.Job, error) {
	job, err := o.owned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.StatusProcessing {
		return nil, models.BadRequest("job already completed")
	}

	now := o.now()
	job.Status = models.StatusCancelled
	job.CompletedAt = &now

	ok, err := o.repo.UpdateIf(ctx, &job, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	if !ok {
		return nil, models.BadRequest("job already completed")
	}

	line := models.LogLine(now, string(gmaps.LevelInfo), "Job cancelled by user")
	if _, err := o.repo.AppendLog(ctx, job.ID, models.StatusCancelled, line); err != nil {
		o.log.Warn("failed to append log", zap.String("job_id", job.ID), zap.Error(err))
	}

	job.Logs = append(job.Logs, line)

	o.publisher.Publish(ctx, broadcast.Log(job.ID, line))
	o.publisher.Publish(ctx, broadcast.Status(job.ID, models.StatusCancelled, "Job cancelled"))
	o.metrics.Finished(models.StatusCancelled, elapsed(&job))

	o.log.Info("job cancelled", zap.String("job_id", job.ID))

	return &job, nil
}

// Delete removes a job in any status together with its checkpoint.
func (o *Orchestrator) Delete(ctx context.Context, jobID, userID string) error {
	job, err := o.owned(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if err := o.repo.Delete(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if err := o.checkpoints.Delete(ctx, job.ID); err != nil {
		o.log.Warn("failed to delete checkpoint", zap.String("job_id", job.ID), zap.Error(err))
	}

	o.log.Info("job deleted", zap.String("job_id", job.ID))

	return nil
}

// Export renders the results of a completed job.
func (o *Orchestrator) Export(ctx context.Context, jobID, userID string, spec exporter.FieldSpec) (*exporter.Export, error) {
	job, err := o.owned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.StatusCompleted {
		return nil, models.BadRequest("job is not completed")
	}

	if len(job.Results) == 0 {
		return nil, models.BadRequest("job has no results to export")
	}

	return o.serializer.Render(ctx, job.Results, spec)
}

// Recover relaunches jobs left in processing, e.g. after a restart. Each
// one resumes from its checkpoint if it has one.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.repo.Select(ctx, models.SelectParams{Status: models.StatusProcessing})
	if err != nil {
		return 0, err
	}

	var n int

	for i := range jobs {
		if err := o.launcher.Launch(ctx, jobs[i].ID); err != nil {
			o.log.Error("failed to relaunch job", zap.String("job_id", jobs[i].ID), zap.Error(err))

			continue
		}

		n++
	}

	if n > 0 {
		o.log.Info("relaunched interrupted jobs", zap.Int("count", n))
	}

	return n, nil
}

// Wait blocks until all background tasks started by the in-process
// launcher have returned. It is a no-op for other launchers.
func (o *Orchestrator) Wait() {
	if w, ok := o.launcher.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// owned loads a job and hides jobs of other users.
func (o *Orchestrator) owned(ctx context.Context, jobID, userID string) (models.Job, error) {
	job, err := o.repo.Get(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Job{}, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}

	if err != nil {
		return models.Job{}, err
	}

	if job.UserID != userID {
		return models.Job{}, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}

	return job, nil
}

func elapsed(job *models.Job) time.Duration {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}

	return job.CompletedAt.Sub(*job.StartedAt)
}
