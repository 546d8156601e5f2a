// Package gmaps extracts business listings from Google Maps search results.
package gmaps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/exiter"
	"github.com/gosom/gmaps-extractor/filter"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/resolver"
	"github.com/gosom/gmaps-extractor/retrier"
)

var errNoName = errors.New("place has no name")

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" default:"https://www.google.com/maps/search/"`
	CheckpointInterval int           `envconfig:"CHECKPOINT_INTERVAL" default:"5"`
	ScrollWait         time.Duration `envconfig:"SCROLL_WAIT" default:"2s"`
	PlateauAttempts    int           `envconfig:"PLATEAU_ATTEMPTS" default:"3"`
	MaxScrollRounds    int           `envconfig:"MAX_SCROLL_ROUNDS" default:"40"`
	StallTimeout       time.Duration `envconfig:"STALL_TIMEOUT" default:"3m"`
	RetryAttempts      int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryInitialDelay  time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"1s"`
	RetryMaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.google.com/maps/search/"
	}

	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5
	}

	if c.ScrollWait < 0 {
		c.ScrollWait = 0
	}

	if c.PlateauAttempts <= 0 {
		c.PlateauAttempts = 3
	}

	if c.MaxScrollRounds <= 0 {
		c.MaxScrollRounds = 40
	}
}

// Request describes one pipeline run.
type Request struct {
	JobID  string
	Params models.JobParams
	// Resume is the checkpoint to continue from, if any.
	Resume *models.Checkpoint
}

// Result is the filtered output of a run together with its counters.
type Result struct {
	Records               []models.Record
	DuplicatesSkipped     int
	WithoutPhoneSkipped   int
	WithoutWebsiteSkipped int
	FailedPlaces          int
	// Visited counts every candidate processed, including resumed ones.
	Visited int
}

// EmailFinder looks up a contact email for a business website. A nil
// finder leaves emails empty.
type EmailFinder interface {
	FindEmail(ctx context.Context, website string) (string, error)
}

// ItemObserver is notified after every candidate. It is used for metrics.
type ItemObserver func(o Outcome)

type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func WithResolver(r *resolver.Resolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

func WithDiagnostics(c diagnostics.Capturer) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.diag = c
		}
	}
}

func WithEmailFinder(f EmailFinder) Option {
	return func(p *Pipeline) {
		p.email = f
	}
}

func WithItemObserver(fn ItemObserver) Option {
	return func(p *Pipeline) {
		p.observe = fn
	}
}

func WithRetryObserver(fn func(op string)) Option {
	return func(p *Pipeline) {
		p.onRetry = fn
	}
}

// Pipeline runs one search: navigate, load the result list, visit every
// candidate and filter the records.
type Pipeline struct {
	cfg      Config
	browser  Browser
	resolver *resolver.Resolver
	diag     diagnostics.Capturer
	email    EmailFinder
	observe  ItemObserver
	onRetry  func(op string)
	log      *zap.Logger
}

func New(browser Browser, cfg Config, opts ...Option) *Pipeline {
	cfg.setDefaults()

	p := &Pipeline{
		cfg:     cfg,
		browser: browser,
		diag:    diagnostics.Nop{},
		log:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.resolver == nil {
		p.resolver = resolver.New(resolver.Config{}, p.log)
	}

	return p
}

// SearchURL builds the search address for a keyword.
func (p *Pipeline) SearchURL(keyword, lang string) string {
	u := p.cfg.BaseURL + strings.ReplaceAll(url.PathEscape(keyword), "%20", "+")
	if lang != "" {
		u += "?hl=" + url.QueryEscape(lang)
	}

	return u
}

// run carries the mutable state of a single Run call.
type run struct {
	req     Request
	events  chan<- Event
	tracker exiter.Exiter
	records []models.Record
	carried filter.Result
}

func (p *Pipeline) emit(ctx context.Context, r *run, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (p *Pipeline) logf(ctx context.Context, r *run, level Level, format string, args ...any) {
	p.emit(ctx, r, LogEvent{At: time.Now().UTC(), Level: level, Message: fmt.Sprintf(format, args...)})
}

func (p *Pipeline) retryOptions(ctx context.Context, r *run, op string) retrier.Options {
	return retrier.Options{
		MaxAttempts:  p.cfg.RetryAttempts,
		InitialDelay: p.cfg.RetryInitialDelay,
		MaxDelay:     p.cfg.RetryMaxDelay,
		Multiplier:   2,
		OnRetry: func(attempt int, err error) {
			if p.onRetry != nil {
				p.onRetry(op)
			}

			p.logf(ctx, r, LevelWarn, "retrying %s (attempt %d): %v", op, attempt, err)
		},
	}
}

// Run executes the pipeline. Events are sent on events in order; the
// channel is not closed. An error is returned only when the run as a whole
// cannot continue.
func (p *Pipeline) Run(ctx context.Context, req Request, events chan<- Event) (Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		req:     req,
		events:  events,
		tracker: exiter.New(p.cfg.StallTimeout),
	}

	go r.tracker.Run(runCtx, cancel)

	res, err := p.run(runCtx, r)
	if err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, exiter.ErrStalled) {
			return res, fmt.Errorf("extraction stalled: %w", cause)
		}

		return res, err
	}

	return res, nil
}

func (p *Pipeline) run(ctx context.Context, r *run) (Result, error) {
	params := r.req.Params
	log := p.log.With(zap.String("job_id", r.req.JobID))

	sess, err := p.browser.NewSession(ctx, params.Lang)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open browser session: %w", err)
	}

	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to close session", zap.Error(err))
		}
	}()

	target := p.SearchURL(params.Keyword, params.Lang)
	p.logf(ctx, r, LevelInfo, "searching %q", params.Keyword)

	err = retrier.Run(ctx, func(ctx context.Context) error {
		return sess.Navigate(ctx, target)
	}, p.retryOptions(ctx, r, "navigation"))
	if err != nil {
		return Result{}, fmt.Errorf("failed to open search page: %w", err)
	}

	if err := sess.DismissConsent(ctx); err != nil {
		log.Debug("consent dismissal skipped", zap.Error(err))
	}

	r.tracker.Touch()

	loaded, err := p.loadCandidates(ctx, r, sess, params.MaxResults)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load results list: %w", err)
	}

	end := min(loaded, params.MaxResults)
	r.tracker.SetTotal(end)

	p.logf(ctx, r, LevelInfo, "found %d places, processing %d", loaded, end)

	start := p.seed(ctx, r)

	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		out := p.visit(ctx, r, sess, i)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		p.record(ctx, r, sess, out)

		if p.observe != nil {
			p.observe(out)
		}

		processed, total := r.tracker.Progress()
		p.emit(ctx, r, ProgressEvent{
			Processed: processed,
			Total:     total,
			Percent:   r.tracker.Percent(),
			Message:   fmt.Sprintf("processed %d of %d", processed, total),
		})

		if (i-start+1)%p.cfg.CheckpointInterval == 0 {
			p.emit(ctx, r, CheckpointEvent{Checkpoint: p.checkpoint(r, i)})
		}
	}

	return p.finish(ctx, r), nil
}

// seed restores accumulated state from the resume checkpoint and returns
// the first index to process.
func (p *Pipeline) seed(ctx context.Context, r *run) int {
	cp := r.req.Resume
	if cp == nil {
		return 0
	}

	r.records = slices.Clone(cp.Records)
	r.carried = filter.Result{
		DuplicatesSkipped:     cp.DuplicatesSkipped,
		WithoutPhoneSkipped:   cp.WithoutPhoneSkipped,
		WithoutWebsiteSkipped: cp.WithoutWebsiteSkipped,
	}

	r.tracker.Seed(cp.NextIndex(), cp.FailedPlaces)

	p.logf(ctx, r, LevelInfo, "resuming from checkpoint at index %d with %d records", cp.NextIndex(), len(cp.Records))

	return cp.NextIndex()
}

func (p *Pipeline) loadCandidates(ctx context.Context, r *run, sess Session, want int) (int, error) {
	countOpts := p.retryOptions(ctx, r, "result count")

	count, err := retrier.Do(ctx, sess.CandidateCount, countOpts)
	if err != nil {
		return 0, err
	}

	stale := 0

	for round := 0; count < want && stale < p.cfg.PlateauAttempts && round < p.cfg.MaxScrollRounds; round++ {
		if err := retrier.Run(ctx, sess.LoadMore, p.retryOptions(ctx, r, "scroll")); err != nil {
			return count, err
		}

		if err := wait(ctx, p.cfg.ScrollWait); err != nil {
			return count, err
		}

		n, err := retrier.Do(ctx, sess.CandidateCount, countOpts)
		if err != nil {
			return count, err
		}

		if n > count {
			stale = 0
			r.tracker.Touch()
		} else {
			stale++
		}

		count = n
	}

	return count, nil
}

func (p *Pipeline) visit(ctx context.Context, r *run, sess Session, i int) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("recovered from panic while visiting place",
				zap.String("job_id", r.req.JobID),
				zap.Int("index", i),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)

			out = Outcome{Index: i, Skip: SkipExtractFailed, Err: fmt.Errorf("recovered from panic: %v", rec)}
		}
	}()

	listName, err := sess.CandidateName(ctx, i)
	if err != nil {
		listName = ""
	}

	src, err := retrier.Do(ctx, func(ctx context.Context) (resolver.Source, error) {
		return sess.OpenCandidate(ctx, i)
	}, p.retryOptions(ctx, r, "detail view"))
	if err != nil {
		return Outcome{Index: i, Skip: SkipOpenFailed, Err: err}
	}

	rec := extractRecord(ctx, p.resolver, src, strings.TrimSpace(listName))
	if rec.Name == "" {
		return Outcome{Index: i, Skip: SkipExtractFailed, Err: errNoName}
	}

	if r.req.Params.Email && p.email != nil && rec.HasWebsite() {
		email, err := p.email.FindEmail(ctx, rec.Website)
		if err != nil {
			p.log.Debug("email lookup failed", zap.String("website", rec.Website), zap.Error(err))
		}

		rec.Email = email
	}

	return Outcome{Index: i, Record: &rec}
}

func (p *Pipeline) record(ctx context.Context, r *run, sess Session, out Outcome) {
	r.tracker.IncrProcessed(1)

	if out.OK() {
		r.records = append(r.records, *out.Record)
		return
	}

	r.tracker.IncrFailed(1)

	p.logf(ctx, r, LevelWarn, "place %d skipped (%s): %v", out.Index, out.Skip, out.Err)

	snap, err := sess.Snapshot(ctx)
	if err != nil {
		p.log.Debug("snapshot failed", zap.Int("index", out.Index), zap.Error(err))
	}

	p.diag.Capture(ctx, r.req.JobID, out.Index, snap, out.Err)
}

func (p *Pipeline) checkpoint(r *run, lastIndex int) models.Checkpoint {
	return models.Checkpoint{
		JobID:                 r.req.JobID,
		Keyword:               r.req.Params.Keyword,
		LastProcessedIndex:    lastIndex,
		TotalProcessed:        lastIndex + 1,
		Records:               slices.Clone(r.records),
		DuplicatesSkipped:     r.carried.DuplicatesSkipped,
		WithoutPhoneSkipped:   r.carried.WithoutPhoneSkipped,
		WithoutWebsiteSkipped: r.carried.WithoutWebsiteSkipped,
		FailedPlaces:          r.tracker.Failed(),
		SavedAt:               time.Now().UTC(),
	}
}

func (p *Pipeline) finish(ctx context.Context, r *run) Result {
	filtered := filter.Apply(r.records, filter.PolicyFrom(r.req.Params))
	processed, _ := r.tracker.Progress()

	res := Result{
		Records:               filtered.Results,
		DuplicatesSkipped:     r.carried.DuplicatesSkipped + filtered.DuplicatesSkipped,
		WithoutPhoneSkipped:   r.carried.WithoutPhoneSkipped + filtered.WithoutPhoneSkipped,
		WithoutWebsiteSkipped: r.carried.WithoutWebsiteSkipped + filtered.WithoutWebsiteSkipped,
		FailedPlaces:          r.tracker.Failed(),
		Visited:               processed,
	}

	p.logf(ctx, r, LevelInfo, "kept %d places (duplicates %d, without phone %d, without website %d, failed %d)",
		len(res.Records), res.DuplicatesSkipped, res.WithoutPhoneSkipped, res.WithoutWebsiteSkipped, res.FailedPlaces)

	return res
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
