package extractor

import (
	"context"
	"fmt"
	"html"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/checkpoint"
	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/resolver"
)

// staticBrowser serves a fixed results list whose detail views are static
// HTML documents.
type staticBrowser struct {
	records []models.Record
}

func (b *staticBrowser) NewSession(context.Context, string) (gmaps.Session, error) {
	return &staticSession{records: b.records}, nil
}

func (b *staticBrowser) Close() error {
	return nil
}

type staticSession struct {
	records []models.Record
}

func (s *staticSession) Navigate(context.Context, string) error { return nil }

func (s *staticSession) DismissConsent(context.Context) error { return nil }

func (s *staticSession) LoadMore(context.Context) error { return nil }

func (s *staticSession) CandidateCount(context.Context) (int, error) {
	return len(s.records), nil
}

func (s *staticSession) CandidateName(_ context.Context, index int) (string, error) {
	return s.records[index].Name, nil
}

func (s *staticSession) OpenCandidate(_ context.Context, index int) (resolver.Source, error) {
	rec := s.records[index]

	page := fmt.Sprintf(`<div role="main"><h1 class="DUwDvf">%s</h1>`, html.EscapeString(rec.Name))
	if rec.Phone != "" {
		page += fmt.Sprintf(`<button data-item-id="phone:tel:%[1]s" aria-label="Phone: %[1]s"></button>`, rec.Phone)
	}

	page += `</div>`

	return resolver.NewDocumentFromString(page)
}

func (s *staticSession) Snapshot(context.Context) (diagnostics.Snapshot, error) {
	return diagnostics.Snapshot{}, nil
}

func (s *staticSession) Close() error { return nil }

func TestSubmitWithBrowserPipeline(t *testing.T) {
	pipeline := gmaps.New(&staticBrowser{records: rawCandidates()}, gmaps.Config{
		CheckpointInterval: 5,
		RetryAttempts:      1,
		StallTimeout:       time.Minute,
	})

	saves := &countingBackend{}
	backend, err := checkpoint.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	saves.Backend = backend
	store := checkpoint.NewStore(saves)

	h := newHarness(t, pipeline.Run, Config{}, WithCheckpoints(store))

	ctx := context.Background()

	p := params()
	p.MaxResults = 12

	job, err := h.orc.Submit(ctx, "u1", p)
	require.NoError(t, err)
	h.orc.Wait()

	got := h.job(t, job.ID)
	require.Equal(t, models.StatusCompleted, got.Status, got.ErrorMessage)
	assert.Equal(t, 7, got.TotalResults)
	assert.Equal(t, 2, got.DuplicatesSkipped)
	assert.Equal(t, 3, got.WithoutPhoneSkipped)
	assert.Zero(t, got.FailedPlaces)
	assert.Equal(t, 9, got.LastCheckpointIndex)
	assert.Equal(t, 100, got.Progress)

	assert.Equal(t, "Cafe A", got.Results[0].Name)
	assert.Equal(t, "210 A", got.Results[0].Phone)

	assert.EqualValues(t, 2, saves.puts.Load())
	assert.False(t, store.Exists(ctx, job.ID), "checkpoint must be removed on success")
	assert.True(t, h.publisher.has(broadcast.EventComplete))
}

func TestPipelinePanicFailsJob(t *testing.T) {
	run := func(context.Context, gmaps.Request, chan<- gmaps.Event) (gmaps.Result, error) {
		panic("browser crashed")
	}

	h := newHarness(t, run, Config{})
	ctx := context.Background()

	job, err := h.orc.Submit(ctx, "u1", params())
	require.NoError(t, err)
	h.orc.Wait()

	got := h.job(t, job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "recovered from panic: browser crashed", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, h.publisher.has(broadcast.EventError))
}

func TestLauncherSurvivesPanickingTask(t *testing.T) {
	var ran atomic.Int32

	runner := jobRunnerFunc(func(_ context.Context, jobID string) error {
		ran.Add(1)

		if jobID == "bad" {
			panic("task broke")
		}

		return nil
	})

	l := NewGoroutineLauncher(context.Background(), runner, nil)

	require.NoError(t, l.Launch(context.Background(), "bad"))
	require.NoError(t, l.Launch(context.Background(), "good"))
	l.Wait()

	assert.EqualValues(t, 2, ran.Load())
}

func TestNoCheckpointAfterDelete(t *testing.T) {
	run := func(ctx context.Context, req gmaps.Request, events chan<- gmaps.Event) (gmaps.Result, error) {
		send(ctx, events,
			gmaps.ProgressEvent{Processed: 5, Total: 10, Percent: 50},
			gmaps.CheckpointEvent{Checkpoint: models.Checkpoint{JobID: req.JobID, LastProcessedIndex: 4, Records: rawCandidates()[:5]}},
		)

		return gmaps.Result{Records: rawCandidates()}, nil
	}

	saves := &countingBackend{}
	backend, err := checkpoint.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	saves.Backend = backend
	store := checkpoint.NewStore(saves)

	h := newHarness(t, run, Config{}, WithCheckpoints(store))

	// the job is deleted right after its progress was stored
	h.publisher.hook = func(ev broadcast.Event) {
		if ev.Type == broadcast.EventProgress {
			assert.NoError(t, h.repo.Delete(context.Background(), ev.JobID))
		}
	}

	ctx := context.Background()

	job, err := h.orc.Submit(ctx, "u1", params())
	require.NoError(t, err)
	h.orc.Wait()

	assert.Zero(t, saves.puts.Load())
	assert.False(t, store.Exists(ctx, job.ID))

	_, err = h.repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type jobRunnerFunc func(ctx context.Context, jobID string) error

func (f jobRunnerFunc) RunJob(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

type countingBackend struct {
	checkpoint.Backend

	puts atomic.Int32
}

func (c *countingBackend) Put(ctx context.Context, jobID string, data []byte) error {
	c.puts.Add(1)

	return c.Backend.Put(ctx, jobID, data)
}
