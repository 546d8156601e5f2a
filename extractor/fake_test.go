package extractor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/checkpoint"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/memory"
	"github.com/gosom/gmaps-extractor/models"
)

type runFunc func(ctx context.Context, req gmaps.Request, events chan<- gmaps.Event) (gmaps.Result, error)

type fakePipeline struct {
	mu   sync.Mutex
	reqs []gmaps.Request
	run  runFunc
}

func (f *fakePipeline) Run(ctx context.Context, req gmaps.Request, events chan<- gmaps.Event) (gmaps.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.run == nil {
		return gmaps.Result{}, nil
	}

	return f.run(ctx, req, events)
}

func (f *fakePipeline) requests() []gmaps.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]gmaps.Request, len(f.reqs))
	copy(out, f.reqs)

	return out
}

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
	hook   func(ev broadcast.Event)
}

func (r *recorder) Publish(_ context.Context, ev broadcast.Event) {
	if r.hook != nil {
		r.hook(ev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) types() []broadcast.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]broadcast.EventType, 0, len(r.events))
	for i := range r.events {
		out = append(out, r.events[i].Type)
	}

	return out
}

func (r *recorder) has(t broadcast.EventType) bool {
	for _, got := range r.types() {
		if got == t {
			return true
		}
	}

	return false
}

type harness struct {
	orc         *Orchestrator
	repo        models.JobRepository
	pipeline    *fakePipeline
	checkpoints *checkpoint.Store
	publisher   *recorder
}

func newHarness(t *testing.T, run runFunc, cfg Config, opts ...Option) *harness {
	t.Helper()

	backend, err := checkpoint.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		repo:        memory.New(),
		pipeline:    &fakePipeline{run: run},
		checkpoints: checkpoint.NewStore(backend),
		publisher:   &recorder{},
	}

	cfg.CheckpointsEnabled = true

	all := append([]Option{
		WithCheckpoints(h.checkpoints),
		WithPublisher(h.publisher),
	}, opts...)

	h.orc = New(cfg, h.repo, h.pipeline, all...)

	return h
}

func (h *harness) job(t *testing.T, id string) models.Job {
	t.Helper()

	job, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)

	return job
}

func params() models.JobParams {
	return models.JobParams{Keyword: "coffee athens", MaxResults: 10, SkipDuplicates: true, SkipWithoutPhone: true}
}

func send(ctx context.Context, events chan<- gmaps.Event, evs ...gmaps.Event) {
	for _, ev := range evs {
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
