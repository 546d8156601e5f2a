// Package exiter tracks per-run item progress and cancels a run that stops
// making progress.
package exiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStalled is the cancellation cause set when no progress was recorded
// within the inactivity window.
var ErrStalled = errors.New("no progress within inactivity window")

type Exiter interface {
	SetTotal(int)
	// Seed records items that were already processed before this run.
	Seed(processed, failed int)
	IncrProcessed(int)
	IncrFailed(int)
	Touch()
	Progress() (processed, total int)
	Percent() int
	Failed() int
	Run(ctx context.Context, cancel context.CancelCauseFunc)
}

type exiter struct {
	mu           sync.Mutex
	total        int
	processed    int
	failed       int
	lastProgress time.Time
	inactivity   time.Duration
	tick         time.Duration
	now          func() time.Time
}

// New returns an Exiter that cancels after inactivity without a call to
// IncrProcessed or Touch. A zero inactivity disables the watchdog.
func New(inactivity time.Duration) Exiter {
	tick := time.Second
	if inactivity > 0 && inactivity < 4*tick {
		tick = inactivity / 4
	}

	return &exiter{
		inactivity:   inactivity,
		tick:         tick,
		now:          time.Now,
		lastProgress: time.Now(),
	}
}

func (e *exiter) SetTotal(val int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total = val
	e.lastProgress = e.now()
}

func (e *exiter) Seed(processed, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed = processed
	e.failed = failed
}

func (e *exiter) IncrProcessed(val int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed += val
	e.lastProgress = e.now()
}

func (e *exiter) IncrFailed(val int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failed += val
}

func (e *exiter) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastProgress = e.now()
}

func (e *exiter) Progress() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.processed, e.total
}

func (e *exiter) Failed() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.failed
}

// Percent is processed over total, capped to 100.
func (e *exiter) Percent() int {
	processed, total := e.Progress()
	if total <= 0 {
		return 0
	}

	return min(100, processed*100/total)
}

func (e *exiter) stalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.inactivity > 0 && e.now().Sub(e.lastProgress) > e.inactivity
}

// Run blocks until ctx is done or the run stalls, in which case cancel is
// called with ErrStalled.
func (e *exiter) Run(ctx context.Context, cancel context.CancelCauseFunc) {
	if e.inactivity <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.stalled() {
				cancel(ErrStalled)
				return
			}
		}
	}
}
