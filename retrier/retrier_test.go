package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int

	opts := fastOptions()
	opts.OnRetry = func(attempt int, _ error) {
		retried = append(retried, attempt)
	}

	got, err := Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("Navigation timeout of 30000 ms exceeded")
		}

		return "ok", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoNonRetryableReturnsOriginalError(t *testing.T) {
	sentinel := errors.New("element is not attached to the DOM")
	calls := 0

	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, fastOptions())

	require.Error(t, err)
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	var last error

	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		last = errors.New("ECONNRESET attempt")
		return 0, last
	}, fastOptions())

	require.Error(t, err)
	assert.Same(t, last, err)
	assert.Equal(t, 3, calls)
}

func TestDoSingleAttempt(t *testing.T) {
	calls := 0
	opts := fastOptions()
	opts.MaxAttempts = 1

	err := Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("network down")
	}, opts)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCustomPredicate(t *testing.T) {
	calls := 0
	opts := fastOptions()
	opts.IsRetryable = NewMatcher("flaky")

	err := Run(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("FLAKY backend")
		}

		return errors.New("timeout")
	}, opts)

	require.EqualError(t, err, "timeout")
	assert.Equal(t, 2, calls)
}

func TestDoContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := Options{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	opts.OnRetry = func(int, error) { cancel() }

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, func(context.Context) error {
			return errors.New("timeout")
		}, opts)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not stop on cancellation")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("Timeout 3000ms exceeded"), want: true},
		{err: errors.New("read: ECONNRESET"), want: true},
		{err: errors.New("connect ETIMEDOUT 1.2.3.4"), want: true},
		{err: errors.New("page.goto: net::ERR_NAME_NOT_RESOLVED"), want: true},
		{err: errors.New("Navigation failed because page crashed"), want: true},
		{err: errors.New("a network error occurred"), want: true},
		{err: errors.New("invalid selector"), want: false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}

		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()

	assert.Equal(t, 3, o.MaxAttempts)
	assert.Equal(t, time.Second, o.InitialDelay)
	assert.Equal(t, 10*time.Second, o.MaxDelay)
	assert.InDelta(t, 2.0, o.Multiplier, 0.0001)
	assert.NotNil(t, o.IsRetryable)

	l := Linear(4, 20*time.Millisecond)
	assert.InDelta(t, 1.0, l.Multiplier, 0.0001)
	assert.Equal(t, l.InitialDelay, l.MaxDelay)
}
