// Package retrier retries transient failures with exponential backoff.
package retrier

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryablePatterns are matched case-insensitively against error
// messages by the default predicate.
var DefaultRetryablePatterns = []string{
	"timeout",
	"network",
	"econnreset",
	"etimedout",
	"econnrefused",
	"enotfound",
	"connection reset",
	"connection refused",
	"navigation",
	"net::err_",
	"target closed",
}

// Options configures Do. Zero values fall back to the defaults.
type Options struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	IsRetryable  func(error) bool
	// OnRetry is called before every sleep with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		IsRetryable:  IsTransient,
	}
}

// Linear returns options with a constant delay between attempts.
func Linear(attempts int, delay time.Duration) Options {
	return Options{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}

	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}

	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}

	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}

	if o.Multiplier < 1 {
		o.Multiplier = def.Multiplier
	}

	if o.IsRetryable == nil {
		o.IsRetryable = def.IsRetryable
	}

	return o
}

// IsTransient is the default retryability predicate.
func IsTransient(err error) bool {
	return matches(err, DefaultRetryablePatterns)
}

// NewMatcher builds a predicate from a custom list of substrings.
func NewMatcher(patterns ...string) func(error) bool {
	lowered := make([]string, len(patterns))
	for i := range patterns {
		lowered[i] = strings.ToLower(patterns[i])
	}

	return func(err error) bool {
		return matches(err, lowered)
	}
}

func matches(err error, patterns []string) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	for _, p := range patterns {
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}

	return false
}

// Do runs op until it succeeds, fails with a non retryable error or the
// attempts are exhausted. The error returned is the one op returned, never
// wrapped. If ctx is done while waiting, ctx.Err() is returned.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.InitialDelay
	exp.MaxInterval = opts.MaxDelay
	exp.Multiplier = opts.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(opts.MaxAttempts-1)), //nolint:gosec // MaxAttempts is at least 1
		ctx,
	)

	attempt := 0

	operation := func() (T, error) {
		attempt++

		res, err := op(ctx)
		if err != nil && !opts.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}

		return res, err
	}

	notify := func(err error, _ time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, op func(context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)

	return err
}
