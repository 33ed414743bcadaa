// Package retry runs an operation with bounded attempts and exponential
// backoff between them.
package retry

import (
	"context"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

const (
	DefaultMaxAttempts   = 3
	DefaultInitialDelay  = time.Second
	DefaultBackoffFactor = 2.0
)

// Options controls one Do invocation. Zero values fall back to the package
// defaults; a nil ShouldRetry retries every error.
type Options struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	ShouldRetry   func(error) bool

	// OnRetry is called before each sleep with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultOptions returns three attempts starting at one second and doubling.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   DefaultMaxAttempts,
		InitialDelay:  DefaultInitialDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	} else if o.InitialDelay == 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = DefaultBackoffFactor
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = func(error) bool { return true }
	}
	return o
}

// Do calls op until it succeeds, the attempt budget is spent, or ShouldRetry
// rejects the error. The last error is returned unchanged. Attempts never
// overlap. If ctx ends while waiting between attempts, Do returns an error
// wrapping domain.ErrCancelled.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, domain.Cancelled(err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= opts.MaxAttempts || !opts.ShouldRetry(err) {
			return zero, err
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, domain.Cancelled(ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * opts.BackoffFactor)
	}
}
