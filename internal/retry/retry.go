// Package retry implements exponential backoff with jitter for fallible
// operations.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Options controls Do.
type Options struct {
	// MaxRetries is the number of retries after the first attempt; the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ShouldAbort is consulted after each failure; returning true stops
	// retries immediately and propagates the error.
	ShouldAbort func(attempt int, err error) bool
	// OnRetry is an observability hook invoked with the attempt number,
	// the computed delay, and the error. It must not affect control flow.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 250 * time.Millisecond
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	return o
}

// Do runs op, retrying failures with exponentially growing jittered delays.
// Context cancellation during a wait stops retries and returns ctx.Err()
// joined with the last operation error.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Delay(attempt, opts.BaseDelay, opts.MaxDelay)
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if opts.ShouldAbort != nil && opts.ShouldAbort(attempt+1, lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// Delay computes the backoff for attempt k (k >= 1):
// min(maxDelay, base*2^(k-1)) with +/-25% symmetric jitter, floored at base.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	jittered := delay - delay/4 + randomJitter(delay/2)
	if jittered < base {
		return base
	}
	return jittered
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
