package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/propwatch/fault"
)

// RetryFunc decides whether err is worth another attempt, and how long to
// wait first. A zero delay falls back to the policy delay.
type RetryFunc func(err error) (retry bool, delay time.Duration)

// RetryTemporary retries transient transport faults only.
func RetryTemporary(err error) (bool, time.Duration) {
	return fault.IsTemporary(err), 0
}

// Retry configures bounded retries of one call.
type Retry struct {
	// Attempts is the total number of attempts, including the first.
	// Values below 1 mean one attempt.
	Attempts int
	// Delay is the wait before each retry.
	Delay time.Duration
	// Backoff doubles the delay after every retry.
	Backoff bool
	// Fn decides which errors are retried. Nil means RetryTemporary.
	Fn RetryFunc
	// OnRetry, if set, is called before each retry with the attempt number
	// (1-based) that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetry is three silent attempts one second apart, retrying
// transient transport faults.
func DefaultRetry() Retry {
	return Retry{Attempts: 3, Delay: time.Second}
}

// Do calls fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is done. The last error is returned.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(r.Attempts, 1)
	retryFn := r.Fn
	if retryFn == nil {
		retryFn = RetryTemporary
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			ok, delay := retryFn(err)
			if !ok {
				return err
			}
			if delay == 0 {
				delay = r.Delay
				if r.Backoff {
					delay = r.Delay << uint(i-1)
				}
			}
			if r.OnRetry != nil {
				r.OnRetry(i, err)
			}
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.ErrCanceled, "retry", fmt.Errorf("context done during backoff: %w", ctx.Err()))
			case <-time.After(delay):
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
