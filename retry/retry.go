// Single retry helper shared by the ledger adapters and the
// orchestrator. Transient RPC failures are retried with bounded
// exponential backoff; irrecoverable errors abort immediately.

package retry

import (
	"context"
	"errors"
	"time"
)

type Policy struct {
	Attempts  int           // total attempts, >= 1
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // backoff cap
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:  5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
	}
}

type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps an error so Do stops retrying and returns it as-is.
// Used for validation and irrecoverable submission failures.
func Abort(err error) error {
	return &abortError{err: err}
}

// Do runs fn until it succeeds, aborts, exhausts p.Attempts, or ctx is
// done. The returned error is the last error seen (unwrapped for
// aborts); ctx errors win over fn errors.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var abort *abortError
		if errors.As(lastErr, &abort) {
			return abort.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
