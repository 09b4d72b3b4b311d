package util

import (
	"context"
	"time"
)

// RetryPolicy bounds how Retry repeats a failing call.
type RetryPolicy struct {
	Attempts  int           // total calls, at least 1
	BaseDelay time.Duration // wait after the first failure, doubled each time
	MaxDelay  time.Duration // cap on the wait; zero means uncapped

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, the policy's attempts are used up, or
// fn returns an error the policy does not consider retryable. It returns the
// last error from fn, or ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < attempts-1 {
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
	}

	return err
}
