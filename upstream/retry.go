package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs op with exponential backoff, retrying only transient failures
// (rate limits and upstream unavailability) up to maxAttempts total attempts.
// A Retry-After hint from the upstream overrides the computed backoff when it
// is longer. Auth and not-found errors abort immediately.
func Retry(ctx context.Context, maxAttempts int, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= maxAttempts {
			return err
		}

		wait := b.NextBackOff()
		if hint := RetryAfterHint(err); hint > wait {
			wait = hint
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
