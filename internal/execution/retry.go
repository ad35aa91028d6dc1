package execution

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsed      = 2 * time.Minute
)

// Retry runs fn until it succeeds, fails terminally, or the context ends.
// Only rate_limited and disconnected execution errors are retried; a venue
// Retry-After longer than the backoff wait wins.
func Retry(ctx context.Context, fn func() error) error {
	return RetryWithBackOff(ctx, defaultBackOff(), fn)
}

// RetryWithBackOff is Retry with a caller-supplied backoff schedule.
func RetryWithBackOff(ctx context.Context, bo backoff.BackOff, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}

		var xe *Error
		if !errors.As(err, &xe) || !xe.Retryable() {
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		if xe.RetryAfter > wait {
			wait = xe.RetryAfter
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}
