package workflow

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Poll calls check up to attempts times, spaced by interval, until it reports
// done. An error from check stops polling and is returned as is. Running out
// of attempts yields a SignalMaxRetries error.
func Poll(ctx context.Context, attempts int, interval time.Duration, check func(ctx context.Context, attempt int) (bool, error)) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return Wrap(SignalMaxRetries, ErrRetriesExhausted)
}
