package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the wait after each
// failure starting from baseDelay. It returns the last error, or ctx.Err() if
// ctx ends while waiting.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	attempts := max(maxAttempts, 1)

	for attempt := range attempts {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}

	return err
}
