package resilience

import (
	"context"
	"log/slog"
	"time"
)

// RetryOnce calls fn and, if its error satisfies retryable, waits backoff and
// calls fn exactly once more. The second error is returned as is. The wait
// ends early with ctx.Err() when ctx is done.
func RetryOnce(ctx context.Context, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	err := fn()
	if err == nil || !retryable(err) {
		return err
	}
	slog.Info("retrying after backoff", "backoff", backoff, "error", err)

	if backoff > 0 {
		t := time.NewTimer(backoff)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return fn()
}
