package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds retries of SQLite writes that hit lock contention.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries three times with 100ms, 200ms backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, returns a non-conflict error,
// runs out of attempts or ctx is done. Delays double after each attempt.
func RetryOnConflict(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	for i := 0; i < p.MaxAttempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) || i == p.MaxAttempts-1 {
			return err
		}

		delay := p.BaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
