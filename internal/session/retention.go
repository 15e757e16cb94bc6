package session

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes ended sessions.
type Purger interface {
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = 15 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically removes
// sessions that ended more than retention ago. It stops when ctx is done.
func StartRetentionWorker(ctx context.Context, repo Purger, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				purgeEndedSessions(ctx, repo, time.Now().Add(-retention))
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func purgeEndedSessions(ctx context.Context, repo Purger, cutoff time.Time) int64 {
	deleted, err := repo.DeleteEndedSessionsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during purge", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to purge ended sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker purged ended sessions", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
