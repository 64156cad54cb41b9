package syncer

import (
	"context"
	"log/slog"
	"time"
)

// RunScheduler calls run every interval until ctx is done. A non-positive
// interval disables it.
func RunScheduler(ctx context.Context, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 {
		slog.Info("sync scheduler disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("sync scheduler enabled", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// Scheduled returns the run func used by the scheduler and debouncer: a Sync
// whose failures are logged rather than returned.
func (m *Manager) Scheduled(reason string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if _, err := m.Sync(ctx); err != nil {
			slog.Warn("sync failed", "reason", reason, "err", err)
		}
	}
}
