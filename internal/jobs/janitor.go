package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor deletes terminal jobs older than retention every interval until
// ctx is done.
func (e *Engine) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.collect(ctx, retention)
		}
	}
}

func (e *Engine) collect(ctx context.Context, retention time.Duration) int64 {
	n, err := e.deps.Store.DeleteJobsCompletedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Error("job retention sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("expired jobs deleted", "count", n, "retention", retention.String())
	}
	return n
}
