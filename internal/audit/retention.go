package audit

import (
	"context"
	"time"
)

// RetentionInterval is how often RunRetention prunes.
const RetentionInterval = 24 * time.Hour

// RunRetention prunes entries older than maxAge once at start and then every
// interval, until ctx is cancelled. A non-positive maxAge disables pruning.
func RunRetention(ctx context.Context, repo Repository, maxAge, interval time.Duration, logger Logger) {
	if maxAge <= 0 {
		return
	}
	if logger == nil {
		logger = noopLogger{}
	}

	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-maxAge))
		switch {
		case err != nil:
			logger.Error("audit retention failed", "error", err)
		case n > 0:
			logger.Info("audit entries pruned", "count", n, "max_age", maxAge)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
