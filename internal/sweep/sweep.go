// Package sweep runs periodic eviction of expired records.
package sweep

import (
	"context"
	"time"

	"gatehouse.org/internal/obs"
)

// Func removes expired entries and reports how many it removed.
type Func func(ctx context.Context) (int, error)

// Run calls fn every interval until ctx is cancelled. Failures are logged
// and the next tick tries again.
func Run(ctx context.Context, name string, interval time.Duration, fn Func) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Once(ctx, name, fn)
		}
	}
}

// Once performs a single sweep with logging and metrics.
func Once(ctx context.Context, name string, fn Func) int {
	n, err := fn(ctx)
	if err != nil && ctx.Err() == nil {
		obs.LogError("sweep_failed", err, map[string]any{"store": name})
	}
	if n > 0 {
		obs.SweptRecordsTotal.WithLabelValues(name).Add(float64(n))
		obs.Info("sweep_complete", map[string]any{"store": name, "evicted": n})
	}
	return n
}
