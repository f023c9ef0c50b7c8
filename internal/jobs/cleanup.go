package jobs

import (
	"context"
	"time"

	"github.com/Skotchmaster/shop_auth/internal/logging"
	"github.com/Skotchmaster/shop_auth/internal/metrics"
)

const (
	DefaultCleanupInterval = time.Hour
	DefaultRetention       = 30 * 24 * time.Hour
)

type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenCleanup deletes refresh tokens that expired more than Retention ago.
type TokenCleanup struct {
	Store     Purger
	Interval  time.Duration
	Retention time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewTokenCleanup(store Purger, interval, retention time.Duration, m *metrics.Metrics) *TokenCleanup {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if retention < 0 {
		retention = DefaultRetention
	}
	return &TokenCleanup{Store: store, Interval: interval, Retention: retention, Metrics: m, Now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *TokenCleanup) Run(ctx context.Context) {
	l := logging.FromContext(ctx).With("job", "token_cleanup")
	l.Info("cleanup_started", "interval", w.Interval.String(), "retention", w.Retention.String())

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Info("cleanup_stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *TokenCleanup) RunOnce(ctx context.Context) int64 {
	l := logging.FromContext(ctx).With("job", "token_cleanup")
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	cutoff := now().UTC().Add(-w.Retention)

	n, err := w.Store.PurgeExpired(ctx, cutoff)
	if err != nil {
		l.Error("cleanup_failed", "error", err)
		return 0
	}
	if n > 0 {
		l.Info("cleanup_done", "purged", n)
	}
	w.Metrics.Purged(n)
	return n
}
