package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// Sweeper deletes idempotency records once their retention window has
// passed. Expired records are already ignored by lookups, so sweeping only
// reclaims space.
type Sweeper struct {
	store    domain.IdempotencyStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store domain.IdempotencyStore, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, ttl: ttl, interval: interval, now: time.Now}
}

// Start runs the sweep loop in the background until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		slog.Info("👷 Idempotency sweeper started", "interval", s.interval, "ttl", s.ttl)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Idempotency sweeper stopped")
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					slog.Error("Sweeper: Failed to delete expired idempotency keys", "error", err)
				}
			}
		}
	}()
}

// SweepOnce deletes everything older than the retention window.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("🧹 Sweeper: Expired idempotency keys deleted", "count", n)
	}
	return n, nil
}
