package resolver

import (
	"context"
	"log/slog"
	"time"
)

// Syncer periodically reconciles fast click counters into durable storage.
type Syncer struct {
	store    *RedirectStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSyncer creates a Syncer that sweeps pending counters every interval.
func NewSyncer(store *RedirectStore, interval time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled, then performs one final sweep so counts
// accumulated since the last tick are not lost on shutdown.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.store.SyncAll(ctx); err != nil {
				s.logger.Error("click count sweep failed", slog.Any("err", err))
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := s.store.SyncAll(flushCtx); err != nil {
				s.logger.Error("final click count sweep failed", slog.Any("err", err))
			}

			return nil
		}
	}
}
