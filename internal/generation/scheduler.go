package generation

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler periodically purges generation rows older than the retention
// window.
type Scheduler struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a retention scheduler.
func NewScheduler(store *Store, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run blocks until ctx is canceled, purging expired rows on each tick.
// Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	if n, err := s.store.DeleteOlderThan(ctx, cutoff); err != nil {
		s.logger.Warn("generation purge failed", "error", err)
	} else if n > 0 {
		s.logger.Info("purged expired generations", "count", n)
	}
}
