// Package jobs contains the worker's scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP EXPIRED SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// SweepSubscriptionsJob removes push subscriptions whose browser-reported
// expiry has passed. The router skips them at dispatch time anyway; the
// sweep keeps the registry from growing with dead rows.
type SweepSubscriptionsJob struct {
	registry notification.SubscriptionRegistry
	logger   *slog.Logger
	now      func() time.Time

	lastRunStats atomic.Value // SweepStats
}

// SweepStats describes the last sweep.
type SweepStats struct {
	Cutoff   time.Time
	Removed  int64
	Duration time.Duration
}

// NewSweepSubscriptionsJob creates the job.
func NewSweepSubscriptionsJob(registry notification.SubscriptionRegistry, logger *slog.Logger) *SweepSubscriptionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepSubscriptionsJob{
		registry: registry,
		logger:   logger.With("job", "sweep_expired_subscriptions"),
		now:      time.Now,
	}
}

// Name returns the job name.
func (j *SweepSubscriptionsJob) Name() string {
	return "sweep_expired_subscriptions"
}

// Description returns a human-readable description.
func (j *SweepSubscriptionsJob) Description() string {
	return "Removes push subscriptions past their expiry"
}

// Run removes every subscription expiring at or before now.
func (j *SweepSubscriptionsJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.UTC()

	removed, err := j.registry.RemoveExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep subscriptions: %w", err)
	}

	stats := SweepStats{Cutoff: cutoff, Removed: removed, Duration: j.now().Sub(start)}
	j.lastRunStats.Store(stats)

	if removed > 0 {
		j.logger.Info("expired subscriptions removed", "count", removed)
	} else {
		j.logger.Debug("no expired subscriptions")
	}
	return nil
}

// LastRunStats returns the stats of the last successful run.
func (j *SweepSubscriptionsJob) LastRunStats() (SweepStats, bool) {
	s, ok := j.lastRunStats.Load().(SweepStats)
	return s, ok
}
