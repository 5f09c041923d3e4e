package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRUNE HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRetention is how long history entries are kept.
const DefaultRetention = 180 * 24 * time.Hour

// PruneHistoryJob deletes history entries older than the retention window.
type PruneHistoryJob struct {
	ledger    notification.HistoryLedger
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	lastRunStats atomic.Value // PruneStats
}

// PruneStats describes the last prune.
type PruneStats struct {
	Cutoff   time.Time
	Deleted  int64
	Duration time.Duration
}

// NewPruneHistoryJob creates the job. retention <= 0 selects DefaultRetention.
func NewPruneHistoryJob(ledger notification.HistoryLedger, retention time.Duration, logger *slog.Logger) *PruneHistoryJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneHistoryJob{
		ledger:    ledger,
		retention: retention,
		logger:    logger.With("job", "prune_history"),
		now:       time.Now,
	}
}

// Name returns the job name.
func (j *PruneHistoryJob) Name() string {
	return "prune_history"
}

// Description returns a human-readable description.
func (j *PruneHistoryJob) Description() string {
	return fmt.Sprintf("Deletes notification history older than %s", j.retention)
}

// Run deletes entries sent before now minus the retention window.
func (j *PruneHistoryJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.UTC().Add(-j.retention)

	deleted, err := j.ledger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			j.logger.Warn("prune timed out, remaining rows go next run", "cutoff", cutoff)
		}
		return fmt.Errorf("prune history: %w", err)
	}

	j.lastRunStats.Store(PruneStats{Cutoff: cutoff, Deleted: deleted, Duration: j.now().Sub(start)})
	j.logger.Info("history pruned", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}

// LastRunStats returns the stats of the last successful run.
func (j *PruneHistoryJob) LastRunStats() (PruneStats, bool) {
	s, ok := j.lastRunStats.Load().(PruneStats)
	return s, ok
}
