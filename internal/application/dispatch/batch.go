package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/logger"
	"github.com/donorhub/notification-engine/pkg/settle"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH ORCHESTRATOR
// Groups requests by recipient, drops recipients who would receive nothing
// and pushes the rest through the router in sequential chunks.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChunkSize is used when BatchConfig.ChunkSize is not positive.
const DefaultChunkSize = 100

// Request is one notification inside a batch.
type Request struct {
	UserID  string               `json:"userId"`
	Type    notification.Type    `json:"type"`
	Payload notification.Payload `json:"payload,omitempty"`
}

// Sender is the single-notification entry point the orchestrator drives.
type Sender interface {
	Send(ctx context.Context, userID string, t notification.Type, payload notification.Payload) (Outcome, error)
}

// BatchSummary reports a settled batch. Total == Dropped + Dispatched + Failed.
type BatchSummary struct {
	BatchID    string        `json:"batchId"`
	Total      int           `json:"total"`
	Dropped    int           `json:"dropped"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"-"`
}

// BatchConfig wires a BatchOrchestrator.
type BatchConfig struct {
	Sender      Sender
	Preferences PreferenceSource
	ChunkSize   int

	// Reports whether recipients with every channel disabled are dropped
	// before dispatch. Nil means always.
	Prefilter func() bool

	Events shared.EventPublisher
	Logger *slog.Logger
}

// BatchOrchestrator dispatches many notifications.
type BatchOrchestrator struct {
	sender    Sender
	prefs     PreferenceSource
	chunkSize int
	prefilter func() bool
	events    shared.EventPublisher
	logger    *slog.Logger
}

// NewBatchOrchestrator creates a BatchOrchestrator.
func NewBatchOrchestrator(cfg BatchConfig) *BatchOrchestrator {
	b := &BatchOrchestrator{
		sender:    cfg.Sender,
		prefs:     cfg.Preferences,
		chunkSize: cfg.ChunkSize,
		prefilter: cfg.Prefilter,
		events:    cfg.Events,
		logger:    logger.OrDefault(cfg.Logger).With(logger.Component("batch")),
	}
	if b.chunkSize <= 0 {
		b.chunkSize = DefaultChunkSize
	}
	if b.events == nil {
		b.events = shared.NopPublisher{}
	}
	return b
}

// SendBatch dispatches every request and waits until all chunks settle.
// Individual failures are counted and logged, never returned.
func (b *BatchOrchestrator) SendBatch(ctx context.Context, reqs []Request) BatchSummary {
	start := time.Now()
	summary := BatchSummary{BatchID: uuid.NewString(), Total: len(reqs)}
	log := b.logger.With(slog.String("batch_id", summary.BatchID))

	// ─────────────────────────────────────────────────────────────────────────
	// Step 1: Group by recipient and prefilter
	// ─────────────────────────────────────────────────────────────────────────
	order, groups := groupByUser(reqs)

	pending := make([]Request, 0, len(reqs))
	for _, userID := range order {
		group := groups[userID]
		if b.shouldDrop(ctx, log, userID, group) {
			summary.Dropped += len(group)
			continue
		}
		pending = append(pending, group...)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 2: Chunked dispatch. A chunk starts after the previous one settles.
	// ─────────────────────────────────────────────────────────────────────────
	for lo := 0; lo < len(pending); lo += b.chunkSize {
		hi := min(lo+b.chunkSize, len(pending))
		chunk := pending[lo:hi]
		summary.Chunks++

		errs := settle.Each(ctx, chunk, func(ctx context.Context, req Request) error {
			_, err := b.sender.Send(ctx, req.UserID, req.Type, req.Payload)
			return err
		})

		for i, err := range errs {
			if err == nil {
				summary.Dispatched++
				continue
			}
			summary.Failed++
			log.Warn("batch item failed",
				logger.UserID(chunk[i].UserID),
				logger.NotificationType(string(chunk[i].Type)),
				logger.Err(err),
			)
		}
	}

	summary.Duration = time.Since(start)
	log.Info("batch completed",
		slog.Int("total", summary.Total),
		slog.Int("dropped", summary.Dropped),
		slog.Int("dispatched", summary.Dispatched),
		slog.Int("failed", summary.Failed),
		slog.Int("chunks", summary.Chunks),
		logger.Latency(summary.Duration),
	)

	ev := shared.NewBatchCompletedEvent(summary.BatchID, summary.Total, summary.Dropped,
		summary.Dispatched, summary.Failed, summary.Chunks, summary.Duration)
	if err := b.events.Publish(ev); err != nil {
		log.Warn("publish batch event failed", logger.Err(err))
	}

	return summary
}

// shouldDrop reports whether none of the user's requests could reach any
// channel. Unknown types keep the group so the router can report them.
func (b *BatchOrchestrator) shouldDrop(ctx context.Context, log *slog.Logger, userID string, group []Request) bool {
	if b.prefs == nil || userID == "" {
		return false
	}
	if b.prefilter != nil && !b.prefilter() {
		return false
	}

	pref, err := b.prefs.Get(ctx, userID)
	if err != nil {
		log.Warn("prefilter: preferences unavailable, keeping requests", logger.UserID(userID), logger.Err(err))
		return false
	}

	for _, req := range group {
		if !req.Type.IsValid() || pref.AnyChannelEnabled(req.Type) {
			return false
		}
	}
	return true
}

func groupByUser(reqs []Request) ([]string, map[string][]Request) {
	var order []string
	groups := make(map[string][]Request)
	for _, r := range reqs {
		if _, seen := groups[r.UserID]; !seen {
			order = append(order, r.UserID)
		}
		groups[r.UserID] = append(groups[r.UserID], r)
	}
	return order, groups
}
