package messaging

import (
	"sync"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryStats aggregates dispatch outcome events into counters.
// Events may arrive from another instance through Redis, so it reads the
// generic Payload map instead of asserting concrete event types.
type DeliveryStats struct {
	mu sync.RWMutex

	dispatched     int64
	byType         map[string]int64
	pushDelivered  int64
	pushExpired    int64
	pushFailed     int64
	quietSkipped   int64
	emailSent      int64
	emailFailed    int64
	digestQueued   int64
	subsExpired    int64
	batches        int64
	batchFailed    int64
	lastDispatchAt time.Time
	startedAt      time.Time
}

// NewDeliveryStats creates an empty collector.
func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{
		byType:    make(map[string]int64),
		startedAt: time.Now(),
	}
}

// Attach subscribes the collector to the bus.
func (s *DeliveryStats) Attach(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventNotificationDispatched, s.onDispatched); err != nil {
		return err
	}
	if err := bus.Subscribe(shared.EventSubscriptionExpired, s.onSubscriptionExpired); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventBatchCompleted, s.onBatchCompleted)
}

func (s *DeliveryStats) onDispatched(e shared.Event) error {
	p := e.Payload()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatched++
	if t, ok := p["notification_type"].(string); ok {
		s.byType[t]++
	}
	s.pushDelivered += intOf(p["push_delivered"])
	s.pushExpired += intOf(p["push_expired"])
	s.pushFailed += intOf(p["push_failed"])
	if boolOf(p["quiet_suppressed"]) {
		s.quietSkipped++
	}
	if boolOf(p["email_sent"]) {
		s.emailSent++
	}
	if boolOf(p["email_failed"]) {
		s.emailFailed++
	}
	if boolOf(p["digest_queued"]) {
		s.digestQueued++
	}
	if e.OccurredAt().After(s.lastDispatchAt) {
		s.lastDispatchAt = e.OccurredAt()
	}
	return nil
}

func (s *DeliveryStats) onSubscriptionExpired(shared.Event) error {
	s.mu.Lock()
	s.subsExpired++
	s.mu.Unlock()
	return nil
}

func (s *DeliveryStats) onBatchCompleted(e shared.Event) error {
	p := e.Payload()

	s.mu.Lock()
	s.batches++
	s.batchFailed += intOf(p["failed"])
	s.mu.Unlock()
	return nil
}

// DeliveryStatsSnapshot is a point-in-time copy of the counters.
type DeliveryStatsSnapshot struct {
	Dispatched           int64            `json:"dispatched"`
	ByType               map[string]int64 `json:"byType"`
	PushDelivered        int64            `json:"pushDelivered"`
	PushExpired          int64            `json:"pushExpired"`
	PushFailed           int64            `json:"pushFailed"`
	QuietHoursSuppressed int64            `json:"quietHoursSuppressed"`
	EmailSent            int64            `json:"emailSent"`
	EmailFailed          int64            `json:"emailFailed"`
	DigestQueued         int64            `json:"digestQueued"`
	SubscriptionsExpired int64            `json:"subscriptionsExpired"`
	Batches              int64            `json:"batches"`
	BatchItemsFailed     int64            `json:"batchItemsFailed"`
	LastDispatchAt       *time.Time       `json:"lastDispatchAt,omitempty"`
	Since                time.Time        `json:"since"`
}

// Snapshot returns a copy of the current counters.
func (s *DeliveryStats) Snapshot() DeliveryStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[string]int64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}

	snap := DeliveryStatsSnapshot{
		Dispatched:           s.dispatched,
		ByType:               byType,
		PushDelivered:        s.pushDelivered,
		PushExpired:          s.pushExpired,
		PushFailed:           s.pushFailed,
		QuietHoursSuppressed: s.quietSkipped,
		EmailSent:            s.emailSent,
		EmailFailed:          s.emailFailed,
		DigestQueued:         s.digestQueued,
		SubscriptionsExpired: s.subsExpired,
		Batches:              s.batches,
		BatchItemsFailed:     s.batchFailed,
		Since:                s.startedAt,
	}
	if !s.lastDispatchAt.IsZero() {
		ts := s.lastDispatchAt
		snap.LastDispatchAt = &ts
	}
	return snap
}

func intOf(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}
