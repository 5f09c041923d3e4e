package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Dispatch outcomes are published after every send so
// that statistics and audit consumers stay decoupled from the router.
const (
	// Dispatch events
	EventNotificationDispatched EventType = "notification.dispatched"
	EventBatchCompleted         EventType = "notification.batch_completed"

	// Subscription events
	EventSubscriptionRegistered EventType = "subscription.registered"
	EventSubscriptionExpired    EventType = "subscription.expired"

	// Preference events
	EventPreferencesUpdated EventType = "preference.updated"
)

// Event is anything published on the bus. Payload must round-trip through
// JSON, since the Redis bus carries nothing else between instances.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent carries the envelope fields every event embeds.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: time.Now().UTC(), AggregateId: aggregateID}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// WithCorrelationID ties the event to the request that caused it.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Dispatch Events
// ═══════════════════════════════════════════════════════════════════════════

// NotificationDispatchedEvent summarises one router invocation.
type NotificationDispatchedEvent struct {
	BaseEvent
	UserID           string `json:"user_id"`
	NotificationType string `json:"notification_type"`
	HistoryID        string `json:"history_id"`
	Urgent           bool   `json:"urgent"`
	QuietSuppressed  bool   `json:"quiet_suppressed"`
	PushDelivered    int    `json:"push_delivered"`
	PushExpired      int    `json:"push_expired"`
	PushFailed       int    `json:"push_failed"`
	EmailSent        bool   `json:"email_sent"`
	EmailFailed      bool   `json:"email_failed"`
	DigestQueued     bool   `json:"digest_queued"`
}

func (e NotificationDispatchedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":           e.UserID,
		"notification_type": e.NotificationType,
		"history_id":        e.HistoryID,
		"urgent":            e.Urgent,
		"quiet_suppressed":  e.QuietSuppressed,
		"push_delivered":    e.PushDelivered,
		"push_expired":      e.PushExpired,
		"push_failed":       e.PushFailed,
		"email_sent":        e.EmailSent,
		"email_failed":      e.EmailFailed,
		"digest_queued":     e.DigestQueued,
	}
}

func NewNotificationDispatchedEvent(userID, notificationType, historyID string) NotificationDispatchedEvent {
	return NotificationDispatchedEvent{
		BaseEvent:        NewBaseEvent(EventNotificationDispatched, userID),
		UserID:           userID,
		NotificationType: notificationType,
		HistoryID:        historyID,
	}
}

// BatchCompletedEvent is emitted once a batch has settled completely.
type BatchCompletedEvent struct {
	BaseEvent
	Total      int           `json:"total"`
	Dropped    int           `json:"dropped"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"duration"`
}

func (e BatchCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"total":      e.Total,
		"dropped":    e.Dropped,
		"dispatched": e.Dispatched,
		"failed":     e.Failed,
		"chunks":     e.Chunks,
		"duration":   e.Duration.String(),
	}
}

func NewBatchCompletedEvent(batchID string, total, dropped, dispatched, failed, chunks int, took time.Duration) BatchCompletedEvent {
	return BatchCompletedEvent{
		BaseEvent:  NewBaseEvent(EventBatchCompleted, batchID),
		Total:      total,
		Dropped:    dropped,
		Dispatched: dispatched,
		Failed:     failed,
		Chunks:     chunks,
		Duration:   took,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Subscription Events
// ═══════════════════════════════════════════════════════════════════════════

// SubscriptionExpiredEvent is emitted when a push endpoint is removed because
// the provider reported it gone or its expiry passed.
type SubscriptionExpiredEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	Reason         string `json:"reason"`
}

func (e SubscriptionExpiredEvent) Payload() map[string]any {
	return map[string]any{
		"subscription_id": e.SubscriptionID,
		"user_id":         e.UserID,
		"reason":          e.Reason,
	}
}

func NewSubscriptionExpiredEvent(subscriptionID, userID, reason string) SubscriptionExpiredEvent {
	return SubscriptionExpiredEvent{
		BaseEvent:      NewBaseEvent(EventSubscriptionExpired, subscriptionID),
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Reason:         reason,
	}
}

// SubscriptionRegisteredEvent is emitted when a push endpoint is registered or refreshed.
type SubscriptionRegisteredEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
}

func (e SubscriptionRegisteredEvent) Payload() map[string]any {
	return map[string]any{
		"subscription_id": e.SubscriptionID,
		"user_id":         e.UserID,
	}
}

func NewSubscriptionRegisteredEvent(subscriptionID, userID string) SubscriptionRegisteredEvent {
	return SubscriptionRegisteredEvent{
		BaseEvent:      NewBaseEvent(EventSubscriptionRegistered, subscriptionID),
		SubscriptionID: subscriptionID,
		UserID:         userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Preference Events
// ═══════════════════════════════════════════════════════════════════════════

// PreferencesUpdatedEvent is emitted after a preference patch is persisted.
type PreferencesUpdatedEvent struct {
	BaseEvent
	UserID        string   `json:"user_id"`
	ChangedFields []string `json:"changed_fields"`
}

func (e PreferencesUpdatedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":        e.UserID,
		"changed_fields": e.ChangedFields,
	}
}

func NewPreferencesUpdatedEvent(userID string, changed []string) PreferencesUpdatedEvent {
	return PreferencesUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventPreferencesUpdated, userID),
		UserID:        userID,
		ChangedFields: changed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler reacts to one event. Returned errors are logged by the bus
// and never reach the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
