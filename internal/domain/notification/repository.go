package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY CONTRACTS
// Implemented by infrastructure (PostgreSQL, Redis, in-memory).
// ══════════════════════════════════════════════════════════════════════════════

// PreferenceRepository persists preference records.
type PreferenceRepository interface {
	// Find returns the stored preference or an error matching shared.ErrNotFound.
	Find(ctx context.Context, userID string) (*Preference, error)

	// Save upserts the preference.
	Save(ctx context.Context, pref *Preference) error
}

// SubscriptionRegistry stores push endpoints.
type SubscriptionRegistry interface {
	// Register upserts by (UserID, Endpoint), overwriting keys and expiry, and
	// returns the stored subscription.
	Register(ctx context.Context, sub Subscription) (Subscription, error)

	// Remove deletes by ID. Removing a missing ID is not an error.
	Remove(ctx context.Context, id string) error

	// List returns the user's subscriptions ordered by creation time.
	List(ctx context.Context, userID string) ([]Subscription, error)

	// Get returns one subscription or an error matching shared.ErrNotFound.
	Get(ctx context.Context, id string) (*Subscription, error)

	// RemoveExpired deletes subscriptions whose expiry is at or before the cutoff.
	RemoveExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryLedger is the append-only dispatch record.
type HistoryLedger interface {
	// Append assigns ID and SentAt when empty and stores the entry.
	Append(ctx context.Context, entry HistoryEntry) (HistoryEntry, error)

	// Get returns one entry or an error matching shared.ErrNotFound.
	Get(ctx context.Context, id string) (*HistoryEntry, error)

	// List returns the user's entries, most recent first.
	List(ctx context.Context, userID string, filter HistoryFilter) ([]HistoryEntry, error)

	// MarkRead sets read/readAt. A missing ID matches shared.ErrNotFound;
	// re-marking keeps the original readAt.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead marks every unread entry of the user and returns the count.
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// CountUnread returns the number of unread entries of the user.
	CountUnread(ctx context.Context, userID string) (int64, error)

	// Delete removes an entry. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteOlderThan prunes entries sent before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DigestQueue holds non-urgent email per (user, type) in FIFO order.
type DigestQueue interface {
	Enqueue(ctx context.Context, entry DigestEntry) error

	// Drain atomically returns and clears the queue for the key.
	Drain(ctx context.Context, userID string, t Type) ([]DigestEntry, error)

	// Pending lists keys with at least one queued entry.
	Pending(ctx context.Context) ([]DigestKey, error)
}
