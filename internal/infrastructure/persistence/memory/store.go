// Package memory provides in-memory implementations of the notification
// repositories. Safe for concurrent access. Intended for unit testing and
// local development (STORAGE_DRIVER=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// Ensure implementations satisfy the domain contracts at compile time.
var (
	_ notification.PreferenceRepository = (*PreferenceRepository)(nil)
	_ notification.SubscriptionRegistry = (*SubscriptionRegistry)(nil)
	_ notification.HistoryLedger        = (*HistoryLedger)(nil)
	_ notification.DigestQueue          = (*DigestQueue)(nil)
)

// Store bundles every in-memory repository.
type Store struct {
	Preferences   *PreferenceRepository
	Subscriptions *SubscriptionRegistry
	History       *HistoryLedger
	Digests       *DigestQueue
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		Preferences:   NewPreferenceRepository(),
		Subscriptions: NewSubscriptionRegistry(),
		History:       NewHistoryLedger(),
		Digests:       NewDigestQueue(),
	}
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// ──────────────────────────────────────────────────
// Preferences
// ──────────────────────────────────────────────────

// PreferenceRepository keeps preferences in a map.
type PreferenceRepository struct {
	mu    sync.RWMutex
	prefs map[string]notification.Preference
}

// NewPreferenceRepository returns an empty repository.
func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{prefs: make(map[string]notification.Preference)}
}

// Find returns the stored preference.
func (r *PreferenceRepository) Find(_ context.Context, userID string) (*notification.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prefs[userID]
	if !ok {
		return nil, shared.NewDomainError("preference", "Find", shared.ErrNotFound, "preference not found")
	}
	return &p, nil
}

// Save upserts the preference.
func (r *PreferenceRepository) Save(_ context.Context, p *notification.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prefs[p.UserID] = *p
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// SubscriptionRegistry keeps subscriptions keyed by ID.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]notification.Subscription
	now  func() time.Time
}

// NewSubscriptionRegistry returns an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string]notification.Subscription),
		now:  time.Now,
	}
}

// Register upserts by (user, endpoint).
func (r *SubscriptionRegistry) Register(_ context.Context, sub notification.Subscription) (notification.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for id, existing := range r.subs {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.Keys = sub.Keys
			existing.ExpiresAt = sub.ExpiresAt
			existing.UpdatedAt = now
			r.subs[id] = existing
			return existing, nil
		}
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	r.subs[sub.ID] = sub
	return sub, nil
}

// Remove deletes by ID; missing IDs are ignored.
func (r *SubscriptionRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, id)
	return nil
}

// List returns the user's subscriptions ordered by creation time.
func (r *SubscriptionRegistry) List(_ context.Context, userID string) ([]notification.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]notification.Subscription, 0)
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one subscription.
func (r *SubscriptionRegistry) Get(_ context.Context, id string) (*notification.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[id]
	if !ok {
		return nil, shared.ErrSubscriptionNotFound
	}
	return &s, nil
}

// RemoveExpired deletes subscriptions expiring at or before the cutoff.
func (r *SubscriptionRegistry) RemoveExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.subs {
		if s.IsExpired(cutoff) {
			delete(r.subs, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// ──────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────

// HistoryLedger keeps entries in insertion order.
type HistoryLedger struct {
	mu      sync.RWMutex
	entries []notification.HistoryEntry
	now     func() time.Time
}

// NewHistoryLedger returns an empty ledger.
func NewHistoryLedger() *HistoryLedger {
	return &HistoryLedger{now: time.Now}
}

// Append stores the entry, assigning ID and SentAt when empty.
func (h *HistoryLedger) Append(_ context.Context, e notification.HistoryEntry) (notification.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = h.now().UTC()
	}
	e.Payload = e.Payload.Clone()
	h.entries = append(h.entries, e)
	return e, nil
}

func (h *HistoryLedger) indexOf(id string) int {
	for i := range h.entries {
		if h.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns one entry.
func (h *HistoryLedger) Get(_ context.Context, id string) (*notification.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i := h.indexOf(id)
	if i < 0 {
		return nil, shared.ErrHistoryEntryNotFound
	}
	e := h.entries[i]
	return &e, nil
}

// List returns matching entries, most recent first.
func (h *HistoryLedger) List(_ context.Context, userID string, filter notification.HistoryFilter) ([]notification.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	filter = filter.Normalize()
	out := make([]notification.HistoryEntry, 0)
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.UserID != userID || !filter.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkRead marks one entry read, keeping the first readAt.
func (h *HistoryLedger) MarkRead(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(id)
	if i < 0 {
		return shared.ErrHistoryEntryNotFound
	}
	if !h.entries[i].Read {
		now := h.now().UTC()
		h.entries[i].Read = true
		h.entries[i].ReadAt = &now
	}
	return nil
}

// MarkAllRead marks every unread entry of the user.
func (h *HistoryLedger) MarkAllRead(_ context.Context, userID string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now().UTC()
	var n int64
	for i := range h.entries {
		if h.entries[i].UserID == userID && !h.entries[i].Read {
			h.entries[i].Read = true
			h.entries[i].ReadAt = &now
			n++
		}
	}
	return n, nil
}

// CountUnread counts unread entries of the user.
func (h *HistoryLedger) CountUnread(_ context.Context, userID string) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int64
	for _, e := range h.entries {
		if e.UserID == userID && !e.Read {
			n++
		}
	}
	return n, nil
}

// Delete removes an entry; missing IDs are ignored.
func (h *HistoryLedger) Delete(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := h.indexOf(id); i >= 0 {
		h.entries = append(h.entries[:i], h.entries[i+1:]...)
	}
	return nil
}

// DeleteOlderThan prunes entries sent before the cutoff.
func (h *HistoryLedger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	var n int64
	for _, e := range h.entries {
		if e.SentAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
	return n, nil
}

// All returns a copy of every entry in insertion order.
func (h *HistoryLedger) All() []notification.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]notification.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// ──────────────────────────────────────────────────
// Digest queue
// ──────────────────────────────────────────────────

// DigestQueue keeps one FIFO slice per (user, type).
type DigestQueue struct {
	mu     sync.Mutex
	queues map[notification.DigestKey][]notification.DigestEntry
}

// NewDigestQueue returns an empty queue.
func NewDigestQueue() *DigestQueue {
	return &DigestQueue{queues: make(map[notification.DigestKey][]notification.DigestEntry)}
}

// Enqueue appends to the tail of the key's queue.
func (q *DigestQueue) Enqueue(_ context.Context, e notification.DigestEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	key := notification.DigestKey{UserID: e.UserID, Type: e.Type}
	q.queues[key] = append(q.queues[key], e)
	return nil
}

// Drain returns and clears the key's queue.
func (q *DigestQueue) Drain(_ context.Context, userID string, t notification.Type) ([]notification.DigestEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := notification.DigestKey{UserID: userID, Type: t}
	entries := q.queues[key]
	delete(q.queues, key)
	if entries == nil {
		entries = []notification.DigestEntry{}
	}
	return entries, nil
}

// Pending lists keys with queued entries, sorted for stable output.
func (q *DigestQueue) Pending(_ context.Context) ([]notification.DigestKey, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]notification.DigestKey, 0, len(q.queues))
	for k, v := range q.queues {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID == keys[j].UserID {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].UserID < keys[j].UserID
	})
	return keys, nil
}
