package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donorhub/notification-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIGEST QUEUE
// One Redis list per (user, type) under digest:{user}:{type}. The set
// digest:pending indexes non-empty lists as "{type}:{user}" members; types
// never contain a colon, user ids may.
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.DigestQueue = (*DigestQueue)(nil)

// DigestQueue implements notification.DigestQueue on Redis lists.
type DigestQueue struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewDigestQueue creates a queue on the cache's client.
func NewDigestQueue(cache *Cache, logger *slog.Logger) *DigestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestQueue{client: cache.Client(), logger: logger, now: time.Now}
}

// DigestKey generates the list key for (user, type).
func DigestKey(userID string, t notification.Type) string {
	return PrefixDigest + userID + ":" + string(t)
}

func pendingMember(userID string, t notification.Type) string {
	return string(t) + ":" + userID
}

func parsePendingMember(m string) (notification.DigestKey, bool) {
	t, user, ok := strings.Cut(m, ":")
	if !ok || user == "" || !notification.Type(t).IsValid() {
		return notification.DigestKey{}, false
	}
	return notification.DigestKey{UserID: user, Type: notification.Type(t)}, true
}

// Enqueue appends to the tail of the (user, type) list.
func (q *DigestQueue) Enqueue(ctx context.Context, entry notification.DigestEntry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = q.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, DigestKey(entry.UserID, entry.Type), data)
		pipe.SAdd(ctx, KeyDigestPending, pendingMember(entry.UserID, entry.Type))
		return nil
	})
	if err != nil {
		return fmt.Errorf("digest queue: enqueue: %w", err)
	}
	return nil
}

// Drain reads and clears the list in one MULTI/EXEC, so an entry is
// returned by exactly one drain.
func (q *DigestQueue) Drain(ctx context.Context, userID string, t notification.Type) ([]notification.DigestEntry, error) {
	key := DigestKey(userID, t)

	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, KeyDigestPending, pendingMember(userID, t))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("digest queue: drain: %w", err)
	}

	raw := items.Val()
	entries := make([]notification.DigestEntry, 0, len(raw))
	for _, item := range raw {
		var e notification.DigestEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			q.logger.Warn("dropping undecodable digest entry", "key", key, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Pending lists (user, type) pairs with queued entries, sorted.
func (q *DigestQueue) Pending(ctx context.Context) ([]notification.DigestKey, error) {
	members, err := q.client.SMembers(ctx, KeyDigestPending).Result()
	if err != nil {
		return nil, fmt.Errorf("digest queue: pending: %w", err)
	}

	keys := make([]notification.DigestKey, 0, len(members))
	for _, m := range members {
		if k, ok := parsePendingMember(m); ok {
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
