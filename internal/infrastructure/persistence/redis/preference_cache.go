package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE CACHE
// Read-through on Find, write-through on Save. Cache failures never fail the
// call; the repository stays the source of truth.
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.PreferenceRepository = (*PreferenceCache)(nil)

// PreferenceCache decorates a PreferenceRepository.
type PreferenceCache struct {
	repo   notification.PreferenceRepository
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewPreferenceCache creates the decorator. ttl <= 0 selects TTLPreference.
func NewPreferenceCache(repo notification.PreferenceRepository, cache *Cache, ttl time.Duration, logger *slog.Logger) *PreferenceCache {
	if ttl <= 0 {
		ttl = TTLPreference
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PreferenceCache{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Find returns the cached preference or loads and caches it.
// Not-found results are not cached.
func (c *PreferenceCache) Find(ctx context.Context, userID string) (*notification.Preference, error) {
	key := PreferenceKey(userID)

	var cached cachedPreference
	err := c.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		pref := cached.preference()
		return &pref, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("preference cache read failed", "user_id", userID, "error", err)
	}

	pref, err := c.repo.Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, pref)
	return pref, nil
}

// Save persists then refreshes the cached copy.
func (c *PreferenceCache) Save(ctx context.Context, pref *notification.Preference) error {
	if err := c.repo.Save(ctx, pref); err != nil {
		return err
	}
	c.store(ctx, pref)
	return nil
}

func (c *PreferenceCache) store(ctx context.Context, pref *notification.Preference) {
	if err := c.cache.Set(ctx, PreferenceKey(pref.UserID), toCached(pref), c.ttl); err != nil {
		c.logger.Warn("preference cache write failed", "user_id", pref.UserID, "error", err)
		// A stale entry would outlive the write; drop it.
		_ = c.cache.Delete(ctx, PreferenceKey(pref.UserID))
	}
}

// cachedPreference is the stored shape; the public JSON form of Preference
// is write-only.
type cachedPreference struct {
	UserID            string                     `json:"u"`
	Channels          notification.ChannelMatrix `json:"c"`
	DigestFrequency   string                     `json:"f"`
	QuietHoursEnabled bool                       `json:"qe"`
	QuietHoursStart   string                     `json:"qs"`
	QuietHoursEnd     string                     `json:"qx"`
	Timezone          string                     `json:"tz"`
	UpdatedAt         time.Time                  `json:"at"`
}

func toCached(p *notification.Preference) cachedPreference {
	return cachedPreference{
		UserID:            p.UserID,
		Channels:          p.Channels,
		DigestFrequency:   string(p.DigestFrequency),
		QuietHoursEnabled: p.QuietHoursEnabled,
		QuietHoursStart:   p.QuietHoursStart,
		QuietHoursEnd:     p.QuietHoursEnd,
		Timezone:          p.Timezone,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (c cachedPreference) preference() notification.Preference {
	return notification.Preference{
		UserID:            c.UserID,
		Channels:          c.Channels,
		DigestFrequency:   notification.DigestFrequency(c.DigestFrequency),
		QuietHoursEnabled: c.QuietHoursEnabled,
		QuietHoursStart:   c.QuietHoursStart,
		QuietHoursEnd:     c.QuietHoursEnd,
		Timezone:          c.Timezone,
		UpdatedAt:         c.UpdatedAt,
	}
}
