package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

func TestNewSubscription(t *testing.T) {
	keys := Keys{P256dh: "BPk", Auth: "au"}

	sub, err := NewSubscription("u1", "https://push.example.com/send/abc", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub.UserID)
	assert.Empty(t, sub.ID)

	_, err = NewSubscription("u1", "/relative", keys, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidEndpoint)

	_, err = NewSubscription("u1", "ftp://push.example.com/x", keys, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidEndpoint)

	_, err = NewSubscription("u1", "https://push.example.com/x", Keys{P256dh: " "}, nil)
	assert.ErrorIs(t, err, shared.ErrMissingKeys)
	assert.True(t, shared.IsValidation(err))

	_, err = NewSubscription("", "https://push.example.com/x", keys, nil)
	assert.True(t, shared.IsValidation(err))
}

func TestSubscription_IsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.False(t, Subscription{}.IsExpired(now))
	assert.True(t, Subscription{ExpiresAt: &past}.IsExpired(now))
	assert.False(t, Subscription{ExpiresAt: &future}.IsExpired(now))
}

func TestHistoryFilter(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, HistoryFilter{}.Normalize().Limit)
	assert.Equal(t, MaxHistoryLimit, HistoryFilter{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 7, HistoryFilter{Limit: 7}.Normalize().Limit)

	cutoff := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	entry := HistoryEntry{Type: TypeGoalReached, SentAt: cutoff.Add(-time.Hour)}

	assert.True(t, HistoryFilter{Before: &cutoff}.Matches(entry))
	assert.False(t, HistoryFilter{Types: []Type{TypeCampaignUpdate}}.Matches(entry))
	entry.Read = true
	assert.False(t, HistoryFilter{UnreadOnly: true}.Matches(entry))
}
