package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/memory"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func TestSweepSubscriptionsJob(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewSubscriptionRegistry()

	for i, exp := range []*time.Time{nil, at(now.Add(-time.Minute)), at(now), at(now.Add(time.Hour))} {
		_, err := reg.Register(ctx, notification.Subscription{
			UserID:    "u1",
			Endpoint:  "https://push.example.com/" + string(rune('a'+i)),
			Keys:      notification.Keys{P256dh: "p", Auth: "a"},
			ExpiresAt: exp,
		})
		require.NoError(t, err)
	}

	job := NewSweepSubscriptionsJob(reg, nil)
	job.now = func() time.Time { return now }

	_, ok := job.LastRunStats()
	assert.False(t, ok)

	require.NoError(t, job.Run(ctx))

	left, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, left, 2)

	stats, ok := job.LastRunStats()
	require.True(t, ok)
	assert.EqualValues(t, 2, stats.Removed)
	assert.Equal(t, now, stats.Cutoff)
	assert.Equal(t, "sweep_expired_subscriptions", job.Name())
}

func TestPruneHistoryJob(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHistoryLedger()

	for _, age := range []time.Duration{200 * 24 * time.Hour, 181 * 24 * time.Hour, 179 * 24 * time.Hour, time.Hour} {
		_, err := ledger.Append(ctx, notification.HistoryEntry{
			UserID: "u1",
			Type:   notification.TypeCampaignUpdate,
			SentAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	job := NewPruneHistoryJob(ledger, 0, nil)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(ctx))

	left, err := ledger.List(ctx, "u1", notification.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)

	stats, ok := job.LastRunStats()
	require.True(t, ok)
	assert.EqualValues(t, 2, stats.Deleted)
	assert.Equal(t, now.Add(-DefaultRetention), stats.Cutoff)
	assert.Contains(t, job.Description(), "4320h")
}

type failingLedger struct {
	notification.HistoryLedger
}

func (failingLedger) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestPruneHistoryJob_Error(t *testing.T) {
	job := NewPruneHistoryJob(failingLedger{}, 24*time.Hour, nil)
	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "db down")

	_, ok := job.LastRunStats()
	assert.False(t, ok)
}
