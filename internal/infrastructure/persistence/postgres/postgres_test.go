package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// dryRunDB builds SQL without ever opening a connection.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestMigrations_AreOrderedAndReversible(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)

	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}

	assert.Contains(t, migs[1].UpSQL, "UNIQUE (user_id, endpoint)")
}

func TestPendingMigrations(t *testing.T) {
	applied := map[int]time.Time{1: time.Now()}
	left := pending(GetMigrations(), applied)

	require.Len(t, left, 2)
	assert.Equal(t, 2, left[0].Version)
	assert.Equal(t, 3, left[1].Version)
}

func TestPoolOptions_PoolConfig(t *testing.T) {
	cfg, err := PoolOptions{MaxConns: 7, MaxConnLifetime: time.Minute}.PoolConfig("postgres://u:p@localhost:5432/db?sslmode=disable")
	require.NoError(t, err)
	assert.EqualValues(t, 7, cfg.MaxConns)
	assert.Equal(t, time.Minute, cfg.MaxConnLifetime)

	_, err = DefaultPoolOptions().PoolConfig("::not a url::")
	assert.Error(t, err)
}

func TestHistoryListQuery(t *testing.T) {
	db := dryRunDB(t)
	before := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var recs []historyRecord
		return listQuery(tx, "u1", notification.HistoryFilter{
			UnreadOnly: true,
			Types:      []notification.Type{notification.TypeGoalReached, notification.TypeCampaignUpdate},
			Before:     &before,
		}).Find(&recs)
	})

	assert.Contains(t, sql, `"notification_history"`)
	assert.Contains(t, sql, "user_id = 'u1'")
	assert.Contains(t, sql, "read = false")
	assert.Contains(t, sql, "type IN ('goal-reached','campaign-update')")
	assert.Contains(t, sql, "sent_at <")
	assert.Contains(t, sql, "ORDER BY sent_at DESC, id DESC")
	assert.Contains(t, sql, "LIMIT 50")

	sql = db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var recs []historyRecord
		return listQuery(tx, "u1", notification.HistoryFilter{Limit: 1000}).Find(&recs)
	})
	assert.NotContains(t, sql, "read =")
	assert.Contains(t, sql, "LIMIT 200")
}

func TestHistoryRecordMapping(t *testing.T) {
	readAt := time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)
	entry := notification.HistoryEntry{
		ID:      "0b7f8c5e-8a4e-4d1e-9d71-2f7f3c1d9a10",
		UserID:  "u1",
		Type:    notification.TypeDonationReceived,
		Title:   "New donation received",
		Body:    "Ada donated",
		Payload: notification.Payload{"donorName": "Ada"},
		SentAt:  time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		Read:    true,
		ReadAt:  &readAt,
	}

	rec, err := recordFromEntry(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"donorName":"Ada"}`, rec.Payload)

	back, err := rec.toEntry()
	require.NoError(t, err)
	assert.Equal(t, entry, back)

	empty, err := recordFromEntry(notification.HistoryEntry{})
	require.NoError(t, err)
	assert.Equal(t, "{}", empty.Payload)
}

func TestRepositories_RejectMalformedIDsWithoutQuerying(t *testing.T) {
	ctx := context.Background()
	hist := NewHistoryRepository(dryRunDB(t))
	closedConn := &Connection{}
	closedConn.closed.Store(true)
	subs := NewSubscriptionRepository(closedConn)

	_, err := hist.Get(ctx, "not-a-uuid")
	assert.True(t, shared.IsNotFound(err))
	assert.True(t, shared.IsNotFound(hist.MarkRead(ctx, "not-a-uuid")))
	assert.NoError(t, hist.Delete(ctx, "not-a-uuid"))

	_, err = subs.Get(ctx, "not-a-uuid")
	assert.True(t, shared.IsNotFound(err))
	assert.NoError(t, subs.Remove(ctx, "not-a-uuid"))
}
