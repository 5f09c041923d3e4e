package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY LEDGER (gorm)
// The ledger shares the pgx pool with the other repositories through
// database/sql, so one set of connections serves both access styles.
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.HistoryLedger = (*HistoryRepository)(nil)

// OpenGorm wraps the pool in a gorm handle.
func OpenGorm(pool *pgxpool.Pool, logQueries bool) (*gorm.DB, error) {
	level := gormlogger.Silent
	if logQueries {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(level),
		NowFunc:                func() time.Time { return time.Now().UTC() },
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open gorm: %w", err)
	}
	return db, nil
}

// historyRecord is the row model of notification_history.
type historyRecord struct {
	ID      string     `gorm:"primaryKey;type:uuid"`
	UserID  string     `gorm:"not null;index"`
	Type    string     `gorm:"not null"`
	Title   string     `gorm:"not null"`
	Body    string     `gorm:"not null"`
	Payload string     `gorm:"type:jsonb"`
	SentAt  time.Time  `gorm:"not null"`
	Read    bool       `gorm:"not null;default:false"`
	ReadAt  *time.Time `gorm:"column:read_at"`
}

func (historyRecord) TableName() string {
	return "notification_history"
}

func recordFromEntry(e notification.HistoryEntry) (historyRecord, error) {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return historyRecord{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	return historyRecord{
		ID:      e.ID,
		UserID:  e.UserID,
		Type:    string(e.Type),
		Title:   e.Title,
		Body:    e.Body,
		Payload: string(payload),
		SentAt:  e.SentAt,
		Read:    e.Read,
		ReadAt:  e.ReadAt,
	}, nil
}

func (r historyRecord) toEntry() (notification.HistoryEntry, error) {
	var payload notification.Payload
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			return notification.HistoryEntry{}, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return notification.HistoryEntry{
		ID:      r.ID,
		UserID:  r.UserID,
		Type:    notification.Type(r.Type),
		Title:   r.Title,
		Body:    r.Body,
		Payload: payload,
		SentAt:  r.SentAt.UTC(),
		Read:    r.Read,
		ReadAt:  r.ReadAt,
	}, nil
}

// HistoryRepository implements notification.HistoryLedger.
type HistoryRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

// Append stores the entry, assigning ID and SentAt when empty.
func (r *HistoryRepository) Append(ctx context.Context, e notification.HistoryEntry) (notification.HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = r.now().UTC()
	}

	rec, err := recordFromEntry(e)
	if err != nil {
		return notification.HistoryEntry{}, err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return notification.HistoryEntry{}, fmt.Errorf("failed to append history: %w", err)
	}
	return e, nil
}

// Get returns one entry.
func (r *HistoryRepository) Get(ctx context.Context, id string) (*notification.HistoryEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrHistoryEntryNotFound
	}

	var rec historyRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrHistoryEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}

	e, err := rec.toEntry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns matching entries, most recent first.
func (r *HistoryRepository) List(ctx context.Context, userID string, filter notification.HistoryFilter) ([]notification.HistoryEntry, error) {
	var recs []historyRecord
	if err := listQuery(r.db.WithContext(ctx), userID, filter).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	out := make([]notification.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func listQuery(db *gorm.DB, userID string, filter notification.HistoryFilter) *gorm.DB {
	filter = filter.Normalize()

	q := db.Model(&historyRecord{}).Where("user_id = ?", userID)
	if filter.UnreadOnly {
		q = q.Where("read = ?", false)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN ?", types)
	}
	if filter.Before != nil {
		q = q.Where("sent_at < ?", *filter.Before)
	}
	return q.Order("sent_at DESC, id DESC").Limit(filter.Limit)
}

// MarkRead sets read and readAt. Re-marking keeps the original readAt.
func (r *HistoryRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return shared.ErrHistoryEntryNotFound
	}

	res := r.db.WithContext(ctx).
		Model(&historyRecord{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]any{"read": true, "read_at": r.now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to mark read: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&historyRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check history entry: %w", err)
	}
	if n == 0 {
		return shared.ErrHistoryEntryNotFound
	}
	return nil
}

// MarkAllRead marks every unread entry of the user.
func (r *HistoryRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&historyRecord{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{"read": true, "read_at": r.now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnread returns the user's unread count.
func (r *HistoryRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&historyRecord{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

// Delete removes one entry. Missing ids are not an error.
func (r *HistoryRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&historyRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes entries sent before cutoff.
func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("sent_at < ?", cutoff).Delete(&historyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
