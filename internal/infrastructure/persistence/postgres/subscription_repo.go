package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.SubscriptionRegistry = (*SubscriptionRepository)(nil)

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, expires_at, created_at, updated_at`

// SubscriptionRepository implements notification.SubscriptionRegistry.
type SubscriptionRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(conn *Connection) *SubscriptionRepository {
	return &SubscriptionRepository{conn: conn, now: time.Now}
}

// Register upserts on (user_id, endpoint). A re-registration keeps the
// original id and creation time and refreshes keys and expiry.
func (r *SubscriptionRepository) Register(ctx context.Context, sub notification.Subscription) (notification.Subscription, error) {
	query := `
		INSERT INTO push_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + subscriptionColumns

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := r.now().UTC()

	row := r.conn.QueryRow(ctx, query,
		sub.ID,
		sub.UserID,
		sub.Endpoint,
		sub.Keys.P256dh,
		sub.Keys.Auth,
		sub.ExpiresAt,
		now,
	)
	stored, err := scanSubscription(row)
	if err != nil {
		return notification.Subscription{}, fmt.Errorf("failed to register subscription: %w", err)
	}
	return *stored, nil
}

// Remove deletes the subscription. Deleting a missing id succeeds.
func (r *SubscriptionRepository) Remove(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := r.conn.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

// List returns the user's subscriptions, oldest first.
func (r *SubscriptionRepository) List(ctx context.Context, userID string) ([]notification.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]notification.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// Get returns one subscription.
func (r *SubscriptionRepository) Get(ctx context.Context, id string) (*notification.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrSubscriptionNotFound
	}

	row := r.conn.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// RemoveExpired deletes subscriptions whose expiry is at or before cutoff.
func (r *SubscriptionRepository) RemoveExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM push_subscriptions WHERE expires_at IS NOT NULL AND expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (*notification.Subscription, error) {
	var s notification.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Endpoint,
		&s.Keys.P256dh,
		&s.Keys.Auth,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
