package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.PreferenceRepository = (*PreferenceRepository)(nil)

// PreferenceRepository stores one row per user. The channel matrix is kept as
// JSONB so adding a notification type needs no schema change.
type PreferenceRepository struct {
	conn *Connection
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(conn *Connection) *PreferenceRepository {
	return &PreferenceRepository{conn: conn}
}

// Find returns the stored preference or a not-found error.
func (r *PreferenceRepository) Find(ctx context.Context, userID string) (*notification.Preference, error) {
	query := `
		SELECT user_id, channels, digest_frequency, quiet_hours_enabled,
		       quiet_hours_start, quiet_hours_end, timezone, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`

	var (
		p        notification.Preference
		channels []byte
		freq     string
	)
	err := r.conn.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&channels,
		&freq,
		&p.QuietHoursEnabled,
		&p.QuietHoursStart,
		&p.QuietHoursEnd,
		&p.Timezone,
		&p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("preference", "Find", shared.ErrNotFound, "preference not found")
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	if err := json.Unmarshal(channels, &p.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	p.DigestFrequency = notification.DigestFrequency(freq)

	return &p, nil
}

// Save upserts the preference row.
func (r *PreferenceRepository) Save(ctx context.Context, p *notification.Preference) error {
	query := `
		INSERT INTO notification_preferences (
			user_id, channels, digest_frequency, quiet_hours_enabled,
			quiet_hours_start, quiet_hours_end, timezone, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			digest_frequency = EXCLUDED.digest_frequency,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`

	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		p.UserID,
		channels,
		string(p.DigestFrequency),
		p.QuietHoursEnabled,
		p.QuietHoursStart,
		p.QuietHoursEnd,
		p.Timezone,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	return nil
}
