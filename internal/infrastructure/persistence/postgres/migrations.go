package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_notification_preferences",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_push_subscriptions",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_notification_history",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: NOTIFICATION PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS notification_preferences (
    user_id VARCHAR(128) PRIMARY KEY,

    -- {"push": {"<type>": bool}, "email": {"<type>": bool}}
    channels JSONB NOT NULL,

    digest_frequency VARCHAR(16) NOT NULL DEFAULT 'instant',
    quiet_hours_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    quiet_hours_start CHAR(5) NOT NULL DEFAULT '22:00',
    quiet_hours_end CHAR(5) NOT NULL DEFAULT '08:00',
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_digest_frequency CHECK (digest_frequency IN ('instant', 'daily', 'weekly', 'never'))
);
`

const migration001Down = `
DROP TABLE IF EXISTS notification_preferences;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PUSH SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    endpoint TEXT NOT NULL,
    p256dh TEXT NOT NULL,
    auth TEXT NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_push_subscriptions_user_endpoint UNIQUE (user_id, endpoint)
);

CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id ON push_subscriptions(user_id);
CREATE INDEX IF NOT EXISTS idx_push_subscriptions_expires_at ON push_subscriptions(expires_at) WHERE expires_at IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS push_subscriptions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: NOTIFICATION HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS notification_history (
    id UUID PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    type VARCHAR(32) NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    read BOOLEAN NOT NULL DEFAULT FALSE,
    read_at TIMESTAMP WITH TIME ZONE
);

-- Inbox listing, newest first
CREATE INDEX IF NOT EXISTS idx_notification_history_user_sent ON notification_history(user_id, sent_at DESC);

-- Unread badge and mark-all-read
CREATE INDEX IF NOT EXISTS idx_notification_history_user_unread ON notification_history(user_id) WHERE read = FALSE;

-- Retention pruning
CREATE INDEX IF NOT EXISTS idx_notification_history_sent_at ON notification_history(sent_at);
`

const migration003Down = `
DROP TABLE IF EXISTS notification_history;
`
