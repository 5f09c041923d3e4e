// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE PREFERENCES
// Merges a partial update into the user's delivery preferences.
// ══════════════════════════════════════════════════════════════════════════════

// UpdatePreferencesCommand patches one user's preferences. Only fields
// present in Patch change; their values are checked when it is applied.
type UpdatePreferencesCommand struct {
	UserID        string
	Patch         notification.PreferencePatch
	CorrelationID string
}

type UpdatePreferencesResult struct {
	Preferences notification.Preference

	// e.g. "push.campaign-update", "quietHours.start"
	ChangedFields []string

	UpdatedAt time.Time
}

// PreferenceUpdater is satisfied by *notification.PreferenceStore.
type PreferenceUpdater interface {
	Get(ctx context.Context, userID string) (notification.Preference, error)
	Update(ctx context.Context, userID string, patch notification.PreferencePatch) (notification.Preference, []string, error)
}

type UpdatePreferencesHandler struct {
	prefs  PreferenceUpdater
	events shared.EventPublisher
}

func NewUpdatePreferencesHandler(prefs PreferenceUpdater, events shared.EventPublisher) *UpdatePreferencesHandler {
	if events == nil {
		events = shared.NopPublisher{}
	}
	return &UpdatePreferencesHandler{prefs: prefs, events: events}
}

// Handle applies the patch. An empty patch reads the current preferences
// and writes nothing; a patch that changes nothing publishes no event.
func (h *UpdatePreferencesHandler) Handle(ctx context.Context, cmd UpdatePreferencesCommand) (*UpdatePreferencesResult, error) {
	if cmd.UserID == "" {
		return nil, shared.ValidationError("preference", "UpdatePreferences", "user_id is required")
	}

	var (
		pref    notification.Preference
		changed = []string{}
		err     error
	)
	if cmd.Patch.IsEmpty() {
		pref, err = h.prefs.Get(ctx, cmd.UserID)
	} else {
		pref, changed, err = h.prefs.Update(ctx, cmd.UserID, cmd.Patch)
	}
	if err != nil {
		return nil, fmt.Errorf("update_preferences: %w", err)
	}

	if len(changed) > 0 {
		event := shared.NewPreferencesUpdatedEvent(cmd.UserID, changed)
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		if err := h.events.Publish(event); err != nil {
			logger.FromContext(ctx).Warn("publish preferences updated failed",
				logger.UserID(cmd.UserID), logger.Err(err))
		}
	}

	return &UpdatePreferencesResult{
		Preferences:   pref,
		ChangedFields: changed,
		UpdatedAt:     pref.UpdatedAt,
	}, nil
}
