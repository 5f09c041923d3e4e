package query

import (
	"context"
	"fmt"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCES AND SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// PreferenceReader resolves effective preferences.
type PreferenceReader interface {
	Get(ctx context.Context, userID string) (notification.Preference, error)
}

// GetPreferencesHandler returns a user's effective preferences. Users who
// never saved any get the defaults.
type GetPreferencesHandler struct {
	prefs PreferenceReader
}

// NewGetPreferencesHandler creates a new GetPreferencesHandler.
func NewGetPreferencesHandler(prefs PreferenceReader) *GetPreferencesHandler {
	return &GetPreferencesHandler{prefs: prefs}
}

// Handle executes the query.
func (h *GetPreferencesHandler) Handle(ctx context.Context, userID string) (notification.Preference, error) {
	p, err := h.prefs.Get(ctx, userID)
	if err != nil {
		return notification.Preference{}, fmt.Errorf("get_preferences: %w", err)
	}
	return p, nil
}

// ListSubscriptionsHandler returns a user's registered push endpoints.
type ListSubscriptionsHandler struct {
	registry notification.SubscriptionRegistry
}

// NewListSubscriptionsHandler creates a new ListSubscriptionsHandler.
func NewListSubscriptionsHandler(registry notification.SubscriptionRegistry) *ListSubscriptionsHandler {
	return &ListSubscriptionsHandler{registry: registry}
}

// Handle executes the query.
func (h *ListSubscriptionsHandler) Handle(ctx context.Context, userID string) ([]notification.Subscription, error) {
	if userID == "" {
		return nil, shared.ErrEmptyUserID
	}
	subs, err := h.registry.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_subscriptions: %w", err)
	}
	if subs == nil {
		subs = []notification.Subscription{}
	}
	return subs, nil
}
