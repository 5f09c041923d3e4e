package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER SUBSCRIPTION COMMAND
// Stores a browser's Web Push subscription. Re-registering the same endpoint
// for the same user refreshes its keys.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterSubscriptionCommand contains a PushSubscription as sent by the browser.
type RegisterSubscriptionCommand struct {
	UserID    string
	Endpoint  string
	Keys      notification.Keys
	ExpiresAt *time.Time
}

// RegisterSubscriptionHandler handles the RegisterSubscriptionCommand.
type RegisterSubscriptionHandler struct {
	registry notification.SubscriptionRegistry
	events   shared.EventPublisher
	now      func() time.Time
}

// NewRegisterSubscriptionHandler creates a new RegisterSubscriptionHandler.
func NewRegisterSubscriptionHandler(registry notification.SubscriptionRegistry, events shared.EventPublisher) *RegisterSubscriptionHandler {
	if events == nil {
		events = shared.NopPublisher{}
	}
	return &RegisterSubscriptionHandler{registry: registry, events: events, now: time.Now}
}

// Handle validates and stores the subscription.
func (h *RegisterSubscriptionHandler) Handle(ctx context.Context, cmd RegisterSubscriptionCommand) (*notification.Subscription, error) {
	sub, err := notification.NewSubscription(cmd.UserID, cmd.Endpoint, cmd.Keys, cmd.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("register_subscription: %w", err)
	}
	if sub.IsExpired(h.now()) {
		return nil, shared.ValidationError("subscription", "Register", "expiration time is in the past")
	}

	stored, err := h.registry.Register(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("register_subscription: %w", err)
	}

	if err := h.events.Publish(shared.NewSubscriptionRegisteredEvent(stored.ID, stored.UserID)); err != nil {
		logger.FromContext(ctx).Warn("publish subscription registered failed",
			logger.SubscriptionID(stored.ID), logger.Err(err))
	}
	return &stored, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE SUBSCRIPTION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RemoveSubscriptionCommand removes one of the user's subscriptions.
type RemoveSubscriptionCommand struct {
	UserID         string
	SubscriptionID string
}

// Validate validates the command.
func (c RemoveSubscriptionCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("remove_subscription: user_id is required")
	}
	if c.SubscriptionID == "" {
		return errors.New("remove_subscription: subscription_id is required")
	}
	return nil
}

// RemoveSubscriptionHandler handles the RemoveSubscriptionCommand.
type RemoveSubscriptionHandler struct {
	registry notification.SubscriptionRegistry
}

// NewRemoveSubscriptionHandler creates a new RemoveSubscriptionHandler.
func NewRemoveSubscriptionHandler(registry notification.SubscriptionRegistry) *RemoveSubscriptionHandler {
	return &RemoveSubscriptionHandler{registry: registry}
}

// Handle removes the subscription. Removing a subscription that does not
// exist succeeds; one owned by another user reports not found.
func (h *RemoveSubscriptionHandler) Handle(ctx context.Context, cmd RemoveSubscriptionCommand) error {
	if err := cmd.Validate(); err != nil {
		return shared.WrapError("subscription", "RemoveSubscription", shared.ErrValidation, "invalid command", err)
	}

	sub, err := h.registry.Get(ctx, cmd.SubscriptionID)
	switch {
	case shared.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("remove_subscription: %w", err)
	case sub.UserID != cmd.UserID:
		return shared.ErrSubscriptionNotFound
	}

	if err := h.registry.Remove(ctx, cmd.SubscriptionID); err != nil {
		return fmt.Errorf("remove_subscription: %w", err)
	}
	return nil
}
