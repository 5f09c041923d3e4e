// Package dispatch routes notifications to their channels and fans batches
// out over the router.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/logger"
	"github.com/donorhub/notification-engine/pkg/settle"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// Turns one (user, type, payload) triple into a history record plus the
// channel deliveries the user's preferences allow.
// ══════════════════════════════════════════════════════════════════════════════

// PreferenceSource resolves effective preferences. Unknown users resolve to
// the default preference, never to an error.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (notification.Preference, error)
}

// ChannelGate is an operator-level switch in front of the user's preferences.
type ChannelGate interface {
	PushAllowed(userID string) bool
	EmailAllowed(userID string) bool
}

// RouterConfig wires the router's collaborators.
type RouterConfig struct {
	Preferences   PreferenceSource
	Subscriptions notification.SubscriptionRegistry
	History       notification.HistoryLedger
	Digests       notification.DigestQueue
	Push          notification.PushTransport
	Email         notification.EmailTransport

	// Optional.
	Events shared.EventPublisher
	Gate   ChannelGate
	Logger *slog.Logger

	// Concurrent endpoint deliveries per send. Zero means unbounded.
	PushConcurrency int

	Now func() time.Time
}

// Router dispatches single notifications.
type Router struct {
	prefs    PreferenceSource
	subs     notification.SubscriptionRegistry
	history  notification.HistoryLedger
	digests  notification.DigestQueue
	push     notification.PushTransport
	email    notification.EmailTransport
	events   shared.EventPublisher
	gate     ChannelGate
	logger   *slog.Logger
	pushPool int
	now      func() time.Time
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		prefs:    cfg.Preferences,
		subs:     cfg.Subscriptions,
		history:  cfg.History,
		digests:  cfg.Digests,
		push:     cfg.Push,
		email:    cfg.Email,
		events:   cfg.Events,
		gate:     cfg.Gate,
		logger:   logger.OrDefault(cfg.Logger).With(logger.Component("router")),
		pushPool: cfg.PushConcurrency,
		now:      cfg.Now,
	}
	if r.events == nil {
		r.events = shared.NopPublisher{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Outcome summarises what one send did on each channel.
type Outcome struct {
	HistoryID string

	// Preferences could not be loaded; no channel was attempted.
	PreferencesUnavailable bool

	QuietSuppressed bool
	PushDelivered   int
	PushExpired     int
	PushFailed      int

	EmailSent    bool
	EmailFailed  bool
	DigestQueued bool
}

// Send dispatches one notification.
//
// Only formatting and ledger failures are returned. Channel failures are
// logged and reflected in the Outcome; they never fail the send.
func (r *Router) Send(ctx context.Context, userID string, t notification.Type, payload notification.Payload) (Outcome, error) {
	var out Outcome

	if userID == "" {
		return out, shared.ErrEmptyUserID
	}

	formatted, err := notification.Format(t, payload)
	if err != nil {
		return out, fmt.Errorf("send: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 1: Ledger first. No channel may be attempted without a record.
	// ─────────────────────────────────────────────────────────────────────────
	entry, err := r.history.Append(ctx, notification.NewHistoryEntry(userID, formatted, payload))
	if err != nil {
		return out, fmt.Errorf("send: append history: %w", err)
	}
	out.HistoryID = entry.ID

	log := r.logger.With(logger.UserID(userID), logger.NotificationType(string(t)), logger.HistoryID(entry.ID))

	// ─────────────────────────────────────────────────────────────────────────
	// Step 2: Resolve preferences
	// ─────────────────────────────────────────────────────────────────────────
	pref, err := r.prefs.Get(ctx, userID)
	if err != nil {
		log.Error("preferences unavailable, skipping channels", logger.Err(err))
		out.PreferencesUnavailable = true
		r.publish(log, userID, formatted, out)
		return out, nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 3: Push
	// ─────────────────────────────────────────────────────────────────────────
	if pref.Enabled(notification.ChannelPush, t) && r.pushAllowed(userID) {
		if notification.IsQuiet(pref, r.now()) {
			out.QuietSuppressed = true
			log.Debug("push suppressed by quiet hours")
		} else {
			r.sendPush(ctx, log, userID, formatted, &out)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 4: Email or digest
	// ─────────────────────────────────────────────────────────────────────────
	if pref.Enabled(notification.ChannelEmail, t) && r.emailAllowed(userID) {
		r.sendEmail(ctx, log, userID, pref.DigestFrequency, formatted, payload, &out)
	}

	r.publish(log, userID, formatted, out)
	return out, nil
}

func (r *Router) sendPush(ctx context.Context, log *slog.Logger, userID string, f notification.Formatted, out *Outcome) {
	subs, err := r.subs.List(ctx, userID)
	if err != nil {
		log.Error("list subscriptions failed", logger.Channel("push"), logger.Err(err))
		return
	}

	now := r.now()
	live := subs[:0:0]
	for _, sub := range subs {
		if sub.IsExpired(now) {
			r.expire(ctx, log, sub, "expires_at passed")
			out.PushExpired++
			continue
		}
		live = append(live, sub)
	}
	if len(live) == 0 {
		return
	}

	msg := notification.PushMessage{Type: f.Type, Content: f.Push, Urgent: f.Urgent}
	outcomes := settle.All(ctx, live, func(ctx context.Context, sub notification.Subscription) (notification.PushResult, error) {
		res := r.push.SendToEndpoint(ctx, sub, msg)
		if res.SubscriptionID == "" {
			res.SubscriptionID = sub.ID
		}
		return res, nil
	}, settle.Options{Limit: r.pushPool})

	for i, o := range outcomes {
		sub := live[i]
		if o.Err != nil {
			// Only reachable when the transport panicked.
			out.PushFailed++
			log.Error("push delivery crashed", logger.SubscriptionID(sub.ID), logger.Err(o.Err))
			continue
		}

		switch o.Value.Status {
		case notification.PushStatusOK:
			out.PushDelivered++
		case notification.PushStatusExpired:
			out.PushExpired++
			r.expire(ctx, log, sub, fmt.Sprintf("push service returned %d", o.Value.StatusCode))
		default:
			out.PushFailed++
			log.Warn("push delivery failed",
				logger.SubscriptionID(sub.ID),
				slog.Int("status_code", o.Value.StatusCode),
				logger.Err(o.Value.Err),
			)
		}
	}
}

func (r *Router) expire(ctx context.Context, log *slog.Logger, sub notification.Subscription, reason string) {
	if err := r.subs.Remove(ctx, sub.ID); err != nil {
		log.Error("remove expired subscription failed", logger.SubscriptionID(sub.ID), logger.Err(err))
		return
	}
	log.Info("removed expired subscription", logger.SubscriptionID(sub.ID), slog.String("reason", reason))
	if err := r.events.Publish(shared.NewSubscriptionExpiredEvent(sub.ID, sub.UserID, reason)); err != nil {
		log.Warn("publish subscription expired failed", logger.Err(err))
	}
}

func (r *Router) sendEmail(
	ctx context.Context,
	log *slog.Logger,
	userID string,
	freq notification.DigestFrequency,
	f notification.Formatted,
	payload notification.Payload,
	out *Outcome,
) {
	switch {
	case freq == notification.DigestInstant || f.Urgent:
		if err := r.email.Send(ctx, userID, f.Email); err != nil {
			out.EmailFailed = true
			log.Warn("email delivery failed", logger.Channel("email"), logger.Err(err))
			return
		}
		out.EmailSent = true

	default:
		err := r.digests.Enqueue(ctx, notification.DigestEntry{
			UserID:     userID,
			Type:       f.Type,
			Title:      f.Email.Subject,
			Body:       f.Push.Body,
			Payload:    payload.Clone(),
			EnqueuedAt: r.now().UTC(),
		})
		if err != nil {
			log.Error("digest enqueue failed", logger.Channel("email"), logger.Err(err))
			return
		}
		out.DigestQueued = true
	}
}

func (r *Router) publish(log *slog.Logger, userID string, f notification.Formatted, out Outcome) {
	ev := shared.NewNotificationDispatchedEvent(userID, string(f.Type), out.HistoryID)
	ev.Urgent = f.Urgent
	ev.QuietSuppressed = out.QuietSuppressed
	ev.PushDelivered = out.PushDelivered
	ev.PushExpired = out.PushExpired
	ev.PushFailed = out.PushFailed
	ev.EmailSent = out.EmailSent
	ev.EmailFailed = out.EmailFailed
	ev.DigestQueued = out.DigestQueued

	if err := r.events.Publish(ev); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("publish dispatch event failed", logger.Err(err))
	}
}

func (r *Router) pushAllowed(userID string) bool {
	return r.gate == nil || r.gate.PushAllowed(userID)
}

func (r *Router) emailAllowed(userID string) bool {
	return r.gate == nil || r.gate.EmailAllowed(userID)
}
