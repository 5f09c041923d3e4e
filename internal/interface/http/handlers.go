package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/donorhub/notification-engine/internal/application/command"
	"github.com/donorhub/notification-engine/internal/application/dispatch"
	"github.com/donorhub/notification-engine/internal/application/query"
	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/internal/interface/http/handlers"
	"github.com/donorhub/notification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleLive handles GET /health/live
func (s *Server) handleLive(c *gin.Context) {
	handlers.WriteJSON(c, http.StatusOK, gin.H{"status": "alive", "version": s.config.Version})
}

// handleReady handles GET /health/ready
func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Health == nil {
		handlers.WriteJSON(c, http.StatusOK, gin.H{"status": "ready"})
		return
	}

	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		handlers.WriteJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPreferences handles GET /api/v1/preferences
func (s *Server) handleGetPreferences(c *gin.Context) {
	prefs, err := s.deps.GetPreferences.Handle(c.Request.Context(), handlers.UserIDFrom(c))
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, prefs)
}

// handleUpdatePreferences handles PATCH /api/v1/preferences
func (s *Server) handleUpdatePreferences(c *gin.Context) {
	patch, err := notification.DecodePreferencePatch(c.Request.Body)
	if err != nil {
		handlers.WriteError(c, err)
		return
	}

	result, err := s.deps.UpdatePreferences.Handle(c.Request.Context(), command.UpdatePreferencesCommand{
		UserID:        handlers.UserIDFrom(c),
		Patch:         patch,
		CorrelationID: handlers.RequestIDFrom(c),
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}

	handlers.WriteJSON(c, http.StatusOK, gin.H{
		"preferences":   result.Preferences,
		"changedFields": result.ChangedFields,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// pushSubscriptionBody mirrors PushSubscription.toJSON() in the browser.
// expirationTime is epoch milliseconds or null.
type pushSubscriptionBody struct {
	Endpoint       string            `json:"endpoint"`
	ExpirationTime *int64            `json:"expirationTime"`
	Keys           notification.Keys `json:"keys"`
}

// handleListSubscriptions handles GET /api/v1/subscriptions
func (s *Server) handleListSubscriptions(c *gin.Context) {
	subs, err := s.deps.ListSubscriptions.Handle(c.Request.Context(), handlers.UserIDFrom(c))
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, gin.H{"subscriptions": subs})
}

// handleRegisterSubscription handles POST /api/v1/subscriptions
func (s *Server) handleRegisterSubscription(c *gin.Context) {
	var body pushSubscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handlers.WriteError(c, bindError("subscription", "Register", err))
		return
	}

	var expiresAt *time.Time
	if body.ExpirationTime != nil {
		t := time.UnixMilli(*body.ExpirationTime).UTC()
		expiresAt = &t
	}

	sub, err := s.deps.RegisterSubscription.Handle(c.Request.Context(), command.RegisterSubscriptionCommand{
		UserID:    handlers.UserIDFrom(c),
		Endpoint:  body.Endpoint,
		Keys:      body.Keys,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusCreated, sub)
}

// handleRemoveSubscription handles DELETE /api/v1/subscriptions/:id
func (s *Server) handleRemoveSubscription(c *gin.Context) {
	err := s.deps.RemoveSubscription.Handle(c.Request.Context(), command.RemoveSubscriptionCommand{
		UserID:         handlers.UserIDFrom(c),
		SubscriptionID: c.Param("id"),
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListHistory handles GET /api/v1/history
//
// Query: unread=true, type (repeatable or comma separated), before (RFC 3339),
// limit.
func (s *Server) handleListHistory(c *gin.Context) {
	q, err := parseHistoryQuery(c)
	if err != nil {
		handlers.WriteError(c, err)
		return
	}

	page, err := s.deps.HistoryQueries.List(c.Request.Context(), q)
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, page)
}

func parseHistoryQuery(c *gin.Context) (query.ListHistoryQuery, error) {
	q := query.ListHistoryQuery{UserID: handlers.UserIDFrom(c)}

	if raw := c.Query("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			return q, shared.ValidationError("history", "List", "unread must be a boolean")
		}
		q.UnreadOnly = unread
	}

	for _, raw := range c.QueryArray("type") {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			t, err := notification.ParseType(part)
			if err != nil {
				return q, err
			}
			q.Types = append(q.Types, t)
		}
	}

	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, shared.ValidationError("history", "List", "before must be an RFC 3339 timestamp")
		}
		before = before.UTC()
		q.Before = &before
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, shared.ValidationError("history", "List", "limit must be a non-negative integer")
		}
		q.Limit = limit
	}

	return q, nil
}

// handleUnreadCount handles GET /api/v1/history/unread-count
func (s *Server) handleUnreadCount(c *gin.Context) {
	n, err := s.deps.HistoryQueries.UnreadCount(c.Request.Context(), handlers.UserIDFrom(c))
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, gin.H{"unread": n})
}

// handleMarkRead handles POST /api/v1/history/:id/read
func (s *Server) handleMarkRead(c *gin.Context) {
	err := s.deps.HistoryCommands.MarkRead(c.Request.Context(), command.MarkReadCommand{
		UserID:  handlers.UserIDFrom(c),
		EntryID: c.Param("id"),
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleMarkAllRead handles POST /api/v1/history/read-all
func (s *Server) handleMarkAllRead(c *gin.Context) {
	n, err := s.deps.HistoryCommands.MarkAllRead(c.Request.Context(), command.MarkAllReadCommand{
		UserID: handlers.UserIDFrom(c),
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, gin.H{"marked": n})
}

// handleDeleteHistoryEntry handles DELETE /api/v1/history/:id
func (s *Server) handleDeleteHistoryEntry(c *gin.Context) {
	err := s.deps.HistoryCommands.Delete(c.Request.Context(), command.DeleteHistoryEntryCommand{
		UserID:  handlers.UserIDFrom(c),
		EntryID: c.Param("id"),
	})
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type batchBody struct {
	Notifications []dispatch.Request `json:"notifications"`
}

// handleSendNotification handles POST /internal/v1/notifications
//
// The notification is validated and accepted; delivery happens after the
// response. Delivery failures are logged, never reported to the caller.
func (s *Server) handleSendNotification(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.WriteError(c, bindError("notification", "Send", err))
		return
	}
	if err := validateRequest(req); err != nil {
		handlers.WriteError(c, err)
		return
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(c.Request.Context(), []dispatch.Request{req}); err != nil {
			handlers.WriteError(c, unavailable("notification", "Send", err))
			return
		}
		handlers.WriteJSON(c, http.StatusAccepted, gin.H{"accepted": 1, "queued": true})
		return
	}

	s.detach(c, func(ctx context.Context) {
		log := logger.FromContext(ctx).With(logger.UserID(req.UserID), logger.NotificationType(string(req.Type)))
		if _, err := s.deps.Sender.Send(ctx, req.UserID, req.Type, req.Payload); err != nil {
			log.Error("notification send failed", logger.Err(err))
		}
	})
	handlers.WriteJSON(c, http.StatusAccepted, gin.H{"accepted": 1})
}

// handleSendBatch handles POST /internal/v1/notifications/batch
//
// With ?wait=true the batch runs before the response and its summary is
// returned; otherwise it is accepted and runs detached (or is queued).
func (s *Server) handleSendBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handlers.WriteError(c, bindError("notification", "SendBatch", err))
		return
	}
	if len(body.Notifications) == 0 {
		handlers.WriteError(c, shared.ValidationError("notification", "SendBatch", "notifications must not be empty"))
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		ctx, cancel := handlers.Detach(c, s.config.SendTimeout)
		defer cancel()
		handlers.WriteJSON(c, http.StatusOK, s.deps.Batch.SendBatch(ctx, body.Notifications))
		return
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(c.Request.Context(), body.Notifications); err != nil {
			handlers.WriteError(c, unavailable("notification", "SendBatch", err))
			return
		}
		handlers.WriteJSON(c, http.StatusAccepted, gin.H{"accepted": len(body.Notifications), "queued": true})
		return
	}

	reqs := body.Notifications
	s.detach(c, func(ctx context.Context) {
		s.deps.Batch.SendBatch(ctx, reqs)
	})
	handlers.WriteJSON(c, http.StatusAccepted, gin.H{"accepted": len(reqs)})
}

// ══════════════════════════════════════════════════════════════════════════════
// DIGEST & STATS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handlePendingDigests handles GET /internal/v1/digests/pending
func (s *Server) handlePendingDigests(c *gin.Context) {
	keys, err := s.deps.Digests.Pending(c.Request.Context())
	if err != nil {
		handlers.WriteError(c, unavailable("digest", "Pending", err))
		return
	}
	if keys == nil {
		keys = []notification.DigestKey{}
	}
	handlers.WriteJSON(c, http.StatusOK, gin.H{"pending": keys})
}

// handleDrainDigest handles POST /internal/v1/digests/:user/:type/drain
//
// The drained entries are removed from the queue; the caller owns them.
func (s *Server) handleDrainDigest(c *gin.Context) {
	t, err := notification.ParseType(c.Param("type"))
	if err != nil {
		handlers.WriteError(c, err)
		return
	}
	userID := c.Param("user")

	entries, err := s.deps.Digests.Drain(c.Request.Context(), userID, t)
	if err != nil {
		handlers.WriteError(c, unavailable("digest", "Drain", err))
		return
	}
	if entries == nil {
		entries = []notification.DigestEntry{}
	}

	handlers.Logger(c).Info("digest drained",
		logger.UserID(userID),
		logger.NotificationType(string(t)),
		"entries", len(entries),
	)
	handlers.WriteJSON(c, http.StatusOK, gin.H{"userId": userID, "type": t, "entries": entries})
}

// handleStats handles GET /internal/v1/stats
func (s *Server) handleStats(c *gin.Context) {
	if s.deps.Stats == nil {
		handlers.AbortJSONError(c, http.StatusNotImplemented, "not_implemented", "stats not configured")
		return
	}
	handlers.WriteJSON(c, http.StatusOK, s.deps.Stats.Snapshot())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// validateRequest rejects a single send that could never be delivered. The
// payload is rendered once here so a malformed payload is a 400 instead of a
// failure nobody sees after the 202.
func validateRequest(req dispatch.Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if _, err := notification.ParseType(string(req.Type)); err != nil {
		return err
	}
	if _, err := notification.Format(req.Type, req.Payload); err != nil {
		return err
	}
	return nil
}

func bindError(domain, op string, err error) error {
	if handlers.IsBodyTooLarge(err) {
		return err
	}
	return shared.WrapError(domain, op, shared.ErrValidation, "malformed request body", err)
}

// unavailable reports a backing queue failure as 503 so callers retry.
func unavailable(domain, op string, err error) error {
	return shared.WrapError(domain, op, shared.ErrServiceUnavailable, "temporarily unavailable", err)
}
