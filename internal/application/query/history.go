// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST HISTORY QUERY
// Pages through a user's notification inbox, newest first. Paging is keyed
// on sentAt: pass NextBefore of one page as Before of the next.
// ══════════════════════════════════════════════════════════════════════════════

// ListHistoryQuery contains the inbox filter.
type ListHistoryQuery struct {
	UserID     string
	UnreadOnly bool
	Types      []notification.Type
	Before     *time.Time
	Limit      int
}

// Validate checks the query and normalises the limit.
func (q *ListHistoryQuery) Validate() error {
	if q.UserID == "" {
		return shared.ErrEmptyUserID
	}
	for _, t := range q.Types {
		if !t.IsValid() {
			return shared.WrapError("notification", "ListHistory", shared.ErrValidation,
				fmt.Sprintf("unknown notification type %q", t), shared.ErrUnknownType)
		}
	}
	return nil
}

// HistoryPage is one page of entries.
type HistoryPage struct {
	Entries []notification.HistoryEntry `json:"entries"`

	// Set when the page is full; more entries may exist before it.
	NextBefore *time.Time `json:"nextBefore,omitempty"`

	UnreadCount int64 `json:"unreadCount"`
}

// HistoryQueryHandler serves the history read model.
type HistoryQueryHandler struct {
	ledger notification.HistoryLedger
}

// NewHistoryQueryHandler creates a new HistoryQueryHandler.
func NewHistoryQueryHandler(ledger notification.HistoryLedger) *HistoryQueryHandler {
	return &HistoryQueryHandler{ledger: ledger}
}

// List returns one page of the user's history.
func (h *HistoryQueryHandler) List(ctx context.Context, q ListHistoryQuery) (*HistoryPage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	filter := notification.HistoryFilter{
		UnreadOnly: q.UnreadOnly,
		Types:      q.Types,
		Before:     q.Before,
		Limit:      q.Limit,
	}.Normalize()

	entries, err := h.ledger.List(ctx, q.UserID, filter)
	if err != nil {
		return nil, fmt.Errorf("list_history: %w", err)
	}

	unread, err := h.ledger.CountUnread(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_history: count unread: %w", err)
	}

	page := &HistoryPage{Entries: entries, UnreadCount: unread}
	if len(entries) == filter.Limit && len(entries) > 0 {
		last := entries[len(entries)-1].SentAt
		page.NextBefore = &last
	}
	if page.Entries == nil {
		page.Entries = []notification.HistoryEntry{}
	}
	return page, nil
}

// UnreadCount returns the number of unread entries.
func (h *HistoryQueryHandler) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, shared.ErrEmptyUserID
	}
	n, err := h.ledger.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread_count: %w", err)
	}
	return n, nil
}
