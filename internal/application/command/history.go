package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY COMMANDS
// Read-state changes and deletions on the user's notification inbox.
// Every command is scoped to the owner; entries of other users behave as if
// they did not exist.
// ══════════════════════════════════════════════════════════════════════════════

// MarkReadCommand marks one entry read.
type MarkReadCommand struct {
	UserID  string
	EntryID string
}

// MarkAllReadCommand marks every unread entry of a user read.
type MarkAllReadCommand struct {
	UserID string
}

// DeleteHistoryEntryCommand deletes one entry.
type DeleteHistoryEntryCommand struct {
	UserID  string
	EntryID string
}

// HistoryHandler handles the history commands.
type HistoryHandler struct {
	ledger notification.HistoryLedger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(ledger notification.HistoryLedger) *HistoryHandler {
	return &HistoryHandler{ledger: ledger}
}

// MarkRead marks the entry read. Unknown ids return not found; marking an
// already read entry keeps its original read time.
func (h *HistoryHandler) MarkRead(ctx context.Context, cmd MarkReadCommand) error {
	if cmd.UserID == "" || cmd.EntryID == "" {
		return shared.ValidationError("history", "MarkRead", "user_id and entry_id are required")
	}

	if _, err := h.owned(ctx, cmd.UserID, cmd.EntryID); err != nil {
		return fmt.Errorf("mark_read: %w", err)
	}
	if err := h.ledger.MarkRead(ctx, cmd.EntryID); err != nil {
		return fmt.Errorf("mark_read: %w", err)
	}
	return nil
}

// MarkAllRead returns how many entries changed.
func (h *HistoryHandler) MarkAllRead(ctx context.Context, cmd MarkAllReadCommand) (int64, error) {
	if cmd.UserID == "" {
		return 0, shared.ValidationError("history", "MarkAllRead", "user_id is required")
	}

	n, err := h.ledger.MarkAllRead(ctx, cmd.UserID)
	if err != nil {
		return 0, fmt.Errorf("mark_all_read: %w", err)
	}
	return n, nil
}

// Delete removes the entry. Deleting a missing entry succeeds.
func (h *HistoryHandler) Delete(ctx context.Context, cmd DeleteHistoryEntryCommand) error {
	if cmd.UserID == "" || cmd.EntryID == "" {
		return shared.ValidationError("history", "Delete", "user_id and entry_id are required")
	}

	_, err := h.owned(ctx, cmd.UserID, cmd.EntryID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete_history_entry: %w", err)
	}

	if err := h.ledger.Delete(ctx, cmd.EntryID); err != nil {
		return fmt.Errorf("delete_history_entry: %w", err)
	}
	return nil
}

func (h *HistoryHandler) owned(ctx context.Context, userID, entryID string) (*notification.HistoryEntry, error) {
	entry, err := h.ledger.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, shared.ErrHistoryEntryNotFound
	}
	return entry, nil
}
