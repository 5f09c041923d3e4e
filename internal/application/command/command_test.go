package command

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/donorhub/notification-engine/pkg/logger"
)

type eventLog struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (l *eventLog) Publish(e shared.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, e)
	return nil
}

// capture returns a context whose request logger writes into the buffer.
func capture() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	return logger.WithContext(context.Background(), log), &buf
}

func ptr[T any](v T) *T { return &v }

// ──────────────────────────────────────────────────
// Preferences
// ──────────────────────────────────────────────────

func TestUpdatePreferences(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	events := &eventLog{}
	h := NewUpdatePreferencesHandler(notification.NewPreferenceStore(store.Preferences), events)

	res, err := h.Handle(ctx, UpdatePreferencesCommand{
		UserID: "u1",
		Patch: notification.PreferencePatch{
			Push:              map[string]bool{"campaign-update": false},
			QuietHoursEnabled: ptr(true),
		},
		CorrelationID: "req-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Preferences.Enabled(notification.ChannelPush, notification.TypeCampaignUpdate))
	assert.True(t, res.Preferences.QuietHoursEnabled)
	assert.ElementsMatch(t, []string{"push.campaign-update", "quietHoursEnabled"}, res.ChangedFields)

	require.Len(t, events.events, 1)
	assert.Equal(t, shared.EventPreferencesUpdated, events.events[0].EventType())

	stored, err := store.Preferences.Find(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.QuietHoursEnabled)
}

func TestUpdatePreferences_EmptyPatchIsNoop(t *testing.T) {
	store := memory.New()
	events := &eventLog{}
	h := NewUpdatePreferencesHandler(notification.NewPreferenceStore(store.Preferences), events)

	res, err := h.Handle(context.Background(), UpdatePreferencesCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, notification.DigestInstant, res.Preferences.DigestFrequency)
	assert.Empty(t, res.ChangedFields)
	assert.Empty(t, events.events)

	_, err = store.Preferences.Find(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err), "defaults are not persisted")
}

func TestUpdatePreferences_Invalid(t *testing.T) {
	h := NewUpdatePreferencesHandler(notification.NewPreferenceStore(memory.NewPreferenceRepository()), nil)

	_, err := h.Handle(context.Background(), UpdatePreferencesCommand{})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), UpdatePreferencesCommand{
		UserID: "u1",
		Patch:  notification.PreferencePatch{QuietHoursStart: ptr("25:00")},
	})
	assert.True(t, shared.IsValidation(err))
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func TestRegisterAndRemoveSubscription(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewSubscriptionRegistry()
	events := &eventLog{}

	register := NewRegisterSubscriptionHandler(reg, events)
	sub, err := register.Handle(ctx, RegisterSubscriptionCommand{
		UserID:   "u1",
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		Keys:     notification.Keys{P256dh: "p", Auth: "a"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID)
	require.Len(t, events.events, 1)

	remove := NewRemoveSubscriptionHandler(reg)

	err = remove.Handle(ctx, RemoveSubscriptionCommand{UserID: "intruder", SubscriptionID: sub.ID})
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, remove.Handle(ctx, RemoveSubscriptionCommand{UserID: "u1", SubscriptionID: sub.ID}))
	require.NoError(t, remove.Handle(ctx, RemoveSubscriptionCommand{UserID: "u1", SubscriptionID: sub.ID}))
	assert.Zero(t, reg.Len())
}

func TestRegisterSubscription_PublishFailureIsLogged(t *testing.T) {
	ctx, logs := capture()
	reg := memory.NewSubscriptionRegistry()
	register := NewRegisterSubscriptionHandler(reg, &eventLog{err: errors.New("bus down")})

	sub, err := register.Handle(ctx, RegisterSubscriptionCommand{
		UserID:   "u1",
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		Keys:     notification.Keys{P256dh: "p", Auth: "a"},
	})
	require.NoError(t, err, "the subscription is stored even when the event is lost")
	assert.Equal(t, 1, reg.Len())
	assert.Contains(t, logs.String(), "publish subscription registered failed")
	assert.Contains(t, logs.String(), "bus down")
	assert.Contains(t, logs.String(), sub.ID)
}

func TestRegisterSubscription_Rejects(t *testing.T) {
	register := NewRegisterSubscriptionHandler(memory.NewSubscriptionRegistry(), nil)

	_, err := register.Handle(context.Background(), RegisterSubscriptionCommand{UserID: "u1", Endpoint: "not a url"})
	assert.True(t, shared.IsValidation(err))

	past := time.Now().Add(-time.Hour)
	_, err = register.Handle(context.Background(), RegisterSubscriptionCommand{
		UserID: "u1", Endpoint: "https://push.example.com/x",
		Keys: notification.Keys{P256dh: "p", Auth: "a"}, ExpiresAt: &past,
	})
	assert.True(t, shared.IsValidation(err))
}

// ──────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────

func TestHistoryHandler(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHistoryLedger()
	h := NewHistoryHandler(ledger)

	mine, err := ledger.Append(ctx, notification.HistoryEntry{UserID: "u1", Type: notification.TypeGoalReached})
	require.NoError(t, err)
	theirs, err := ledger.Append(ctx, notification.HistoryEntry{UserID: "u2", Type: notification.TypeGoalReached})
	require.NoError(t, err)
	_, _ = ledger.Append(ctx, notification.HistoryEntry{UserID: "u1", Type: notification.TypeCampaignUpdate})

	require.NoError(t, h.MarkRead(ctx, MarkReadCommand{UserID: "u1", EntryID: mine.ID}))
	assert.True(t, shared.IsNotFound(h.MarkRead(ctx, MarkReadCommand{UserID: "u1", EntryID: theirs.ID})))
	assert.True(t, shared.IsNotFound(h.MarkRead(ctx, MarkReadCommand{UserID: "u1", EntryID: "missing"})))
	assert.True(t, shared.IsValidation(h.MarkRead(ctx, MarkReadCommand{UserID: "u1"})))

	n, err := h.MarkAllRead(ctx, MarkAllReadCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, h.Delete(ctx, DeleteHistoryEntryCommand{UserID: "u1", EntryID: theirs.ID}))
	_, err = ledger.Get(ctx, theirs.ID)
	require.NoError(t, err, "entries of other users are never deleted")

	require.NoError(t, h.Delete(ctx, DeleteHistoryEntryCommand{UserID: "u1", EntryID: mine.ID}))
	require.NoError(t, h.Delete(ctx, DeleteHistoryEntryCommand{UserID: "u1", EntryID: mine.ID}))
	_, err = ledger.Get(ctx, mine.ID)
	assert.True(t, shared.IsNotFound(err))
}
