package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/memory"
)

// ──────────────────────────────────────────────────
// Test doubles
// ──────────────────────────────────────────────────

type mockPush struct{ mock.Mock }

func (m *mockPush) SendToEndpoint(ctx context.Context, sub notification.Subscription, msg notification.PushMessage) notification.PushResult {
	args := m.Called(ctx, sub, msg)
	return args.Get(0).(notification.PushResult)
}

type mockEmail struct{ mock.Mock }

func (m *mockEmail) Send(ctx context.Context, userID string, email notification.EmailContent) error {
	return m.Called(ctx, userID, email).Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type failingPrefs struct{ err error }

func (f failingPrefs) Get(context.Context, string) (notification.Preference, error) {
	return notification.Preference{}, f.err
}

type failingHistory struct {
	*memory.HistoryLedger
	err error
}

func (f failingHistory) Append(context.Context, notification.HistoryEntry) (notification.HistoryEntry, error) {
	return notification.HistoryEntry{}, f.err
}

type gate struct{ push, email bool }

func (g gate) PushAllowed(string) bool  { return g.push }
func (g gate) EmailAllowed(string) bool { return g.email }

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	store  *memory.Store
	push   *mockPush
	email  *mockEmail
	events *recordingPublisher
	cfg    RouterConfig
}

var noon = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		push:   &mockPush{},
		email:  &mockEmail{},
		events: &recordingPublisher{},
	}
	h.cfg = RouterConfig{
		Preferences:   notification.NewPreferenceStore(h.store.Preferences),
		Subscriptions: h.store.Subscriptions,
		History:       h.store.History,
		Digests:       h.store.Digests,
		Push:          h.push,
		Email:         h.email,
		Events:        h.events,
		Now:           func() time.Time { return noon },
	}
	return h
}

func (h *harness) router() *Router { return NewRouter(h.cfg) }

func (h *harness) savePref(t *testing.T, mutate func(p *notification.Preference)) {
	t.Helper()
	p := notification.DefaultPreference("u1")
	mutate(&p)
	require.NoError(t, h.store.Preferences.Save(context.Background(), &p))
}

func (h *harness) subscribe(t *testing.T, endpoint string) notification.Subscription {
	t.Helper()
	sub, err := h.store.Subscriptions.Register(context.Background(), notification.Subscription{
		UserID:   "u1",
		Endpoint: endpoint,
		Keys:     notification.Keys{P256dh: "p", Auth: "a"},
	})
	require.NoError(t, err)
	return sub
}

func (h *harness) history(t *testing.T) []notification.HistoryEntry {
	t.Helper()
	list, err := h.store.History.List(context.Background(), "u1", notification.HistoryFilter{})
	require.NoError(t, err)
	return list
}

func (h *harness) pendingDigests(t *testing.T) []notification.DigestKey {
	t.Helper()
	keys, err := h.store.Digests.Pending(context.Background())
	require.NoError(t, err)
	return keys
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRouter_HistoryRecordedWithAllChannelsDisabled(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) { p.Channels = notification.ChannelMatrix{} })
	h.subscribe(t, "https://push.example.com/1")

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, notification.Payload{"campaignTitle": "Well"})
	require.NoError(t, err)

	entries := h.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, out.HistoryID, entries[0].ID)
	assert.Equal(t, notification.TypeGoalReached, entries[0].Type)
	assert.NotEmpty(t, entries[0].Title)

	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, h.events.ofType(shared.EventNotificationDispatched), 1)
}

func TestRouter_WeeklyDigestQueuesNonUrgent(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) {
		p.DigestFrequency = notification.DigestWeekly
		p.Channels.Set(notification.ChannelPush, notification.TypeCampaignUpdate, false)
	})

	out, err := h.router().Send(context.Background(), "u1", notification.TypeCampaignUpdate, notification.Payload{"campaignTitle": "Shelter"})
	require.NoError(t, err)
	assert.True(t, out.DigestQueued)
	assert.False(t, out.EmailSent)

	assert.Equal(t, []notification.DigestKey{{UserID: "u1", Type: notification.TypeCampaignUpdate}}, h.pendingDigests(t))
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	queued, err := h.store.Digests.Drain(context.Background(), "u1", notification.TypeCampaignUpdate)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "Shelter", queued[0].Payload["campaignTitle"])
	assert.Equal(t, noon, queued[0].EnqueuedAt)
}

func TestRouter_UrgentBypassesDigest(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) {
		p.DigestFrequency = notification.DigestWeekly
		p.Channels.Set(notification.ChannelPush, notification.TypeGoalReached, false)
	})
	h.email.On("Send", mock.Anything, "u1", mock.MatchedBy(func(e notification.EmailContent) bool {
		return e.TemplateName == "goal_reached"
	})).Return(nil).Once()

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.True(t, out.EmailSent)
	assert.False(t, out.DigestQueued)

	h.email.AssertExpectations(t)
	assert.Empty(t, h.pendingDigests(t))
}

func TestRouter_NeverFrequencyStillQueuesNonUrgentEmail(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) {
		p.DigestFrequency = notification.DigestNever
		p.Channels.Set(notification.ChannelPush, notification.TypeCampaignUpdate, false)
	})

	out, err := h.router().Send(context.Background(), "u1", notification.TypeCampaignUpdate, notification.Payload{"campaignTitle": "Shelter"})
	require.NoError(t, err)
	assert.False(t, out.EmailSent)
	assert.True(t, out.DigestQueued)
	assert.Equal(t, []notification.DigestKey{{UserID: "u1", Type: notification.TypeCampaignUpdate}}, h.pendingDigests(t))
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_ExpiredPushResultRemovesSubscription(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) { p.Channels.Set(notification.ChannelEmail, notification.TypeDonationReceived, false) })
	gone := h.subscribe(t, "https://push.example.com/gone")
	alive := h.subscribe(t, "https://push.example.com/alive")

	h.push.On("SendToEndpoint", mock.Anything, mock.MatchedBy(func(s notification.Subscription) bool { return s.ID == gone.ID }), mock.Anything).
		Return(notification.PushResult{Status: notification.PushStatusExpired, StatusCode: 410})
	h.push.On("SendToEndpoint", mock.Anything, mock.MatchedBy(func(s notification.Subscription) bool { return s.ID == alive.ID }), mock.Anything).
		Return(notification.PushResult{Status: notification.PushStatusOK, StatusCode: 201})

	out, err := h.router().Send(context.Background(), "u1", notification.TypeDonationReceived, notification.Payload{"amount": 10})
	require.NoError(t, err)
	assert.Equal(t, 1, out.PushDelivered)
	assert.Equal(t, 1, out.PushExpired)

	subs, err := h.store.Subscriptions.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, alive.ID, subs[0].ID)

	expired := h.events.ofType(shared.EventSubscriptionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, gone.ID, expired[0].AggregateID())
}

func TestRouter_PastExpiresAtIsRemovedWithoutDelivery(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) { p.Channels.Set(notification.ChannelEmail, notification.TypeGoalReached, false) })

	past := noon.Add(-time.Hour)
	_, err := h.store.Subscriptions.Register(context.Background(), notification.Subscription{
		UserID: "u1", Endpoint: "https://push.example.com/old", ExpiresAt: &past,
	})
	require.NoError(t, err)

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.PushExpired)
	assert.Equal(t, 0, h.store.Subscriptions.Len())
	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_PushFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) { p.Channels.Set(notification.ChannelEmail, notification.TypeGoalReached, false) })
	bad := h.subscribe(t, "https://push.example.com/bad")
	h.subscribe(t, "https://push.example.com/good")

	h.push.On("SendToEndpoint", mock.Anything, mock.MatchedBy(func(s notification.Subscription) bool { return s.ID == bad.ID }), mock.Anything).
		Return(notification.PushResult{Status: notification.PushStatusError, StatusCode: 500, Err: errors.New("upstream")})
	h.push.On("SendToEndpoint", mock.Anything, mock.Anything, mock.Anything).
		Return(notification.PushResult{Status: notification.PushStatusOK, StatusCode: 201})

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.PushDelivered)
	assert.Equal(t, 1, out.PushFailed)
	assert.Equal(t, 2, h.store.Subscriptions.Len(), "errors never remove subscriptions")
}

func TestRouter_QuietHoursSuppressPushOnly(t *testing.T) {
	h := newHarness(t)
	h.cfg.Now = func() time.Time { return time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC) }
	h.savePref(t, func(p *notification.Preference) { p.QuietHoursEnabled = true })
	h.subscribe(t, "https://push.example.com/1")
	h.email.On("Send", mock.Anything, "u1", mock.Anything).Return(nil).Once()

	out, err := h.router().Send(context.Background(), "u1", notification.TypeCampaignEnding, notification.Payload{"hoursLeft": 3})
	require.NoError(t, err)
	assert.True(t, out.QuietSuppressed)
	assert.True(t, out.EmailSent)
	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
	h.email.AssertExpectations(t)
}

func TestRouter_EmailFailureDoesNotFailSend(t *testing.T) {
	h := newHarness(t)
	h.savePref(t, func(p *notification.Preference) { p.Channels.Set(notification.ChannelPush, notification.TypeGoalReached, false) })
	h.email.On("Send", mock.Anything, "u1", mock.Anything).
		Return(shared.TransportError("email", "Send", errors.New("503"))).Once()

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.True(t, out.EmailFailed)
	assert.Len(t, h.history(t), 1)
}

func TestRouter_HistoryFailureAbortsBeforeChannels(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("disk full")
	h.cfg.History = failingHistory{HistoryLedger: h.store.History, err: boom}
	h.subscribe(t, "https://push.example.com/1")

	_, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	assert.ErrorIs(t, err, boom)
	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.events.ofType(shared.EventNotificationDispatched))
}

func TestRouter_PreferenceFailureSkipsChannels(t *testing.T) {
	h := newHarness(t)
	h.cfg.Preferences = failingPrefs{err: errors.New("connection refused")}
	h.subscribe(t, "https://push.example.com/1")

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.True(t, out.PreferencesUnavailable)
	assert.Len(t, h.history(t), 1)
	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_ValidationErrors(t *testing.T) {
	h := newHarness(t)
	r := h.router()

	_, err := r.Send(context.Background(), "u1", notification.Type("newsletter"), nil)
	assert.True(t, shared.IsValidation(err))

	_, err = r.Send(context.Background(), "", notification.TypeGoalReached, nil)
	assert.True(t, shared.IsValidation(err))

	_, err = r.Send(context.Background(), "u1", notification.TypeDonationReceived, notification.Payload{"amount": "many"})
	assert.ErrorIs(t, err, shared.ErrInvalidPayload)

	assert.Empty(t, h.history(t))
}

func TestRouter_GateDisablesChannels(t *testing.T) {
	h := newHarness(t)
	h.cfg.Gate = gate{push: false, email: false}
	h.subscribe(t, "https://push.example.com/1")

	out, err := h.router().Send(context.Background(), "u1", notification.TypeGoalReached, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out.HistoryID)
	h.push.AssertNotCalled(t, "SendToEndpoint", mock.Anything, mock.Anything, mock.Anything)
	h.email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
