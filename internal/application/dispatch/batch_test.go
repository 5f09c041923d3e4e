package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/memory"
)

// flakyPush fails every tenth delivery.
type flakyPush struct{ calls atomic.Int64 }

func (p *flakyPush) SendToEndpoint(_ context.Context, sub notification.Subscription, _ notification.PushMessage) notification.PushResult {
	if p.calls.Add(1)%10 == 0 {
		return notification.PushResult{SubscriptionID: sub.ID, Status: notification.PushStatusError, StatusCode: 502, Err: errors.New("bad gateway")}
	}
	return notification.PushResult{SubscriptionID: sub.ID, Status: notification.PushStatusOK, StatusCode: 201}
}

type senderFunc func(ctx context.Context, userID string, t notification.Type, payload notification.Payload) (Outcome, error)

func (f senderFunc) Send(ctx context.Context, userID string, t notification.Type, payload notification.Payload) (Outcome, error) {
	return f(ctx, userID, t, payload)
}

func TestBatch_AllItemsRecordedDespitePushFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	prefs := notification.NewPreferenceStore(store.Preferences)

	for u := 0; u < 30; u++ {
		_, err := store.Subscriptions.Register(ctx, notification.Subscription{
			UserID:   fmt.Sprintf("user-%02d", u),
			Endpoint: fmt.Sprintf("https://push.example.com/%d", u),
			Keys:     notification.Keys{P256dh: "p", Auth: "a"},
		})
		require.NoError(t, err)
	}

	push := &flakyPush{}
	email := &mockEmail{}
	email.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events := &recordingPublisher{}

	router := NewRouter(RouterConfig{
		Preferences:   prefs,
		Subscriptions: store.Subscriptions,
		History:       store.History,
		Digests:       store.Digests,
		Push:          push,
		Email:         email,
		Events:        events,
		Now:           func() time.Time { return noon },
	})
	batch := NewBatchOrchestrator(BatchConfig{Sender: router, Preferences: prefs, Events: events})

	reqs := make([]Request, 250)
	for i := range reqs {
		reqs[i] = Request{
			UserID:  fmt.Sprintf("user-%02d", i%30),
			Type:    notification.AllTypes[i%len(notification.AllTypes)],
			Payload: notification.Payload{"campaignTitle": fmt.Sprintf("Campaign %d", i)},
		}
	}

	summary := batch.SendBatch(ctx, reqs)

	assert.Equal(t, 250, summary.Total)
	assert.Equal(t, 250, summary.Dispatched)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Dropped)
	assert.Equal(t, 3, summary.Chunks)
	assert.Len(t, store.History.All(), 250)
	assert.EqualValues(t, 250, push.calls.Load())

	failedPush := 0
	for _, e := range events.ofType(shared.EventNotificationDispatched) {
		failedPush += e.(shared.NotificationDispatchedEvent).PushFailed
	}
	assert.Equal(t, 25, failedPush)
	assert.Len(t, events.ofType(shared.EventBatchCompleted), 1)
}

func TestBatch_ChunksRunSequentially(t *testing.T) {
	const size = 10
	var started, completed atomic.Int64
	var violations atomic.Int64

	sender := senderFunc(func(_ context.Context, _ string, _ notification.Type, p notification.Payload) (Outcome, error) {
		idx := int64(p["i"].(int))
		if completed.Load() < (idx/size)*size {
			violations.Add(1)
		}
		started.Add(1)
		time.Sleep(time.Millisecond)
		completed.Add(1)
		return Outcome{}, nil
	})

	reqs := make([]Request, 35)
	for i := range reqs {
		// A single user keeps grouping from reordering the input.
		reqs[i] = Request{UserID: "u1", Type: notification.TypeCampaignUpdate, Payload: notification.Payload{"i": i}}
	}

	summary := NewBatchOrchestrator(BatchConfig{Sender: sender, ChunkSize: size}).SendBatch(context.Background(), reqs)

	assert.Equal(t, 4, summary.Chunks)
	assert.Equal(t, 35, summary.Dispatched)
	assert.EqualValues(t, 35, started.Load())
	assert.Zero(t, violations.Load(), "an item started before the previous chunk settled")
}

func TestBatch_FailuresAreCountedNotPropagated(t *testing.T) {
	sender := senderFunc(func(_ context.Context, userID string, _ notification.Type, _ notification.Payload) (Outcome, error) {
		switch userID {
		case "broken":
			return Outcome{}, errors.New("history unavailable")
		case "panics":
			panic("unexpected")
		}
		return Outcome{}, nil
	})

	summary := NewBatchOrchestrator(BatchConfig{Sender: sender}).SendBatch(context.Background(), []Request{
		{UserID: "ok", Type: notification.TypeGoalReached},
		{UserID: "broken", Type: notification.TypeGoalReached},
		{UserID: "panics", Type: notification.TypeGoalReached},
		{UserID: "ok", Type: notification.TypeCampaignUpdate},
	})

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Dispatched)
	assert.Equal(t, 2, summary.Failed)
	assert.NotEmpty(t, summary.BatchID)
}

func TestBatch_PrefilterDropsUsersWithNothingEnabled(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	prefs := notification.NewPreferenceStore(store.Preferences)

	muted := notification.DefaultPreference("muted")
	muted.Channels = notification.ChannelMatrix{}
	require.NoError(t, store.Preferences.Save(ctx, &muted))

	var sent atomic.Int64
	sender := senderFunc(func(context.Context, string, notification.Type, notification.Payload) (Outcome, error) {
		sent.Add(1)
		return Outcome{}, nil
	})

	reqs := []Request{
		{UserID: "muted", Type: notification.TypeGoalReached},
		{UserID: "muted", Type: notification.TypeCampaignUpdate},
		{UserID: "fresh", Type: notification.TypeGoalReached},
		{UserID: "muted", Type: notification.Type("bogus")},
	}

	summary := NewBatchOrchestrator(BatchConfig{Sender: sender, Preferences: prefs}).SendBatch(ctx, reqs[:3])
	assert.Equal(t, 2, summary.Dropped)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, summary.Total, summary.Dropped+summary.Dispatched+summary.Failed)

	// An unknown type keeps the group so the router can report it.
	summary = NewBatchOrchestrator(BatchConfig{Sender: sender, Preferences: prefs}).SendBatch(ctx, reqs)
	assert.Zero(t, summary.Dropped)

	// Prefilter switched off.
	off := func() bool { return false }
	summary = NewBatchOrchestrator(BatchConfig{Sender: sender, Preferences: prefs, Prefilter: off}).SendBatch(ctx, reqs[:2])
	assert.Zero(t, summary.Dropped)
	assert.Equal(t, 2, summary.Dispatched)
}

func TestGroupByUser_StableFirstSeenOrder(t *testing.T) {
	order, groups := groupByUser([]Request{
		{UserID: "b"}, {UserID: "a"}, {UserID: "b"}, {UserID: "c"},
	})
	assert.Equal(t, []string{"b", "a", "c"}, order)
	assert.Len(t, groups["b"], 2)
}
