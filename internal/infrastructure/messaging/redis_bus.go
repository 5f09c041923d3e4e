package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// DefaultEventChannel is the pub/sub channel shared by all instances.
const DefaultEventChannel = "notification-engine:events"

// RedisBusConfig wires a RedisBus.
type RedisBusConfig struct {
	Client *goredis.Client

	// Defaults to DefaultEventChannel.
	Channel string

	// Identifies this process so its own broadcasts are not handled twice.
	// Defaults to a random id.
	InstanceID string

	Local  LocalBusConfig
	Logger *slog.Logger
}

// RedisBus publishes every event locally and on a Redis channel, and feeds
// events broadcast by other instances to the local handlers. Delivery across
// instances is best effort: a Redis failure never fails Publish.
type RedisBus struct {
	client  *goredis.Client
	pubsub  *goredis.PubSub
	channel string
	id      string
	local   *LocalBus
	logger  *slog.Logger

	cancel context.CancelFunc
	loop   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// wireEvent is the JSON form of an event on the channel.
type wireEvent struct {
	Instance    string           `json:"instance"`
	Type        shared.EventType `json:"type"`
	AggregateID string           `json:"aggregateId"`
	OccurredAt  time.Time        `json:"occurredAt"`
	Payload     map[string]any   `json:"payload"`
}

// remoteEvent is an event received from another instance.
type remoteEvent struct{ w wireEvent }

func (e remoteEvent) EventType() shared.EventType { return e.w.Type }
func (e remoteEvent) AggregateID() string         { return e.w.AggregateID }
func (e remoteEvent) OccurredAt() time.Time       { return e.w.OccurredAt }
func (e remoteEvent) Payload() map[string]any     { return e.w.Payload }

// NewRedisBus subscribes to the channel and starts relaying remote events.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis bus: client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultEventChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Local.Logger == nil {
		cfg.Local.Logger = cfg.Logger
	}

	ps := cfg.Client.Subscribe(ctx, cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis bus: subscribe %s: %w", cfg.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		client:  cfg.Client,
		pubsub:  ps,
		channel: cfg.Channel,
		id:      cfg.InstanceID,
		local:   NewLocalBus(cfg.Local),
		logger:  cfg.Logger.With("component", "redis_event_bus", "instance", cfg.InstanceID),
		cancel:  cancel,
	}

	b.loop.Add(1)
	go b.relay(loopCtx, ps.Channel())

	return b, nil
}

// Subscribe registers handler for one event type.
func (b *RedisBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *RedisBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish handles event locally and broadcasts it to other instances.
func (b *RedisBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event bus: nil event")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(wireEvent{
		Instance:    b.id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("redis bus: encode %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("broadcast failed, handled locally only", "event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisBus) relay(ctx context.Context, in <-chan *goredis.Message) {
	defer b.loop.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var w wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				b.logger.Warn("undecodable event on channel", "error", err)
				continue
			}
			if w.Instance == b.id {
				continue
			}
			if err := b.local.Publish(remoteEvent{w: w}); err != nil && !errors.Is(err, ErrEventBusClosed) {
				b.logger.Error("remote event not handled", "event_type", w.Type, "error", err)
			}
		}
	}
}

// Close unsubscribes, stops the relay and closes the local bus. The Redis
// client itself stays open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.loop.Wait()
	return errors.Join(err, b.local.Close())
}

// Counters returns the local handler statistics.
func (b *RedisBus) Counters() BusCounters {
	return b.local.Counters()
}
