package notification

import (
	"context"
	"fmt"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// Channel is a delivery medium. The set is closed.
type Channel string

const (
	// ChannelPush - Web Push to registered browser endpoints.
	ChannelPush Channel = "push"

	// ChannelEmail - email via the composition service, instant or digested.
	ChannelEmail Channel = "email"
)

const channelCount = 2

// AllChannels lists every channel in matrix index order.
var AllChannels = [channelCount]Channel{ChannelPush, ChannelEmail}

func (c Channel) index() (int, bool) {
	for i, known := range AllChannels {
		if known == c {
			return i, true
		}
	}
	return 0, false
}

// IsValid reports whether the channel belongs to the closed enum.
func (c Channel) IsValid() bool {
	_, ok := c.index()
	return ok
}

// String returns the wire name of the channel.
func (c Channel) String() string {
	return string(c)
}

// ParseChannel validates a wire name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", shared.WrapError("notification", "ParseChannel", shared.ErrValidation,
			fmt.Sprintf("unknown channel %q", s), shared.ErrUnknownChannel)
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PUSH TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// PushStatus classifies a single endpoint delivery.
type PushStatus string

const (
	// PushStatusOK - the provider accepted the message.
	PushStatusOK PushStatus = "ok"

	// PushStatusExpired - the provider reported the endpoint gone (404/410).
	PushStatusExpired PushStatus = "expired"

	// PushStatusError - any other failure.
	PushStatusError PushStatus = "error"
)

// PushMessage is what the push transport delivers to one endpoint.
type PushMessage struct {
	Type    Type
	Content PushContent
	Urgent  bool
}

// PushResult is the outcome for one subscription.
type PushResult struct {
	SubscriptionID string
	Status         PushStatus
	StatusCode     int
	Err            error
}

// PushTransport delivers to a single Web Push endpoint. It performs one
// attempt and never retries.
type PushTransport interface {
	SendToEndpoint(ctx context.Context, sub Subscription, msg PushMessage) PushResult
}

// ══════════════════════════════════════════════════════════════════════════════
// EMAIL TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// EmailTransport hands a message to the email composition service.
// Failures are TransportErrors; the caller logs them and moves on.
type EmailTransport interface {
	Send(ctx context.Context, userID string, email EmailContent) error
}
