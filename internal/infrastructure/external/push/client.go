// Package push delivers Web Push messages to browser endpoints using VAPID
// authentication and aes128gcm payload encryption.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the push client.
type ClientConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	// Subscriber is the contact (mailto: or https:) sent to push services.
	Subscriber string

	// TTL is how long the push service keeps an undelivered message.
	TTL time.Duration

	// Timeout bounds one endpoint request.
	Timeout time.Duration

	// RateLimit is the outgoing request budget per second; 0 disables it.
	RateLimit float64
	RateBurst int

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		TTL:       24 * time.Hour,
		Timeout:   10 * time.Second,
		RateLimit: 50,
		RateBurst: 100,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.PushTransport = (*Client)(nil)

// Client implements notification.PushTransport. Every call is one attempt.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a new push client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     config.Logger,
	}
}

// message is the JSON document the service worker receives.
type message struct {
	Type notification.Type `json:"type"`
	notification.PushContent
}

// SendToEndpoint encrypts and posts one message to the subscription's endpoint.
//
// Status mapping: 2xx is ok, 404 and 410 mean the endpoint is gone, anything
// else (including network failures) is an error.
func (c *Client) SendToEndpoint(ctx context.Context, sub notification.Subscription, msg notification.PushMessage) notification.PushResult {
	result := notification.PushResult{SubscriptionID: sub.ID}

	body, err := json.Marshal(message{Type: msg.Type, PushContent: msg.Content})
	if err != nil {
		result.Status = notification.PushStatusError
		result.Err = shared.TransportError("push", "SendToEndpoint", err)
		return result
	}

	if err := c.limiter.Wait(ctx); err != nil {
		result.Status = notification.PushStatusError
		result.Err = shared.TransportError("push", "SendToEndpoint", fmt.Errorf("rate limiter: %w", err))
		return result
	}

	urgency := webpush.UrgencyNormal
	if msg.Urgent {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.config.Subscriber,
		VAPIDPublicKey:  c.config.VAPIDPublicKey,
		VAPIDPrivateKey: c.config.VAPIDPrivateKey,
		TTL:             int(c.config.TTL.Seconds()),
		Urgency:         urgency,
		Topic:           topic(msg),
	})
	if err != nil {
		result.Status = notification.PushStatusError
		result.Err = shared.TransportError("push", "SendToEndpoint", err)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.StatusCode = resp.StatusCode
	result.Status = classify(resp.StatusCode)

	switch result.Status {
	case notification.PushStatusError:
		result.Err = shared.TransportError("push", "SendToEndpoint",
			fmt.Errorf("%w: status %d", shared.ErrPushFailed, resp.StatusCode))
	case notification.PushStatusExpired:
		c.logger.Debug("push endpoint gone",
			"subscription_id", sub.ID,
			"status", resp.StatusCode,
		)
	}

	return result
}

func classify(code int) notification.PushStatus {
	switch {
	case code >= 200 && code < 300:
		return notification.PushStatusOK
	case code == http.StatusNotFound, code == http.StatusGone:
		return notification.PushStatusExpired
	default:
		return notification.PushStatusError
	}
}

// topic collapses undelivered messages on the push service. Donation pushes
// are each distinct and get no topic. Other types collapse per campaign when
// the payload names one, per tag otherwise. Topics are limited to 32
// URL-safe characters, so campaign keys are hashed.
func topic(msg notification.PushMessage) string {
	if msg.Type == notification.TypeDonationReceived {
		return ""
	}
	if id := msg.Content.Data["campaignId"]; id != "" {
		sum := sha256.Sum256([]byte(string(msg.Type) + "/" + id))
		return base64.RawURLEncoding.EncodeToString(sum[:24])
	}
	t := msg.Content.Tag
	if len(t) > 32 {
		return ""
	}
	for _, r := range t {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return ""
		}
	}
	return t
}
