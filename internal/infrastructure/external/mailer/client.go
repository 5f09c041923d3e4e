// Package mailer hands emails to the composition service, which renders the
// template and delivers the message.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the composition service client.
type ClientConfig struct {
	// ServiceURL is the full URL of the send endpoint.
	ServiceURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Timeout time.Duration

	// Breaker opens after BreakerThreshold consecutive failures and retries
	// again after BreakerTimeout.
	BreakerThreshold int
	BreakerTimeout   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(serviceURL string) ClientConfig {
	return ClientConfig{
		ServiceURL:       serviceURL,
		Timeout:          10 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

var _ notification.EmailTransport = (*Client)(nil)

// Client implements notification.EmailTransport. There are no retries; the
// breaker fails fast while the service is down.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new composition service client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger
	breaker := circuitbreaker.EmailServiceBreaker(config.BreakerThreshold, config.BreakerTimeout,
		func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		})

	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// sendRequest is the composition service contract.
type sendRequest struct {
	RecipientUserID string         `json:"recipientUserId"`
	Subject         string         `json:"subject"`
	Template        string         `json:"template"`
	Data            map[string]any `json:"data"`
}

// Send posts one email. Every failure is a TransportError; one rejected by an
// open breaker also matches shared.ErrEmailUnavailable.
func (c *Client) Send(ctx context.Context, userID string, email notification.EmailContent) error {
	data := email.TemplateData
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(sendRequest{
		RecipientUserID: userID,
		Subject:         email.Subject,
		Template:        email.TemplateName,
		Data:            data,
	})
	if err != nil {
		return shared.TransportError("email", "Send", err)
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, body)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.TransportError("email", "Send", errors.Join(shared.ErrEmailUnavailable, err))
	default:
		return shared.TransportError("email", "Send", err)
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServiceURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", shared.ErrEmailFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}
