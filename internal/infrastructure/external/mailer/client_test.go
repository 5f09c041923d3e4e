package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/circuitbreaker"
)

const serviceURL = "https://composer.internal/v1/send"

func newTestClient(threshold int) (*Client, *httpmock.MockTransport) {
	mt := httpmock.NewMockTransport()
	cfg := DefaultClientConfig(serviceURL)
	cfg.APIKey = "k3y"
	cfg.BreakerThreshold = threshold
	cfg.BreakerTimeout = time.Hour
	cfg.HTTPClient = &http.Client{Transport: mt}
	return NewClient(cfg), mt
}

var welcome = notification.EmailContent{
	Subject:      "Goal reached: Clean Water",
	TemplateName: "goal_reached",
	TemplateData: map[string]any{"campaignTitle": "Clean Water"},
}

func TestSend_PostsContract(t *testing.T) {
	c, mt := newTestClient(3)

	var (
		body map[string]any
		auth string
	)
	mt.RegisterResponder(http.MethodPost, serviceURL, func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		return httpmock.NewStringResponse(http.StatusAccepted, `{"queued":true}`), nil
	})

	require.NoError(t, c.Send(context.Background(), "u1", welcome))

	assert.Equal(t, "Bearer k3y", auth)
	assert.Equal(t, "u1", body["recipientUserId"])
	assert.Equal(t, "Goal reached: Clean Water", body["subject"])
	assert.Equal(t, "goal_reached", body["template"])
	assert.Equal(t, map[string]any{"campaignTitle": "Clean Water"}, body["data"])
}

func TestSend_NilDataIsEmptyObject(t *testing.T) {
	c, mt := newTestClient(3)

	var raw []byte
	mt.RegisterResponder(http.MethodPost, serviceURL, func(req *http.Request) (*http.Response, error) {
		raw, _ = io.ReadAll(req.Body)
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	require.NoError(t, c.Send(context.Background(), "u1", notification.EmailContent{Subject: "s", TemplateName: "t"}))
	assert.Contains(t, string(raw), `"data":{}`)
}

func TestSend_NonSuccessIsTransportError(t *testing.T) {
	c, mt := newTestClient(3)
	mt.RegisterResponder(http.MethodPost, serviceURL, httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	err := c.Send(context.Background(), "u1", welcome)
	require.Error(t, err)
	assert.True(t, shared.IsExternalService(err))
	assert.ErrorIs(t, err, shared.ErrEmailFailed)
	assert.Contains(t, err.Error(), "502")
}

func TestSend_NetworkErrorIsTransportError(t *testing.T) {
	c, mt := newTestClient(3)
	mt.RegisterResponder(http.MethodPost, serviceURL, httpmock.NewErrorResponder(assert.AnError))

	err := c.Send(context.Background(), "u1", welcome)
	assert.True(t, shared.IsExternalService(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSend_BreakerOpensAndFailsFast(t *testing.T) {
	c, mt := newTestClient(2)
	mt.RegisterResponder(http.MethodPost, serviceURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	for i := 0; i < 2; i++ {
		assert.Error(t, c.Send(context.Background(), "u1", welcome))
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	err := c.Send(context.Background(), "u1", welcome)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, mt.GetTotalCallCount())
}
