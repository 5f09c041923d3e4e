package notification

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

func TestFormat_DonationReceived(t *testing.T) {
	f, err := Format(TypeDonationReceived, Payload{
		"donorName":     "Ada",
		"amount":        25,
		"currency":      "eur",
		"campaignTitle": "Clean Water",
		"campaignId":    "c-42",
	})
	require.NoError(t, err)

	assert.True(t, f.Urgent)
	assert.Equal(t, TypeDonationReceived, f.Type)
	assert.Equal(t, "New donation received", f.Push.Title)
	assert.Equal(t, "Ada donated 25.00 EUR to Clean Water", f.Push.Body)
	assert.Equal(t, "/campaigns/c-42", f.Push.Data["url"])
	assert.Equal(t, "You received a donation of 25.00 EUR", f.Email.Subject)
	assert.Equal(t, "donation_received", f.Email.TemplateName)
	assert.Equal(t, "Ada", f.Email.TemplateData["donorName"])
}

func TestFormat_MissingKeysFallBack(t *testing.T) {
	f, err := Format(TypeDonationReceived, nil)
	require.NoError(t, err)
	assert.Equal(t, "Someone made a donation to your campaign", f.Push.Body)
	assert.Equal(t, "/", f.Push.Data["url"])

	f, err = Format(TypeTrustScoreChanged, Payload{})
	require.NoError(t, err)
	assert.Equal(t, "Your trust score has changed", f.Push.Body)
	assert.False(t, f.Urgent)
}

func TestFormat_MalformedNumber(t *testing.T) {
	_, err := Format(TypeDonationReceived, Payload{"amount": "lots"})
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrInvalidPayload)

	_, err = Format(TypeCampaignEnding, Payload{"hoursLeft": []int{1}})
	assert.True(t, shared.IsValidation(err))
}

func TestFormat_UnknownType(t *testing.T) {
	_, err := Format(Type("newsletter"), Payload{})
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrUnknownType)
}

func TestFormat_Urgency(t *testing.T) {
	urgent := map[Type]bool{
		TypeDonationReceived:  true,
		TypeCampaignUpdate:    false,
		TypeGoalReached:       true,
		TypeCampaignEnding:    true,
		TypeTrustScoreChanged: false,
	}
	for typ, want := range urgent {
		f, err := Format(typ, Payload{})
		require.NoError(t, err)
		assert.Equal(t, want, f.Urgent, typ)
		assert.NotEmpty(t, f.Push.Title, typ)
		assert.NotEmpty(t, f.Email.Subject, typ)
	}
}

func TestFormat_CampaignEndingWording(t *testing.T) {
	cases := map[float64]string{
		0.5: "Library ends within the hour",
		5:   "Library ends in 5 hours",
		72:  "Library ends in 3 days",
	}
	for hours, want := range cases {
		f, err := Format(TypeCampaignEnding, Payload{"campaignTitle": "Library", "hoursLeft": hours})
		require.NoError(t, err)
		assert.Equal(t, want, f.Push.Body)
	}
}

func TestFormat_Deterministic(t *testing.T) {
	payload := Payload{"campaignTitle": "Shelter", "updateTitle": "Roof done", "campaignId": "c1"}

	a, err := Format(TypeCampaignUpdate, payload)
	require.NoError(t, err)
	b, err := Format(TypeCampaignUpdate, payload)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFormat_JSONNumberPayload(t *testing.T) {
	var payload Payload
	dec := json.NewDecoder(strings.NewReader(`{"oldScore": 70, "newScore": 82.5}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&payload))

	f, err := Format(TypeTrustScoreChanged, payload)
	require.NoError(t, err)
	assert.Equal(t, "Your trust score changed from 70 to 82.5", f.Push.Body)
}

func TestNewHistoryEntry_TitleFallsBackToSubject(t *testing.T) {
	f := Formatted{Type: TypeGoalReached, Email: EmailContent{Subject: "Subject"}}
	e := NewHistoryEntry("u1", f, Payload{"k": "v"})

	assert.Equal(t, "Subject", e.Title)
	assert.Equal(t, TypeGoalReached, e.Type)
	assert.Equal(t, "v", e.Payload["k"])
}
