package notification

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTED CONTENT
// ══════════════════════════════════════════════════════════════════════════════

// PushAction is a button rendered by the browser notification.
type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PushContent is the Web Push notification body.
type PushContent struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Icon    string            `json:"icon,omitempty"`
	Tag     string            `json:"tag,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
	Actions []PushAction      `json:"actions,omitempty"`
}

// EmailContent is what the composition service renders.
type EmailContent struct {
	Subject      string         `json:"subject"`
	TemplateName string         `json:"template"`
	TemplateData map[string]any `json:"data"`
}

// Formatted is the channel-specific rendering of one notification.
type Formatted struct {
	Type   Type
	Push   PushContent
	Email  EmailContent
	Urgent bool
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTER
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultCurrency = "USD"
	iconPath        = "/icons/notification-192.png"
)

// Format renders a notification. It is pure: equal inputs give equal output.
// Missing payload keys fall back to neutral wording; present keys of the wrong
// shape are validation errors.
func Format(t Type, payload Payload) (Formatted, error) {
	if !t.IsValid() {
		return Formatted{}, shared.WrapError("notification", "Format", shared.ErrValidation,
			fmt.Sprintf("unknown notification type %q", t), shared.ErrUnknownType)
	}
	if payload == nil {
		payload = Payload{}
	}

	var (
		f   Formatted
		err error
	)
	switch t {
	case TypeDonationReceived:
		f, err = formatDonationReceived(payload)
	case TypeCampaignUpdate:
		f, err = formatCampaignUpdate(payload)
	case TypeGoalReached:
		f, err = formatGoalReached(payload)
	case TypeCampaignEnding:
		f, err = formatCampaignEnding(payload)
	case TypeTrustScoreChanged:
		f, err = formatTrustScoreChanged(payload)
	}
	if err != nil {
		return Formatted{}, err
	}

	f.Type = t
	f.Urgent = t.IsUrgent()
	f.Push.Icon = iconPath
	f.Push.Tag = string(t)
	return f, nil
}

func formatDonationReceived(p Payload) (Formatted, error) {
	donor := stringOr(p, "donorName", "Someone")
	campaign := stringOr(p, "campaignTitle", "your campaign")
	amount, hasAmount, err := p.Number("amount")
	if err != nil {
		return Formatted{}, err
	}
	currency := stringOr(p, "currency", defaultCurrency)

	body := fmt.Sprintf("%s made a donation to %s", donor, campaign)
	subject := "You received a new donation"
	if hasAmount {
		money := formatMoney(amount, currency)
		body = fmt.Sprintf("%s donated %s to %s", donor, money, campaign)
		subject = fmt.Sprintf("You received a donation of %s", money)
	}

	return Formatted{
		Push: PushContent{
			Title:   "New donation received",
			Body:    body,
			Data:    campaignLink(p),
			Actions: []PushAction{{Action: "view-campaign", Title: "View campaign"}},
		},
		Email: EmailContent{
			Subject:      subject,
			TemplateName: "donation_received",
			TemplateData: templateData(p, map[string]any{"donorName": donor, "campaignTitle": campaign}),
		},
	}, nil
}

func formatCampaignUpdate(p Payload) (Formatted, error) {
	campaign := stringOr(p, "campaignTitle", "A campaign you support")
	update := stringOr(p, "updateTitle", "")

	body := fmt.Sprintf("%s posted an update", campaign)
	if update != "" {
		body = fmt.Sprintf("%s posted an update: %s", campaign, update)
	}

	return Formatted{
		Push: PushContent{
			Title:   "Campaign update",
			Body:    body,
			Data:    campaignLink(p),
			Actions: []PushAction{{Action: "read-update", Title: "Read update"}},
		},
		Email: EmailContent{
			Subject:      fmt.Sprintf("New update from %s", campaign),
			TemplateName: "campaign_update",
			TemplateData: templateData(p, map[string]any{"campaignTitle": campaign, "updateTitle": update}),
		},
	}, nil
}

func formatGoalReached(p Payload) (Formatted, error) {
	campaign := stringOr(p, "campaignTitle", "A campaign you support")
	goal, hasGoal, err := p.Number("goalAmount")
	if err != nil {
		return Formatted{}, err
	}
	currency := stringOr(p, "currency", defaultCurrency)

	body := fmt.Sprintf("%s reached its funding goal", campaign)
	if hasGoal {
		body = fmt.Sprintf("%s reached its goal of %s", campaign, formatMoney(goal, currency))
	}

	return Formatted{
		Push: PushContent{
			Title:   "Goal reached!",
			Body:    body,
			Data:    campaignLink(p),
			Actions: []PushAction{{Action: "view-campaign", Title: "View campaign"}},
		},
		Email: EmailContent{
			Subject:      fmt.Sprintf("%s reached its goal", campaign),
			TemplateName: "goal_reached",
			TemplateData: templateData(p, map[string]any{"campaignTitle": campaign}),
		},
	}, nil
}

func formatCampaignEnding(p Payload) (Formatted, error) {
	campaign := stringOr(p, "campaignTitle", "A campaign you support")
	hours, hasHours, err := p.Number("hoursLeft")
	if err != nil {
		return Formatted{}, err
	}

	body := fmt.Sprintf("%s is ending soon", campaign)
	if hasHours {
		h := int(math.Ceil(hours))
		switch {
		case h <= 1:
			body = fmt.Sprintf("%s ends within the hour", campaign)
		case h < 48:
			body = fmt.Sprintf("%s ends in %d hours", campaign, h)
		default:
			body = fmt.Sprintf("%s ends in %d days", campaign, h/24)
		}
	}

	return Formatted{
		Push: PushContent{
			Title:   "Campaign ending soon",
			Body:    body,
			Data:    campaignLink(p),
			Actions: []PushAction{{Action: "donate", Title: "Donate now"}},
		},
		Email: EmailContent{
			Subject:      fmt.Sprintf("Last chance to support %s", campaign),
			TemplateName: "campaign_ending",
			TemplateData: templateData(p, map[string]any{"campaignTitle": campaign}),
		},
	}, nil
}

func formatTrustScoreChanged(p Payload) (Formatted, error) {
	oldScore, hasOld, err := p.Number("oldScore")
	if err != nil {
		return Formatted{}, err
	}
	newScore, hasNew, err := p.Number("newScore")
	if err != nil {
		return Formatted{}, err
	}

	body := "Your trust score has changed"
	switch {
	case hasOld && hasNew:
		body = fmt.Sprintf("Your trust score changed from %s to %s", formatScore(oldScore), formatScore(newScore))
	case hasNew:
		body = fmt.Sprintf("Your trust score is now %s", formatScore(newScore))
	}

	return Formatted{
		Push: PushContent{
			Title:   "Trust score updated",
			Body:    body,
			Data:    map[string]string{"url": "/profile/trust"},
			Actions: []PushAction{{Action: "view-profile", Title: "View profile"}},
		},
		Email: EmailContent{
			Subject:      "Your trust score was updated",
			TemplateName: "trust_score_changed",
			TemplateData: templateData(p, nil),
		},
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func stringOr(p Payload, key, fallback string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return fallback
}

func campaignLink(p Payload) map[string]string {
	data := map[string]string{"url": "/"}
	if id, ok := p.String("campaignId"); ok {
		data["url"] = "/campaigns/" + id
		data["campaignId"] = id
	}
	return data
}

func templateData(p Payload, extra map[string]any) map[string]any {
	out := make(map[string]any, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func formatMoney(amount float64, currency string) string {
	return strconv.FormatFloat(amount, 'f', 2, 64) + " " + strings.ToUpper(currency)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
