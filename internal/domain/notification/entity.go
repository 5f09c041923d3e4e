// Package notification contains the domain model of the notification engine:
// notification types, per-user delivery preferences, push subscriptions,
// the history ledger and digest queue contracts.
package notification

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies what happened. The set is closed.
type Type string

const (
	// TypeDonationReceived - a campaign owned by the user received a donation.
	TypeDonationReceived Type = "donation-received"

	// TypeCampaignUpdate - a campaign the user follows posted an update.
	TypeCampaignUpdate Type = "campaign-update"

	// TypeGoalReached - a campaign reached its funding goal.
	TypeGoalReached Type = "goal-reached"

	// TypeCampaignEnding - a campaign is about to close.
	TypeCampaignEnding Type = "campaign-ending"

	// TypeTrustScoreChanged - the user's trust score moved.
	TypeTrustScoreChanged Type = "trust-score-changed"
)

// typeCount is the size of the closed type enum.
const typeCount = 5

// AllTypes lists every type in matrix index order.
var AllTypes = [typeCount]Type{
	TypeDonationReceived,
	TypeCampaignUpdate,
	TypeGoalReached,
	TypeCampaignEnding,
	TypeTrustScoreChanged,
}

// index returns the matrix position of the type.
func (t Type) index() (int, bool) {
	for i, known := range AllTypes {
		if known == t {
			return i, true
		}
	}
	return 0, false
}

// IsValid reports whether the type belongs to the closed enum.
func (t Type) IsValid() bool {
	_, ok := t.index()
	return ok
}

// IsUrgent reports whether the type bypasses digest batching.
func (t Type) IsUrgent() bool {
	switch t {
	case TypeDonationReceived, TypeGoalReached, TypeCampaignEnding:
		return true
	default:
		return false
	}
}

// String returns the wire name of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType validates a wire name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", shared.WrapError("notification", "ParseType", shared.ErrValidation,
			fmt.Sprintf("unknown notification type %q", s), shared.ErrUnknownType)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// Payload carries free-form notification data supplied by the producer.
type Payload map[string]any

// String returns the value under key as a string. Numbers are formatted;
// missing or null values return ok=false.
func (p Payload) String(key string) (string, bool) {
	v, exists := p[key]
	if !exists || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// Number returns the value under key as float64. A missing key yields
// ok=false with no error; a present value that is not numeric is an error.
func (p Payload) Number(key string) (float64, bool, error) {
	v, exists := p[key]
	if !exists || v == nil {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		return val, true, nil
	case float32:
		return float64(val), true, nil
	case int:
		return float64(val), true, nil
	case int64:
		return float64(val), true, nil
	case int32:
		return float64(val), true, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false, invalidPayload(key, v)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false, invalidPayload(key, v)
		}
		return f, true, nil
	default:
		return 0, false, invalidPayload(key, v)
	}
}

func invalidPayload(key string, v any) error {
	return shared.WrapError("notification", "Format", shared.ErrValidation,
		fmt.Sprintf("payload field %q must be numeric, got %T", key, v), shared.ErrInvalidPayload)
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryEntry is the ledger record of one dispatch. Only the read pair
// changes after creation.
type HistoryEntry struct {
	ID      string     `json:"id"`
	UserID  string     `json:"userId"`
	Type    Type       `json:"type"`
	Title   string     `json:"title"`
	Body    string     `json:"body"`
	Payload Payload    `json:"payload"`
	SentAt  time.Time  `json:"sentAt"`
	Read    bool       `json:"read"`
	ReadAt  *time.Time `json:"readAt,omitempty"`
}

// NewHistoryEntry builds the ledger record for a formatted notification.
// ID and SentAt are assigned by the ledger on append.
func NewHistoryEntry(userID string, f Formatted, payload Payload) HistoryEntry {
	title := f.Push.Title
	if title == "" {
		title = f.Email.Subject
	}
	return HistoryEntry{
		UserID:  userID,
		Type:    f.Type,
		Title:   title,
		Body:    f.Push.Body,
		Payload: payload.Clone(),
	}
}

// History filter bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	UnreadOnly bool
	Types      []Type
	// Before returns only entries sent strictly before this instant.
	Before *time.Time
	Limit  int
}

// Normalize clamps the limit into [1, MaxHistoryLimit].
func (f HistoryFilter) Normalize() HistoryFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		f.Limit = MaxHistoryLimit
	}
	return f
}

// Matches reports whether an entry passes the filter (ignoring Limit).
func (f HistoryFilter) Matches(e HistoryEntry) bool {
	if f.UnreadOnly && e.Read {
		return false
	}
	if f.Before != nil && !e.SentAt.Before(*f.Before) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// DIGEST ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// DigestEntry is a non-urgent email held for the next digest.
type DigestEntry struct {
	UserID     string    `json:"userId"`
	Type       Type      `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// DigestKey addresses one FIFO queue.
type DigestKey struct {
	UserID string `json:"userId"`
	Type   Type   `json:"type"`
}
