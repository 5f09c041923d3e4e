package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIGEST FREQUENCY
// ══════════════════════════════════════════════════════════════════════════════

// DigestFrequency controls batching of non-urgent email.
type DigestFrequency string

const (
	DigestInstant DigestFrequency = "instant"
	DigestDaily   DigestFrequency = "daily"
	DigestWeekly  DigestFrequency = "weekly"
	DigestNever   DigestFrequency = "never"
)

// IsValid reports whether the frequency is known.
func (f DigestFrequency) IsValid() bool {
	switch f {
	case DigestInstant, DigestDaily, DigestWeekly, DigestNever:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL MATRIX
// ══════════════════════════════════════════════════════════════════════════════

// ChannelMatrix is the channel × type opt-in grid. Indexing goes through
// Channel and Type so an unknown key can never reach the array.
type ChannelMatrix [channelCount][typeCount]bool

// FullMatrix returns a matrix with every cell enabled.
func FullMatrix() ChannelMatrix {
	var m ChannelMatrix
	for c := range m {
		for t := range m[c] {
			m[c][t] = true
		}
	}
	return m
}

// Get reports whether the channel is enabled for the type. Unknown keys read as false.
func (m ChannelMatrix) Get(c Channel, t Type) bool {
	ci, okC := c.index()
	ti, okT := t.index()
	if !okC || !okT {
		return false
	}
	return m[ci][ti]
}

// Set toggles a cell.
func (m *ChannelMatrix) Set(c Channel, t Type, enabled bool) error {
	ci, okC := c.index()
	if !okC {
		return shared.ErrUnknownChannel
	}
	ti, okT := t.index()
	if !okT {
		return shared.ErrUnknownType
	}
	m[ci][ti] = enabled
	return nil
}

// Row returns the per-type flags for one channel as a map.
func (m ChannelMatrix) Row(c Channel) map[Type]bool {
	out := make(map[Type]bool, typeCount)
	for _, t := range AllTypes {
		out[t] = m.Get(c, t)
	}
	return out
}

// channelMatrixJSON is the document shape {"push":{type:bool},"email":{...}}.
type channelMatrixJSON struct {
	Push  map[Type]bool `json:"push"`
	Email map[Type]bool `json:"email"`
}

// MarshalJSON implements json.Marshaler.
func (m ChannelMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(channelMatrixJSON{Push: m.Row(ChannelPush), Email: m.Row(ChannelEmail)})
}

// UnmarshalJSON implements json.Unmarshaler. Stored documents may predate a
// type being added, so absent types default to enabled and unknown types are
// ignored.
func (m *ChannelMatrix) UnmarshalJSON(data []byte) error {
	var doc channelMatrixJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*m = FullMatrix()
	for c, row := range map[Channel]map[Type]bool{ChannelPush: doc.Push, ChannelEmail: doc.Email} {
		for t, enabled := range row {
			if t.IsValid() {
				_ = m.Set(c, t, enabled)
			}
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE
// ══════════════════════════════════════════════════════════════════════════════

// Default quiet hours window.
const (
	DefaultQuietHoursStart = "22:00"
	DefaultQuietHoursEnd   = "08:00"
	DefaultTimezone        = "UTC"
)

// Preference holds one user's delivery settings.
type Preference struct {
	UserID            string
	Channels          ChannelMatrix
	DigestFrequency   DigestFrequency
	QuietHoursEnabled bool
	QuietHoursStart   string
	QuietHoursEnd     string
	Timezone          string
	UpdatedAt         time.Time
}

// DefaultPreference is what an unknown user resolves to. It is never
// persisted implicitly.
func DefaultPreference(userID string) Preference {
	return Preference{
		UserID:            userID,
		Channels:          FullMatrix(),
		DigestFrequency:   DigestInstant,
		QuietHoursEnabled: false,
		QuietHoursStart:   DefaultQuietHoursStart,
		QuietHoursEnd:     DefaultQuietHoursEnd,
		Timezone:          DefaultTimezone,
	}
}

// Enabled reports whether the channel is opted in for the type.
func (p Preference) Enabled(c Channel, t Type) bool {
	return p.Channels.Get(c, t)
}

// AnyChannelEnabled reports whether at least one channel is on for the type.
func (p Preference) AnyChannelEnabled(t Type) bool {
	for _, c := range AllChannels {
		if p.Channels.Get(c, t) {
			return true
		}
	}
	return false
}

// Validate checks the scalar fields.
func (p Preference) Validate() error {
	var errs []error
	if !p.DigestFrequency.IsValid() {
		errs = append(errs, shared.WrapError("preference", "Validate", shared.ErrValidation,
			fmt.Sprintf("digestFrequency %q is not one of instant, daily, weekly, never", p.DigestFrequency),
			shared.ErrInvalidFrequency))
	}
	if _, err := timeutil.ParseClock(p.QuietHoursStart); err != nil {
		errs = append(errs, shared.WrapError("preference", "Validate", shared.ErrValidation,
			"quietHoursStart: "+err.Error(), shared.ErrInvalidQuietHours))
	}
	if _, err := timeutil.ParseClock(p.QuietHoursEnd); err != nil {
		errs = append(errs, shared.WrapError("preference", "Validate", shared.ErrValidation,
			"quietHoursEnd: "+err.Error(), shared.ErrInvalidQuietHours))
	}
	if _, err := timeutil.LoadLocation(p.Timezone); err != nil {
		errs = append(errs, shared.WrapError("preference", "Validate", shared.ErrValidation,
			fmt.Sprintf("timezone %q is not a known IANA zone", p.Timezone), shared.ErrInvalidTimezone))
	}
	return errors.Join(errs...)
}

// preferenceJSON is the API shape of a preference.
type preferenceJSON struct {
	UserID            string          `json:"userId,omitempty"`
	Push              map[Type]bool   `json:"push"`
	Email             map[Type]bool   `json:"email"`
	DigestFrequency   DigestFrequency `json:"digestFrequency"`
	QuietHoursEnabled bool            `json:"quietHoursEnabled"`
	QuietHoursStart   string          `json:"quietHoursStart"`
	QuietHoursEnd     string          `json:"quietHoursEnd"`
	Timezone          string          `json:"timezone"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Preference) MarshalJSON() ([]byte, error) {
	doc := preferenceJSON{
		UserID:            p.UserID,
		Push:              p.Channels.Row(ChannelPush),
		Email:             p.Channels.Row(ChannelEmail),
		DigestFrequency:   p.DigestFrequency,
		QuietHoursEnabled: p.QuietHoursEnabled,
		QuietHoursStart:   p.QuietHoursStart,
		QuietHoursEnd:     p.QuietHoursEnd,
		Timezone:          p.Timezone,
	}
	if !p.UpdatedAt.IsZero() {
		ts := p.UpdatedAt
		doc.UpdatedAt = &ts
	}
	return json.Marshal(doc)
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE PATCH
// ══════════════════════════════════════════════════════════════════════════════

// PreferencePatch is a partial update. nil means "don't change".
type PreferencePatch struct {
	Push              map[string]bool `json:"push,omitempty"`
	Email             map[string]bool `json:"email,omitempty"`
	DigestFrequency   *string         `json:"digestFrequency,omitempty"`
	QuietHoursEnabled *bool           `json:"quietHoursEnabled,omitempty"`
	QuietHoursStart   *string         `json:"quietHoursStart,omitempty"`
	QuietHoursEnd     *string         `json:"quietHoursEnd,omitempty"`
	Timezone          *string         `json:"timezone,omitempty"`
}

// DecodePreferencePatch strictly decodes a JSON patch. Unknown top-level keys,
// unknown notification types and wrongly typed values are validation errors.
func DecodePreferencePatch(r io.Reader) (PreferencePatch, error) {
	var patch PreferencePatch

	raw, err := io.ReadAll(r)
	if err != nil {
		return patch, shared.WrapError("preference", "Decode", shared.ErrValidation, "unreadable body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return patch, shared.ValidationError("preference", "Decode", "empty patch")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return patch, shared.WrapError("preference", "Decode", shared.ErrValidation, err.Error(), shared.ErrUnknownPreferenceKey)
		}
		return patch, shared.WrapError("preference", "Decode", shared.ErrValidation, "malformed patch", err)
	}
	if dec.More() {
		return patch, shared.ValidationError("preference", "Decode", "trailing data after patch")
	}

	if err := patch.validateKeys(); err != nil {
		return patch, err
	}
	return patch, nil
}

func (p PreferencePatch) validateKeys() error {
	for channel, row := range map[string]map[string]bool{"push": p.Push, "email": p.Email} {
		for key := range row {
			if !Type(key).IsValid() {
				return shared.WrapError("preference", "Decode", shared.ErrValidation,
					fmt.Sprintf("unknown notification type %q under %s", key, channel), shared.ErrUnknownPreferenceKey)
			}
		}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p PreferencePatch) IsEmpty() bool {
	return len(p.Push) == 0 && len(p.Email) == 0 && p.DigestFrequency == nil &&
		p.QuietHoursEnabled == nil && p.QuietHoursStart == nil && p.QuietHoursEnd == nil &&
		p.Timezone == nil
}

// Apply merges the patch into base, validates the result and returns it with
// the list of changed field paths (sorted).
func (p PreferencePatch) Apply(base Preference) (Preference, []string, error) {
	if err := p.validateKeys(); err != nil {
		return base, nil, err
	}

	next := base
	changed := make([]string, 0)

	for _, c := range AllChannels {
		row := p.Push
		if c == ChannelEmail {
			row = p.Email
		}
		for key, enabled := range row {
			t := Type(key)
			if next.Channels.Get(c, t) != enabled {
				_ = next.Channels.Set(c, t, enabled)
				changed = append(changed, string(c)+"."+key)
			}
		}
	}

	if p.DigestFrequency != nil && DigestFrequency(*p.DigestFrequency) != next.DigestFrequency {
		next.DigestFrequency = DigestFrequency(*p.DigestFrequency)
		changed = append(changed, "digestFrequency")
	}
	if p.QuietHoursEnabled != nil && *p.QuietHoursEnabled != next.QuietHoursEnabled {
		next.QuietHoursEnabled = *p.QuietHoursEnabled
		changed = append(changed, "quietHoursEnabled")
	}
	if p.QuietHoursStart != nil && *p.QuietHoursStart != next.QuietHoursStart {
		next.QuietHoursStart = *p.QuietHoursStart
		changed = append(changed, "quietHoursStart")
	}
	if p.QuietHoursEnd != nil && *p.QuietHoursEnd != next.QuietHoursEnd {
		next.QuietHoursEnd = *p.QuietHoursEnd
		changed = append(changed, "quietHoursEnd")
	}
	if p.Timezone != nil && *p.Timezone != next.Timezone {
		next.Timezone = *p.Timezone
		changed = append(changed, "timezone")
	}

	if err := next.Validate(); err != nil {
		return base, nil, err
	}

	sort.Strings(changed)
	return next, changed, nil
}
