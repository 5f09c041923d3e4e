package notification

import (
	"net/url"
	"strings"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// Keys are the client-side encryption keys of a Web Push subscription,
// base64url encoded as the browser reports them.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one registered push endpoint. (UserID, Endpoint) is unique.
type Subscription struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Endpoint  string     `json:"endpoint"`
	Keys      Keys       `json:"keys"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// NewSubscription validates registration input. The registry assigns the ID
// and timestamps.
func NewSubscription(userID, endpoint string, keys Keys, expiresAt *time.Time) (Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return Subscription{}, shared.ErrEmptyUserID
	}

	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Subscription{}, shared.ErrInvalidEndpoint
	}

	keys.P256dh = strings.TrimSpace(keys.P256dh)
	keys.Auth = strings.TrimSpace(keys.Auth)
	if keys.P256dh == "" || keys.Auth == "" {
		return Subscription{}, shared.ErrMissingKeys
	}

	return Subscription{
		UserID:    userID,
		Endpoint:  endpoint,
		Keys:      keys,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpired reports whether the subscription's own expiry has passed.
func (s Subscription) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
