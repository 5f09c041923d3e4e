// Package shared contains the error taxonomy and event primitives used across
// the domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError carries one; callers branch on the kind with
// errors.Is or the Is* helpers, never on message text.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")

	// A resource that existed is permanently gone, e.g. a push endpoint the
	// provider answered 404/410 for.
	ErrExpired = errors.New("expired")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError is an error with its origin and kind attached.
type DomainError struct {
	Domain  string // "preference", "subscription", "notification", ...
	Op      string
	Kind    error
	Message string // safe to show to API callers
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewDomainError creates an error of the given kind.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context to err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ValidationError builds a validation error for the given domain operation.
func ValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// TransportError wraps a delivery failure reported by an external provider.
func TransportError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrExternalService, "delivery failed", err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Sentinels
// ──────────────────────────────────────────────────────────────────────────────

var (
	ErrUnknownPreferenceKey = ValidationError("preference", "Update", "unknown preference key")
	ErrInvalidQuietHours    = ValidationError("preference", "Validate", "quiet hours must be HH:MM")
	ErrInvalidFrequency     = ValidationError("preference", "Validate", "invalid digest frequency")
	ErrInvalidTimezone      = ValidationError("preference", "Validate", "invalid timezone")

	ErrSubscriptionNotFound = NewDomainError("subscription", "Find", ErrNotFound, "subscription not found")
	ErrInvalidEndpoint      = ValidationError("subscription", "Validate", "endpoint must be an absolute http(s) URL")
	ErrMissingKeys          = ValidationError("subscription", "Validate", "p256dh and auth keys are required")
	ErrSubscriptionExpired  = NewDomainError("subscription", "Send", ErrExpired, "push endpoint is gone")

	ErrHistoryEntryNotFound = NewDomainError("notification", "FindHistory", ErrNotFound, "history entry not found")
	ErrUnknownType          = ValidationError("notification", "Validate", "unknown notification type")
	ErrUnknownChannel       = ValidationError("notification", "Validate", "unknown notification channel")
	ErrInvalidPayload       = ValidationError("notification", "Format", "invalid notification payload")
	ErrEmptyUserID          = ValidationError("notification", "Validate", "user id is required")

	ErrPushFailed        = NewDomainError("push", "Send", ErrExternalService, "push delivery failed")
	ErrEmailFailed       = NewDomainError("email", "Send", ErrExternalService, "email composition service failed")
	ErrEmailUnavailable  = NewDomainError("email", "Send", ErrServiceUnavailable, "email composition service unavailable")
	ErrDigestUnavailable = NewDomainError("digest", "Enqueue", ErrServiceUnavailable, "digest queue unavailable")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsExpired(err error) bool       { return errors.Is(err, ErrExpired) }

// IsExternalService reports failures of a provider or downstream service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) || errors.Is(err, ErrServiceUnavailable)
}
