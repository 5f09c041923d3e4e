package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("502 bad gateway")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestEmailServiceBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb := EmailServiceBreaker(2, time.Hour, func(name string, _, to State) {
		assert.Equal(t, "email-composer", name)
		transitions = append(transitions, to)
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Fatal("must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Settings{MaxFailures: 2})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), ok)
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TrialAfterCoolDown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := New(Settings{MaxFailures: 1, OpenFor: time.Minute})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)

	// failed trial reopens and restarts the cool-down
	now = now.Add(time.Minute)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleTrialInFlight(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := New(Settings{MaxFailures: 1, OpenFor: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), fail)
	now = now.Add(2 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	clientErr := errors.New("400 bad request")
	cb := New(Settings{MaxFailures: 1, IsFailure: func(err error) bool {
		return err != nil && !errors.Is(err, clientErr)
	}})

	_ = cb.Execute(context.Background(), func(context.Context) error { return clientErr })
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
