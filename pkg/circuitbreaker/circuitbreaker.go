// Package circuitbreaker stops calls to a dependency that keeps failing and
// tries it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker: trial already in flight")
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Settings tune a breaker. Zero values take the defaults noted per field.
type Settings struct {
	Name string

	// Consecutive failures that open the breaker (default 5).
	MaxFailures int

	// How long the breaker stays open before a trial (default 30s).
	OpenFor time.Duration

	// Concurrent trial calls allowed while half-open (default 1). The breaker
	// closes after this many successful trial calls.
	TrialCalls int

	// Decides whether an error counts against the dependency. Nil counts
	// every non-nil error.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inflight  int
	succeeded int
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.TrialCalls <= 0 {
		s.TrialCalls = 1
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

// EmailServiceBreaker is the breaker in front of the email composition service.
func EmailServiceBreaker(threshold int, openFor time.Duration, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "email-composer",
		MaxFailures:   threshold,
		OpenFor:       openFor,
		TrialCalls:    1,
		OnStateChange: onStateChange,
	})
}

// Execute runs fn unless the breaker rejects the call. A rejected call
// returns ErrCircuitOpen or ErrTooManyRequests without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(trial, cb.settings.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.settings.OpenFor {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.inflight >= cb.settings.TrialCalls {
			return false, ErrTooManyRequests
		}
		cb.inflight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inflight--
		// a trial admitted before a concurrent reopen no longer counts
		if cb.state != StateHalfOpen {
			return
		}
		if failed {
			cb.open()
			return
		}
		cb.succeeded++
		if cb.succeeded >= cb.settings.TrialCalls {
			cb.transition(StateClosed)
		}
		return
	}

	if cb.state != StateClosed {
		return
	}
	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.settings.MaxFailures {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.succeeded = 0
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down elapsed
// still reports open until the next call tries it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
