// Package retry retries infrastructure connections at startup (PostgreSQL,
// Redis) with capped exponential backoff. Notification deliveries are never
// retried.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff describes the delay schedule. Delay n is Base*2^(n-1), capped at
// Cap, then spread by ±Jitter.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Jitter   float64
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt && d < b.Cap; i++ {
		d *= 2
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return d
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent stops the retry loop; Do returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Retrier runs an operation until it succeeds, returns a permanent error,
// runs out of attempts or ctx ends.
type Retrier struct {
	backoff Backoff
	onRetry func(attempt int, err error, delay time.Duration)
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier. onRetry may be nil.
func New(b Backoff, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	return &Retrier{backoff: b, onRetry: onRetry, sleep: sleepCtx}
}

// ConnectRetrier is the policy used when dialing dependencies at startup:
// five attempts, 0.5s doubling to 8s, 20% jitter.
func ConnectRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Backoff{
		Attempts: 5,
		Base:     500 * time.Millisecond,
		Cap:      8 * time.Second,
		Jitter:   0.2,
	}, onRetry)
}

// Do runs op. The last error is returned when attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		if attempt >= r.backoff.Attempts {
			return err
		}

		delay := r.backoff.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
