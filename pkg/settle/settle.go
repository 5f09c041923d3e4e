// Package settle runs independent tasks concurrently and records one outcome
// per task. Unlike errgroup.WithContext, a failing task never cancels its
// siblings, and every task runs to completion before All returns.
package settle

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of one task.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the task succeeded.
func (o Outcome[R]) OK() bool {
	return o.Err == nil
}

// PanicError is recorded when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Options tunes a settle run.
type Options struct {
	// Limit caps concurrently running tasks. Zero or negative means unbounded.
	Limit int
}

// All runs fn for every item and waits for all of them. Outcomes are
// returned in input order. The context is passed through unchanged; All
// never derives a cancelling context from it.
func All[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Options) []Outcome[R] {
	outcomes := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return outcomes
	}

	var g errgroup.Group
	for _, o := range opts {
		if o.Limit > 0 {
			g.SetLimit(o.Limit)
		}
	}

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			outcomes[i] = run(ctx, i, item, fn)
			return nil
		})
	}

	// Tasks report through outcomes, so Wait never carries an error.
	_ = g.Wait()
	return outcomes
}

func run[T, R any](ctx context.Context, i int, item T, fn func(context.Context, T) (R, error)) (out Outcome[R]) {
	out.Index = i
	defer func() {
		if r := recover(); r != nil {
			out.Err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	out.Value, out.Err = fn(ctx, item)
	return out
}

// Each is All for tasks without a result value.
func Each[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error, opts ...Options) []error {
	outcomes := All(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	}, opts...)

	errs := make([]error, len(outcomes))
	for i, o := range outcomes {
		errs[i] = o.Err
	}
	return errs
}

// Failed counts outcomes carrying an error.
func Failed[R any](outcomes []Outcome[R]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
