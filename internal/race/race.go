// Package race provides a first-success combinator for concurrent lookups.
package race

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoBranches is returned when FirstSuccess is called without branches.
var ErrNoBranches = errors.New("race: no branches")

// Branch is one concurrently issued operation.
type Branch[T any] func(ctx context.Context) (T, error)

type settlement[T any] struct {
	index int
	value T
	err   error
}

// FirstSuccess runs every branch concurrently and returns the value of the
// first branch to succeed. A failure never preempts a slower success. When
// every branch fails, the error of the authoritative branch is returned.
//
// Branches still running after a winner is chosen see their context
// cancelled; their results are discarded.
func FirstSuccess[T any](ctx context.Context, authoritative int, branches ...Branch[T]) (T, error) {
	var zero T
	if len(branches) == 0 {
		return zero, ErrNoBranches
	}
	if authoritative < 0 || authoritative >= len(branches) {
		return zero, fmt.Errorf("race: authoritative branch %d out of range [0,%d)", authoritative, len(branches))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so losing branches never block after we return.
	results := make(chan settlement[T], len(branches))
	for i, branch := range branches {
		go func(i int, branch Branch[T]) {
			v, err := branch(ctx)
			results <- settlement[T]{index: i, value: v, err: err}
		}(i, branch)
	}

	errs := make([]error, len(branches))
	for range branches {
		s := <-results
		if s.err == nil {
			return s.value, nil
		}
		errs[s.index] = s.err
	}
	return zero, errs[authoritative]
}
