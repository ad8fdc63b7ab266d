// Package poll waits for a condition with a fixed interval and a hard deadline.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the predicate was not satisfied before the timeout.
var ErrTimeout = errors.New("poll: timed out waiting for condition")

// Predicate reports whether the awaited condition holds. A non-nil error
// aborts the wait and is returned unchanged.
type Predicate func(ctx context.Context) (bool, error)

// Until evaluates predicate immediately and then every interval until it
// returns true, returns an error, the timeout elapses or ctx is cancelled.
// Cancellation of ctx returns ctx.Err(); the timeout boundary returns ErrTimeout.
func Until(ctx context.Context, interval, timeout time.Duration, predicate Predicate) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			// One last look so a condition met right at the boundary still counts.
			if ok, err := predicate(ctx); err == nil && ok {
				return nil
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// FirstOf evaluates each predicate in order on every tick and returns the index
// of the first one that holds.
func FirstOf(ctx context.Context, interval, timeout time.Duration, predicates ...Predicate) (int, error) {
	winner := -1
	err := Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		for i, p := range predicates {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				winner = i
				return true, nil
			}
		}
		return false, nil
	})
	return winner, err
}
