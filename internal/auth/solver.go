package auth

import (
	"context"
	"errors"

	"posextract/internal/browser"
)

// ErrNoSolver is returned by NoopSolver.
var ErrNoSolver = errors.New("no challenge solver configured")

// Challenge identifies an interactive verification shown by the site.
type Challenge struct {
	SiteKey string
	PageURL string
}

// ChallengeSolver resolves a challenge and returns the token to submit with
// the form. Solve must honor ctx cancellation.
type ChallengeSolver interface {
	Solve(ctx context.Context, challenge Challenge, page browser.Page) (string, error)
}

// NoopSolver never solves anything.
type NoopSolver struct{}

func (NoopSolver) Solve(context.Context, Challenge, browser.Page) (string, error) {
	return "", ErrNoSolver
}

// SolverFunc adapts a function to ChallengeSolver.
type SolverFunc func(ctx context.Context, challenge Challenge, page browser.Page) (string, error)

func (fn SolverFunc) Solve(ctx context.Context, challenge Challenge, page browser.Page) (string, error) {
	return fn(ctx, challenge, page)
}
