// Package auth decides whether the back-office session is still valid and
// logs in when it is not.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"posextract/internal/browser"
	"posextract/internal/config"
	"posextract/internal/infrastructure"
	"posextract/internal/poll"
)

// State is a node of the login state machine.
type State string

const (
	StateCheckingSession    State = "checking_session"
	StateAuthenticated      State = "authenticated"
	StateNeedsLogin         State = "needs_login"
	StateChallengePending   State = "challenge_pending"
	StateFillingCredentials State = "filling_credentials"
	StateSubmitting         State = "submitting"
	StateSuccess            State = "success"
	StateError              State = "error"
	StateTimeout            State = "timeout"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateAuthenticated, StateSuccess, StateError, StateTimeout:
		return true
	}
	return false
}

// AuthenticationError is returned for every terminal state other than success.
type AuthenticationError struct {
	State  State
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed in %s: %s: %v", e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed in %s: %s", e.State, e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Options carry the site layout and limits the flow needs.
type Options struct {
	BaseURL       string
	LoginPath     string
	ProtectedPath string
	Selectors     config.SelectorConfig
	Username      string
	Password      string

	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	LoginTimeout      time.Duration
	ChallengeTimeout  time.Duration
	PollInterval      time.Duration
}

// OptionsFrom maps application config onto flow options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.Site.BaseURL,
		LoginPath:         cfg.Site.LoginPath,
		ProtectedPath:     cfg.Site.ProtectedPath,
		Selectors:         cfg.Site.Selectors,
		Username:          cfg.Credentials.Username,
		Password:          cfg.Credentials.Password,
		NavigationTimeout: cfg.Timeouts.Navigation,
		SelectorTimeout:   cfg.Timeouts.Selector,
		LoginTimeout:      cfg.Timeouts.Login,
		ChallengeTimeout:  cfg.Timeouts.Challenge,
		PollInterval:      cfg.Timeouts.PollInterval,
	}
}

// Flow runs the login state machine against a page. A Flow is reusable but
// not safe for concurrent Authenticate calls.
type Flow struct {
	opts    Options
	solver  ChallengeSolver
	logger  *slog.Logger
	metrics *infrastructure.Metrics

	mu          sync.Mutex
	transitions []State
}

// NewFlow creates a flow. A nil solver means challenges always fail.
func NewFlow(opts Options, solver ChallengeSolver, logger *slog.Logger, metrics *infrastructure.Metrics) *Flow {
	if solver == nil {
		solver = NoopSolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Flow{
		opts:    opts,
		solver:  solver,
		logger:  logger.With(slog.String("component", "auth_flow")),
		metrics: metrics,
	}
}

// Transitions returns the states visited by the last Authenticate call.
func (f *Flow) Transitions() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.transitions...)
}

func (f *Flow) enter(ctx context.Context, s State) {
	f.mu.Lock()
	f.transitions = append(f.transitions, s)
	f.mu.Unlock()
	f.logger.DebugContext(ctx, "Auth state", slog.String("state", string(s)))
	if s.Terminal() {
		f.metrics.AuthOutcome(string(s))
	}
}

func (f *Flow) fail(ctx context.Context, s State, reason string, err error) error {
	f.enter(ctx, s)
	authErr := &AuthenticationError{State: s, Reason: reason, Err: err}
	f.logger.ErrorContext(ctx, "Authentication failed",
		slog.String("state", string(s)),
		slog.String("reason", reason),
		slog.Any("error", err))
	return authErr
}

// Authenticate leaves page on a protected view, reusing the existing
// session when possible. Any failure is an *AuthenticationError.
func (f *Flow) Authenticate(ctx context.Context, page browser.Page) error {
	f.mu.Lock()
	f.transitions = nil
	f.mu.Unlock()

	f.enter(ctx, StateCheckingSession)

	navCtx, cancel := browser.WithTimeout(ctx, f.opts.NavigationTimeout)
	err := page.Navigate(navCtx, f.opts.BaseURL)
	cancel()
	if err != nil {
		return f.fail(ctx, StateError, "navigate to application root", err)
	}

	landing, err := poll.FirstOf(ctx, f.opts.PollInterval, f.opts.NavigationTimeout,
		f.onProtectedView(page),
		f.onLoginView(page),
	)
	switch {
	case errors.Is(err, poll.ErrTimeout):
		return f.fail(ctx, StateTimeout, "landing page was neither protected nor login", err)
	case err != nil:
		return f.fail(ctx, StateError, "inspect landing page", err)
	case landing == 0:
		f.enter(ctx, StateAuthenticated)
		f.logger.InfoContext(ctx, "Existing session reused")
		return nil
	}

	f.enter(ctx, StateNeedsLogin)
	return f.login(ctx, page)
}

func (f *Flow) login(ctx context.Context, page browser.Page) error {
	sel := f.opts.Selectors

	waitCtx, cancel := browser.WithTimeout(ctx, f.opts.SelectorTimeout)
	err := page.WaitVisible(waitCtx, sel.UsernameInput)
	cancel()
	if err != nil {
		return f.fail(ctx, StateError, "login form not visible", err)
	}

	solved := false
	stepCtx, cancel := f.step(ctx)
	present, err := f.challengePresent(stepCtx, page)
	cancel()
	if err != nil {
		return f.fail(ctx, StateError, "check for challenge", err)
	}
	if present {
		if err := f.solveChallenge(ctx, page); err != nil {
			return err
		}
		solved = true
	}

	f.enter(ctx, StateFillingCredentials)
	if err := f.do(ctx, func(ctx context.Context) error {
		return page.SetValue(ctx, sel.UsernameInput, f.opts.Username)
	}); err != nil {
		return f.fail(ctx, StateError, "fill username", err)
	}
	if err := f.do(ctx, func(ctx context.Context) error {
		return page.SetValue(ctx, sel.PasswordInput, f.opts.Password)
	}); err != nil {
		return f.fail(ctx, StateError, "fill password", err)
	}

	f.enter(ctx, StateSubmitting)
	if err := f.do(ctx, func(ctx context.Context) error {
		return page.Click(ctx, sel.SubmitButton)
	}); err != nil {
		return f.fail(ctx, StateError, "submit credentials", err)
	}

	deadline := time.Now().Add(f.opts.LoginTimeout)
	for {
		outcome, err := poll.FirstOf(ctx, f.opts.PollInterval, time.Until(deadline),
			f.onProtectedView(page),
			f.visible(page, sel.LoginError),
			f.challengeAppeared(page, solved),
		)
		switch {
		case errors.Is(err, poll.ErrTimeout):
			return f.fail(ctx, StateTimeout, "no outcome after submitting credentials", err)
		case err != nil:
			return f.fail(ctx, StateError, "await login outcome", err)
		case outcome == 0:
			f.enter(ctx, StateSuccess)
			f.logger.InfoContext(ctx, "Logged in")
			return nil
		case outcome == 1:
			msg := f.errorText(ctx, page)
			return f.fail(ctx, StateError, "login rejected: "+msg, nil)
		}

		// A challenge raised by the submit itself gets one solve and a resubmit.
		if err := f.solveChallenge(ctx, page); err != nil {
			return err
		}
		solved = true
		f.enter(ctx, StateSubmitting)
		if err := f.do(ctx, func(ctx context.Context) error {
			return page.Click(ctx, sel.SubmitButton)
		}); err != nil {
			return f.fail(ctx, StateError, "resubmit after challenge", err)
		}
	}
}

func (f *Flow) solveChallenge(ctx context.Context, page browser.Page) error {
	f.enter(ctx, StateChallengePending)
	sel := f.opts.Selectors

	challenge := Challenge{}
	stepCtx, cancel := f.step(ctx)
	if loc, err := page.Location(stepCtx); err == nil {
		challenge.PageURL = loc
	}
	if sel.ChallengeSiteKey != "" {
		if key, ok, err := page.Attribute(stepCtx, sel.Challenge, sel.ChallengeSiteKey); err == nil && ok {
			challenge.SiteKey = key
		}
	}
	cancel()

	solveCtx, cancel := browser.WithTimeout(ctx, f.opts.ChallengeTimeout)
	defer cancel()
	token, err := f.solver.Solve(solveCtx, challenge, page)
	if err != nil {
		if solveCtx.Err() != nil && ctx.Err() == nil {
			return f.fail(ctx, StateTimeout, "challenge unresolved", err)
		}
		return f.fail(ctx, StateError, "challenge unresolved", err)
	}

	if token != "" && sel.ChallengeToken != "" {
		var ok bool
		expr := fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			el.value = %s;
			return true;
		})()`, browser.JSString(sel.ChallengeToken), browser.JSString(token))
		if err := f.do(ctx, func(ctx context.Context) error {
			return page.Evaluate(ctx, expr, &ok)
		}); err != nil {
			return f.fail(ctx, StateError, "inject challenge token", err)
		}
	}
	f.logger.InfoContext(ctx, "Challenge resolved", slog.String("site_key", challenge.SiteKey))
	return nil
}

// step bounds a single page interaction by the selector timeout.
func (f *Flow) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return browser.WithTimeout(ctx, f.opts.SelectorTimeout)
}

func (f *Flow) do(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := f.step(ctx)
	defer cancel()
	return fn(stepCtx)
}

func (f *Flow) onProtectedView(page browser.Page) poll.Predicate {
	return func(ctx context.Context) (bool, error) {
		loc, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		return hasPathPrefix(loc, f.opts.ProtectedPath), nil
	}
}

func (f *Flow) onLoginView(page browser.Page) poll.Predicate {
	return func(ctx context.Context) (bool, error) {
		loc, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		if hasPathPrefix(loc, f.opts.LoginPath) {
			return true, nil
		}
		if f.opts.Selectors.UsernameInput == "" {
			return false, nil
		}
		return page.Exists(ctx, f.opts.Selectors.UsernameInput)
	}
}

func (f *Flow) visible(page browser.Page, selector string) poll.Predicate {
	return func(ctx context.Context) (bool, error) {
		if selector == "" {
			return false, nil
		}
		return page.Exists(ctx, selector)
	}
}

func (f *Flow) challengeAppeared(page browser.Page, alreadySolved bool) poll.Predicate {
	return func(ctx context.Context) (bool, error) {
		if alreadySolved {
			return false, nil
		}
		return f.challengePresent(ctx, page)
	}
}

func (f *Flow) challengePresent(ctx context.Context, page browser.Page) (bool, error) {
	if f.opts.Selectors.Challenge == "" {
		return false, nil
	}
	return page.Exists(ctx, f.opts.Selectors.Challenge)
}

func (f *Flow) errorText(ctx context.Context, page browser.Page) string {
	var text string
	expr := fmt.Sprintf(`(document.querySelector(%s) || {}).innerText || ""`, browser.JSString(f.opts.Selectors.LoginError))
	err := f.do(ctx, func(ctx context.Context) error {
		return page.Evaluate(ctx, expr, &text)
	})
	if err != nil || strings.TrimSpace(text) == "" {
		return "error indicator shown"
	}
	return strings.TrimSpace(text)
}

// hasPathPrefix reports whether rawURL's path starts with prefix on a
// segment boundary.
func hasPathPrefix(rawURL, prefix string) bool {
	if prefix == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
