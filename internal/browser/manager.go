package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"

	"posextract/internal/config"
	"posextract/internal/infrastructure"
)

// ErrLaunchTimeout is wrapped by SessionError when the browser did not start in time.
var ErrLaunchTimeout = errors.New("browser launch timed out")

// SessionError reports a browser that could not be started or recovered.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Options configure the browser process.
type Options struct {
	Headful       bool
	ExecPath      string
	NoSandbox     bool
	ExtraFlags    []string
	ProfileDir    string
	DownloadDir   string
	LaunchTimeout time.Duration
}

// OptionsFrom maps application config onto browser options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Headful:       cfg.Browser.Headful,
		ExecPath:      cfg.Browser.ExecPath,
		NoSandbox:     cfg.Browser.NoSandbox,
		ExtraFlags:    cfg.Browser.ExtraFlags,
		ProfileDir:    cfg.Paths.ProfileDir,
		DownloadDir:   cfg.Paths.DownloadDir,
		LaunchTimeout: cfg.Timeouts.Launch,
	}
}

// ProfileFrom builds the tab profile from application config.
func ProfileFrom(cfg *config.Config) StealthProfile {
	return PlainProfile{UserAgent: cfg.Browser.UserAgent}
}

// Manager owns one browser process and one reusable tab. It is safe for
// concurrent use, though a single job drives it at a time.
type Manager struct {
	opts    Options
	profile StealthProfile
	logger  *slog.Logger
	metrics *infrastructure.Metrics

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tab           *Tab
	crashed       atomic.Bool
}

// NewManager creates a manager. No browser is started until EnsureSession.
func NewManager(opts Options, profile StealthProfile, logger *slog.Logger, metrics *infrastructure.Metrics) *Manager {
	if profile == nil {
		profile = PlainProfile{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:    opts,
		profile: profile,
		logger:  logger.With(slog.String("component", "session_manager")),
		metrics: metrics,
	}
}

// EnsureSession returns the live tab, starting the browser if needed. A
// browser found disconnected is recreated once; if that fails the error is
// a *SessionError.
func (m *Manager) EnsureSession(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tab != nil && !m.disconnectedLocked() {
		return m.tab, nil
	}

	if m.tab != nil {
		m.logger.WarnContext(ctx, "Browser disconnected, restarting")
		m.metrics.SessionRestart()
		m.closeLocked()
	}

	if err := m.startLocked(ctx); err != nil {
		return nil, &SessionError{Op: "start", Err: err}
	}
	return m.tab, nil
}

// Restart tears the browser down and starts a fresh one.
func (m *Manager) Restart(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.SessionRestart()
	m.closeLocked()
	if err := m.startLocked(ctx); err != nil {
		return nil, &SessionError{Op: "restart", Err: err}
	}
	return m.tab, nil
}

// Disconnected reports whether the current browser is gone or crashed.
func (m *Manager) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectedLocked()
}

func (m *Manager) disconnectedLocked() bool {
	return m.tab == nil || m.browserCtx.Err() != nil || m.crashed.Load()
}

// Close shuts the browser down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var err error
	if m.browserCtx != nil && m.browserCtx.Err() == nil {
		err = chromedp.Cancel(m.browserCtx)
	}
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx, m.browserCancel, m.allocCancel, m.tab = nil, nil, nil, nil
	m.crashed.Store(false)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// AllocatorOptions builds the exec allocator flags.
func (m *Manager) AllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", !m.opts.Headful))
	if m.opts.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.opts.ProfileDir))
	}
	if m.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.opts.ExecPath))
	}
	if m.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	for _, f := range m.opts.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(f), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return append(opts, m.profile.AllocatorOptions()...)
}

func (m *Manager) startLocked(ctx context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.AllocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			m.logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	m.crashed.Store(false)
	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch ev.(type) {
		case *inspector.EventTargetCrashed, *inspector.EventDetached:
			m.crashed.Store(true)
		}
	})

	// The first Run allocates the browser and binds its lifetime to
	// browserCtx, so it must not carry a timeout of its own.
	launched := make(chan error, 1)
	go func() {
		actions := []chromedp.Action{}
		if m.opts.DownloadDir != "" {
			actions = append(actions, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(m.opts.DownloadDir).
				WithEventsEnabled(true))
		}
		actions = append(actions, chromedp.ActionFunc(m.profile.PrepareTab))
		launched <- chromedp.Run(browserCtx, actions...)
	}()

	timeout := m.opts.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-launched:
	case <-timer.C:
		err = ErrLaunchTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		m.logger.ErrorContext(ctx, "Browser launch failed", slog.String("error", err.Error()))
		return err
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.tab = &Tab{ctx: browserCtx}

	m.logger.InfoContext(ctx, "Browser session started",
		slog.Bool("headful", m.opts.Headful),
		slog.String("profile_dir", m.opts.ProfileDir),
		slog.String("download_dir", m.opts.DownloadDir))
	return nil
}
