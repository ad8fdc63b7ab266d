package browser

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/config"
	"posextract/internal/shared/testutil"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Headful = true
	cfg.Browser.NoSandbox = true
	cfg.Paths.ProfileDir = "/tmp/profile"
	cfg.Paths.DownloadDir = "/tmp/downloads"

	opts := OptionsFrom(cfg)
	assert.True(t, opts.Headful)
	assert.True(t, opts.NoSandbox)
	assert.Equal(t, "/tmp/profile", opts.ProfileDir)
	assert.Equal(t, "/tmp/downloads", opts.DownloadDir)
	assert.Equal(t, cfg.Timeouts.Launch, opts.LaunchTimeout)
}

func TestAllocatorOptionsIncludeExtras(t *testing.T) {
	m := NewManager(Options{
		ProfileDir: "/tmp/p",
		ExecPath:   "/usr/bin/chromium",
		NoSandbox:  true,
		ExtraFlags: []string{"--lang=en-US", "disable-gpu", "  "},
	}, PlainProfile{UserAgent: "agent/1.0"}, nil, nil)

	base := len(chromedp.DefaultExecAllocatorOptions)
	// headless, user-data-dir, exec path, no-sandbox, two extra flags, user agent
	assert.Len(t, m.AllocatorOptions(), base+7)
}

func TestPlainProfile(t *testing.T) {
	assert.Empty(t, PlainProfile{}.AllocatorOptions())
	assert.Len(t, PlainProfile{UserAgent: "x"}.AllocatorOptions(), 1)
	assert.NoError(t, PlainProfile{}.PrepareTab(context.Background()))
}

func TestProfileFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, PlainProfile{}, ProfileFrom(cfg))
	assert.Empty(t, ProfileFrom(cfg).AllocatorOptions())

	cfg.Browser.UserAgent = "Mozilla/5.0 (Back Office)"
	assert.Equal(t, PlainProfile{UserAgent: "Mozilla/5.0 (Back Office)"}, ProfileFrom(cfg))
	assert.Len(t, ProfileFrom(cfg).AllocatorOptions(), 1)
}

func TestManagerDisconnectedBeforeStart(t *testing.T) {
	m := NewManager(Options{}, nil, nil, nil)
	assert.True(t, m.Disconnected())
	assert.NoError(t, m.Close())
}

func TestSessionErrorUnwraps(t *testing.T) {
	err := &SessionError{Op: "start", Err: ErrLaunchTimeout}
	assert.True(t, errors.Is(err, ErrLaunchTimeout))
	assert.Contains(t, err.Error(), "browser session start")
}

func TestEnsureSessionFailsWithMissingBinary(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	m := NewManager(Options{
		ExecPath:      "/nonexistent/chrome-binary",
		ProfileDir:    t.TempDir(),
		LaunchTimeout: 5 * time.Second,
	}, nil, logger, nil)
	defer m.Close()

	_, err := m.EnsureSession(context.Background())
	require.Error(t, err)
	var se *SessionError
	assert.ErrorAs(t, err, &se)
	assert.True(t, m.Disconnected())
	assert.True(t, handler.ContainsMessage("Browser launch failed"))
}

func TestEnsureSessionReusesLiveTab(t *testing.T) {
	path := chromePath()
	if path == "" {
		t.Skip("no Chrome or Chromium binary available")
	}
	logger, _ := testutil.NewTestLogger(t)

	m := NewManager(Options{
		ExecPath:      path,
		NoSandbox:     true,
		ProfileDir:    t.TempDir(),
		DownloadDir:   t.TempDir(),
		LaunchTimeout: 30 * time.Second,
	}, nil, logger, nil)
	defer m.Close()

	ctx := context.Background()
	first, err := m.EnsureSession(ctx)
	require.NoError(t, err)
	second, err := m.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, m.Close())
	assert.True(t, m.Disconnected())
}

func chromePath() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}
