// Package download waits for exported artifacts to land in the browser's
// download directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"posextract/internal/infrastructure"
	"posextract/internal/poll"
)

// partialSuffixes mark files a browser is still writing.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// DownloadTimeoutError is returned when no complete artifact appeared in time.
type DownloadTimeoutError struct {
	Name    string
	Dir     string
	Timeout time.Duration
	Err     error
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download of %q not completed in %s within %s", e.Name, e.Dir, e.Timeout)
}

func (e *DownloadTimeoutError) Unwrap() error {
	return e.Err
}

// Watcher polls a directory for an expected artifact.
type Watcher struct {
	Dir      string
	Interval time.Duration
	// RequireStableSize waits for two consecutive polls reporting the same
	// non-zero size before resolving.
	RequireStableSize bool

	logger  *slog.Logger
	metrics *infrastructure.Metrics
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, interval time.Duration, logger *slog.Logger, metrics *infrastructure.Metrics) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		Dir:      dir,
		Interval: interval,
		logger:   logger.With(slog.String("component", "download_watcher")),
		metrics:  metrics,
	}
}

// Prepare removes a stale artifact (and its partial variants) left by an
// earlier run so a fresh export cannot be confused with it.
func (w *Watcher) Prepare(expectedName string) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create download dir %s: %w", w.Dir, err)
	}
	matches, err := w.candidates(expectedName, true)
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale artifact %s: %w", path, err)
		}
		w.logger.Debug("Removed stale artifact", slog.String("path", path))
	}
	return nil
}

// WaitForArtifact resolves with the full path of expectedName once it exists
// in Dir with a non-zero size. expectedName may be a glob pattern, in which
// case the most recently modified complete match wins.
func (w *Watcher) WaitForArtifact(ctx context.Context, expectedName string, timeout time.Duration) (string, error) {
	start := time.Now()
	var (
		found    string
		lastPath string
		lastSize int64 = -1
	)

	err := poll.Until(ctx, w.Interval, timeout, func(context.Context) (bool, error) {
		path, size, err := w.newest(expectedName)
		if err != nil {
			return false, err
		}
		if path == "" || size == 0 {
			lastPath, lastSize = "", -1
			return false, nil
		}
		if w.RequireStableSize && (path != lastPath || size != lastSize) {
			lastPath, lastSize = path, size
			return false, nil
		}
		found = path
		return true, nil
	})
	w.metrics.DownloadWait(time.Since(start))

	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			w.logger.WarnContext(ctx, "Artifact did not appear",
				slog.String("name", expectedName),
				slog.Duration("timeout", timeout))
			return "", &DownloadTimeoutError{Name: expectedName, Dir: w.Dir, Timeout: timeout, Err: err}
		}
		return "", err
	}

	w.logger.InfoContext(ctx, "Artifact ready",
		slog.String("path", found),
		slog.Duration("waited", time.Since(start)))
	return found, nil
}

// newest returns the latest complete candidate and its size.
func (w *Watcher) newest(expectedName string) (string, int64, error) {
	matches, err := w.candidates(expectedName, false)
	if err != nil {
		return "", 0, err
	}

	type entry struct {
		path string
		info os.FileInfo
	}
	var entries []entry
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, entry{path, info})
	}
	if len(entries) == 0 {
		return "", 0, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].info.ModTime().After(entries[j].info.ModTime())
	})
	return entries[0].path, entries[0].info.Size(), nil
}

func (w *Watcher) candidates(expectedName string, includePartial bool) ([]string, error) {
	pattern := filepath.Join(w.Dir, expectedName)
	var matches []string
	if strings.ContainsAny(expectedName, "*?[") {
		m, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid artifact pattern %q: %w", expectedName, err)
		}
		matches = m
	} else if _, err := os.Stat(pattern); err == nil {
		matches = []string{pattern}
	}

	out := matches[:0]
	for _, m := range matches {
		if IsPartial(m) && !includePartial {
			continue
		}
		out = append(out, m)
	}
	if includePartial && !strings.ContainsAny(expectedName, "*?[") {
		for _, suffix := range partialSuffixes {
			if _, err := os.Stat(pattern + suffix); err == nil {
				out = append(out, pattern+suffix)
			}
		}
	}
	return out, nil
}

// IsPartial reports whether path names an in-progress download.
func IsPartial(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces s to a filesystem-safe token.
func SanitizeName(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

// ArtifactName expands {location}, {id} and {date} in pattern. Values are
// sanitized before substitution.
func ArtifactName(pattern, location, id, date string) string {
	r := strings.NewReplacer(
		"{location}", SanitizeName(location),
		"{id}", SanitizeName(id),
		"{date}", SanitizeName(date),
	)
	return r.Replace(pattern)
}
