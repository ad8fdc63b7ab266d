package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/poll"
	"posextract/internal/shared/testutil"
)

func newTestWatcher(t *testing.T, interval time.Duration) *Watcher {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewWatcher(t.TempDir(), interval, logger, nil)
}

func TestWaitForArtifact(t *testing.T) {
	t.Run("resolves once a file written mid-wait appears", func(t *testing.T) {
		interval := 10 * time.Millisecond
		w := newTestWatcher(t, interval)

		go func() {
			time.Sleep(2 * interval)
			testutil.WriteFile(t, w.Dir, "sales.csv", "a,b\n1,2\n")
		}()

		path, err := w.WaitForArtifact(context.Background(), "sales.csv", 5*interval*10)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(w.Dir, "sales.csv"), path)
	})

	t.Run("times out with DownloadTimeoutError", func(t *testing.T) {
		interval := 10 * time.Millisecond
		timeout := 5 * interval
		w := newTestWatcher(t, interval)

		start := time.Now()
		_, err := w.WaitForArtifact(context.Background(), "never.csv", timeout)
		elapsed := time.Since(start)

		var dte *DownloadTimeoutError
		require.True(t, errors.As(err, &dte))
		assert.Equal(t, "never.csv", dte.Name)
		assert.ErrorIs(t, err, poll.ErrTimeout)
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.Less(t, elapsed, timeout+10*interval)
	})

	t.Run("ignores zero size and partial files", func(t *testing.T) {
		w := newTestWatcher(t, 5*time.Millisecond)
		testutil.WriteFile(t, w.Dir, "sales.csv", "")
		testutil.WriteFile(t, w.Dir, "sales.csv.crdownload", "partial")

		_, err := w.WaitForArtifact(context.Background(), "sales.csv", 30*time.Millisecond)
		var dte *DownloadTimeoutError
		assert.ErrorAs(t, err, &dte)

		_, err = w.WaitForArtifact(context.Background(), "sales*", 30*time.Millisecond)
		assert.ErrorAs(t, err, &dte)
	})

	t.Run("glob picks the newest complete match", func(t *testing.T) {
		w := newTestWatcher(t, 5*time.Millisecond)
		old := testutil.WriteFile(t, w.Dir, "export_1.csv", "old")
		past := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(old, past, past))
		testutil.WriteFile(t, w.Dir, "export_2.csv", "new")

		path, err := w.WaitForArtifact(context.Background(), "export_*.csv", time.Second)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(w.Dir, "export_2.csv"), path)
	})

	t.Run("stable size needs two matching polls", func(t *testing.T) {
		w := newTestWatcher(t, 5*time.Millisecond)
		w.RequireStableSize = true
		testutil.WriteFile(t, w.Dir, "sales.csv", "complete")

		path, err := w.WaitForArtifact(context.Background(), "sales.csv", time.Second)
		require.NoError(t, err)
		assert.FileExists(t, path)
	})

	t.Run("context cancellation is not a timeout", func(t *testing.T) {
		w := newTestWatcher(t, 5*time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := w.WaitForArtifact(ctx, "sales.csv", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		var dte *DownloadTimeoutError
		assert.False(t, errors.As(err, &dte))
	})
}

func TestPrepare(t *testing.T) {
	w := newTestWatcher(t, time.Millisecond)
	testutil.WriteFile(t, w.Dir, "sales.csv", "stale")
	testutil.WriteFile(t, w.Dir, "sales.csv.crdownload", "stale")
	testutil.WriteFile(t, w.Dir, "other.csv", "keep")

	require.NoError(t, w.Prepare("sales.csv"))
	assert.NoFileExists(t, filepath.Join(w.Dir, "sales.csv"))
	assert.NoFileExists(t, filepath.Join(w.Dir, "sales.csv.crdownload"))
	assert.FileExists(t, filepath.Join(w.Dir, "other.csv"))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "sales_Main_Street_2024-03-01.csv",
		ArtifactName("sales_{location}_{date}.csv", "Main Street", "7", "2024-03-01"))
	assert.Equal(t, "export-42.csv", ArtifactName("export-{id}.csv", "x", "42", ""))
	assert.Equal(t, "Caf_Bar", SanitizeName(" Café / Bar "))
	assert.True(t, IsPartial("a.csv.PART"))
	assert.False(t, IsPartial("a.csv"))
}
