package testutil

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures records", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("Job started", slog.String("job_id", "j1"))
		logger.Error("Job failed", slog.Int("failed_locations", 2))

		assert.Equal(t, 2, handler.Count())
		assert.True(t, handler.ContainsMessage("started"))
		assert.True(t, handler.ContainsAttr("job_id", "j1"))
		assert.True(t, handler.ContainsAttr("failed_locations", int64(2)))
		AssertLogContains(t, handler, slog.LevelError, "failed")
	})

	t.Run("child loggers share the buffer and keep attrs", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		child := logger.With(slog.String("component", "extraction"))
		child.Info("location started", slog.String("location", "Downtown"))
		logger.Info("parent")

		records := handler.GetRecords()
		require.Len(t, records, 2)
		assert.Equal(t, "extraction", records[0].Attrs["component"])
		assert.Equal(t, "Downtown", records[0].Attrs["location"])
		assert.NotContains(t, records[1].Attrs, "component")
	})

	t.Run("groups prefix keys", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.WithGroup("delivery").Info("attempt", slog.Int("n", 1),
			slog.Group("http", slog.Int("status", 503)))

		records := handler.GetRecords()
		require.Len(t, records, 1)
		assert.Equal(t, int64(1), records[0].Attrs["delivery.n"])
		assert.Equal(t, int64(503), records[0].Attrs["delivery.http.status"])
	})

	t.Run("concurrent writers", func(t *testing.T) {
		logger, handler := NewTestLogger(nil)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				logger.With(slog.Int("worker", n)).Info("location done")
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, handler.Count())
	})
}
