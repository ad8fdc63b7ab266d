package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil(t *testing.T) {
	t.Run("satisfied immediately", func(t *testing.T) {
		var calls int32
		err := Until(context.Background(), time.Hour, time.Second, func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("satisfied after a few polls", func(t *testing.T) {
		var calls int32
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) >= 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("times out", func(t *testing.T) {
		start := time.Now()
		err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("predicate error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := Until(ctx, 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFirstOf(t *testing.T) {
	var ticks int32
	never := func(context.Context) (bool, error) { return false, nil }
	later := func(context.Context) (bool, error) { return atomic.AddInt32(&ticks, 1) > 2, nil }

	idx, err := FirstOf(context.Background(), 5*time.Millisecond, time.Second, never, later)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = FirstOf(context.Background(), 5*time.Millisecond, 20*time.Millisecond, never)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, -1, idx)
}
