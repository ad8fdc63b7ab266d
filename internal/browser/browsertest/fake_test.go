package browsertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageClickHookChangesVisibility(t *testing.T) {
	p := NewPage("about:blank")
	p.Show("#login")
	p.OnClick["#login"] = func(p *Page) error {
		p.Hide("#login")
		p.Show("#dashboard")
		p.URL = "https://pos.example/dashboard"
		return nil
	}

	ctx := context.Background()
	require.NoError(t, p.Click(ctx, "#login"))

	ok, err := p.Exists(ctx, "#dashboard")
	require.NoError(t, err)
	assert.True(t, ok)

	loc, err := p.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://pos.example/dashboard", loc)
	assert.Equal(t, 1, p.ClickCount("#login"))
}

func TestPageWaitVisibleTimesOut(t *testing.T) {
	p := NewPage("about:blank")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.WaitVisible(ctx, "#never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPageWaitVisibleSeesLateElement(t *testing.T) {
	p := NewPage("about:blank")
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Set(func(p *Page) { p.Show("#late") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.WaitVisible(ctx, "#late"))
}

func TestPageErrFailsEveryCall(t *testing.T) {
	gone := errors.New("websocket closed")
	p := NewPage("about:blank")
	p.Err = gone
	ctx := context.Background()

	assert.ErrorIs(t, p.Navigate(ctx, "https://x"), gone)
	assert.ErrorIs(t, p.Click(ctx, "#a"), gone)
	_, err := p.Exists(ctx, "#a")
	assert.ErrorIs(t, err, gone)
}

func TestPageEvaluateDecodesResult(t *testing.T) {
	p := NewPage("about:blank")
	p.OnEvaluate = func(p *Page, expr string) (any, error) {
		return []string{"a", "b"}, nil
	}
	var out []string
	require.NoError(t, p.Evaluate(context.Background(), "x", &out))
	assert.Equal(t, []string{"a", "b"}, out)
}
