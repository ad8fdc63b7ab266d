package browser

import (
	"context"

	"github.com/chromedp/chromedp"
)

// StealthProfile customizes how the browser presents itself. Implementations
// contribute allocator flags and may prepare each new tab.
type StealthProfile interface {
	AllocatorOptions() []chromedp.ExecAllocatorOption
	PrepareTab(ctx context.Context) error
}

// PlainProfile only overrides the user agent when one is configured.
type PlainProfile struct {
	UserAgent string
}

func (p PlainProfile) AllocatorOptions() []chromedp.ExecAllocatorOption {
	if p.UserAgent == "" {
		return nil
	}
	return []chromedp.ExecAllocatorOption{chromedp.UserAgent(p.UserAgent)}
}

func (p PlainProfile) PrepareTab(context.Context) error {
	return nil
}
