// Package browsertest provides a scriptable in-memory browser.Page.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned for selectors the fake does not know about.
var ErrNotFound = errors.New("selector not found")

// Page is a fake browser.Page. Selectors listed in Visible are present and
// visible; hooks let tests change that state when the code under test acts.
type Page struct {
	mu sync.Mutex

	URL     string
	Visible map[string]bool
	Values  map[string]string
	HTML    map[string]string
	Attrs   map[string]map[string]string

	OnNavigate func(p *Page, url string) error
	OnClick    map[string]func(p *Page) error
	OnEvaluate func(p *Page, expression string) (any, error)

	// Err, when set, fails every call as if the browser had gone away.
	Err error

	Navigations []string
	Clicks      []string
}

// NewPage returns an empty fake positioned at url.
func NewPage(url string) *Page {
	return &Page{
		URL:     url,
		Visible: make(map[string]bool),
		Values:  make(map[string]string),
		HTML:    make(map[string]string),
		Attrs:   make(map[string]map[string]string),
		OnClick: make(map[string]func(p *Page) error),
	}
}

// Show marks selectors visible. Callable from hooks while the fake is locked.
func (p *Page) Show(selectors ...string) {
	for _, s := range selectors {
		p.Visible[s] = true
	}
}

// Hide removes selectors. Callable from hooks while the fake is locked.
func (p *Page) Hide(selectors ...string) {
	for _, s := range selectors {
		delete(p.Visible, s)
	}
}

// Set updates fake state under the lock from outside a hook.
func (p *Page) Set(fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// ClickCount returns how many times selector was clicked.
func (p *Page) ClickCount(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Navigations = append(p.Navigations, url)
	if p.OnNavigate != nil {
		return p.OnNavigate(p, url)
	}
	p.URL = url
	return nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.URL, nil
}

// WaitVisible polls until the selector is visible or ctx ends.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		err, visible := p.Err, p.Visible[selector]
		p.mu.Unlock()
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, p.Err
	}
	return p.Visible[selector], nil
}

func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if !p.Visible[selector] {
		return fmt.Errorf("set value %q: %w", selector, ErrNotFound)
	}
	p.Values[selector] = value
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if !p.Visible[selector] {
		return fmt.Errorf("click %q: %w", selector, ErrNotFound)
	}
	p.Clicks = append(p.Clicks, selector)
	if hook := p.OnClick[selector]; hook != nil {
		return hook(p)
	}
	return nil
}

func (p *Page) OuterHTML(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	html, ok := p.HTML[selector]
	if !ok {
		return "", fmt.Errorf("outer html %q: %w", selector, ErrNotFound)
	}
	return html, nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", false, p.Err
	}
	attrs, ok := p.Attrs[selector]
	if !ok {
		return "", false, nil
	}
	v, ok := attrs[name]
	return v, ok, nil
}

// Evaluate passes the hook's return value through JSON into result, the
// same way a real page would deliver it.
func (p *Page) Evaluate(ctx context.Context, expression string, result any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.OnEvaluate == nil {
		return nil
	}
	v, err := p.OnEvaluate(p, expression)
	if err != nil || result == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}
