// Package extraction drives the report view and exports each configured
// location in turn.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"

	"posextract/internal/browser"
	"posextract/internal/config"
	"posextract/pkg/contracts/domain"
)

// ISODate is the canonical report date format.
const ISODate = "2006-01-02"

// minNameSimilarity is the Jaro-Winkler score above which a listed option is
// taken to be a configured location.
const minNameSimilarity = 0.92

// minMatchMargin is how far the best fuzzy score must lead the runner-up.
const minMatchMargin = 0.03

// NavigationError reports a failure to reach or prepare the report view.
// It is fatal to the job.
type NavigationError struct {
	Step string
	URL  string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("report navigation failed at %s (%s): %v", e.Step, e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// NavigatorOptions describe where the report lives.
type NavigatorOptions struct {
	BaseURL           string
	ReportPath        string
	DateLayout        string
	Selectors         config.SelectorConfig
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
}

// NavigatorOptionsFrom maps application config onto navigator options.
func NavigatorOptionsFrom(cfg *config.Config) NavigatorOptions {
	return NavigatorOptions{
		BaseURL:           cfg.Site.BaseURL,
		ReportPath:        cfg.Site.ReportPath,
		DateLayout:        cfg.Site.DateLayout,
		Selectors:         cfg.Site.Selectors,
		NavigationTimeout: cfg.Timeouts.Navigation,
		SelectorTimeout:   cfg.Timeouts.Selector,
	}
}

// Navigator opens the sales report and scopes it to a date.
type Navigator struct {
	opts   NavigatorOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewNavigator creates a navigator.
func NewNavigator(opts NavigatorOptions, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DateLayout == "" {
		opts.DateLayout = ISODate
	}
	return &Navigator{
		opts:   opts,
		logger: logger.With(slog.String("component", "report_navigator")),
		now:    time.Now,
	}
}

// ResolveDate returns date in YYYY-MM-DD form, defaulting to today.
func ResolveDate(date string, now time.Time) (string, error) {
	if date == "" {
		return now.Format(ISODate), nil
	}
	t, err := time.Parse(ISODate, date)
	if err != nil {
		return "", fmt.Errorf("invalid report date %q: %w", date, err)
	}
	return t.Format(ISODate), nil
}

// ReportURL joins the base URL and the report path.
func (n *Navigator) ReportURL() (string, error) {
	return url.JoinPath(n.opts.BaseURL, n.opts.ReportPath)
}

// OpenReport navigates to the report view, applies the date scope and waits
// for the location filter. It returns the ISO date actually applied.
func (n *Navigator) OpenReport(ctx context.Context, page browser.Page, date string) (string, error) {
	sel := n.opts.Selectors

	reportURL, err := n.ReportURL()
	if err != nil {
		return "", &NavigationError{Step: "build report url", URL: n.opts.BaseURL, Err: err}
	}
	isoDate, err := ResolveDate(date, n.now())
	if err != nil {
		return "", &NavigationError{Step: "resolve date", URL: reportURL, Err: err}
	}

	navCtx, cancel := browser.WithTimeout(ctx, n.opts.NavigationTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, reportURL); err != nil {
		return "", &NavigationError{Step: "navigate", URL: reportURL, Err: err}
	}
	if err := n.waitVisible(navCtx, page, sel.ReportRoot); err != nil {
		return "", &NavigationError{Step: "wait for report", URL: reportURL, Err: err}
	}

	if sel.DateInput != "" {
		t, _ := time.Parse(ISODate, isoDate)
		rendered := t.Format(n.opts.DateLayout)
		if err := n.do(navCtx, func(ctx context.Context) error {
			return page.SetValue(ctx, sel.DateInput, rendered)
		}); err != nil {
			return "", &NavigationError{Step: "set date", URL: reportURL, Err: err}
		}
		if sel.ApplyDate != "" {
			if err := n.do(navCtx, func(ctx context.Context) error {
				return page.Click(ctx, sel.ApplyDate)
			}); err != nil {
				return "", &NavigationError{Step: "apply date", URL: reportURL, Err: err}
			}
		}
	}

	if err := n.waitVisible(navCtx, page, sel.LocationList); err != nil {
		return "", &NavigationError{Step: "wait for location filter", URL: reportURL, Err: err}
	}

	n.logger.InfoContext(ctx, "Report view ready",
		slog.String("url", reportURL),
		slog.String("date", isoDate))
	return isoDate, nil
}

// do runs one page interaction under the selector timeout.
func (n *Navigator) do(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := browser.WithTimeout(ctx, n.opts.SelectorTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (n *Navigator) waitVisible(ctx context.Context, page browser.Page, selector string) error {
	if selector == "" {
		return nil
	}
	waitCtx, cancel := browser.WithTimeout(ctx, n.opts.SelectorTimeout)
	defer cancel()
	return page.WaitVisible(waitCtx, selector)
}

// ListedLocation is an entry of the report's location filter.
type ListedLocation struct {
	Name string
	ID   string
}

// ParseLocationOptions extracts options from the location filter markup.
// Both <option> lists and checkbox/radio inputs with labels are understood.
func ParseLocationOptions(html string) ([]ListedLocation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse location filter: %w", err)
	}

	var listed []ListedLocation
	doc.Find("option").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("value")
		name := strings.TrimSpace(s.Text())
		if id == "" || name == "" {
			return
		}
		listed = append(listed, ListedLocation{Name: name, ID: id})
	})

	doc.Find(`input[type="checkbox"], input[type="radio"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("value")
		if id == "" {
			return
		}
		name := ""
		if elemID, ok := s.Attr("id"); ok && elemID != "" {
			name = strings.TrimSpace(doc.Find(`label[for="` + elemID + `"]`).First().Text())
		}
		if name == "" {
			name = strings.TrimSpace(s.Closest("label").Text())
		}
		if name == "" {
			name, _ = s.Attr("data-name")
		}
		if name == "" {
			return
		}
		listed = append(listed, ListedLocation{Name: name, ID: id})
	})
	return listed, nil
}

// MatchLocation finds the listed entry for name: exact after normalizing
// case and spacing, otherwise the closest Jaro-Winkler match above the
// similarity floor. A fuzzy candidate must carry the same numbers as name
// ("Downtown 2" never matches "Downtown 1") and beat the runner-up by
// minMatchMargin.
func MatchLocation(name string, listed []ListedLocation) (ListedLocation, bool) {
	return matchLocation(name, listed, nil)
}

// matchLocation is MatchLocation skipping entries whose ID is in claimed.
func matchLocation(name string, listed []ListedLocation, claimed map[string]string) (ListedLocation, bool) {
	want := normalizeName(name)
	for _, l := range listed {
		if normalizeName(l.Name) == want {
			if _, taken := claimed[l.ID]; taken {
				return ListedLocation{}, false
			}
			return l, true
		}
	}

	wantNumbers := numberTokens(want)
	var (
		best                ListedLocation
		bestScore, runnerUp float64
	)
	for _, l := range listed {
		if _, taken := claimed[l.ID]; taken {
			continue
		}
		candidate := normalizeName(l.Name)
		if numberTokens(candidate) != wantNumbers {
			continue
		}
		score := matchr.JaroWinkler(want, candidate, false)
		switch {
		case score > bestScore:
			best, bestScore, runnerUp = l, score, bestScore
		case score > runnerUp:
			runnerUp = score
		}
	}
	if bestScore >= minNameSimilarity && bestScore-runnerUp >= minMatchMargin {
		return best, true
	}
	return ListedLocation{}, false
}

// numberTokens returns the digit runs of s joined by spaces.
func numberTokens(s string) string {
	var (
		tokens []string
		cur    strings.Builder
	)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return strings.Join(tokens, " ")
}

// ResolveLocations fills missing external IDs from the live location filter.
// Locations that already carry an ID are returned untouched, and no listed ID
// is given to two locations. An unmatched location keeps an empty ID and is
// reported by the loop as a selection failure.
func (n *Navigator) ResolveLocations(ctx context.Context, page browser.Page, configured []domain.Location) ([]domain.Location, error) {
	resolved := append([]domain.Location(nil), configured...)

	claimed := make(map[string]string, len(resolved))
	missing := false
	for _, loc := range resolved {
		if loc.ExternalID == "" {
			missing = true
			continue
		}
		claimed[loc.ExternalID] = loc.Name
	}
	if !missing {
		return resolved, nil
	}

	readCtx, cancel := browser.WithTimeout(ctx, n.opts.SelectorTimeout)
	html, err := page.OuterHTML(readCtx, n.opts.Selectors.LocationList)
	cancel()
	if err != nil {
		return nil, &NavigationError{Step: "read location filter", URL: n.opts.ReportPath, Err: err}
	}
	listed, err := ParseLocationOptions(html)
	if err != nil {
		return nil, &NavigationError{Step: "read location filter", URL: n.opts.ReportPath, Err: err}
	}

	// Exact names claim their IDs before any fuzzy match is considered.
	pending := make([]int, 0, len(resolved))
	for i, loc := range resolved {
		if loc.ExternalID != "" {
			continue
		}
		want := normalizeName(loc.Name)
		found := false
		for _, l := range listed {
			if normalizeName(l.Name) != want {
				continue
			}
			if _, taken := claimed[l.ID]; !taken {
				n.assign(ctx, resolved, i, l, claimed)
			}
			found = true
			break
		}
		if !found {
			pending = append(pending, i)
		}
	}

	for _, i := range pending {
		match, ok := matchLocation(resolved[i].Name, listed, claimed)
		if !ok {
			n.logger.WarnContext(ctx, "Location not found in filter", slog.String("location", resolved[i].Name))
			continue
		}
		n.assign(ctx, resolved, i, match, claimed)
	}

	for _, loc := range resolved {
		if loc.ExternalID == "" {
			n.logger.WarnContext(ctx, "Location left unresolved", slog.String("location", loc.Name))
		}
	}
	return resolved, nil
}

func (n *Navigator) assign(ctx context.Context, resolved []domain.Location, i int, match ListedLocation, claimed map[string]string) {
	resolved[i].ExternalID = match.ID
	claimed[match.ID] = resolved[i].Name
	n.logger.DebugContext(ctx, "Resolved location id",
		slog.String("location", resolved[i].Name),
		slog.String("listed_as", match.Name),
		slog.String("id", match.ID))
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
