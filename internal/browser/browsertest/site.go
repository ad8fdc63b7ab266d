package browsertest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"posextract/internal/config"
	"posextract/internal/download"
	"posextract/internal/shared/testutil"
)

// SiteLocation is a store offered by the fake back-office.
type SiteLocation struct {
	Name string
	ID   string
	// Rows is the number of item rows its export contains.
	Rows int
	// NoExport makes the export button do nothing for this location.
	NoExport bool
	// CrashOnSelect makes the first click on this location's option take
	// the browser down.
	CrashOnSelect bool
}

// ErrBrowserGone is what every page call returns after a crash.
var ErrBrowserGone = errors.New("browser connection lost")

// Site scripts a Page to behave like the vendor back-office: login form,
// sales report with a checkbox location filter and a CSV export that lands
// in DownloadDir.
type Site struct {
	Page        *Page
	BaseURL     string
	DownloadDir string
	Pattern     string
	Selectors   config.SelectorConfig
	Locations   []SiteLocation

	LoggedIn    bool
	RejectLogin bool
	AppliedDate string
	Exports     []string
	Crashes     int
	checked     map[string]bool
	down        bool
}

// NewSite builds a fake back-office at baseURL.
func NewSite(baseURL, downloadDir string, locations []SiteLocation) *Site {
	s := &Site{
		Page:        NewPage("about:blank"),
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		DownloadDir: downloadDir,
		Pattern:     config.DefaultArtifactPattern,
		Selectors:   config.DefaultSelectors(),
		Locations:   locations,
		checked:     make(map[string]bool),
	}
	s.Page.HTML[s.Selectors.LocationList] = s.filterHTML()
	s.Page.OnNavigate = s.navigate
	s.Page.OnEvaluate = s.evaluate
	s.Page.OnClick[s.Selectors.SubmitButton] = s.submit
	s.Page.OnClick[s.Selectors.ApplyDate] = s.applyDate
	s.Page.OnClick[s.Selectors.ExportButton] = s.export
	for _, loc := range locations {
		id, crash := loc.ID, loc.CrashOnSelect
		s.Page.OnClick[s.optionSelector(id)] = func(p *Page) error {
			if crash && s.Crashes == 0 {
				s.crash(p)
				return ErrBrowserGone
			}
			s.checked[id] = !s.checked[id]
			return nil
		}
	}
	return s
}

// crash drops the session the way a dead browser would: logged out, filter
// cleared, every call failing until Relaunch.
func (s *Site) crash(p *Page) {
	s.Crashes++
	s.down = true
	s.LoggedIn = false
	s.checked = make(map[string]bool)
	p.Err = ErrBrowserGone
	p.URL = "about:blank"
	p.Visible = make(map[string]bool)
}

// Down reports whether the fake browser has crashed and not been relaunched.
func (s *Site) Down() bool {
	s.Page.mu.Lock()
	defer s.Page.mu.Unlock()
	return s.down
}

// Relaunch brings the page back after a crash, logged out.
func (s *Site) Relaunch() {
	s.Page.Set(func(p *Page) {
		s.down = false
		p.Err = nil
	})
}

// Checked returns the ids currently selected in the filter.
func (s *Site) Checked() []string {
	s.Page.mu.Lock()
	defer s.Page.mu.Unlock()
	var ids []string
	for _, loc := range s.Locations {
		if s.checked[loc.ID] {
			ids = append(ids, loc.ID)
		}
	}
	return ids
}

func (s *Site) optionSelector(id string) string {
	return strings.ReplaceAll(s.Selectors.LocationOption, "{id}", id)
}

func (s *Site) filterHTML() string {
	var b strings.Builder
	b.WriteString(`<div id="location-filter">`)
	for _, loc := range s.Locations {
		fmt.Fprintf(&b, `<input type="checkbox" id="loc-%s" value="%s"><label for="loc-%s">%s</label>`,
			loc.ID, loc.ID, loc.ID, loc.Name)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func (s *Site) navigate(p *Page, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if !s.LoggedIn {
		p.URL = s.BaseURL + "/login"
		p.Show(s.Selectors.UsernameInput, s.Selectors.PasswordInput, s.Selectors.SubmitButton)
		return nil
	}
	if strings.HasPrefix(u.Path, "/reports") {
		p.URL = rawURL
		p.Show(s.Selectors.ReportRoot, s.Selectors.DateInput, s.Selectors.ApplyDate,
			s.Selectors.LocationList, s.Selectors.ExportButton)
		for _, loc := range s.Locations {
			p.Show(s.optionSelector(loc.ID))
		}
		return nil
	}
	p.URL = s.BaseURL + "/dashboard"
	return nil
}

func (s *Site) submit(p *Page) error {
	if s.RejectLogin {
		p.Show(s.Selectors.LoginError)
		return nil
	}
	s.LoggedIn = true
	p.Hide(s.Selectors.UsernameInput, s.Selectors.PasswordInput, s.Selectors.SubmitButton)
	p.URL = s.BaseURL + "/dashboard"
	return nil
}

func (s *Site) applyDate(p *Page) error {
	s.AppliedDate = p.Values[s.Selectors.DateInput]
	return nil
}

func (s *Site) evaluate(p *Page, expr string) (any, error) {
	if strings.Contains(expr, "querySelectorAll") {
		n := 0
		for _, on := range s.checked {
			if on {
				n++
			}
		}
		return n, nil
	}
	return true, nil
}

func (s *Site) export(p *Page) error {
	var current *SiteLocation
	for i := range s.Locations {
		if s.checked[s.Locations[i].ID] {
			if current != nil {
				return fmt.Errorf("export with more than one location selected")
			}
			current = &s.Locations[i]
		}
	}
	if current == nil {
		return fmt.Errorf("export with no location selected")
	}
	s.Exports = append(s.Exports, current.Name)
	if current.NoExport {
		return nil
	}

	date := s.AppliedDate
	name := download.ArtifactName(s.Pattern, current.Name, current.ID, date)
	if err := os.MkdirAll(s.DownloadDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.DownloadDir, name), []byte(testutil.SalesCSV(current.Name, date, current.Rows)), 0644)
}
