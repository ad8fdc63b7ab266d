package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/browser/browsertest"
	"posextract/internal/config"
	"posextract/internal/shared/testutil"
	"posextract/pkg/contracts/domain"
)

func navigatorOptions() NavigatorOptions {
	return NavigatorOptions{
		BaseURL:           "https://pos.example",
		ReportPath:        "/reports/sales",
		DateLayout:        "01/02/2006",
		Selectors:         config.DefaultSelectors(),
		NavigationTimeout: time.Second,
		SelectorTimeout:   200 * time.Millisecond,
	}
}

func TestResolveDate(t *testing.T) {
	now := time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC)

	got, err := ResolveDate("", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", got)

	got, err = ResolveDate("2024-02-29", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", got)

	_, err = ResolveDate("15/03/2024", now)
	assert.Error(t, err)
}

func TestOpenReportAppliesDate(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	site := browsertest.NewSite("https://pos.example", t.TempDir(), []browsertest.SiteLocation{{Name: "Downtown", ID: "101"}})
	site.LoggedIn = true
	nav := NewNavigator(navigatorOptions(), logger)

	date, err := nav.OpenReport(context.Background(), site.Page, "2024-03-15")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-15", date)
	assert.Equal(t, "03/15/2024", site.AppliedDate)
	assert.Equal(t, []string{"https://pos.example/reports/sales"}, site.Page.Navigations)
	assert.True(t, handler.ContainsMessage("Report view ready"))
}

func TestOpenReportDefaultsToToday(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	site := browsertest.NewSite("https://pos.example", t.TempDir(), nil)
	site.LoggedIn = true
	nav := NewNavigator(navigatorOptions(), logger)
	nav.now = func() time.Time { return time.Date(2024, 7, 4, 9, 0, 0, 0, time.UTC) }

	date, err := nav.OpenReport(context.Background(), site.Page, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-04", date)
}

func TestOpenReportFailures(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	t.Run("navigation error", func(t *testing.T) {
		page := browsertest.NewPage("about:blank")
		page.OnNavigate = func(*browsertest.Page, string) error { return errors.New("net::ERR_TIMED_OUT") }

		_, err := NewNavigator(navigatorOptions(), logger).OpenReport(context.Background(), page, "")

		var navErr *NavigationError
		require.ErrorAs(t, err, &navErr)
		assert.Equal(t, "navigate", navErr.Step)
	})

	t.Run("report never renders", func(t *testing.T) {
		page := browsertest.NewPage("about:blank")

		_, err := NewNavigator(navigatorOptions(), logger).OpenReport(context.Background(), page, "")

		var navErr *NavigationError
		require.ErrorAs(t, err, &navErr)
		assert.Equal(t, "wait for report", navErr.Step)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("bad date", func(t *testing.T) {
		page := browsertest.NewPage("about:blank")

		_, err := NewNavigator(navigatorOptions(), logger).OpenReport(context.Background(), page, "yesterday")

		var navErr *NavigationError
		require.ErrorAs(t, err, &navErr)
		assert.Equal(t, "resolve date", navErr.Step)
		assert.Empty(t, page.Navigations)
	})
}

func TestParseLocationOptions(t *testing.T) {
	html := `<div id="location-filter">
		<select><option value="">All</option><option value="7"> Harbor  Front </option></select>
		<input type="checkbox" id="l1" value="101"><label for="l1">Downtown</label>
		<label><input type="checkbox" value="102"> Airport </label>
		<input type="radio" value="103" data-name="Mall">
	</div>`

	listed, err := ParseLocationOptions(html)
	require.NoError(t, err)
	assert.Equal(t, []ListedLocation{
		{Name: "Harbor  Front", ID: "7"},
		{Name: "Downtown", ID: "101"},
		{Name: "Airport", ID: "102"},
		{Name: "Mall", ID: "103"},
	}, listed)
}

func TestMatchLocation(t *testing.T) {
	listed := []ListedLocation{
		{Name: "Downtown Store", ID: "1"},
		{Name: "Airport Kiosk", ID: "2"},
		{Name: "Harbor Front", ID: "3"},
	}

	tests := []struct {
		name   string
		wantID string
		found  bool
	}{
		{"downtown   store", "1", true},
		{"Airport Kiosks", "2", true},
		{"Harbour Front", "3", true},
		{"Warehouse", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchLocation(tt.name, listed)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestMatchLocationNumberedStores(t *testing.T) {
	listed := []ListedLocation{
		{Name: "Downtown 1", ID: "101"},
		{Name: "Airport", ID: "102"},
	}

	for _, name := range []string{"Downtown 2", "Downtown 3", "Downtown", "Downtown 12"} {
		t.Run(name, func(t *testing.T) {
			got, ok := MatchLocation(name, listed)
			assert.False(t, ok)
			assert.Empty(t, got.ID)
		})
	}

	got, ok := MatchLocation("downtown  1", listed)
	require.True(t, ok)
	assert.Equal(t, "101", got.ID)
}

func TestMatchLocationRequiresClearWinner(t *testing.T) {
	listed := []ListedLocation{
		{Name: "Harbor Front East", ID: "1"},
		{Name: "Harbor Front West", ID: "2"},
	}
	_, ok := MatchLocation("Harbor Front", listed)
	assert.False(t, ok)
}

func TestResolveLocationsNeverSharesAnID(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	site := browsertest.NewSite("https://pos.example", t.TempDir(), []browsertest.SiteLocation{
		{Name: "Downtown 1", ID: "101"},
		{Name: "Airport Kiosk", ID: "102"},
	})
	nav := NewNavigator(navigatorOptions(), logger)

	resolved, err := nav.ResolveLocations(context.Background(), site.Page, []domain.Location{
		{Name: "Downtown 2"},
		{Name: "Airport Kiosks"},
		{Name: "Airport Kiosk"},
		{Name: "Downtown 1", ExternalID: "555"},
		{Name: "Mall", ExternalID: "101"},
		{Name: "downtown 1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Location{
		{Name: "Downtown 2"},
		{Name: "Airport Kiosks"},
		{Name: "Airport Kiosk", ExternalID: "102"},
		{Name: "Downtown 1", ExternalID: "555"},
		{Name: "Mall", ExternalID: "101"},
		{Name: "downtown 1"},
	}, resolved)
}

func TestResolveLocationsFillsMissingIDs(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	site := browsertest.NewSite("https://pos.example", t.TempDir(), []browsertest.SiteLocation{
		{Name: "Downtown", ID: "101"},
		{Name: "Airport", ID: "102"},
	})
	nav := NewNavigator(navigatorOptions(), logger)

	resolved, err := nav.ResolveLocations(context.Background(), site.Page, []domain.Location{
		{Name: "downtown"},
		{Name: "Airport", ExternalID: "999"},
		{Name: "Nowhere"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Location{
		{Name: "downtown", ExternalID: "101"},
		{Name: "Airport", ExternalID: "999"},
		{Name: "Nowhere"},
	}, resolved)
}

func TestResolveLocationsSkipsLookupWhenComplete(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	nav := NewNavigator(navigatorOptions(), nil)

	in := []domain.Location{{Name: "A", ExternalID: "1"}}
	out, err := nav.ResolveLocations(context.Background(), page, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
