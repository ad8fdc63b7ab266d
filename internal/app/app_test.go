package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/browser"
	"posextract/internal/browser/browsertest"
	"posextract/internal/config"
	"posextract/internal/operations"
	"posextract/internal/shared/testutil"
	ws "posextract/internal/websocket"
	"posextract/pkg/contracts/domain"
)

const siteURL = "https://pos.example"

type siteSession struct {
	page browser.Page
}

func (s *siteSession) EnsureSession(context.Context) (browser.Page, error) { return s.page, nil }
func (s *siteSession) Restart(context.Context) (browser.Page, error)       { return s.page, nil }
func (s *siteSession) Disconnected() bool                                  { return false }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.SubmitRPS = 100
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "posextract.log")
	cfg.Paths = config.PathsConfig{
		DataDir:     dir,
		DownloadDir: filepath.Join(dir, "downloads"),
		ReportsDir:  filepath.Join(dir, "reports"),
		ProfileDir:  filepath.Join(dir, "profile"),
	}
	cfg.Site.BaseURL = siteURL
	cfg.Credentials = config.CredentialsConfig{Username: "manager", Password: "s3cret"}
	cfg.Extraction.Locations = config.LocationList{{Name: "Downtown"}, {Name: "Airport"}, {Name: "Harbor"}}
	cfg.Extraction.LocationInterval = 0
	cfg.Timeouts = config.TimeoutsConfig{
		Launch:       time.Second,
		Navigation:   time.Second,
		Selector:     200 * time.Millisecond,
		Login:        time.Second,
		Challenge:    time.Second,
		Download:     80 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Job:          10 * time.Second,
	}
	cfg.Delivery.RetryDelay = 10 * time.Millisecond
	cfg.Delivery.AttemptTimeout = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestSite(cfg *config.Config) *browsertest.Site {
	return browsertest.NewSite(siteURL, cfg.Paths.DownloadDir, []browsertest.SiteLocation{
		{Name: "Downtown", ID: "101", Rows: 5},
		{Name: "Airport", ID: "102", NoExport: true},
		{Name: "Harbor", ID: "103", Rows: 7},
	})
}

// startApp serves a on a loopback listener until the test ends.
func startApp(t *testing.T, a *Application) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("application did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

type deliverySink struct {
	mu       sync.Mutex
	payloads []domain.DeliveryPayload
}

func (s *deliverySink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p domain.DeliveryPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *deliverySink) received() []domain.DeliveryPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeliveryPayload(nil), s.payloads...)
}

func TestApplicationEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	site := newTestSite(cfg)
	logger, _ := testutil.NewTestLogger(t)

	a, err := New(context.Background(), cfg, logger, WithSession(&siteSession{page: site.Page}))
	require.NoError(t, err)
	base := startApp(t, a)

	sink := &deliverySink{}
	receiver := httptest.NewServer(sink)
	defer receiver.Close()

	body := `{"report_date":"2024-03-15","delivery_url":"` + receiver.URL + `"}`
	resp, err := http.Post(base+"/api/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := a.Manager.Wait(ctx, accepted.JobID)
	require.NoError(t, err)

	require.Equal(t, domain.JobStatusCompleted, job.Status, job.Error)
	require.NotNil(t, job.Result)
	assert.Equal(t, 12, job.Result.TotalItems)
	assert.Equal(t, 2, job.Result.SuccessfulLocations)
	assert.Equal(t, 1, job.Result.FailedLocations)
	assert.InDelta(t, testutil.SalesTotal(5)+testutil.SalesTotal(7), job.Result.TotalSales, 0.001)

	require.NotEmpty(t, job.Result.ExportPath)
	assert.Equal(t, a.Paths.ReportsDir, filepath.Dir(job.Result.ExportPath))
	_, err = os.Stat(job.Result.ExportPath)
	assert.NoError(t, err)

	require.NotNil(t, job.Delivered)
	assert.True(t, *job.Delivered)
	payloads := sink.received()
	require.Len(t, payloads, 1)
	assert.Equal(t, accepted.JobID, payloads[0].JobID)
	assert.True(t, payloads[0].Success)

	resp, err = http.Get(base + "/api/v1/jobs/" + accepted.JobID)
	require.NoError(t, err)
	var fetched domain.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	resp.Body.Close()
	assert.Equal(t, domain.JobStatusCompleted, fetched.Status)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), `posextract_jobs_total{outcome="completed"} 1`)
	assert.Contains(t, string(metrics), "http_requests_total")

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplicationWebSocketGreeting(t *testing.T) {
	cfg := testConfig(t)
	site := newTestSite(cfg)
	logger, _ := testutil.NewTestLogger(t)

	a, err := New(context.Background(), cfg, logger, WithSession(&siteSession{page: site.Page}))
	require.NoError(t, err)
	base := startApp(t, a)

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.TypeConnection, msg.Type)

	job, err := a.Manager.Submit(context.Background(), operations.SubmitRequest{ReportDate: "2024-03-15"})
	require.NoError(t, err)

	// Snapshots for the job arrive until it is terminal.
	sawJob := false
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.TypeJobSnapshot && msg.JobID == job.ID {
			sawJob = true
			data, _ := msg.Data.(map[string]any)
			if data["status"] == string(domain.JobStatusCompleted) {
				break
			}
		}
	}
	assert.True(t, sawJob)
}

func TestApplicationRecoversInterruptedJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(cfg.Paths.DataDir, "jobs.db")
	logger, _ := testutil.NewTestLogger(t)

	first, err := New(context.Background(), cfg, logger, WithSession(&siteSession{page: browsertest.NewPage("about:blank")}))
	require.NoError(t, err)
	stale := &domain.Job{ID: "7d1c1f3e-9a57-4d8c-9a36-0b8f4d6e0c11", Status: domain.JobStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, first.Store.TryAdmit(context.Background(), stale))
	// Simulate a crash: close the store without finalizing the job.
	require.NoError(t, first.Store.Close())

	second, err := New(context.Background(), cfg, logger, WithSession(&siteSession{page: browsertest.NewPage("about:blank")}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	job, err := second.Manager.GetStatus(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	_, err = second.Manager.Active(context.Background())
	assert.Error(t, err)
}

func TestNewRejectsUnknownExportFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Format = "pdf"
	logger, _ := testutil.NewTestLogger(t)

	_, err := New(context.Background(), cfg, logger, WithSession(&siteSession{}))
	assert.Error(t, err)
}

func TestNewWithoutExport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Format = "none"
	logger, _ := testutil.NewTestLogger(t)

	a, err := New(context.Background(), cfg, logger, WithSession(&siteSession{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	assert.Nil(t, a.Pipeline.Exporter)
}
