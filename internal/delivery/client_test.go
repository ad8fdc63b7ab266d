package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/config"
	"posextract/internal/infrastructure"
	"posextract/internal/shared/testutil"
	"posextract/pkg/contracts/domain"
)

func testConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		MaxRetries:     3,
		AttemptTimeout: 200 * time.Millisecond,
		RetryDelay:     5 * time.Millisecond,
	}
}

func testPayload() domain.DeliveryPayload {
	return domain.DeliveryPayload{
		JobID:   "job-1",
		Success: true,
		Status:  domain.JobStatusCompleted,
		Result:  &domain.JobResult{TotalItems: 12},
	}
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name         string
		failFirst    int32
		status       int
		want         bool
		wantAttempts int32
	}{
		{name: "first attempt succeeds", want: true, wantAttempts: 1},
		{name: "succeeds after two failures", failFirst: 2, want: true, wantAttempts: 3},
		{name: "always failing exhausts attempts", failFirst: 100, want: false, wantAttempts: 3},
		{name: "any 2xx counts", status: http.StatusNoContent, want: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			var got domain.DeliveryPayload
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&attempts, 1)
				if n <= tt.failFirst {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				status := tt.status
				if status == 0 {
					status = http.StatusOK
				}
				w.WriteHeader(status)
			}))
			defer srv.Close()

			logger, _ := testutil.NewTestLogger(t)
			c := NewClient(testConfig(), logger, nil)

			assert.Equal(t, tt.want, c.Deliver(context.Background(), testPayload(), srv.URL))
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
			if tt.want {
				assert.Equal(t, "job-1", got.JobID)
				assert.Equal(t, 12, got.Result.TotalItems)
			}
		})
	}
}

func TestDeliverAttemptTimeout(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.AttemptTimeout = 20 * time.Millisecond
	logger, _ := testutil.NewTestLogger(t)

	start := time.Now()
	assert.False(t, NewClient(cfg, logger, nil).Deliver(context.Background(), testPayload(), srv.URL))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDeliverInvalidURL(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := infrastructure.NewMetrics(reg)
	require.NoError(t, err)

	for _, target := range []string{"", "not a url", "/relative/path", "ftp://example.com/x", "http://"} {
		t.Run(target, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			c := NewClient(testConfig(), logger, metrics)
			assert.False(t, c.Deliver(context.Background(), testPayload(), target))
			assert.True(t, logs.ContainsMessage("configuration error"))
		})
	}
}

func TestDeliverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	logger, logs := testutil.NewTestLogger(t)
	assert.False(t, NewClient(testConfig(), logger, nil).Deliver(context.Background(), testPayload(), target))
	assert.True(t, logs.ContainsMessage("Delivery failed after all attempts"))
}

func TestDeliverCancelledBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	logger, _ := testutil.NewTestLogger(t)
	assert.False(t, NewClient(cfg, logger, nil).Deliver(ctx, testPayload(), srv.URL))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/hook"))
	assert.NoError(t, ValidateURL("http://localhost:9000"))
	assert.Error(t, ValidateURL("example.com/hook"))
	assert.Error(t, ValidateURL("mailto:a@b.c"))
}
