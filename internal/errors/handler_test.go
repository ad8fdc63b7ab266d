package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/internal/operations"
	"posextract/internal/shared/testutil"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		typ      string
		extraKey string
	}{
		{"validation", &operations.ValidationError{Field: "report_date", Message: "bad"}, http.StatusBadRequest, TypeValidation, "errors"},
		{"conflict", &operations.ConflictError{ActiveJobID: "abc"}, http.StatusConflict, TypeJobRunning, "active_job_id"},
		{"not found", fmt.Errorf("job x: %w", operations.ErrJobNotFound), http.StatusNotFound, TypeJobNotFound, ""},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout, ""},
		{"api error", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit, "error_code"},
		{"internal", &operations.InternalError{Op: "admit", Err: fmt.Errorf("db down")}, http.StatusInternalServerError, TypeInternal, ""},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			h := NewErrorHandler(logger, false)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
			rec := httptest.NewRecorder()

			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.typ, body["type"])
			assert.EqualValues(t, tt.status, body["status"])
			assert.Equal(t, "/api/v1/jobs", body["instance"])
			assert.Contains(t, body, "trace_id")
			if tt.extraKey != "" {
				assert.Contains(t, body, tt.extraKey)
			}
		})
	}
}

func TestHandleErrorHidesInternalDetail(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("dsn=secret"))

	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)
	mw := RecoveryMiddleware(h)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "kaboom", body["panic"])
	assert.True(t, handler.ContainsMessage("panic recovered"))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := NewErrorHandler(nil, false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "DELETE")
}

func TestProblemDetailsMarshal(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeJobRunning, "Conflict", "", "").
		WithExtension("active_job_id", "abc").
		WithExtension("status", 999)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, "abc", body["active_job_id"])
	assert.EqualValues(t, http.StatusConflict, body["status"], "standard members win")
	assert.NotContains(t, body, "detail")
}

func TestAPIErrorFields(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=0", nil)
	rec := httptest.NewRecorder()

	h.HandleError(rec, req, ErrValidation("limit", "out of range"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	require.Len(t, body["errors"], 1)
	field := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "limit", field["field"])
}

func TestInvalidRequestHidesCause(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()

	h.HandleError(rec, req, InvalidRequestWithError(fmt.Errorf("unexpected token at offset 3")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "offset 3")
	assert.True(t, logs.ContainsMessage("request failed"))
}
