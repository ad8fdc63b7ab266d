// Package http exposes the job manager over HTTP.
//
// Handlers stay thin: they decode the request, call the manager and render
// the result with go-chi/render. Every failure is rendered as an RFC 7807
// problem by internal/errors.
//
// Routes:
//
//	POST /api/v1/jobs          submit a job (202, 400, 409, 429)
//	GET  /api/v1/jobs          recent jobs, newest first (?limit=)
//	GET  /api/v1/jobs/active   the pending or running job (404 when idle)
//	GET  /api/v1/jobs/{id}     one job (404 when unknown)
//	GET  /healthz              dependency checks (503 when one fails)
//	GET  /metrics              Prometheus exposition
//	GET  /ws                   job snapshot push
package http
