// Package middleware holds the HTTP middleware chain of the job API:
// request IDs, structured request logging, submit rate limiting, security
// headers and OpenTelemetry request instrumentation.
package middleware
