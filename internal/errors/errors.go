package errors

import (
	"net/http"
)

// APIError is an error the transport layer raises itself, before the
// request reaches the job manager.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	// Fields lists rejected request fields, rendered as the problem's errors member.
	Fields []ValidationError
	// Cause is the underlying error, if any. It is logged, never rendered.
	Cause error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Cause }

// ValidationError is a single rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	ErrRateLimitExceeded = &APIError{StatusCode: http.StatusTooManyRequests, ErrorCode: "RATE_LIMIT_EXCEEDED", Message: "Too many job submissions"}
)

// InvalidRequestWithError reports a request body that could not be decoded.
func InvalidRequestWithError(err error) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  "INVALID_REQUEST",
		Message:    "Request body is not valid JSON",
		Cause:      err,
	}
}

// ErrValidation reports one invalid query or body field.
func ErrValidation(field, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  "VALIDATION_FAILED",
		Message:    "Request validation failed",
		Fields:     []ValidationError{{Field: field, Message: message}},
	}
}
