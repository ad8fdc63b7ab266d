package operations

import (
	"context"
	"errors"
	"fmt"

	"posextract/internal/auth"
	"posextract/internal/browser"
	"posextract/internal/extraction"
)

// ErrorType classifies job errors for logging, metrics and HTTP mapping.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeInvalidState   ErrorType = "invalid_state"
	ErrorTypeSession        ErrorType = "session"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeNavigation     ErrorType = "navigation"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeCancellation   ErrorType = "cancellation"
	ErrorTypeInternal       ErrorType = "internal"
)

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("a job is already pending or running")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an update would move a job
	// outside pending -> running -> {completed, failed}.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ConflictError is returned by Submit when admission control refuses a job.
type ConflictError struct {
	ActiveJobID string
}

func (e *ConflictError) Error() string {
	if e.ActiveJobID == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s (active job %s)", ErrConflict, e.ActiveJobID)
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// InternalError wraps unexpected failures, including recovered panics.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// ValidationError reports a rejected submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StageError marks the pipeline stage a fatal error came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// GetErrorType returns the class of err.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var (
		validationErr *ValidationError
		internalErr   *InternalError
		authErr       *auth.AuthenticationError
		navErr        *extraction.NavigationError
		sessionErr    *browser.SessionError
	)
	switch {
	case errors.As(err, &validationErr):
		return ErrorTypeValidation
	case errors.Is(err, ErrConflict):
		return ErrorTypeConflict
	case errors.Is(err, ErrJobNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return ErrorTypeInvalidState
	case errors.As(err, &internalErr):
		return ErrorTypeInternal
	case errors.As(err, &authErr):
		return ErrorTypeAuthentication
	case errors.As(err, &navErr):
		return ErrorTypeNavigation
	case errors.As(err, &sessionErr):
		return ErrorTypeSession
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancellation
	}
	return ErrorTypeInternal
}
