package outcome

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Admission-related sentinel errors
var (
	// ErrQueueTimeout indicates the orchestration queue wait budget expired.
	ErrQueueTimeout = New("orchestration queue wait timed out")
	// ErrCapacityExhausted indicates no capacity candidate fit within the wait budget.
	ErrCapacityExhausted = New("capacity exhausted")
)

// Dispatch-related sentinel errors
var (
	// ErrRateLimitFastFail indicates the per-call rate-limit budget was
	// exceeded or the gate wait exceeded the configured maximum.
	ErrRateLimitFastFail = New("rate limit wait exceeds budget")
	// ErrEmptyOutput indicates a member produced no usable output.
	ErrEmptyOutput = New("empty member output")
	// ErrLowSubstance indicates a member output failed the substance check.
	ErrLowSubstance = New("member output below substance threshold")
	// ErrMalformedOutput indicates output that failed normalization.
	ErrMalformedOutput = New("member output failed normalization")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = New("operation cancelled")
	// ErrNoActiveMembers indicates a team with no enabled members.
	ErrNoActiveMembers = New("team has no enabled members")
)

// -----------------------------------------------------------------------------
// Status-Bearing Errors
// -----------------------------------------------------------------------------

// StatusError is an error carrying an HTTP-like status code from a member
// executor or provider.
type StatusError struct {
	Status  int
	Message string
	cause   error
}

// NewStatusError creates a StatusError.
func NewStatusError(status int, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

// WithCause adds an underlying error.
func (e *StatusError) WithCause(cause error) *StatusError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *StatusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.Status, e.cause)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// Status Extraction and Classification
// -----------------------------------------------------------------------------

// statusPhrases maps known error-message fragments to status codes.
// Network phrases map to 503 so they fall into the transient bucket.
var statusPhrases = []struct {
	fragment string
	status   int
}{
	{"rate limit", 429},
	{"too many requests", 429},
	{"429", 429},
	{"econnreset", 503},
	{"etimedout", 503},
	{"econnrefused", 503},
	{"socket hang up", 503},
	{"network error", 503},
	{"overloaded", 529},
	{"529", 529},
	{"503", 503},
	{"502", 502},
	{"500", 500},
}

// ExtractStatusCode pulls a status code out of an error, either from a
// StatusError in its chain or by matching the message against a small
// vocabulary of codes and phrases. Returns 0 when nothing matches.
func ExtractStatusCode(err error) int {
	if err == nil {
		return 0
	}

	var statusErr *StatusError
	if As(err, &statusErr) {
		return statusErr.Status
	}

	msg := strings.ToLower(err.Error())
	for _, p := range statusPhrases {
		if strings.Contains(msg, p.fragment) {
			return p.status
		}
	}
	return 0
}

// IsRetryableStatus reports whether a status code falls in the default
// retry policy: 429, 5xx, and the transient network bucket.
func IsRetryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}

// DefaultShouldRetry is the default retry predicate: 429, 5xx, and known
// transient network errors are retried.
func DefaultShouldRetry(err error, status int) bool {
	if IsRetryableStatus(status) {
		return true
	}
	return Is(err, ErrEmptyOutput) || Is(err, ErrLowSubstance)
}

// Classify maps a dispatch error onto an outcome code.
func Classify(err error) Code {
	if err == nil {
		return Success
	}

	switch {
	case Is(err, context.Canceled) || Is(err, ErrCancelled):
		return Cancelled
	case Is(err, context.DeadlineExceeded) || Is(err, ErrTimeout) || Is(err, ErrQueueTimeout):
		return Timeout
	case Is(err, ErrCapacityExhausted) || Is(err, ErrRateLimitFastFail):
		return RetryableFailure
	case Is(err, ErrEmptyOutput) || Is(err, ErrLowSubstance):
		return RetryableFailure
	case Is(err, ErrNoActiveMembers) || Is(err, ErrMalformedOutput):
		return NonRetryableFailure
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") {
		return Timeout
	}
	if IsRetryableStatus(ExtractStatusCode(err)) {
		return RetryableFailure
	}
	return NonRetryableFailure
}
