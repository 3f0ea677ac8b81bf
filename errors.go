package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrBodyNotRewindable is returned when a retry requires the request body
// to be replayed but the body does not support seeking. The retry fails
// fast rather than resending truncated data.
var ErrBodyNotRewindable = errors.New("pipeline: request body is not rewindable")

// ErrNotFinished is returned by Poller.Result while the long-running
// operation has not reached a terminal state.
var ErrNotFinished = errors.New("pipeline: long-running operation is not finished")

// ErrPollerPoisoned is returned when a poller is reused after a fatal
// polling error. Such a poller is left in its last known state and must be
// discarded or resumed from a continuation token.
var ErrPollerPoisoned = errors.New("pipeline: poller reused after a fatal polling error")

// TimeoutError reports that the overall wall-clock budget for a logical
// call was exhausted across attempts and backoff waits. It is distinct
// from retries being exhausted, which returns the last response instead.
type TimeoutError struct {
	Budget  time.Duration
	Elapsed time.Duration
	Err     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pipeline: overall timeout of %s exceeded after %s", e.Budget, e.Elapsed.Round(time.Millisecond))
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ResumeTokenError reports a malformed or unsupported continuation token.
// It indicates programmer error and is never retried.
type ResumeTokenError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ResumeTokenError) Error() string {
	return "pipeline: invalid resume token: " + e.Reason
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ResumeTokenError) Unwrap() error {
	return e.Err
}

// ErrorClassifier determines whether an error from the transport represents
// a transient failure worth retrying. Implement this interface to customize
// retry behavior for your specific error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier determines whether an error should trip the
// circuit breaker.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure
	// serious enough to open the circuit and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// HTTPStatusClassifier classifies errors by HTTP status code, treating
// certain codes as retryable and others as circuit trip conditions.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists HTTP status codes that should trigger retries.
	// Defaults to 408, 429, 500, 502, 503, 504 if nil.
	RetryableStatuses []int

	// CircuitTripStatuses lists HTTP status codes that should trip the
	// circuit breaker. Defaults to 401, 403, 500, 502, 503, 504 if nil.
	CircuitTripStatuses []int
}

// NewHTTPStatusClassifier creates an HTTPStatusClassifier with the default
// status code mappings.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses:   []int{408, 429, 500, 502, 503, 504},
		CircuitTripStatuses: []int{401, 403, 500, 502, 503, 504},
	}
}

// IsRetryable implements ErrorClassifier.
// Context errors are never retryable: retrying with a canceled or expired
// context fails immediately. Unknown errors without a status code are
// treated as transient network failures and retried.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return true
	}
	if pkgerrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}

	return containsStatus(c.getRetryableStatuses(), statusCode)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
// Rate limits and timeouts are transient and do not trip the circuit.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return false
	}
	if pkgerrors.IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}

	return containsStatus(c.getCircuitTripStatuses(), statusCode)
}

func (c *HTTPStatusClassifier) getRetryableStatuses() []int {
	if c.RetryableStatuses != nil {
		return c.RetryableStatuses
	}
	return []int{408, 429, 500, 502, 503, 504}
}

func (c *HTTPStatusClassifier) getCircuitTripStatuses() []int {
	if c.CircuitTripStatuses != nil {
		return c.CircuitTripStatuses
	}
	return []int{401, 403, 500, 502, 503, 504}
}

// extractStatusCode attempts to extract an HTTP status code from an error.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// containsStatus checks if a status code is in the list.
func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier provides reasonable defaults for most use cases:
// 5xx, 408 and 429 responses, network errors, and timeouts are retryable.
func DefaultErrorClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// DefaultCircuitBreakerErrorClassifier trips on authentication errors
// (401, 403) and server errors (5xx), but not on rate limits or timeouts.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}

// StatusCodeError wraps an error with an HTTP status code. Use this when a
// transport or service layer needs to surface status information through an
// error value.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code. This implements HTTPError.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
