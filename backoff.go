package pipeline

import (
	"net/http"
	"strconv"
	"time"
)

const (
	// HeaderRetryAfter is the standard seconds-granular retry hint header.
	HeaderRetryAfter = "Retry-After"

	// HeaderRetryAfterMS is the service-specific millisecond-granular retry
	// hint header. When both headers are present on one response, this one
	// wins.
	HeaderRetryAfterMS = "retry-after-ms"
)

// RetryMode selects the backoff formula between attempts.
type RetryMode string

const (
	// RetryModeFixed waits the configured retry delay between every attempt.
	RetryModeFixed RetryMode = "fixed"

	// RetryModeExponential doubles the retry delay per attempt, capped at
	// the configured maximum.
	RetryModeExponential RetryMode = "exponential"
)

// AttemptOutcome records the result of one send attempt: either the status
// code of a delivered response or the transient error that prevented
// delivery.
type AttemptOutcome struct {
	StatusCode int
	Err        error
}

// AttemptHistory is the ordered outcomes of prior attempts for one logical
// call. It is call-scoped: each Do builds its own history and discards it
// when the call finishes.
type AttemptHistory []AttemptOutcome

// CalculateBackoff computes the wait before the next attempt from the
// attempt history. In fixed mode the wait is always delay. In exponential
// mode the wait for history length n is delay * 2^(n-1), capped at
// maxDelay when maxDelay is positive. The history must already include the
// attempt that just failed.
func CalculateBackoff(mode RetryMode, delay, maxDelay time.Duration, history AttemptHistory) time.Duration {
	if mode == RetryModeFixed {
		return delay
	}
	n := len(history)
	if n < 1 {
		n = 1
	}
	backoff := delay
	for i := 1; i < n; i++ {
		backoff *= 2
		if maxDelay > 0 && backoff >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// RetryAfter extracts the server's retry hint from a response, or 0 if the
// response carries none. The millisecond-granular header takes precedence
// over the seconds-granular one when both are present. The standard header
// is parsed both as a delay in seconds and as an HTTP date.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if v := resp.Header.Get(HeaderRetryAfterMS); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}
