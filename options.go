package pipeline

import (
	"log/slog"
	"time"
)

// RetryConfig holds retry policy configuration. A config is read-only once
// the policy is constructed; no mutable state is shared across logical
// calls.
type RetryConfig struct {
	// Classifier determines which transport errors should trigger retries.
	// Default: HTTPStatusClassifier with standard retryable codes.
	Classifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Mode selects the backoff formula.
	// Default: RetryModeExponential
	Mode RetryMode

	// RetryDelay is the base backoff factor: the fixed wait in fixed mode,
	// or the first wait in exponential mode.
	// Default: 1 second
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff. Zero means uncapped.
	// Default: 30 seconds
	MaxRetryDelay time.Duration

	// MaxRetries is the number of retries after the initial attempt, so a
	// call makes at most MaxRetries+1 attempts.
	// Default: 3
	MaxRetries int

	// StatusCodes lists response status codes that are retried without
	// being treated as errors.
	// Default: 408, 429, 500, 502, 503, 504
	StatusCodes []int

	// OverallTimeout bounds the wall-clock time of the whole logical call,
	// attempts and backoff waits included. Breaching it returns a
	// *TimeoutError even when retries remain. Zero means unbounded.
	OverallTimeout time.Duration
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(retries int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxRetries = retries
	}
}

// WithFixedBackoff waits the same delay between all attempts.
//
// Example:
//
//	pipeline.WithFixedBackoff(2 * time.Second)
//	// Delays: 2s, 2s, 2s, ...
func WithFixedBackoff(delay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Mode = RetryModeFixed
		c.RetryDelay = delay
		c.MaxRetryDelay = delay
	}
}

// WithExponentialBackoff doubles the delay per attempt up to maxDelay.
//
// Example:
//
//	pipeline.WithExponentialBackoff(time.Second, 30*time.Second)
//	// Delays: 1s, 2s, 4s, 8s, 16s, 30s (capped)
func WithExponentialBackoff(delay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Mode = RetryModeExponential
		c.RetryDelay = delay
		c.MaxRetryDelay = maxDelay
	}
}

// WithRetryStatusCodes replaces the set of response status codes that are
// retried.
func WithRetryStatusCodes(codes ...int) RetryOption {
	return func(c *RetryConfig) {
		c.StatusCodes = codes
	}
}

// WithOverallTimeout bounds the wall-clock budget of a logical call across
// all attempts and backoff waits.
func WithOverallTimeout(timeout time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.OverallTimeout = timeout
	}
}

// WithErrorClassifier sets a custom error classifier for retry decisions.
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.Classifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    3,
		Mode:          RetryModeExponential,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
		StatusCodes:   []int{408, 429, 500, 502, 503, 504},
		Classifier:    DefaultErrorClassifier(),
		Logger:        slog.Default(),
	}
}

// PollerConfig holds long-running-operation poller configuration.
type PollerConfig struct {
	// Logger for poll operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Frequency is the wait between status queries when the server supplies
	// no retry hint.
	// Default: 5 seconds
	Frequency time.Duration
}

// PollerOption is a functional option for configuring a poller.
type PollerOption func(*PollerConfig)

// WithPollFrequency sets the wait between status queries.
func WithPollFrequency(frequency time.Duration) PollerOption {
	return func(c *PollerConfig) {
		c.Frequency = frequency
	}
}

// WithPollerLogger sets a custom logger for poll operations.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(c *PollerConfig) {
		c.Logger = logger
	}
}

// DefaultPollerConfig returns poller configuration with sensible defaults.
func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		Frequency: 5 * time.Second,
		Logger:    slog.Default(),
	}
}

// TokenCacheConfig holds token cache configuration.
type TokenCacheConfig struct {
	// Logger for refresh operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// InitialToken seeds the cache, for credentials whose first token was
	// obtained out of band.
	InitialToken *AccessToken

	// RefreshWindow is the time before expiry at which a cached token is
	// treated as expiring soon and becomes eligible for refresh.
	// Default: 2 minutes
	RefreshWindow time.Duration
}

// TokenCacheOption is a functional option for configuring a token cache.
type TokenCacheOption func(*TokenCacheConfig)

// WithRefreshWindow sets the proactive refresh threshold: how long before
// expiry a token is refreshed.
func WithRefreshWindow(window time.Duration) TokenCacheOption {
	return func(c *TokenCacheConfig) {
		c.RefreshWindow = window
	}
}

// WithInitialToken seeds the cache with a token obtained out of band.
func WithInitialToken(token AccessToken) TokenCacheOption {
	return func(c *TokenCacheConfig) {
		c.InitialToken = &token
	}
}

// WithTokenCacheLogger sets a custom logger for refresh operations.
func WithTokenCacheLogger(logger *slog.Logger) TokenCacheOption {
	return func(c *TokenCacheConfig) {
		c.Logger = logger
	}
}

// DefaultTokenCacheConfig returns token cache configuration with sensible
// defaults.
func DefaultTokenCacheConfig() *TokenCacheConfig {
	return &TokenCacheConfig{
		RefreshWindow: 2 * time.Minute,
		Logger:        slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker policy configuration.
type CircuitBreakerConfig struct {
	// ReadyToTrip is called with a copy of counts whenever a request fails
	// in the closed state. If it returns true the circuit opens.
	// Default: trips after 3 requests with 60% failure rate.
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// Classifier determines which errors count as breaker failures.
	// Default: HTTPStatusClassifier with standard trip codes.
	Classifier CircuitBreakerErrorClassifier

	// OnStateChange is called whenever the circuit breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Interval is the cyclic period of the closed state after which the
	// internal counts are cleared. If 0, counts are never cleared.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout is the period of the open state, after which the state
	// becomes half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRequests is the number of requests allowed through while the
	// circuit is half-open.
	// Default: 3
	MaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring the circuit
// breaker policy.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts holds the internal counts of the circuit breaker.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected
	// immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithMaxRequests sets the number of requests allowed in half-open state.
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in closed state.
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithTimeout sets how long the circuit stays open before probing.
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip sets a custom function deciding when to open the circuit.
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithCircuitBreakerErrorClassifier sets a custom classifier for breaker
// failure decisions.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Classifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit state changes.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for breaker operations.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns circuit breaker configuration with
// sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts CircuitBreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		Classifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:     slog.Default(),
	}
}
