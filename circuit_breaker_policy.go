package pipeline

import (
	"errors"
	"log/slog"
	"net/http"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// errBreakerStatus marks a delivered response whose status code counts as
// a breaker failure. The response is still handed to the caller; the error
// only feeds the breaker's failure accounting.
var errBreakerStatus = errors.New("pipeline: breaker failure status")

// CircuitBreakerPolicy sheds load from a failing downstream: it counts
// classified failures and, once the circuit opens, rejects requests
// immediately without reaching the transport. Place it before the retry
// policy so rejected attempts do not burn the retry budget against a
// service that is known to be down.
type CircuitBreakerPolicy struct {
	cb         *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
	tripCodes  []int
}

// NewCircuitBreakerPolicy creates a circuit breaker policy.
//
// Example:
//
//	policy := pipeline.NewCircuitBreakerPolicy(
//	    pipeline.WithMaxRequests(5),
//	    pipeline.WithTimeout(60*time.Second),
//	)
func NewCircuitBreakerPolicy(opts ...CircuitBreakerOption) *CircuitBreakerPolicy {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Classifier == nil {
		config.Classifier = DefaultCircuitBreakerErrorClassifier()
	}

	classifier := config.Classifier

	settings := gobreaker.Settings{
		Name:        "pipeline",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(CircuitBreakerCounts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, errBreakerStatus) {
				return false
			}
			return !classifier.ShouldTripCircuit(err)
		},
	}

	var tripCodes []int
	if hc, ok := classifier.(*HTTPStatusClassifier); ok {
		tripCodes = hc.getCircuitTripStatuses()
	}

	return &CircuitBreakerPolicy{
		cb:         gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:     config.Logger,
		classifier: classifier,
		tripCodes:  tripCodes,
	}
}

// Do implements Policy. While the circuit is open, requests fail fast with
// a circuit breaker error instead of reaching the transport. Responses
// whose status code is in the classifier's trip set count as failures but
// are still returned to the caller.
func (p *CircuitBreakerPolicy) Do(req *Request) (*http.Response, error) {
	resp, err := p.cb.Execute(func() (*http.Response, error) {
		resp, err := req.Next()
		if err != nil {
			return nil, err
		}
		if containsStatus(p.tripCodes, resp.StatusCode) {
			return resp, errBreakerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errBreakerStatus) {
		// Failure accounted; the delivery itself succeeded.
		return resp, nil
	}
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			counts := p.cb.Counts()
			p.logger.Warn("circuit breaker is open, request rejected",
				"error", err,
				"state", p.cb.State(),
				"counts", counts)
			return nil, jperrors.NewCircuitBreakerError(
				"request rejected",
				"do",
				"open",
				jperrors.WithCause(err),
				jperrors.WithCounts(jperrors.CircuitCounts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				}),
			)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			counts := p.cb.Counts()
			p.logger.Debug("circuit breaker in half-open state, too many requests",
				"error", err)
			return nil, jperrors.NewCircuitBreakerError(
				"too many requests in half-open state",
				"do",
				"half-open",
				jperrors.WithCause(err),
				jperrors.WithCounts(jperrors.CircuitCounts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				}),
			)
		default:
			p.logger.Debug("request failed through circuit breaker",
				"error", err,
				"should_trip", p.classifier.ShouldTripCircuit(err))
		}
		return nil, err
	}
	return resp, nil
}

// State returns the current state of the circuit breaker.
func (p *CircuitBreakerPolicy) State() CircuitBreakerState {
	return convertGobreakerState(p.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (p *CircuitBreakerPolicy) Counts() CircuitBreakerCounts {
	counts := p.cb.Counts()
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// GetHealth returns the health status of the circuit breaker.
func (p *CircuitBreakerPolicy) GetHealth() HealthStatus {
	state := p.State()
	counts := p.Counts()

	var healthy bool
	var status string

	switch state {
	case StateClosed:
		healthy = true
		status = "closed"
	case StateHalfOpen:
		healthy = true // Degraded but operational
		status = "half-open"
	case StateOpen:
		healthy = false
		status = "open"
	default:
		status = "unknown"
	}

	return HealthStatus{
		Healthy:              healthy,
		Status:               status,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// convertGobreakerState converts gobreaker.State to CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
