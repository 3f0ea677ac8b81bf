package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// errRetryableStatus marks an attempt that delivered a response whose
// status code is in the retry set. It never escapes Do: when retries are
// exhausted the last response is returned unchanged, not an error.
var errRetryableStatus = errors.New("pipeline: retryable status code")

// RetryPolicy resends a request on transient transport errors and on
// retryable status codes, waiting between attempts per the configured
// backoff mode and honoring server retry-after hints. Attempts are strictly
// sequential; the attempt history and body-replay state are scoped to one
// logical call and never shared.
type RetryPolicy struct {
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

// retryStats tracks retry operation statistics across logical calls.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryPolicy creates a retry policy for use in a pipeline.
//
// Example:
//
//	policy := pipeline.NewRetryPolicy(
//	    pipeline.WithMaxRetries(5),
//	    pipeline.WithExponentialBackoff(time.Second, 30*time.Second),
//	)
func NewRetryPolicy(opts ...RetryOption) *RetryPolicy {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Classifier == nil {
		config.Classifier = DefaultErrorClassifier()
	}

	return &RetryPolicy{
		config:     config,
		logger:     config.Logger,
		classifier: config.Classifier,
		stats:      &retryStats{},
	}
}

// Do sends the request, retrying per the policy configuration.
//
// A delivered response is returned even when its status is an error code:
// exhausting retries hands back the last response unchanged. A breached
// overall timeout returns a *TimeoutError regardless of remaining retries.
// A fatal (non-transient) transport error is returned as-is. Before each
// resend the request body is rewound; a body that cannot be rewound fails
// the call with ErrBodyNotRewindable.
func (p *RetryPolicy) Do(req *Request) (*http.Response, error) {
	cfg := p.config
	start := time.Now()

	parent := req.Raw().Context()
	if err := parent.Err(); err != nil {
		return nil, err
	}

	ctx := parent
	if cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, cfg.OverallTimeout)
		defer cancel()
		req.req = req.req.WithContext(ctx)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var history AttemptHistory
	var lastResp *http.Response

	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.BackoffFunc(func() (time.Duration, bool) {
		delay := CalculateBackoff(cfg.Mode, cfg.RetryDelay, cfg.MaxRetryDelay, history)
		if hint := RetryAfter(lastResp); hint > 0 {
			delay = hint
		}
		p.logger.Debug("retrying request after delay",
			"attempt", len(history),
			"delay", delay)
		return delay, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt := len(history) + 1

		p.stats.mu.Lock()
		p.stats.totalAttempts++
		if attempt > 1 {
			p.stats.totalRetries++
		}
		p.stats.lastAttemptTime = time.Now()
		p.stats.mu.Unlock()

		if attempt > 1 {
			// The prior response will not be returned; release it before
			// resending so the connection can be reused.
			if lastResp != nil {
				drainResponse(lastResp)
				lastResp = nil
			}
			if err := req.RewindBody(); err != nil {
				return err
			}
		}

		resp, err := req.Next()
		if err != nil {
			history = append(history, AttemptOutcome{Err: err})
			if !p.classifier.IsRetryable(err) {
				p.logger.Debug("non-retryable error, giving up",
					"error", err,
					"attempts", attempt)
				return err
			}
			return retry.RetryableError(err)
		}

		lastResp = resp
		history = append(history, AttemptOutcome{StatusCode: resp.StatusCode})

		if containsStatus(p.retryStatusCodes(), resp.StatusCode) {
			return retry.RetryableError(errRetryableStatus)
		}
		if attempt > 1 {
			p.logger.Info("request succeeded after retry",
				"attempts", attempt)
		}
		return nil
	})

	switch {
	case err == nil:
		p.recordSuccess()
		return lastResp, nil

	case errors.Is(err, errRetryableStatus) && lastResp != nil:
		// Retries exhausted; non-2xx delivery is not itself an error.
		p.logger.Warn("retries exhausted, returning last response",
			"attempts", len(history),
			"status", lastResp.StatusCode)
		p.recordSuccess()
		return lastResp, nil

	case cfg.OverallTimeout > 0 && ctx.Err() != nil && parent.Err() == nil:
		// The budget context itself expired. An error that merely wraps
		// context.DeadlineExceeded (a per-send transport timeout) does not
		// qualify and falls through to the default case.
		if lastResp != nil {
			drainResponse(lastResp)
		}
		terr := &TimeoutError{
			Budget:  cfg.OverallTimeout,
			Elapsed: time.Since(start),
			Err:     err,
		}
		p.recordFailure(terr)
		p.logger.Warn("overall timeout exceeded",
			"attempts", len(history),
			"budget", cfg.OverallTimeout)
		return nil, terr

	default:
		if lastResp != nil {
			drainResponse(lastResp)
		}
		p.recordFailure(err)
		p.logger.Warn("request failed after retries",
			"attempts", len(history),
			"error", err)
		return nil, err
	}
}

func (p *RetryPolicy) retryStatusCodes() []int {
	if p.config.StatusCodes != nil {
		return p.config.StatusCodes
	}
	return []int{408, 429, 500, 502, 503, 504}
}

func (p *RetryPolicy) recordSuccess() {
	p.stats.mu.Lock()
	p.stats.totalSuccesses++
	p.stats.mu.Unlock()
}

func (p *RetryPolicy) recordFailure(err error) {
	p.stats.mu.Lock()
	p.stats.totalFailures++
	p.stats.lastError = err
	p.stats.mu.Unlock()
}

// drainResponse discards and closes a response body that will not be
// handed to the caller.
func drainResponse(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made, initial attempts
	// included.
	TotalAttempts int64

	// TotalRetries is the number of retry attempts only.
	TotalRetries int64

	// TotalSuccesses counts logical calls that ended with a delivered
	// response.
	TotalSuccesses int64

	// TotalFailures counts logical calls that ended in an error.
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt.
	LastAttemptTime time.Time

	// LastError is the last final error encountered, if any.
	LastError error
}

// Stats returns a snapshot of retry statistics. It is safe to call
// concurrently with Do.
func (p *RetryPolicy) Stats() RetryStats {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   p.stats.totalAttempts,
		TotalRetries:    p.stats.totalRetries,
		TotalSuccesses:  p.stats.totalSuccesses,
		TotalFailures:   p.stats.totalFailures,
		LastAttemptTime: p.stats.lastAttemptTime,
		LastError:       p.stats.lastError,
	}
}
