package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// OperationStatus is the provisioning state of a long-running server
// operation.
type OperationStatus string

const (
	// StatusInProgress means the operation has not reached a terminal state.
	StatusInProgress OperationStatus = "InProgress"

	// StatusSucceeded is the successful terminal state.
	StatusSucceeded OperationStatus = "Succeeded"

	// StatusFailed is the unsuccessful terminal state. It is a value, not
	// an error: the caller inspects the final payload to find out why.
	StatusFailed OperationStatus = "Failed"

	// StatusCanceled means the operation was canceled server-side.
	StatusCanceled OperationStatus = "Canceled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// OperationState is the last known snapshot of a long-running operation:
// the identifier the status endpoint is keyed by, the status itself, and
// the raw payload of the last status response.
type OperationState struct {
	// ID identifies the server-side operation (an operation or search id).
	// It travels in the resume token so a fresh client can rebind to the
	// same operation.
	ID string `json:"id"`

	// Status is the last observed status.
	Status OperationStatus `json:"status"`

	// Payload is the opaque body of the last status response.
	Payload json.RawMessage `json:"payload,omitempty"`

	// RetryAfter is an optional server hint for the wait before the next
	// query, typically lifted from the response headers by the query
	// function. It is transient and not serialized into resume tokens.
	RetryAfter time.Duration `json:"-"`
}

// QueryFunc fetches the current state of the operation described by the
// last known state. Implementations normally issue the status request
// through a Pipeline so transient failures are retried; an error returned
// here is treated as fatal and propagates out of the poll loop.
type QueryFunc func(ctx context.Context, state *OperationState) (*OperationState, error)

// ResultFunc deserializes the final payload once the operation reaches a
// terminal state. It is invoked for Failed and Canceled states too.
type ResultFunc[T any] func(state *OperationState) (T, error)

// Poller drives a long-running server operation to completion by repeated
// status queries. A poller serves one logical caller at a time; it is not
// safe for concurrent use.
type Poller[T any] struct {
	query    QueryFunc
	result   ResultFunc[T]
	state    *OperationState
	config   *PollerConfig
	logger   *slog.Logger
	queries  int
	poisoned bool
}

// NewPoller creates a poller from the state extracted from the
// operation-starting response. An empty status is treated as InProgress.
func NewPoller[T any](query QueryFunc, result ResultFunc[T], initial *OperationState, opts ...PollerOption) (*Poller[T], error) {
	if query == nil || result == nil {
		return nil, errors.New("pipeline: poller requires query and result functions")
	}
	if initial == nil {
		return nil, errors.New("pipeline: poller requires an initial operation state")
	}

	config := DefaultPollerConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	state := *initial
	if state.Status == "" {
		state.Status = StatusInProgress
	}

	return &Poller[T]{
		query:  query,
		result: result,
		state:  &state,
		config: config,
		logger: config.Logger,
	}, nil
}

// Status returns the last known status. It is valid before completion.
func (p *Poller[T]) Status() OperationStatus {
	return p.state.Status
}

// Finished reports whether the last known status is terminal.
func (p *Poller[T]) Finished() bool {
	return p.state.Status.Terminal()
}

// Poll performs a single status query and updates the last known state.
// It is a no-op once the operation is finished. A query error poisons the
// poller: the state keeps its last non-terminal value and further use
// returns ErrPollerPoisoned.
func (p *Poller[T]) Poll(ctx context.Context) error {
	if p.poisoned {
		return ErrPollerPoisoned
	}
	if p.Finished() {
		return nil
	}

	next, err := p.query(ctx, p.state)
	p.queries++
	if err != nil {
		p.poisoned = true
		return err
	}
	if next == nil {
		p.poisoned = true
		return errors.New("pipeline: query function returned no state")
	}

	p.state = next
	p.logger.Debug("polled operation",
		"id", p.state.ID,
		"status", p.state.Status,
		"queries", p.queries)
	return nil
}

// PollUntilDone queries the operation until it reaches a terminal state,
// waiting the configured frequency between queries, or the server's
// retry hint when the query function supplies one. It returns the
// deserialized final payload; for Failed and Canceled operations the
// payload is still returned and the caller inspects it.
func (p *Poller[T]) PollUntilDone(ctx context.Context) (T, error) {
	var zero T
	for !p.Finished() {
		if err := p.Poll(ctx); err != nil {
			return zero, err
		}
		if p.Finished() {
			break
		}

		delay := p.config.Frequency
		if p.state.RetryAfter > 0 {
			delay = p.state.RetryAfter
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return p.Result()
}

// PollResult is the outcome delivered by PollInBackground.
type PollResult[T any] struct {
	Value T
	Err   error
}

// PollInBackground runs the same loop as PollUntilDone on a new goroutine
// and delivers the outcome on the returned channel. The poller must not be
// used by other callers until the outcome arrives.
func (p *Poller[T]) PollInBackground(ctx context.Context) <-chan PollResult[T] {
	ch := make(chan PollResult[T], 1)
	go func() {
		value, err := p.PollUntilDone(ctx)
		ch <- PollResult[T]{Value: value, Err: err}
	}()
	return ch
}

// Result returns the deserialized final payload. It returns ErrNotFinished
// while the operation is in progress. Terminal Failed and Canceled states
// yield a result, not an error.
func (p *Poller[T]) Result() (T, error) {
	var zero T
	if p.poisoned {
		return zero, ErrPollerPoisoned
	}
	if !p.Finished() {
		return zero, ErrNotFinished
	}
	return p.result(p.state)
}
