package pipeline

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderClientRequestID carries the per-call correlation id echoed by
// services into their diagnostics.
const HeaderClientRequestID = "X-Client-Request-Id"

// RequestIDPolicy stamps each request with a client request id header when
// the caller has not set one, so every logical call is correlatable across
// retries.
type RequestIDPolicy struct{}

// NewRequestIDPolicy creates a request id policy.
func NewRequestIDPolicy() *RequestIDPolicy {
	return &RequestIDPolicy{}
}

// Do implements Policy.
func (*RequestIDPolicy) Do(req *Request) (*http.Response, error) {
	if req.Raw().Header.Get(HeaderClientRequestID) == "" {
		req.Raw().Header.Set(HeaderClientRequestID, uuid.NewString())
	}
	return req.Next()
}
