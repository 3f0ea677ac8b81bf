// Package pipeline provides the resilience runtime shared by HTTP service
// clients: a retrying send policy with backoff and body replay, a generic
// resumable poller for long-running server operations, and a single-flight
// token credential cache. Components compose into an ordered policy chain
// that ends at a caller-supplied transport.
package pipeline

import (
	"context"
	"net/http"
)

// Transporter sends a single HTTP request. It is the terminal collaborator
// of a pipeline and is supplied by the caller; *http.Client satisfies it.
type Transporter interface {
	Do(req *http.Request) (*http.Response, error)
}

// Policy is one stage of a pipeline. A policy may inspect or mutate the
// request, call req.Next to forward it to the remaining stages, and inspect
// or replace the response on the way back out.
type Policy interface {
	Do(req *Request) (*http.Response, error)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(*Request) (*http.Response, error)

// Do implements Policy.
func (f PolicyFunc) Do(req *Request) (*http.Response, error) {
	return f(req)
}

// Pipeline is an ordered chain of policies terminated by a transport.
// The canonical ordering is request-id, bearer-token, circuit-breaker,
// retry, transport; policies that appear before the retry policy run once
// per logical call, policies after it run once per attempt.
type Pipeline struct {
	policies []Policy
}

// NewPipeline assembles a pipeline from the given policies, in order,
// terminated by transport.
func NewPipeline(transport Transporter, policies ...Policy) Pipeline {
	chain := make([]Policy, len(policies), len(policies)+1)
	copy(chain, policies)
	chain = append(chain, transportPolicy{transport: transport})
	return Pipeline{policies: chain}
}

// Do sends the request through the policy chain and returns the transport's
// response. A non-2xx response is not an error; errors indicate the request
// could not be delivered or a policy rejected it.
func (p Pipeline) Do(req *Request) (*http.Response, error) {
	req.policies = p.policies
	return req.Next()
}

// NewRequest creates a pipeline request with no body. Use SetBody to attach
// a replayable body.
func NewRequest(ctx context.Context, method, url string) (*Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	return &Request{req: req}, nil
}

// transportPolicy is the implicit final policy: it hands the request to the
// transport.
type transportPolicy struct {
	transport Transporter
}

func (t transportPolicy) Do(req *Request) (*http.Response, error) {
	return t.transport.Do(req.Raw())
}
