package pipeline

import (
	"io"
	"net/http"
)

// Request wraps an *http.Request as it travels down a pipeline. It carries
// the remaining policy chain and the state needed to replay the body on
// retry. A Request is used by one logical call at a time; it is not safe
// for concurrent use.
type Request struct {
	req      *http.Request
	body     io.ReadSeeker
	policies []Policy
}

// Raw returns the underlying *http.Request. Mutations are visible to the
// remaining policies and the transport.
func (r *Request) Raw() *http.Request {
	return r.req
}

// SetBody attaches a seekable body to the request so that retries can
// rewind and resend identical bytes. The current seek position is treated
// as the start of the body. Streamed and multipart payloads must be staged
// in a seekable form (bytes.Reader, os.File) before being attached.
func (r *Request) SetBody(body io.ReadSeeker, contentType string) error {
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.body = body
	r.req.Body = io.NopCloser(body)
	r.req.ContentLength = size
	if contentType != "" {
		r.req.Header.Set("Content-Type", contentType)
	}
	return nil
}

// RewindBody resets the request body to its original read position so the
// next attempt resends identical bytes. It returns ErrBodyNotRewindable if
// a body is present but cannot be replayed; retrying such a request would
// send truncated data.
func (r *Request) RewindBody() error {
	if r.body != nil {
		if _, err := r.body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		r.req.Body = io.NopCloser(r.body)
		return nil
	}
	if r.req.Body == nil {
		return nil
	}
	if r.req.GetBody != nil {
		body, err := r.req.GetBody()
		if err != nil {
			return err
		}
		r.req.Body = body
		return nil
	}
	return ErrBodyNotRewindable
}

// Next forwards the request to the next policy in the chain. Policies that
// resend (retry) call Next once per attempt; each call starts from this
// policy's position in the chain.
func (r *Request) Next() (*http.Response, error) {
	next := r.policies[0]
	nextReq := *r
	nextReq.policies = r.policies[1:]
	return next.Do(&nextReq)
}
