package pipeline

import (
	"encoding/base64"
	"encoding/json"
)

// resumeTokenVersion tags the serialized snapshot format. Bump it when the
// envelope shape changes; parsing rejects versions it does not know.
const resumeTokenVersion = 1

// resumeTokenEnvelope is the versioned serialized snapshot of a poller.
// It deliberately carries no transport, client, or credential state: the
// resuming process supplies those fresh.
type resumeTokenEnvelope struct {
	Version int             `json:"v"`
	ID      string          `json:"id"`
	Status  OperationStatus `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResumeToken serializes the poller's last known state into an opaque
// string that is safe to persist or transmit. Round-tripping the token
// through ResumePoller with a freshly bound query function continues
// polling from the same state.
func (p *Poller[T]) ResumeToken() (string, error) {
	if p.poisoned {
		return "", ErrPollerPoisoned
	}
	env := resumeTokenEnvelope{
		Version: resumeTokenVersion,
		ID:      p.state.ID,
		Status:  p.state.Status,
		Payload: p.state.Payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ResumePoller reconstructs a poller from a resume token. The caller must
// supply query and result functions bound to a live client; the token only
// carries the operation identity and last response. A malformed or
// wrong-version token returns a *ResumeTokenError.
func ResumePoller[T any](token string, query QueryFunc, result ResultFunc[T], opts ...PollerOption) (*Poller[T], error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, &ResumeTokenError{Reason: "not base64url", Err: err}
	}

	var env resumeTokenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ResumeTokenError{Reason: "not a token envelope", Err: err}
	}
	if env.Version != resumeTokenVersion {
		return nil, &ResumeTokenError{Reason: "unsupported token version"}
	}
	if env.ID == "" {
		return nil, &ResumeTokenError{Reason: "missing operation id"}
	}

	return NewPoller(query, result, &OperationState{
		ID:      env.ID,
		Status:  env.Status,
		Payload: env.Payload,
	}, opts...)
}
