package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is a credential token and its expiry. Tokens are immutable:
// a refresh installs a new value, it never mutates one in place.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenCredential obtains a fresh access token. Implementations may be
// slow or blocking; the caches never invoke them while holding a lock.
type TokenCredential interface {
	GetToken(ctx context.Context) (AccessToken, error)
}

// TokenCredentialFunc adapts a function to the TokenCredential interface.
type TokenCredentialFunc func(ctx context.Context) (AccessToken, error)

// GetToken implements TokenCredential.
func (f TokenCredentialFunc) GetToken(ctx context.Context) (AccessToken, error) {
	return f(ctx)
}

// CredentialCache serves non-expired tokens to concurrent callers with at
// most one credential refresh in flight. Both cache variants implement it.
type CredentialCache interface {
	Token(ctx context.Context) (AccessToken, error)
}

// OAuth2Credential adapts an oauth2.TokenSource to the TokenCredential
// interface, so device-code or client-credential sources plug into the
// caches and the bearer token policy.
type OAuth2Credential struct {
	source oauth2.TokenSource
}

// NewOAuth2Credential wraps an oauth2 token source.
func NewOAuth2Credential(source oauth2.TokenSource) *OAuth2Credential {
	return &OAuth2Credential{source: source}
}

// GetToken implements TokenCredential.
func (c *OAuth2Credential) GetToken(ctx context.Context) (AccessToken, error) {
	tok, err := c.source.Token()
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}

// TokenSource exposes a credential cache as an oauth2.TokenSource for code
// that consumes the oauth2 interfaces. Waits use context.Background since
// the oauth2 interface carries no context.
func TokenSource(cache CredentialCache) oauth2.TokenSource {
	return cacheTokenSource{cache: cache}
}

type cacheTokenSource struct {
	cache CredentialCache
}

func (s cacheTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cache.Token(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok.Token, Expiry: tok.ExpiresOn}, nil
}

// errNoCredential is returned when a cache has neither a credential nor a
// cached token to serve.
var errNoCredential = errors.New("pipeline: token cache has no credential and no cached token")
