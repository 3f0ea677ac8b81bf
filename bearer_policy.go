package pipeline

import (
	"net/http"
)

// BearerTokenPolicy attaches a cached credential to each request as an
// Authorization bearer header. Token acquisition goes through a
// single-flight cache, so concurrent requests share one refresh.
type BearerTokenPolicy struct {
	cache CredentialCache
}

// NewBearerTokenPolicy creates a bearer token policy around a credential,
// wrapping it in an AsyncTokenCache.
func NewBearerTokenPolicy(cred TokenCredential, opts ...TokenCacheOption) *BearerTokenPolicy {
	return &BearerTokenPolicy{cache: NewAsyncTokenCache(cred, opts...)}
}

// NewBearerTokenPolicyFromCache creates a bearer token policy that shares
// an existing cache, for clients that also hand the cache to other
// consumers (for example through TokenSource).
func NewBearerTokenPolicyFromCache(cache CredentialCache) *BearerTokenPolicy {
	return &BearerTokenPolicy{cache: cache}
}

// Do implements Policy. A credential failure fails the request; it is not
// retried here, though a retry policy placed after this one retries the
// send itself.
func (b *BearerTokenPolicy) Do(req *Request) (*http.Response, error) {
	tok, err := b.cache.Token(req.Raw().Context())
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Authorization", "Bearer "+tok.Token)
	return req.Next()
}
