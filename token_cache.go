package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TokenCache is the blocking single-flight credential cache. Callers with
// a sufficiently fresh token return on a lock-free fast path; callers that
// find the token expiring coordinate through a mutex and condition
// variable so that at most one refresh is ever in flight, with everyone
// else parked until that refresh installs a new token.
//
// A refresh failure surfaces only to the caller that triggered it; parked
// waiters wake and may attempt the refresh themselves. Waits on the
// condition variable do not observe context cancellation; use
// AsyncTokenCache where cancelable waits matter.
type TokenCache struct {
	cred   TokenCredential
	window time.Duration
	logger *slog.Logger

	token atomic.Pointer[AccessToken]

	mu         sync.Mutex
	cond       *sync.Cond
	refreshing bool
}

// NewTokenCache creates a blocking token cache around a credential. A nil
// credential is allowed when the cache is seeded with WithInitialToken;
// the seeded token is then served unconditionally.
func NewTokenCache(cred TokenCredential, opts ...TokenCacheOption) *TokenCache {
	config := DefaultTokenCacheConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &TokenCache{
		cred:   cred,
		window: config.RefreshWindow,
		logger: config.Logger,
	}
	c.cond = sync.NewCond(&c.mu)
	if config.InitialToken != nil {
		tok := *config.InitialToken
		c.token.Store(&tok)
	}
	return c
}

// Token returns a non-expired access token, refreshing it through the
// credential when the cached one is inside the proactive refresh window.
func (c *TokenCache) Token(ctx context.Context) (AccessToken, error) {
	if c.cred == nil {
		if tok := c.token.Load(); tok != nil {
			return *tok, nil
		}
		return AccessToken{}, errNoCredential
	}

	// Fast path: no locking when the token is not close to expiry.
	if tok := c.usable(); tok != nil {
		return *tok, nil
	}

	c.mu.Lock()
	for {
		// The in-flight refresh may have completed between our expiry
		// check and acquiring the lock.
		if tok := c.usable(); tok != nil {
			c.mu.Unlock()
			return *tok, nil
		}

		if c.refreshing {
			c.cond.Wait()
			continue
		}

		c.refreshing = true
		c.mu.Unlock()

		// The credential call happens outside the lock; it may be slow.
		tok, err := c.cred.GetToken(ctx)

		c.mu.Lock()
		c.refreshing = false
		if err != nil {
			c.cond.Broadcast()
			c.mu.Unlock()
			c.logger.Warn("token refresh failed", "error", err)
			return AccessToken{}, err
		}
		c.token.Store(&tok)
		c.cond.Broadcast()
		c.mu.Unlock()
		c.logger.Debug("token refreshed", "expires_on", tok.ExpiresOn)
		return tok, nil
	}
}

// usable returns the cached token if it is outside the refresh window.
func (c *TokenCache) usable() *AccessToken {
	tok := c.token.Load()
	if tok == nil {
		return nil
	}
	if time.Until(tok.ExpiresOn) <= c.window {
		return nil
	}
	return tok
}
