package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncTokenCache is the cooperative single-flight credential cache. It
// has the same observable behavior as TokenCache, but waiters park on a
// channel select instead of a condition variable, so a waiting caller can
// be released by context cancellation.
type AsyncTokenCache struct {
	cred   TokenCredential
	window time.Duration
	logger *slog.Logger

	token atomic.Pointer[AccessToken]

	mu sync.Mutex
	// done is non-nil while a refresh is in flight and is closed when that
	// refresh completes, successfully or not. Closing and clearing happen
	// under mu, so a waiter released by the close always observes the
	// refresh's outcome on its next pass.
	done chan struct{}
}

// NewAsyncTokenCache creates a cooperative token cache around a
// credential. A nil credential is allowed when the cache is seeded with
// WithInitialToken.
func NewAsyncTokenCache(cred TokenCredential, opts ...TokenCacheOption) *AsyncTokenCache {
	config := DefaultTokenCacheConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &AsyncTokenCache{
		cred:   cred,
		window: config.RefreshWindow,
		logger: config.Logger,
	}
	if config.InitialToken != nil {
		tok := *config.InitialToken
		c.token.Store(&tok)
	}
	return c
}

// Token returns a non-expired access token, refreshing it through the
// credential when the cached one is inside the proactive refresh window.
// A caller parked behind another caller's refresh returns ctx.Err() if its
// context ends first; the refresh itself keeps running for the caller that
// triggered it.
func (c *AsyncTokenCache) Token(ctx context.Context) (AccessToken, error) {
	if c.cred == nil {
		if tok := c.token.Load(); tok != nil {
			return *tok, nil
		}
		return AccessToken{}, errNoCredential
	}

	for {
		// Fast path: no locking when the token is not close to expiry.
		if tok := c.usable(); tok != nil {
			return *tok, nil
		}

		c.mu.Lock()
		if tok := c.usable(); tok != nil {
			c.mu.Unlock()
			return *tok, nil
		}

		if wait := c.done; wait != nil {
			c.mu.Unlock()
			select {
			case <-wait:
				// Re-check: either a fresh token was installed or the
				// refresh failed and this caller may try itself.
				continue
			case <-ctx.Done():
				return AccessToken{}, ctx.Err()
			}
		}

		done := make(chan struct{})
		c.done = done
		c.mu.Unlock()

		tok, err := c.cred.GetToken(ctx)

		c.mu.Lock()
		if err == nil {
			c.token.Store(&tok)
		}
		c.done = nil
		close(done)
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("token refresh failed", "error", err)
			return AccessToken{}, err
		}
		c.logger.Debug("token refreshed", "expires_on", tok.ExpiresOn)
		return tok, nil
	}
}

func (c *AsyncTokenCache) usable() *AccessToken {
	tok := c.token.Load()
	if tok == nil {
		return nil
	}
	if time.Until(tok.ExpiresOn) <= c.window {
		return nil
	}
	return tok
}
