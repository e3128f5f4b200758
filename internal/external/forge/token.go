package forge

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc mints a fresh installation access token and its expiry
// time.
type RefreshFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// renewBefore is how far ahead of expiry a cached token is treated as
// stale, so a long-running operation doesn't start with a token that
// expires mid-flight.
const renewBefore = 2 * time.Minute

// TokenCache holds one installation's access token in memory and renews
// it on use once it is within renewBefore of expiry, matching the
// generation pipeline's expectation of a shared, stateless forge client
// backed by per-installation credentials.
type TokenCache struct {
	refresh RefreshFunc

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache constructs an empty cache; the first call to Token mints
// the initial token via refresh.
func NewTokenCache(refresh RefreshFunc) *TokenCache {
	return &TokenCache{refresh: refresh}
}

// Token returns a non-expired installation token, minting or renewing it
// via RefreshFunc as needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expiresAt) > renewBefore {
		return c.token, nil
	}

	token, expiresAt, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return c.token, nil
}
