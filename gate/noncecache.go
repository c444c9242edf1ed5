package gate

import (
	"strings"
	"sync"
	"time"
)

// NonceCache tracks consumed authorization nonces so a signed envelope can
// be accepted at most once. Entries expire with the authorization's own
// validity window: once validBefore has passed, the signature can no longer
// verify and the nonce no longer needs tracking.
type NonceCache struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

// NewNonceCache creates an empty replay cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Consume atomically records (payer, nonce) and reports whether this was the
// first sighting. A false return means the nonce was already spent and the
// payment must be rejected as a replay.
func (c *NonceCache) Consume(payer, nonce string, validBefore time.Time) bool {
	key := strings.ToLower(payer) + ":" + strings.ToLower(nonce)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if expiry, seen := c.expiry[key]; seen && expiry.After(now) {
		return false
	}
	c.expiry[key] = validBefore
	return true
}

// Len returns the number of live entries.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.expiry)
}

func (c *NonceCache) pruneLocked(now time.Time) {
	for key, expiry := range c.expiry {
		if !expiry.After(now) {
			delete(c.expiry, key)
		}
	}
}
