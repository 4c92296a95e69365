package auth

import (
	"sync"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/internal/randutil"
)

// DefaultNonceTTL is the nonce lifetime, per spec.md 3: "lifetime ≤ 5 min".
const DefaultNonceTTL = 5 * time.Minute

// ErrStaleNonce indicates the nonce is missing or expired; spec.md 4.3 step 2.
const ErrStaleNonce errs.Error = "stale nonce"

// ErrNonceReplayed indicates the (nonce, nc) pair was already used once,
// per spec.md invariant 3.
const ErrNonceReplayed errs.Error = "nonce replayed"

type nonceEntry struct {
	realm     string
	createdAt time.Time
	usedNC    map[string]struct{}
}

// NonceCache is the server-side single-use nonce store. Inserts and
// evictions are serialized under a single lock; lookups are read-mostly,
// per spec.md 5's "Nonce cache inserts and evictions are serialized under
// a single lock".
type NonceCache struct {
	mu      sync.RWMutex
	entries map[string]*nonceEntry
	ttl     time.Duration
}

// NewNonceCache constructs a nonce cache with the given TTL; ttl <= 0 uses
// DefaultNonceTTL.
func NewNonceCache(ttl time.Duration) *NonceCache {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceCache{entries: make(map[string]*nonceEntry), ttl: ttl}
}

// New mints a fresh nonce for realm and inserts it with created_at = now.
func (c *NonceCache) New(realm string) string {
	nonce := randutil.Nonce()
	c.mu.Lock()
	c.entries[nonce] = &nonceEntry{realm: realm, createdAt: time.Now(), usedNC: map[string]struct{}{}}
	c.mu.Unlock()
	return nonce
}

// Validate checks that nonce exists, belongs to realm, has not expired, and
// that (nonce, nc) has not been consumed before when qop=auth is in use.
// On success it records (nonce, nc) as spent.
func (c *NonceCache) Validate(nonce, realm, nc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[nonce]
	if !ok {
		return ErrStaleNonce
	}
	if entry.realm != realm {
		return ErrStaleNonce
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, nonce)
		return ErrStaleNonce
	}
	if nc != "" {
		if _, used := entry.usedNC[nc]; used {
			return ErrNonceReplayed
		}
		entry.usedNC[nc] = struct{}{}
	}
	return nil
}

// Evict removes every nonce idle past its TTL; intended to run periodically
// from the same reaper loop as the registrar's binding sweep.
func (c *NonceCache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for nonce, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, nonce)
			removed++
		}
	}
	return removed
}

// Len reports the number of live nonces, for tests and metrics.
func (c *NonceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
