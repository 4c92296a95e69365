package auth

import (
	"sync"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrLocked is returned while a source IP is under brute-force lockout;
// spec.md 7: "respond 403 Forbidden (design choice: do not leak lockout
// duration)".
const ErrLocked errs.Error = "source locked out"

// BruteForceConfig configures the guard, per spec.md 6's auth config block.
type BruteForceConfig struct {
	MaxAttempts     int           // default 5
	Window          time.Duration // default 5 min
	LockoutDuration time.Duration // default 15 min
}

// DefaultBruteForceConfig matches spec.md 4.3's stated defaults.
func DefaultBruteForceConfig() BruteForceConfig {
	return BruteForceConfig{MaxAttempts: 5, Window: 5 * time.Minute, LockoutDuration: 15 * time.Minute}
}

type bfCounter struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// BruteForceGuard is the per-source-IP rolling failure counter described in
// spec.md 3 and 4.3. Entries expire when idle past window + lockout.
type BruteForceGuard struct {
	mu      sync.Mutex
	cfg     BruteForceConfig
	byIP    map[string]*bfCounter
	nowFunc func() time.Time
}

// NewBruteForceGuard constructs a guard with cfg; zero-valued fields fall
// back to DefaultBruteForceConfig's corresponding value.
func NewBruteForceGuard(cfg BruteForceConfig) *BruteForceGuard {
	def := DefaultBruteForceConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	return &BruteForceGuard{cfg: cfg, byIP: make(map[string]*bfCounter), nowFunc: time.Now}
}

// Check returns ErrLocked if ip is currently locked out, without touching
// the counter otherwise. Callers must call Check before doing any password
// verification, per spec.md 4.3 step 4: "while locked, verification
// short-circuits to 401 without hashing" (the dispatcher maps this to its
// chosen status; see spec.md 7 and S6).
func (g *BruteForceGuard) Check(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	c, ok := g.byIP[ip]
	if !ok {
		return nil
	}
	if !c.lockedUntil.IsZero() && now.Before(c.lockedUntil) {
		return ErrLocked
	}
	return nil
}

// RecordFailure increments ip's failure counter, resetting the rolling
// window if it has elapsed, and locks ip out when MaxAttempts is reached.
func (g *BruteForceGuard) RecordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	c, ok := g.byIP[ip]
	if !ok || now.Sub(c.windowStart) > g.cfg.Window {
		c = &bfCounter{windowStart: now}
		g.byIP[ip] = c
	}
	c.failures++
	if c.failures >= g.cfg.MaxAttempts {
		c.lockedUntil = now.Add(g.cfg.LockoutDuration)
	}
}

// RecordSuccess resets ip's failure counter, per spec.md 4.3 step 7.
func (g *BruteForceGuard) RecordSuccess(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byIP, ip)
}

// Evict drops entries idle past window + lockout, per spec.md 3.
func (g *BruteForceGuard) Evict(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	maxIdle := g.cfg.Window + g.cfg.LockoutDuration
	for ip, c := range g.byIP {
		if now.Sub(c.windowStart) > maxIdle && now.After(c.lockedUntil) {
			delete(g.byIP, ip)
			removed++
		}
	}
	return removed
}
