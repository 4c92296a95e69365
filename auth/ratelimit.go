package auth

import (
	"sync"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrRateLimited is returned when a source IP exceeds its sliding-window
// request budget; spec.md 7 maps this to 429 Too Many Requests.
const ErrRateLimited errs.Error = "rate limited"

// RateLimitConfig configures the limiter, per spec.md 6's rate_limit block.
type RateLimitConfig struct {
	MaxRequests int           // default 10
	Window      time.Duration // default 60s
}

// DefaultRateLimitConfig matches spec.md 4.3's stated defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 10, Window: 60 * time.Second}
}

// RateLimiter is the per-source-IP sliding-window request counter from
// spec.md 3.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	byIP    map[string][]time.Time
	nowFunc func() time.Time
}

// NewRateLimiter constructs a limiter with cfg; zero fields fall back to
// DefaultRateLimitConfig.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &RateLimiter{cfg: cfg, byIP: make(map[string][]time.Time), nowFunc: time.Now}
}

// Allow records a request from ip and returns ErrRateLimited if it exceeds
// MaxRequests within Window.
func (l *RateLimiter) Allow(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	cutoff := now.Add(-l.cfg.Window)

	ts := l.byIP[ip]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.cfg.MaxRequests {
		l.byIP[ip] = kept
		return ErrRateLimited
	}
	l.byIP[ip] = append(kept, now)
	return nil
}

// Evict drops tracking for any IP with no requests inside Window.
func (l *RateLimiter) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := now.Add(-l.cfg.Window)
	for ip, ts := range l.byIP {
		live := false
		for _, t := range ts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.byIP, ip)
			removed++
		}
	}
	return removed
}
