package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

// RateLimiter is an in-process per-key sliding-window limiter, adapted
// from the gateway teacher's rate limiter. It guards against abuse as
// defense-in-depth, separate from and in addition to the domain-level
// Cooldown/CampaignLocked responses Ledger and Squads return.
type RateLimiter struct {
	enabled bool
	rpm     int
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	tokens    []time.Time
	lastClean time.Time
}

// NewRateLimiter constructs a RateLimiter allowing rpm requests per
// minute per key when enabled is true.
func NewRateLimiter(enabled bool, rpm int) *RateLimiter {
	return &RateLimiter{
		enabled: enabled,
		rpm:     rpm,
		windows: make(map[string]*slidingWindow),
	}
}

// Handler returns the rate-limiting middleware, keyed by the
// authenticated key name (bot/admin) and falling back to remote addr
// when the request context carries no key name. NewRouter mounts it
// after Auth, so there every request that reaches it has a key name.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		key := string(KeyFrom(r.Context()))
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, remaining, resetAt := rl.allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int64(time.Until(resetAt).Seconds()) + 1
			apierr.WriteHTTP(w, apierr.New(apierr.KindCooldown, "rate limit exceeded").WithDetails(map[string]any{
				"retry_after_seconds": retryAfter,
			}))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-1 * time.Minute)
	resetAt := now.Add(1 * time.Minute)

	sw, exists := rl.windows[key]
	if !exists {
		sw = &slidingWindow{tokens: make([]time.Time, 0, rl.rpm), lastClean: now}
		rl.windows[key] = sw
	}

	if now.Sub(sw.lastClean) > 10*time.Second {
		valid := make([]time.Time, 0, len(sw.tokens))
		for _, t := range sw.tokens {
			if t.After(windowStart) {
				valid = append(valid, t)
			}
		}
		sw.tokens = valid
		sw.lastClean = now
	}

	count := 0
	for _, t := range sw.tokens {
		if t.After(windowStart) {
			count++
		}
	}

	remaining := rl.rpm - count
	if remaining <= 0 {
		if len(sw.tokens) > 0 {
			resetAt = sw.tokens[0].Add(1 * time.Minute)
		}
		return false, 0, resetAt
	}

	sw.tokens = append(sw.tokens, now)
	return true, remaining - 1, resetAt
}

// Cleanup evicts windows with no recent activity; call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * time.Minute)
	for key, sw := range rl.windows {
		if len(sw.tokens) == 0 || sw.tokens[len(sw.tokens)-1].Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}
