package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// RatePerSecond is the limit for authenticated callers, keyed by username.
	RatePerSecond int
	// Burst is the burst size for authenticated callers.
	Burst int
	// UnauthRatePerSecond is the stricter limit for unauthenticated callers,
	// keyed by client IP.
	UnauthRatePerSecond int
	// UnauthBurst is the burst size for unauthenticated callers.
	UnauthBurst int
	// CleanupInterval is how often idle limiters are dropped.
	CleanupInterval time.Duration
	// MaxAge is how long a limiter is kept after its last use.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RatePerSecond:       100,
		Burst:               200,
		UnauthRatePerSecond: 10,
		UnauthBurst:         20,
		CleanupInterval:     5 * time.Minute,
		MaxAge:              10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter      *rate.Limiter
	lastSeenNano atomic.Int64
}

// RateLimiter manages per-key token buckets.
type RateLimiter struct {
	config   RateLimitConfig
	limiters sync.Map // map[string]*limiterEntry
	stopCh   chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{config: config, stopCh: make(chan struct{})}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.limiters.Range(func(key, value any) bool {
				entry := value.(*limiterEntry)
				lastSeen := time.Unix(0, entry.lastSeenNano.Load())
				if now.Sub(lastSeen) > rl.config.MaxAge {
					rl.limiters.Delete(key)
				}
				return true
			})
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup loop.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request under the given key fits its budget.
func (rl *RateLimiter) Allow(key string, ratePerSecond, burst int) bool {
	now := time.Now().UnixNano()

	if val, ok := rl.limiters.Load(key); ok {
		entry := val.(*limiterEntry)
		entry.lastSeenNano.Store(now)
		return entry.limiter.Allow()
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
	entry.lastSeenNano.Store(now)
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry).limiter.Allow()
}

// RateLimit enforces per-principal rate limits: authenticated requests are
// keyed by username, unauthenticated ones by client IP with a stricter
// budget.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			var ratePerSecond, burst int

			if principal := GetPrincipal(r.Context()); principal != nil {
				key = "user:" + principal.Username
				ratePerSecond = rl.config.RatePerSecond
				burst = rl.config.Burst
			} else {
				ip := r.RemoteAddr
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					ip = host
				}
				key = "ip:" + ip
				ratePerSecond = rl.config.UnauthRatePerSecond
				burst = rl.config.UnauthBurst
			}

			if !rl.Allow(key, ratePerSecond, burst) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(ratePerSecond))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeEnvelope(w, http.StatusTooManyRequests, GetCid(r.Context()), "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
