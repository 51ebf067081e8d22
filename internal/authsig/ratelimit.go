package authsig

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/datafold/datafold/internal/config"
)

// RateLimiter is a per-client token bucket, one golang.org/x/time/rate
// limiter per key behind a mutex — the same map-of-limiters idiom the
// teacher's ingress middleware uses for per-IP rate limiting, generalized
// to per-client-key signature-auth rate limiting and split into a separate
// failure-tracking limiter when configured.
type RateLimiter struct {
	cfg      config.RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	failures map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from the signature_auth.rate_limiting
// config block.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		failures: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether client may proceed, consuming one token from its
// bucket if so.
func (l *RateLimiter) Allow(client string) bool {
	if !l.cfg.Enabled {
		return true
	}
	limiter := l.limiterFor(client)
	return limiter.Allow()
}

// RecordFailure consumes one token from client's failure-tracking bucket
// when track_failures_separately is set, reporting false once that budget
// is exhausted.
func (l *RateLimiter) RecordFailure(client string) bool {
	if !l.cfg.Enabled || !l.cfg.TrackFailuresSeparately {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.failures[client]
	if !ok {
		window := time.Duration(l.cfg.WindowSizeSecs) * time.Second
		limiter = rate.NewLimiter(rate.Limit(float64(l.cfg.MaxFailuresPerWindow)/window.Seconds()), l.cfg.MaxFailuresPerWindow)
		l.failures[client] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *RateLimiter) limiterFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[client]
	if !ok {
		window := time.Duration(l.cfg.WindowSizeSecs) * time.Second
		limiter = rate.NewLimiter(rate.Limit(float64(l.cfg.MaxRequestsPerWindow)/window.Seconds()), l.cfg.MaxRequestsPerWindow)
		l.limiters[client] = limiter
	}
	return limiter
}

// Cleanup clears every tracked limiter once the map grows past a sane
// bound, mirroring the teacher's CleanupRateLimiters (a coarse reset rather
// than per-entry last-access tracking).
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > 10_000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
	if len(l.failures) > 10_000 {
		l.failures = make(map[string]*rate.Limiter)
	}
}
