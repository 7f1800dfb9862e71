package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"botmarket/observability"
)

// Window parameters for the public API: 100 requests per rolling minute per
// client IP.
const (
	RateLimitRequests = 100
	RateLimitWindow   = 60 * time.Second

	visitorIdleTTL = 5 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket sized to the public window.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
	limit    rate.Limit
	burst    int
	metrics  *observability.RateLimitMetrics
}

// NewRateLimiter builds a limiter with the standard public-window parameters
// and starts the idle-visitor sweep.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
		limit:    rate.Limit(float64(RateLimitRequests) / RateLimitWindow.Seconds()),
		burst:    RateLimitRequests,
		metrics:  observability.RateLimit(),
	}
	go rl.sweep()
	return rl
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.obtain(clientID(r))
		if !limiter.Allow() {
			rl.metrics.RecordRejection()
			w.Header().Set("Retry-After", strconv.Itoa(int(RateLimitWindow.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) obtain(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = rl.clockNow()
	return v.limiter
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(visitorIdleTTL)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := rl.clockNow().Add(-visitorIdleTTL)
		rl.mu.Lock()
		for id, v := range rl.visitors {
			if v.lastSeen.Before(cutoff) {
				delete(rl.visitors, id)
			}
		}
		rl.mu.Unlock()
	}
}

// clientID resolves the caller identity for limiting, preferring proxy
// headers over the socket address.
func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
		first := raw
		if comma := strings.IndexByte(raw, ','); comma > 0 {
			first = raw[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
