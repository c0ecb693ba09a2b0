package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit bounds requests per client on one route group.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies token buckets keyed by route group and client.
type RateLimiter struct {
	limits     map[string]RateLimit
	onThrottle func(route string)
	idleAfter  time.Duration
	now        func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

// NewRateLimiter builds a limiter. onThrottle, when set, is called for every
// rejected request.
func NewRateLimiter(limits map[string]RateLimit, onThrottle func(route string)) *RateLimiter {
	return &RateLimiter{
		limits:     limits,
		onThrottle: onThrottle,
		idleAfter:  5 * time.Minute,
		now:        time.Now,
		visitors:   make(map[string]*visitor),
	}
}

// Middleware limits requests on the named route group. Groups without a
// configured limit pass through.
func (r *RateLimiter) Middleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limit, ok := r.limits[group]
		if !ok || limit.RequestsPerMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.allow(group+"|"+clientID(req), limit) {
				if r.onThrottle != nil {
					r.onThrottle(group)
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(key string, cfg RateLimit) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastSweep) >= r.idleAfter {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) >= r.idleAfter {
				delete(r.visitors, k)
			}
		}
		r.lastSweep = now
	}
	v, ok := r.visitors[key]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// clientID keys on the signing account before any network address.
func clientID(r *http.Request) string {
	if addr := strings.TrimSpace(r.Header.Get("X-Address")); addr != "" {
		return "acct:" + addr
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
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
