package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fixedLimiter(limits map[string]RateLimit, throttled *[]string) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(limits, func(route string) {
		if throttled != nil {
			*throttled = append(*throttled, route)
		}
	})
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	var throttled []string
	limiter, now := fixedLimiter(map[string]RateLimit{
		"markets": {RequestsPerMinute: 60, Burst: 1},
	}, &throttled)
	handler := limiter.Middleware("markets")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/bids", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if len(throttled) != 1 || throttled[0] != "markets" {
		t.Fatalf("unexpected throttle callbacks %v", throttled)
	}

	*now = now.Add(time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected refill after one second, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesGroups(t *testing.T) {
	limiter, _ := fixedLimiter(map[string]RateLimit{
		"markets": {RequestsPerMinute: 60, Burst: 1},
		"ops":     {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	markets := limiter.Middleware("markets")(okHandler())
	ops := limiter.Middleware("ops")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/markets", nil)
	res := httptest.NewRecorder()
	markets.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected markets request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	ops.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected ops bucket to be independent, got %d", res.Code)
	}
}

func TestRateLimiterKeysOnSigningAccount(t *testing.T) {
	limiter, _ := fixedLimiter(map[string]RateLimit{
		"markets": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("markets")(okHandler())

	for _, account := range []string{"acct-a", "acct-b"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/borrows", nil)
		req.Header.Set("X-Address", account)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s to have its own bucket, got %d", account, res.Code)
		}
	}
}

func TestRateLimiterUnconfiguredGroupPassesThrough(t *testing.T) {
	limiter, _ := fixedLimiter(nil, nil)
	handler := limiter.Middleware("markets")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/markets", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, res.Code)
		}
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter, now := fixedLimiter(map[string]RateLimit{
		"markets": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("markets")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/markets", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected one tracked visitor, got %d", len(limiter.visitors))
	}

	*now = now.Add(10 * time.Minute)
	other := httptest.NewRequest(http.MethodGet, "/v1/markets", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	handler.ServeHTTP(httptest.NewRecorder(), other)
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected idle visitor to be evicted, got %d", len(limiter.visitors))
	}
}

func TestClientIDPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientID(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := clientID(req); got != "198.51.100.7" {
		t.Fatalf("forwarded: got %q", got)
	}
	req.Header.Set("X-Real-IP", "203.0.113.5")
	if got := clientID(req); got != "203.0.113.5" {
		t.Fatalf("real ip: got %q", got)
	}
	req.Header.Set("X-Address", "orate1xyz")
	if got := clientID(req); got != "acct:orate1xyz" {
		t.Fatalf("account: got %q", got)
	}
}
