package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/docbook/booking/internal/platform/auth"
)

func rateLimited(t *testing.T, err error) bool {
	t.Helper()
	if err == nil {
		return false
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 HTTPError, got %v", err)
	}
	return true
}

func newRequestContext(e *echo.Echo, userID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, userID))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})(okHandler)

	for i := 0; i < 3; i++ {
		c, rec := newRequestContext(e, "")
		if rateLimited(t, h(c)) {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("expected X-RateLimit-Limit 1, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	c, rec := newRequestContext(e, "")
	if !rateLimited(t, h(c)) {
		t.Fatal("expected fourth request to be limited")
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_PerUserBuckets(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(okHandler)

	c, _ := newRequestContext(e, "doctor-a")
	if rateLimited(t, h(c)) {
		t.Fatal("doctor-a first request limited")
	}
	c, _ = newRequestContext(e, "doctor-a")
	if !rateLimited(t, h(c)) {
		t.Fatal("doctor-a second request should be limited")
	}
	c, _ = newRequestContext(e, "doctor-b")
	if rateLimited(t, h(c)) {
		t.Fatal("doctor-b should have its own bucket")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	now := time.Now()
	b := &tokenBucket{tokens: 0, burst: 2, rate: 10, lastSeen: now}

	if ok, retry := b.take(now); ok || retry != 1 {
		t.Fatalf("expected empty bucket with retry 1, got ok=%v retry=%d", ok, retry)
	}
	if ok, _ := b.take(now.Add(200 * time.Millisecond)); !ok {
		t.Fatal("expected refill after 200ms at 10 rps")
	}
}

func TestTokenBucket_ZeroRate(t *testing.T) {
	b := &tokenBucket{tokens: 0, burst: 1, rate: 0, lastSeen: time.Now()}
	if ok, retry := b.take(time.Now()); ok || retry != 1 {
		t.Errorf("expected reject with retry 1, got ok=%v retry=%d", ok, retry)
	}
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	start := time.Now()
	l := &limiter{
		cfg:     RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute},
		buckets: make(map[string]*tokenBucket),
		swept:   start,
	}
	l.bucket("ip:1.2.3.4", start)
	l.bucket("ip:5.6.7.8", start.Add(2*time.Minute))

	if _, ok := l.buckets["ip:1.2.3.4"]; ok {
		t.Error("expected idle bucket to be evicted")
	}
	if _, ok := l.buckets["ip:5.6.7.8"]; !ok {
		t.Error("expected fresh bucket to remain")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
