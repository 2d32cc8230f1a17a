package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/listings-admin/internal/httpmw"
)

// fakeClock is a manually advanced clock shared by the limiter tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, clk *fakeClock, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	all := append([]Option{WithRate(1, 3), WithTTL(time.Minute), WithClock(clk.Now)}, opts...)
	return New(ctx, all...)
}

func TestAllow_BurstThenRefill(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, clk)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed (within burst)", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request 4 should be denied")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("other ip has its own bucket")
	}

	clk.Advance(time.Second)
	if !l.allow("10.0.0.1") {
		t.Fatal("one token should refill after a second")
	}
}

func TestDeniedHooks(t *testing.T) {
	clk := newFakeClock()
	var first, every int
	l := newTestLimiter(t, clk, WithRate(1, 1),
		WithOnFirstDenied(func(string) { first++ }),
		WithOnDenied(func(string) { every++ }),
	)

	l.allow("10.0.0.1")
	for i := 0; i < 4; i++ {
		l.allow("10.0.0.1")
	}
	if first != 1 || every != 4 {
		t.Fatalf("first=%d every=%d, want 1 and 4", first, every)
	}
}

func TestEvict_StaleVisitors(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, clk)

	l.allow("10.0.0.1")
	clk.Advance(30 * time.Second)
	l.allow("10.0.0.2")
	clk.Advance(45 * time.Second)
	l.evict(clk.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("stale visitor should be evicted")
	}
	if _, ok := l.visitors["10.0.0.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, clk, WithRate(0.5, 1))

	var reached int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), "203.0.113.7"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
	}
	if rec.Body.String() != `{"error":"too many requests"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if reached != 1 {
		t.Errorf("handler reached %d times, want 1", reached)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{10, 1},
		{1, 1},
		{0.5, 2},
		{0.1, 10},
		{0, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(rate.Limit(tt.rate)); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestMaxVisitors(t *testing.T) {
	clk := newFakeClock()
	capHits, denied := 0, 0
	l := newTestLimiter(t, clk,
		WithRate(100, 100),
		WithMaxVisitors(2),
		WithOnCapacity(func() { capHits++ }),
		WithOnDenied(func(string) { denied++ }),
	)

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	if l.allow("10.0.0.3") || l.allow("10.0.0.4") {
		t.Fatal("new ip admitted at capacity")
	}
	if !l.allow("10.0.0.1") {
		t.Fatal("known ip denied at capacity")
	}
	if capHits != 1 || denied != 2 {
		t.Fatalf("capHits = %d denied = %d", capHits, denied)
	}

	clk.Advance(2 * time.Minute)
	l.evict(clk.Now())
	if !l.allow("10.0.0.3") {
		t.Fatal("eviction should free capacity")
	}
	l.allow("10.0.0.4")
	l.allow("10.0.0.5")
	if capHits != 2 {
		t.Fatalf("capacity hook should fire again after recovery, got %d", capHits)
	}
}
