package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(perMin int) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(perMin)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestAllowExhaustsBudget(t *testing.T) {
	rl, _ := newTestLimiter(3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be within budget", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request should exceed a budget of 3")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	rl, now := newTestLimiter(60)
	defer rl.Stop()

	for i := 0; i < 60; i++ {
		rl.Allow("10.0.0.1")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("budget should be exhausted")
	}

	// One second at 60/min buys back one token.
	*now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("a refilled token should admit one more request")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("only one token should have refilled")
	}
}

func TestAllowTracksClientsSeparately(t *testing.T) {
	rl, _ := newTestLimiter(1)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first client should be admitted")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("a different client has its own budget")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("first client already spent its budget")
	}
}

func TestWrapRejectsWith429(t *testing.T) {
	rl, _ := newTestLimiter(1)
	defer rl.Stop()

	called := 0
	handler := rl.Wrap(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})

	mkReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", nil)
		req.RemoteAddr = "192.168.1.7:54321"
		return req
	}

	rr := httptest.NewRecorder()
	handler(rr, mkReq())
	if rr.Code != http.StatusOK || called != 1 {
		t.Fatalf("first request: code %d, handler calls %d", rr.Code, called)
	}

	rr = httptest.NewRecorder()
	handler(rr, mkReq())
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got %d, want 429", rr.Code)
	}
	if called != 1 {
		t.Errorf("limited request must not reach the handler")
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("limited response should carry Retry-After")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:40000"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Errorf("clientKey: got %q, want %q", got, "10.1.2.3")
	}

	req.RemoteAddr = "noport"
	if got := clientKey(req); got != "noport" {
		t.Errorf("clientKey without port: got %q", got)
	}
}
