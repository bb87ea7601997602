package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// okHandler stands in for the search and chat handlers.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newRejectedCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rejected_total"}, []string{"route"})
}

func sendFrom(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, nil)
	defer stop()
	h := rl.limit("search", okHandler)

	for i := range 5 {
		if w := sendFrom(h, http.MethodPost, "/api/search", "127.0.0.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimit_RejectsWithJSONAndRetryAfter(t *testing.T) {
	t.Parallel()

	rejected := newRejectedCounter()
	reg := prometheus.NewRegistry()
	reg.MustRegister(rejected)
	rl, stop := newRateLimiter(0.001, 1, rejected)
	defer stop()
	h := rl.limit("chat", okHandler)

	if w := sendFrom(h, http.MethodPost, "/api/chat", "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := sendFrom(h, http.MethodPost, "/api/chat", "10.0.0.2:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Errorf("Retry-After = %q, want a positive number of seconds", ra)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if body.Error != "rate limit exceeded" {
		t.Errorf("error = %q", body.Error)
	}
	if got := counterValue(t, reg, "rejected_total", "route", "chat"); got != 1 {
		t.Errorf("rejected{route=chat} = %v, want 1", got)
	}
}

func TestRateLimit_SearchAndChatShareBucket(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, nil)
	defer stop()
	search := rl.limit("search", okHandler)
	chat := rl.limit("chat", okHandler)

	if w := sendFrom(search, http.MethodPost, "/api/search", "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", w.Code)
	}
	if w := sendFrom(chat, http.MethodPost, "/api/chat", "10.0.0.3:2"); w.Code != http.StatusTooManyRequests {
		t.Errorf("chat after search: expected 429, got %d", w.Code)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, nil)
	defer stop()
	h := rl.limit("search", okHandler)

	for range 3 {
		sendFrom(h, http.MethodPost, "/api/search", "192.168.1.1:1111")
	}
	if w := sendFrom(h, http.MethodPost, "/api/search", "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, nil)
	defer stop()

	now := time.Now()
	rl.bucket("10.0.0.1", now.Add(-2*limiterIdleTTL))
	rl.bucket("10.0.0.2", now)

	rl.evict(now)
	if got := rl.size(); got != 1 {
		t.Errorf("size after evict = %d, want 1", got)
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		delay time.Duration
		want  string
	}{
		{0, "1"},
		{300 * time.Millisecond, "1"},
		{2500 * time.Millisecond, "3"},
		{time.Minute, "60"},
	}
	for _, tc := range cases {
		if got := retryAfter(tc.delay); got != tc.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tc.delay, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
