package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/paperrag/internal/logging"
)

// defaultRateLimit is the sustained requests per second allowed per client
// on search and chat when no explicit limit is configured. Every request on
// those routes costs at least one embedding call.
const defaultRateLimit = 10

// defaultRateBurst is the per-client burst when none is configured.
const defaultRateBurst = 20

// limiterIdleTTL is how long an idle client's bucket is kept.
const limiterIdleTTL = 5 * time.Minute

// clientBucket is the token bucket of one client and when it was last used.
type clientBucket struct {
	// limiter is the client's token bucket.
	limiter *rate.Limiter
	// lastSeen is refreshed on every request and drives eviction.
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket on the routes it wraps.
// Search and chat share a client's bucket, so alternating between them does
// not double the allowance.
type rateLimiter struct {
	// mu protects buckets.
	mu sync.Mutex
	// buckets maps client IP to its bucket.
	buckets map[string]*clientBucket
	// rps is the sustained rate per client.
	rps rate.Limit
	// burst is the bucket size per client.
	burst int
	// rejected counts 429 responses by route; may be nil.
	rejected *prometheus.CounterVec
}

// newRateLimiter constructs a rateLimiter and starts its eviction goroutine,
// which exits when the returned stop function is called. rejected may be nil.
func newRateLimiter(rps float64, burst int, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				rl.evict(now)
			}
		}
	}()

	return rl, func() { close(stopCh) }
}

// bucket returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evict drops buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-limiterIdleTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// limit wraps next for the named route. A rejected request gets 429 with a
// JSON error body and a Retry-After header in whole seconds.
func (rl *rateLimiter) limit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		now := time.Now()
		res := rl.bucket(ip, now).ReserveN(now, 1)

		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			if rl.rejected != nil {
				rl.rejected.WithLabelValues(route).Inc()
			}
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("route", route),
				slog.Duration("retry_after", delay),
			)
			w.Header().Set("Retry-After", retryAfter(delay))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter renders a delay as a Retry-After value, at least one second.
func retryAfter(delay time.Duration) string {
	secs := int64(math.Ceil(delay.Seconds()))
	if secs < 1 || delay == rate.InfDuration {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// clientIP extracts the remote IP from the request. X-Forwarded-For is not
// trusted; put a proxy that rewrites RemoteAddr in front if one is needed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
