package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/kbase-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second allowed per IP
	// and route class when none is configured.
	defaultRateLimit = 10

	// defaultRateBurst is the per-IP burst when none is configured.
	defaultRateBurst = 20

	// limiterIdleTTL is how long an unused bucket is kept.
	limiterIdleTTL = 5 * time.Minute

	// limiterSweepInterval is how often idle buckets are evicted.
	limiterSweepInterval = time.Minute
)

// Route classes with independent buckets. An upload burst does not use up
// the same client's query allowance.
const (
	classUpload = "upload"
	classQuery  = "query"
)

// bucketKey identifies one token bucket.
type bucketKey struct {
	class string
	ip    string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP, per-class token bucket on the expensive
// routes (uploads, embedding and model calls).
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	rps     rate.Limit
	burst   int
	now     func() time.Time
	// onReject is called with the route class of every rejected request.
	onReject func(class string)
}

// newRateLimiter returns a rateLimiter and starts its eviction goroutine,
// which runs until the returned stop function is called.
func newRateLimiter(rps float64, burst int, onReject func(class string)) (*rateLimiter, func()) {
	if onReject == nil {
		onReject = func(string) {}
	}
	rl := &rateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		onReject: onReject,
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				rl.evict()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(stopCh) }) }
}

func (rl *rateLimiter) limiter(key bucketKey) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evict drops buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// size returns the number of live buckets.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// limit returns middleware that charges each request to the caller's bucket
// for class. Over-limit requests get 429 with a Retry-After header.
func (rl *rateLimiter) limit(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			res := rl.limiter(bucketKey{class: class, ip: ip}).ReserveN(rl.now(), 1)
			if delay := res.DelayFrom(rl.now()); !res.OK() || delay > 0 {
				res.CancelAt(rl.now())
				rl.onReject(class)
				logging.FromContext(r.Context()).Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("class", class),
					slog.Duration("retry_after", delay),
				)
				w.Header().Set("Retry-After", retryAfter(delay))
				writeErrorMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter renders delay as whole seconds, at least 1.
func retryAfter(delay time.Duration) string {
	if delay <= 0 || delay == rate.InfDuration {
		return "1"
	}
	return strconv.Itoa(max(1, int(math.Ceil(delay.Seconds()))))
}

// clientIP returns the request's remote IP without the port. Proxy headers
// are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
