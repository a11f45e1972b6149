package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Token bucket
// ---------------------------------------------------------------------------

// bucket is one key's token bucket. Tokens refill continuously at
// refillRate per second up to capacity; each admitted request removes one.
// Invariant: 0 <= tokens <= capacity at every observation.
type bucket struct {
	mu          sync.Mutex
	tokens      float64
	lastUpdated time.Time // time.Time carries a monotonic reading on Go
	capacity    float64
	refillRate  float64 // tokens per second
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{
		tokens:      capacity, // a fresh key starts with a full burst
		lastUpdated: now,
		capacity:    capacity,
		refillRate:  refillRate,
	}
}

// tryConsume refills the bucket for the time elapsed since the last call,
// then removes one token if a whole one is available. lastUpdated advances
// either way — a denied request still "spends" the elapsed refill, which
// is what keeps the refill math exact across a run of denials.
func (b *bucket) tryConsume(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdated).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastUpdated = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Per-key limiter
// ---------------------------------------------------------------------------

// RateLimiter holds a token bucket per API key.
//
// Two-level locking: the outer RWMutex guards the map (shared for the
// common existing-bucket lookup, exclusive only to insert), and each
// bucket has its own Mutex for the consume step. Acquisition order is
// always map lock → bucket lock, and neither is held across anything that
// can block, so the scheme can't deadlock.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	capacity   float64
	refillRate float64

	// now is swappable so tests can drive the clock.
	now func() time.Time
}

// NewRateLimiter builds a limiter admitting requestsPerMinute sustained,
// with a burst of the same size: capacity = R tokens, refill = R/60
// tokens/sec — a full minute's allowance available up front.
func NewRateLimiter(requestsPerMinute uint64) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   float64(requestsPerMinute),
		refillRate: float64(requestsPerMinute) / 60.0,
		now:        time.Now,
	}
}

// Allow consumes one token from apiKey's bucket, creating the bucket on
// first sight. Returns false when the key is out of tokens.
func (l *RateLimiter) Allow(apiKey string) bool {
	now := l.now()

	// Fast path: the bucket almost always exists already, so a shared
	// read lock on the map is enough to reach it. The bucket's own lock
	// nests inside the map lock (map → bucket, released in reverse);
	// tryConsume never blocks, so the read lock is held only briefly.
	l.mu.RLock()
	if b, ok := l.buckets[apiKey]; ok {
		admitted := b.tryConsume(now)
		l.mu.RUnlock()
		return admitted
	}
	l.mu.RUnlock()

	// Slow path: first request for this key. Between dropping the read
	// lock and acquiring the write lock another goroutine may have
	// inserted the bucket, so re-check before creating. Consuming while
	// still holding the write lock is fine — it's the rare path.
	l.mu.Lock()
	b, ok := l.buckets[apiKey]
	if !ok {
		b = newBucket(l.capacity, l.refillRate, now)
		l.buckets[apiKey] = b
	}
	admitted := b.tryConsume(now)
	l.mu.Unlock()

	return admitted
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimit returns a middleware enforcing the per-key limit. Requests
// without a validated caller (public routes mounted inside the chain by
// mistake) pass through unlimited — there's no key to account them to.
// Denials are answered with 429 and never reach the inner handler, which
// also means the tracking layer below never counts them.
func RateLimit(limiter *RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromRequest(r)
			if ok && !limiter.Allow(caller.Key) {
				logger.Info("rate limit exceeded", zap.String("api_key", caller.Key))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
