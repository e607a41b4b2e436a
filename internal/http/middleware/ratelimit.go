package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByVoterOrIP keys buckets by the voter key stored by Identity
// ("user:", "device:" or "conn:" prefixed) and falls back to "ip:<addr>"
// when Identity did not run.
func KeyByVoterOrIP() keyFunc {
	return func(c *gin.Context) string {
		if _, ok := c.Get(ctxKeyVoter); ok {
			if k := VoterFrom(c).Key(); k != "" {
				return k
			}
		}
		return "ip:" + c.ClientIP()
	}
}

const (
	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per voter key. It sheds vote
// and authoring floods early; the storage uniqueness constraint stays the
// authority on duplicates across instances. Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	methods map[string]bool // nil limits every method

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// LimitMethods restricts limiting to the given HTTP methods. Reads stay
// unmetered so result polling and ETag revalidation never spend the tokens
// a voter needs to submit.
func (rl *RateLimiter) LimitMethods(methods ...string) *RateLimiter {
	rl.methods = make(map[string]bool, len(methods))
	for _, m := range methods {
		rl.methods[m] = true
	}
	return rl
}

// limiter returns the bucket for key, sweeping idle buckets at most once
// per sweepEvery. The sweep runs first so a stale bucket for key is
// replaced rather than refreshed.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketIdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// retryAfter is the whole seconds until lim frees a token, at least 1.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return max(1, int(math.Ceil(d.Seconds())))
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as
// a replay of a completed submission.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler enforces the limits. Replays and unmetered methods pass through;
// a denied request gets 429 with Retry-After and the standard error body.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || (rl.methods != nil && !rl.methods[c.Request.Method]) {
			c.Next()
			return
		}

		lim := rl.limiter(rl.keyFn(c))
		now := rl.now()
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
