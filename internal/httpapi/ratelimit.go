package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Per-namespace token buckets. Burst requests are allowed up front and the
// bucket refills at RequestsPerSecond. Limiters idle for an hour are dropped.

type namespaceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-namespace token buckets
type RateLimiter struct {
	limiters map[string]*namespaceLimiter
	config   RateLimitInfo
	mu       sync.Mutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config RateLimitInfo) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*namespaceLimiter),
		config:   config,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) getLimiter(namespace string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[namespace]; ok {
		l.lastSeen = time.Now()
		return l.limiter
	}

	l := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
	rl.limiters[namespace] = &namespaceLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// Allow consumes one token for namespace.
// Returns (allowed, tokens remaining, seconds until the next token)
func (rl *RateLimiter) Allow(namespace string) (bool, int, int) {
	l := rl.getLimiter(namespace)
	now := time.Now()

	if l.AllowN(now, 1) {
		return true, int(math.Max(0, l.TokensAt(now))), 0
	}

	retryAfter := 1
	if rl.config.RequestsPerSecond > 0 {
		missing := 1 - l.TokensAt(now)
		retryAfter = int(math.Ceil(missing / rl.config.RequestsPerSecond))
		if retryAfter < 1 {
			retryAfter = 1
		}
	}
	return false, 0, retryAfter
}

// Stop ends the cleanup goroutine and waits for it. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

// cleanupLoop periodically removes inactive limiters to prevent memory leaks
func (rl *RateLimiter) cleanupLoop() {
	defer close(rl.done)

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ns, l := range rl.limiters {
				if time.Since(l.lastSeen) > time.Hour {
					delete(rl.limiters, ns)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimitMiddleware enforces the limiter's policy per {namespace} URL
// parameter. A nil limiter disables limiting.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	config := limiter.config
	limitHeader := strconv.FormatFloat(config.RequestsPerSecond, 'f', -1, 64)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			namespace := chi.URLParam(r, "namespace")
			if namespace == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, retryAfter := limiter.Allow(namespace)

			w.Header().Set("X-RateLimit-Limit", limitHeader)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(config.Burst))

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Ctx(r.Context()).Warn().
					Str("namespace", namespace).
					Str("path", r.URL.Path).
					Int("retryAfter", retryAfter).
					Msg("Rate limit exceeded")

				writeError(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
