package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
)

type RateLimiter struct {
	store  *sync.Map // map[string]*Bucket
	limits map[string]int
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

func NewRateLimiter(limits map[string]int) *RateLimiter {
	rl := &RateLimiter{
		store:  &sync.Map{},
		limits: limits,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.store.Range(func(key, value interface{}) bool {
			bucket := value.(*Bucket)
			bucket.mu.Lock()
			if now.Sub(bucket.lastAccess) > 10*time.Minute {
				rl.store.Delete(key)
			}
			bucket.mu.Unlock()
			return true
		})
	}
}

func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := time.Now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	// Refill at limit per minute.
	elapsed := now.Sub(bucket.lastRefill)
	refillRate := float64(limit) / 60.0
	refillTokens := int(elapsed.Seconds() * refillRate)

	if refillTokens > 0 {
		if bucket.tokens+refillTokens > limit {
			bucket.tokens = limit
		} else {
			bucket.tokens += refillTokens
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Limit keys buckets by principal when one is present, by remote address
// otherwise (the token endpoint runs unauthenticated).
func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var key string
			if principal, ok := r.Context().Value(apiContext.Principal).(*auth.Principal); ok && principal != nil {
				key = fmt.Sprintf("%s:%s", principal.UserID, limitType)
			} else {
				key = fmt.Sprintf("%s:%s", r.RemoteAddr, limitType)
			}

			limit, ok := rl.limits[limitType]
			if !ok {
				limit = 100
			}

			if !rl.Allow(key, limit) {
				w.Header().Set("Retry-After", "60")
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}
