package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Policy defines a simple fixed-window rate limit.
// Limit requests within Window per derived key.
type Policy struct {
	// Name is a short identifier for the limited endpoint, used for logging (e.g. "letters:finalize").
	Name   string
	Window time.Duration
	Limit  int
	// Key builds the bucket key for this request.
	// Example: func(c echo.Context) string { return "finalize:" + c.RealIP() }
	Key func(echo.Context) string
	// Store holds the shared counters. Nil falls back to a process-local
	// in-memory window; multi-instance deployments should pass the Redis store.
	Store Store
}

// Store abstracts a shared counter store (e.g., Redis) for fixed-window limiting.
type Store interface {
	// Allow increments the counter for the key in the given window and returns whether the request is allowed.
	// If not allowed, retryAfterSec indicates seconds until the window resets.
	Allow(ctx echo.Context, key string, limit int, window time.Duration) (allowed bool, retryAfterSec int, err error)
}

// memoryStore is the process-local fallback.
type memoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{buckets: make(map[string]*bucket)}
}

func (s *memoryStore) Allow(_ echo.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok || now.Sub(b.start) >= window {
		s.buckets[key] = &bucket{start: now, count: 1}
		return true, 0, nil
	}
	if b.count < limit {
		b.count++
		return true, 0, nil
	}
	retry := int((window - now.Sub(b.start)).Seconds()) + 1
	return false, retry, nil
}

// Middleware returns an Echo middleware enforcing the provided Policy.
func Middleware(p Policy) echo.MiddlewareFunc {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Limit <= 0 {
		p.Limit = 60
	}
	store := p.Store
	if store == nil {
		store = newMemoryStore()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "global"
			if p.Key != nil {
				key = p.Key(c)
			}
			allowed, retryAfter, err := store.Allow(c, key, p.Limit, p.Window)
			if err != nil {
				// a broken limiter store must not take the endpoint down
				return next(c)
			}
			if allowed {
				return next(c)
			}
			if retryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}
}
