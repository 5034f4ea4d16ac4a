package middleware

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mutex      sync.Mutex
}

// NewTokenBucket creates a full token bucket
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow takes a token if one is available
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Remaining returns the whole tokens left
func (tb *TokenBucket) Remaining() int {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return int(tb.tokens)
}

// RouteClass groups routes that share one budget
type RouteClass string

const (
	// ClassDeploy covers requests that walk package trees and write the target
	ClassDeploy RouteClass = "deploy"
	// ClassRead covers everything else
	ClassRead RouteClass = "read"
)

type limits struct {
	capacity   int
	refillRate float64
}

// RateLimiter keeps one bucket per client and route class. Deploy requests
// are serialized by the manager, so their budget is a quarter of the reads'.
type RateLimiter struct {
	buckets map[string]*TokenBucket
	mutex   sync.RWMutex
	limits  map[RouteClass]limits
}

// NewRateLimiter creates a rate limiter allowing rps requests per second with bursts of burst
func NewRateLimiter(rps, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		limits: map[RouteClass]limits{
			ClassRead:   {capacity: burst, refillRate: float64(rps)},
			ClassDeploy: {capacity: max(burst/4, 1), refillRate: max(float64(rps)/4, 0.25)},
		},
	}
}

// Classify returns the route class of a request
func Classify(method, path string) RouteClass {
	if method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions {
		return ClassRead
	}
	switch {
	case strings.HasSuffix(path, "/enable"),
		strings.HasSuffix(path, "/disable"),
		strings.HasSuffix(path, "/enable-all"),
		strings.HasSuffix(path, "/disable-all"),
		strings.HasSuffix(path, "/step"),
		strings.HasSuffix(path, "/cancel"),
		strings.HasPrefix(path, "/v1/strategy"),
		method == fiber.MethodDelete && strings.HasPrefix(path, "/v1/packages/"):
		return ClassDeploy
	}
	return ClassRead
}

// getBucket gets or creates the bucket for a client and route class
func (rl *RateLimiter) getBucket(clientID string, class RouteClass) *TokenBucket {
	key := clientID + ":" + string(class)

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()
	if exists {
		return bucket
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}
	l := rl.limits[class]
	bucket = NewTokenBucket(l.capacity, l.refillRate)
	rl.buckets[key] = bucket
	return bucket
}

// getClientID identifies the caller by API key header or IP
func (rl *RateLimiter) getClientID(c *fiber.Ctx) string {
	if apiKey := c.Get("X-API-Key"); apiKey != "" {
		return "api:" + apiKey
	}
	return "ip:" + c.IP()
}

// Middleware returns a Fiber middleware for rate limiting
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := rl.getClientID(c)
		class := Classify(c.Method(), c.Path())
		bucket := rl.getBucket(clientID, class)
		l := rl.limits[class]

		if !bucket.Allow() {
			retryAfter := max(int(1/l.refillRate), 1)
			appErr := domain.NewAppError(
				domain.ErrRateLimit,
				"Rate limit exceeded",
				429,
				map[string]any{
					"class":       class,
					"retry_after": retryAfter,
				},
			).WithContext(c.Context(), "rate_limit")

			c.Set("Retry-After", strconv.Itoa(retryAfter))
			c.Set("X-RateLimit-Limit", strconv.Itoa(l.capacity))
			c.Set("X-RateLimit-Remaining", "0")

			return c.Status(appErr.StatusCode).JSON(map[string]any{
				"status":  "error",
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(l.capacity))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(bucket.Remaining()))
		return c.Next()
	}
}

// CleanupOldBuckets removes buckets idle for more than an hour
func (rl *RateLimiter) CleanupOldBuckets() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		idle := now.Sub(bucket.lastRefill)
		bucket.mutex.Unlock()
		if idle > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine starts a background routine to clean up old buckets.
// Returns a stop function to cancel the routine.
func (rl *RateLimiter) StartCleanupRoutine() (stop func()) {
	ticker := time.NewTicker(10 * time.Minute)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.CleanupOldBuckets()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
