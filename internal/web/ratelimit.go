package web

import (
	"context"
	"sync"
	"time"
)

const (
	// MaxEditRequestsPerMinute limits edit requests per session.
	// Edits are expensive remote calls, so the limit is tight.
	MaxEditRequestsPerMinute = 6

	// MaxUploadRequestsPerMinute limits image uploads per session.
	MaxUploadRequestsPerMinute = 20

	// cleanupInterval is how often to check for stale sessions
	cleanupInterval = 5 * time.Minute

	// maxSessionAge is the maximum idle time before a session's rate
	// limit state is cleaned up
	maxSessionAge = 30 * time.Minute
)

// tokenBucket implements a simple token bucket rate limiter.
type tokenBucket struct {
	capacity   int
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

// newTokenBucket creates a new token bucket with the specified capacity.
// Tokens refill at a rate of capacity per minute.
func newTokenBucket(capacity int) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: now,
		lastAccess: now,
	}
}

// allow checks if a request can proceed and consumes a token if so.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Minutes() * float64(tb.capacity))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	tb.lastAccess = now

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// rateLimiter tracks rate limits per session.
type rateLimiter struct {
	mu     sync.RWMutex
	edit   map[string]*tokenBucket
	upload map[string]*tokenBucket
}

// newRateLimiter creates a new rate limiter.
func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		edit:   make(map[string]*tokenBucket),
		upload: make(map[string]*tokenBucket),
	}
}

// allowEdit checks if an edit request is allowed for the given session.
func (rl *rateLimiter) allowEdit(sessionID string) bool {
	rl.mu.Lock()
	bucket, ok := rl.edit[sessionID]
	if !ok {
		bucket = newTokenBucket(MaxEditRequestsPerMinute)
		rl.edit[sessionID] = bucket
	}
	rl.mu.Unlock()

	return bucket.allow()
}

// allowUpload checks if an image upload is allowed for the given session.
func (rl *rateLimiter) allowUpload(sessionID string) bool {
	rl.mu.Lock()
	bucket, ok := rl.upload[sessionID]
	if !ok {
		bucket = newTokenBucket(MaxUploadRequestsPerMinute)
		rl.upload[sessionID] = bucket
	}
	rl.mu.Unlock()

	return bucket.allow()
}

// cleanup removes rate limit state for a deleted session.
func (rl *rateLimiter) cleanup(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.edit, sessionID)
	delete(rl.upload, sessionID)
}

// cleanupStale removes rate limit state for sessions idle for too long.
// SECURITY: Prevents unbounded growth of rate limiter maps.
func (rl *rateLimiter) cleanupStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for sessionID, bucket := range rl.edit {
		bucket.mu.Lock()
		stale := now.Sub(bucket.lastAccess) > maxAge
		bucket.mu.Unlock()
		if stale {
			delete(rl.edit, sessionID)
			delete(rl.upload, sessionID)
		}
	}
}

// startCleanup starts a background goroutine that periodically cleans up
// stale sessions. The goroutine stops when the context is cancelled.
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanupStale(maxSessionAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}
