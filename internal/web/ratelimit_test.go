package web

import (
	"testing"
	"time"
)

func TestTokenBucket_Allow(t *testing.T) {
	bucket := newTokenBucket(3)

	for i := 0; i < 3; i++ {
		if !bucket.allow() {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if bucket.allow() {
		t.Error("request over capacity should be denied")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := newTokenBucket(60) // one token per second

	for i := 0; i < 60; i++ {
		bucket.allow()
	}
	if bucket.allow() {
		t.Fatal("bucket should be empty")
	}

	// Simulate time passing by backdating the last refill.
	bucket.mu.Lock()
	bucket.lastRefill = time.Now().Add(-2 * time.Second)
	bucket.mu.Unlock()

	if !bucket.allow() {
		t.Error("bucket should have refilled after elapsed time")
	}
}

func TestRateLimiter_PerSession(t *testing.T) {
	rl := newRateLimiter()

	// Exhaust session A's edit budget.
	for i := 0; i < MaxEditRequestsPerMinute; i++ {
		if !rl.allowEdit("session-a") {
			t.Fatalf("edit %d for session A should be allowed", i+1)
		}
	}
	if rl.allowEdit("session-a") {
		t.Error("session A should be rate limited")
	}

	// Session B is unaffected.
	if !rl.allowEdit("session-b") {
		t.Error("session B should not be rate limited")
	}
}

func TestRateLimiter_SeparateBudgets(t *testing.T) {
	rl := newRateLimiter()

	for i := 0; i < MaxEditRequestsPerMinute; i++ {
		rl.allowEdit("session-a")
	}
	if rl.allowEdit("session-a") {
		t.Fatal("edit budget should be exhausted")
	}

	// Uploads have their own budget.
	if !rl.allowUpload("session-a") {
		t.Error("upload should be allowed when only edits are exhausted")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter()

	for i := 0; i < MaxEditRequestsPerMinute; i++ {
		rl.allowEdit("session-a")
	}
	if rl.allowEdit("session-a") {
		t.Fatal("edit budget should be exhausted")
	}

	rl.cleanup("session-a")

	// Cleanup resets the session's budget.
	if !rl.allowEdit("session-a") {
		t.Error("edit should be allowed after cleanup")
	}
}

func TestRateLimiter_CleanupStale(t *testing.T) {
	rl := newRateLimiter()

	rl.allowEdit("old-session")
	rl.allowUpload("old-session")
	rl.allowEdit("fresh-session")

	// Backdate the old session's last access.
	rl.mu.Lock()
	rl.edit["old-session"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanupStale(30 * time.Minute)

	rl.mu.RLock()
	_, oldEdit := rl.edit["old-session"]
	_, oldUpload := rl.upload["old-session"]
	_, fresh := rl.edit["fresh-session"]
	rl.mu.RUnlock()

	if oldEdit || oldUpload {
		t.Error("stale session state should have been removed")
	}
	if !fresh {
		t.Error("fresh session state should have been kept")
	}
}
