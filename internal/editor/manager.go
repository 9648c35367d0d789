package editor

import (
	"context"
	"sync"
	"time"

	"github.com/retouchapp/retouch/internal/logging"
)

const (
	// SessionInactivityTimeout is how long a session can be inactive before cleanup.
	SessionInactivityTimeout = 24 * time.Hour

	// SessionCleanupInterval is how often to run cleanup.
	SessionCleanupInterval = 1 * time.Hour

	// MaxSessions is the maximum number of sessions before LRU eviction.
	MaxSessions = 1000
)

// sessionEntry pairs a session with its last activity time.
// lastActivity is guarded by the SessionManager's mutex.
type sessionEntry struct {
	session      *Session
	lastActivity time.Time
}

// SessionManager provides thread-safe management of editing sessions.
// Each browser session is identified by a unique session ID and owns its
// own Session (source image, history, busy flag, epoch).
//
// SessionManager is safe for concurrent access from multiple goroutines.
// Sessions are automatically removed after 24 hours of inactivity; a
// background goroutine runs every hour to sweep them. If the session
// count exceeds MaxSessions, the least recently used session is evicted.
type SessionManager struct {
	mu            sync.RWMutex
	sessions      map[string]*sessionEntry
	logger        *logging.Logger
	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

// NewSessionManager creates a session manager with an empty session map
// and starts the background cleanup goroutine. If logger is nil a
// default stderr logger is used.
func NewSessionManager(logger *logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.New(logging.LevelInfo, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sm := &SessionManager{
		sessions:      make(map[string]*sessionEntry),
		logger:        logger,
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}

	go sm.cleanupLoop(ctx)

	return sm
}

// GetSession returns the Session for the given session ID, creating one
// if it does not exist, and updates the session's last activity time.
//
// This method is thread-safe and can be called concurrently from multiple
// goroutines.
func (sm *SessionManager) GetSession(sessionID string) *Session {
	now := time.Now()

	// Fast path: read lock for existing sessions.
	sm.mu.RLock()
	if entry, ok := sm.sessions[sessionID]; ok {
		sm.mu.RUnlock()
		sm.mu.Lock()
		entry.lastActivity = now
		sm.mu.Unlock()
		return entry.session
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double-check after acquiring the write lock; another goroutine may
	// have created the session while we waited.
	if entry, ok := sm.sessions[sessionID]; ok {
		entry.lastActivity = now
		return entry.session
	}

	if len(sm.sessions) >= MaxSessions {
		sm.evictLRU()
	}

	entry := &sessionEntry{
		session:      NewSession(),
		lastActivity: now,
	}
	sm.sessions[sessionID] = entry
	return entry.session
}

// Get returns the Session for the given session ID, or nil if it does
// not exist. Unlike GetSession it never creates a session.
func (sm *SessionManager) Get(sessionID string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if entry, ok := sm.sessions[sessionID]; ok {
		return entry.session
	}
	return nil
}

// Delete removes the session with the given ID. No-op if absent.
func (sm *SessionManager) Delete(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown stops the cleanup goroutine and waits for it to finish.
func (sm *SessionManager) Shutdown() {
	if sm.cancelCleanup != nil {
		sm.cancelCleanup()
		<-sm.cleanupDone
	}
}

// cleanupLoop runs periodically to remove inactive sessions.
func (sm *SessionManager) cleanupLoop(ctx context.Context) {
	defer close(sm.cleanupDone)

	ticker := time.NewTicker(SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupInactiveSessions()
		}
	}
}

// cleanupInactiveSessions removes sessions idle longer than the timeout.
func (sm *SessionManager) cleanupInactiveSessions() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	removed := 0

	for sessionID, entry := range sm.sessions {
		if now.Sub(entry.lastActivity) > SessionInactivityTimeout {
			delete(sm.sessions, sessionID)
			removed++
		}
	}

	if removed > 0 {
		sm.logger.Info("Cleaned up %d inactive sessions (total: %d)", removed, len(sm.sessions))
	}
}

// evictLRU removes the least recently used session.
// Must be called with sm.mu held for writing.
func (sm *SessionManager) evictLRU() {
	var oldestID string
	var oldestTime time.Time

	for sessionID, entry := range sm.sessions {
		if oldestID == "" || entry.lastActivity.Before(oldestTime) {
			oldestID = sessionID
			oldestTime = entry.lastActivity
		}
	}

	if oldestID != "" {
		delete(sm.sessions, oldestID)
		sm.logger.Info("Evicted LRU session %s (was inactive for %v)", oldestID, time.Since(oldestTime))
	}
}
