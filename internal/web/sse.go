package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event types that can be sent via SSE.
const (
	// EventEditStarted is sent when an edit request begins processing.
	// Data schema: {"prompt": string}
	EventEditStarted = "edit-started"

	// EventEditComplete is sent when an edit succeeds and history has a
	// new entry. The data is the same snapshot payload served by /state,
	// so the page can re-render the full view from it alone.
	EventEditComplete = "edit-complete"

	// EventAdvisory carries non-fatal service messages: text-only
	// responses and empty results.
	// Data schema: {"message": string}
	EventAdvisory = "advisory"

	// EventError indicates an error occurred during processing.
	// Data schema: {"message": string}
	EventError = "error"

	// MaxConnections is the maximum number of concurrent SSE connections.
	MaxConnections = 1000
)

// Event represents a Server-Sent Event with a named type and JSON data.
type Event struct {
	Type string
	Data interface{}
}

// connection represents a single SSE connection for a session.
type connection struct {
	sessionID string
	writer    http.ResponseWriter
	flusher   http.Flusher
	done      chan struct{}
}

// Broker manages SSE connections and routes events to the correct
// sessions. It maintains a map of session IDs to connections and handles
// connection lifecycle.
type Broker struct {
	mu          sync.RWMutex
	connections map[string]*connection
}

// NewBroker creates a new SSE broker.
func NewBroker() *Broker {
	return &Broker{
		connections: make(map[string]*connection),
	}
}

// ServeHTTP handles SSE connection requests.
// It sets up the connection, registers it under the session ID, and keeps
// it open until the client disconnects or the broker shuts down.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	currentConnections := len(b.connections)
	b.mu.RUnlock()

	if currentConnections >= MaxConnections {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// SECURITY: Session ID comes from the cookie via SessionMiddleware,
	// never from the URL, so it cannot leak through logs or history.
	sessionID := GetSessionID(r.Context())
	if sessionID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Disable the write deadline for this long-lived connection. This may
	// fail under httptest.ResponseRecorder, which is fine in tests.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	conn := &connection{
		sessionID: sessionID,
		writer:    w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}

	b.addConnection(conn)
	defer b.removeConnection(sessionID, conn)

	b.sendToConnection(conn, Event{
		Type: "connected",
		Data: map[string]string{"session": sessionID},
	})

	select {
	case <-r.Context().Done():
		// Client disconnected
	case <-conn.done:
		// Connection closed by broker
	}
}

// SendEvent sends an event to a specific session.
// Returns an error if the session is not connected.
func (b *Broker) SendEvent(sessionID string, eventType string, data interface{}) error {
	b.mu.RLock()
	conn, ok := b.connections[sessionID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session %s not connected", sessionID)
	}

	return b.sendToConnection(conn, Event{Type: eventType, Data: data})
}

// CloseSession closes the SSE connection for a specific session.
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	conn, ok := b.connections[sessionID]
	if ok {
		close(conn.done)
		delete(b.connections, sessionID)
	}
	b.mu.Unlock()
}

// ConnectionCount returns the number of active connections.
func (b *Broker) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

// addConnection registers a new connection.
// If a connection already exists for this session, it is closed first.
// This handles the case where a user opens multiple tabs or reconnects.
func (b *Broker) addConnection(conn *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// removeConnection uses an identity check, so closing and replacing
	// the existing connection here cannot race it into deleting the new
	// map entry.
	if existing, ok := b.connections[conn.sessionID]; ok {
		close(existing.done)
	}

	b.connections[conn.sessionID] = conn
}

// removeConnection unregisters a connection.
// Only removes if the connection is still the current one for this session.
func (b *Broker) removeConnection(sessionID string, conn *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.connections[sessionID]; ok && current == conn {
		delete(b.connections, sessionID)
	}
}

// sendToConnection sends an event to a specific connection.
// Formats the event according to the SSE specification:
//
//	event: <type>
//	data: <json>
//	<blank line>
func (b *Broker) sendToConnection(conn *connection, event Event) error {
	if conn == nil || conn.writer == nil || conn.flusher == nil {
		return fmt.Errorf("connection not available")
	}

	jsonData, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	_, err = fmt.Fprintf(conn.writer, "event: %s\ndata: %s\n\n", event.Type, jsonData)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	conn.flusher.Flush()

	return nil
}

// Shutdown gracefully closes all connections.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, conn := range b.connections {
		close(conn.done)
		delete(b.connections, sessionID)
	}

	return nil
}
