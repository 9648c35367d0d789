// Package web provides the HTTP surface for the retouch application: the
// index page, image upload, edit/undo/redo endpoints, image serving,
// flattened export, and an SSE event stream for asynchronous updates.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/retouchapp/retouch/internal/compose"
	"github.com/retouchapp/retouch/internal/config"
	"github.com/retouchapp/retouch/internal/editor"
	"github.com/retouchapp/retouch/internal/genimg"
	"github.com/retouchapp/retouch/internal/logging"
	"github.com/retouchapp/retouch/internal/persistence"
	"github.com/retouchapp/retouch/internal/store"
)

//go:embed templates/* static/*
var embeddedFS embed.FS

const (
	// DefaultAddr is the default address the server listens on.
	DefaultAddr = "localhost:8080"

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout = 30 * time.Second

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 30 * time.Second

	// MaxUploadBytes is the maximum size of an uploaded image (20MB).
	MaxUploadBytes = 20 * 1024 * 1024

	// MaxEditBodyBytes is the maximum size of an edit request body (64KB).
	MaxEditBodyBytes = 64 * 1024

	// MaxPromptLength is the maximum length of an edit instruction (10KB).
	MaxPromptLength = 10 * 1024
)

// Server provides HTTP serving for the web UI.
type Server struct {
	addr      string
	server    *http.Server
	broker    *Broker
	templates *template.Template
	logger    *logging.Logger

	editService    genimg.Service
	sessionManager *editor.SessionManager
	rateLimiter    *rateLimiter
	imageStore     *store.Store
	recordStore    *persistence.RecordStore

	model       string
	editTimeout time.Duration
}

// indexTemplateData holds data passed to the index.html template.
type indexTemplateData struct {
	Model   string
	Version string
}

// NewServer creates a new Server with injected dependencies.
// If addr is empty, DefaultAddr is used. Nil dependencies are replaced
// with defaults where a safe default exists; a nil editService means edit
// requests will fail (for testing only).
// Returns an error if templates cannot be parsed.
func NewServer(addr string, editService genimg.Service, sessionManager *editor.SessionManager, imageStore *store.Store, recordStore *persistence.RecordStore, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo, nil)
	}
	if sessionManager == nil {
		sessionManager = editor.NewSessionManager(logger)
	}
	if imageStore == nil {
		imageStore = store.New()
	}
	if recordStore == nil {
		recordStore = persistence.NewRecordStore("config/sessions")
	}

	model := genimg.DefaultModel
	editTimeout := 120 * time.Second
	if cfg != nil {
		model = cfg.Model
		editTimeout = cfg.EditTimeoutDuration()
	}

	tmpl, err := template.ParseFS(embeddedFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		addr:           addr,
		broker:         NewBroker(),
		templates:      tmpl,
		logger:         logger.WithPrefix("web"),
		editService:    editService,
		sessionManager: sessionManager,
		rateLimiter:    newRateLimiter(),
		imageStore:     imageStore,
		recordStore:    recordStore,
		model:          model,
		editTimeout:    editTimeout,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Every request gets a session ID before it reaches a handler.
	handler := SessionMiddleware(mux)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	return s, nil
}

// Broker returns the SSE broker for sending events to connected clients.
func (s *Server) Broker() *Broker {
	return s.broker
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Index page
	mux.HandleFunc("GET /", s.handleIndex)

	// Static files
	mux.Handle("GET /static/", http.FileServer(http.FS(embeddedFS)))

	// SSE endpoint for real-time updates
	mux.HandleFunc("GET /events", s.handleEvents)

	// Editing API
	mux.HandleFunc("POST /image", s.handleUpload)
	mux.HandleFunc("POST /edit", s.handleEdit)
	mux.HandleFunc("POST /undo", s.handleUndo)
	mux.HandleFunc("POST /redo", s.handleRedo)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /state", s.handleState)

	// Image serving and export
	mux.HandleFunc("GET /images/{id}", s.handleImage)
	mux.HandleFunc("GET /export", s.handleExport)

	// Health check endpoint
	mux.HandleFunc("GET /ready", s.handleReady)
}

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled. Returns an error if the server fails to start or encounters
// a non-graceful shutdown error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.rateLimiter.startCleanup(ctx)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting web server on http://%s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down web server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		if err := s.broker.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("broker shutdown failed: %w", err)
		}

		s.logger.Info("Web server stopped")
		return nil

	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// statePayload is the JSON shape of the current edit state, served by
// /state, /undo, /redo, and the edit-complete SSE event. A client can
// reconstruct the full visible view (original, edit, prompt, response
// text, blend slider reset to fully opaque) from this alone.
type statePayload struct {
	Phase    string            `json:"phase"`
	Busy     bool              `json:"busy"`
	CanUndo  bool              `json:"can_undo"`
	CanRedo  bool              `json:"can_redo"`
	HasState bool              `json:"has_state"`
	State    *editStatePayload `json:"state,omitempty"`
}

// editStatePayload describes one history entry for rendering.
type editStatePayload struct {
	OriginalURL  string `json:"original_url"`
	EditedURL    string `json:"edited_url"`
	Prompt       string `json:"prompt"`
	ResponseText string `json:"response_text,omitempty"`
}

// snapshotPayload converts an editor snapshot into its JSON shape.
func snapshotPayload(snap editor.Snapshot) statePayload {
	p := statePayload{
		Phase:    snap.Phase.String(),
		Busy:     snap.Busy,
		CanUndo:  snap.CanUndo,
		CanRedo:  snap.CanRedo,
		HasState: snap.HasState,
	}
	if snap.HasState {
		p.State = &editStatePayload{
			OriginalURL:  imageURL(snap.Current.Original.ID),
			EditedURL:    imageURL(snap.Current.Edited.ID),
			Prompt:       snap.Current.Prompt,
			ResponseText: snap.Current.ResponseText,
		}
	}
	return p
}

// imageURL builds the serving URL for a stored image ID.
func imageURL(id string) string {
	if id == "" {
		return ""
	}
	return "/images/" + id
}

// writeJSON writes v as a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// handleIndex serves the index page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := indexTemplateData{
		Model:   s.model,
		Version: config.Version,
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("Failed to execute template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleEvents serves the SSE endpoint for real-time updates.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.broker.ServeHTTP(w, r)
}

// handleReady reports readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleUpload loads a new source image into the session. This is a hard
// discontinuity: history for the previous image is discarded and any
// in-flight edit becomes stale.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	if !s.rateLimiter.allowUpload(sessionID) {
		s.logger.Warn("Rate limit exceeded for session %s (upload)", sessionID)
		s.writeError(w, http.StatusTooManyRequests, "Too many uploads. Please wait a moment.")
		return
	}

	// SECURITY: Limit request body size
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		s.logger.Warn("Failed to read upload for session %s: %v", sessionID, err)
		s.writeError(w, http.StatusBadRequest, "Could not read the uploaded file.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Warn("Failed to read upload body for session %s: %v", sessionID, err)
		s.writeError(w, http.StatusBadRequest, "Could not read the uploaded file.")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		s.writeError(w, http.StatusBadRequest, "The uploaded file is not an image.")
		return
	}

	id, err := s.imageStore.Put(data, mimeType)
	if err != nil {
		s.logger.Warn("Failed to store upload for session %s: %v", sessionID, err)
		s.writeError(w, http.StatusBadRequest, "Could not store the uploaded image.")
		return
	}

	session := s.sessionManager.GetSession(sessionID)
	epoch, err := session.LoadImage(editor.ImageData{Data: data, MimeType: mimeType, ID: id})
	if err != nil {
		s.imageStore.Delete(id)
		s.writeError(w, http.StatusBadRequest, "The uploaded file is not an image.")
		return
	}

	s.logger.Debug("Session %s loaded image %s (%s, %d bytes, epoch %d)", sessionID, id, mimeType, len(data), epoch)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"image_url": imageURL(id),
		"snapshot":  snapshotPayload(session.State()),
	})
}

// handleEdit runs one edit request against the remote service.
//
// The call is synchronous within the request; completion is also
// broadcast on the SSE stream so the page updates even if it dropped the
// response. Text-only and empty results leave history untouched and are
// surfaced as advisory messages. A result arriving after the session
// loaded a new image is discarded without being surfaced.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	// SECURITY: Limit request body size
	r.Body = http.MaxBytesReader(w, r.Body, MaxEditBodyBytes)

	if !s.rateLimiter.allowEdit(sessionID) {
		s.logger.Warn("Rate limit exceeded for session %s (edit)", sessionID)
		s.writeError(w, http.StatusTooManyRequests, "Too many edits. Please wait a moment.")
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to parse request.")
		return
	}

	prompt := r.FormValue("prompt")
	if len(prompt) > MaxPromptLength {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Instruction is too long.")
		return
	}

	session := s.sessionManager.GetSession(sessionID)

	req, err := session.BeginEdit(prompt)
	if err != nil {
		// The UI disables its controls while an edit runs or no image is
		// loaded; hitting one of these means the guard was bypassed.
		// Log and refuse without treating it as a server failure.
		s.logger.Warn("Rejected edit for session %s: %v", sessionID, err)
		switch {
		case errors.Is(err, editor.ErrBusy):
			s.writeError(w, http.StatusConflict, "An edit is already in progress.")
		case errors.Is(err, editor.ErrNoSourceImage):
			s.writeError(w, http.StatusConflict, "Load an image before editing.")
		default:
			s.writeError(w, http.StatusBadRequest, "Enter an instruction first.")
		}
		return
	}

	if s.editService == nil {
		session.FailEdit(req)
		s.writeError(w, http.StatusServiceUnavailable, "Edit service is not available.")
		return
	}

	// Allow the remote call to outlive the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if err := s.broker.SendEvent(sessionID, EventEditStarted, map[string]string{"prompt": req.Prompt}); err != nil {
		// UI convenience only; the page may not have connected yet.
		s.logger.Debug("Failed to send edit-started for session %s: %v", sessionID, err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.editTimeout)
	defer cancel()

	result, err := s.editService.Edit(ctx, req.Source.Data, req.Source.MimeType, req.Prompt)
	if err != nil {
		session.FailEdit(req)
		// SECURITY: Log the full error server-side, send a generic message.
		s.logger.Error("Edit service error for session %s: %v", sessionID, err)
		s.sendErrorEvent(sessionID, "The edit could not be completed. Please try again.")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "edit failed"})
		return
	}

	switch result.Kind {
	case genimg.KindImage:
		s.completeEdit(w, sessionID, session, req, result)

	case genimg.KindTextOnly:
		session.FailEdit(req)
		s.logger.Debug("Text-only result for session %s", sessionID)
		s.sendAdvisoryEvent(sessionID, result.Text)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "kind": "text-only"})

	default: // KindEmpty
		session.FailEdit(req)
		s.logger.Debug("Empty result for session %s", sessionID)
		s.sendAdvisoryEvent(sessionID, "The service returned no usable content.")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "kind": "empty"})
	}
}

// completeEdit stores the edited image, pushes the new state, persists
// the edit record, and notifies the page.
func (s *Server) completeEdit(w http.ResponseWriter, sessionID string, session *editor.Session, req editor.EditRequest, result genimg.Result) {
	editedID, err := s.imageStore.Put(result.ImageData, result.ImageMimeType)
	if err != nil {
		session.FailEdit(req)
		s.logger.Error("Failed to store edit result for session %s: %v", sessionID, err)
		s.sendErrorEvent(sessionID, "The edit could not be completed. Please try again.")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "edit failed"})
		return
	}

	edited := editor.ImageData{Data: result.ImageData, MimeType: result.ImageMimeType, ID: editedID}
	state, err := session.CompleteEdit(req, edited, result.Text)
	if err != nil {
		if errors.Is(err, editor.ErrStaleResult) {
			// The session moved on to a different image while this edit
			// was in flight. Drop the result without surfacing anything.
			s.imageStore.Delete(editedID)
			s.logger.Debug("Discarded stale edit result for session %s (epoch %d)", sessionID, req.Epoch)
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "kind": "stale"})
			return
		}
		s.imageStore.Delete(editedID)
		s.logger.Error("Failed to record edit for session %s: %v", sessionID, err)
		s.sendErrorEvent(sessionID, "The edit could not be completed. Please try again.")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "edit failed"})
		return
	}

	// Persistence is best effort; a failed write never fails the edit.
	if err := s.recordStore.Append(sessionID, persistence.EditRecord{
		Prompt:       state.Prompt,
		ResponseText: state.ResponseText,
		Model:        s.model,
		OriginalMime: state.Original.MimeType,
		EditedMime:   state.Edited.MimeType,
		EditedBytes:  len(state.Edited.Data),
	}); err != nil {
		s.logger.Warn("Failed to persist edit record for session %s: %v", sessionID, err)
	}

	snapshot := snapshotPayload(session.State())
	if err := s.broker.SendEvent(sessionID, EventEditComplete, snapshot); err != nil {
		s.logger.Debug("Failed to send edit-complete for session %s: %v", sessionID, err)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "kind": "image", "snapshot": snapshot})
}

// handleUndo steps the session back one history entry. Never calls the
// edit service. A no-op at the first entry.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	session := s.sessionManager.GetSession(sessionID)

	if _, ok := session.Undo(); !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "noop", "snapshot": snapshotPayload(session.State())})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "snapshot": snapshotPayload(session.State())})
}

// handleRedo steps the session forward one history entry.
// A no-op at the last entry.
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	session := s.sessionManager.GetSession(sessionID)

	if _, ok := session.Redo(); !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "noop", "snapshot": snapshotPayload(session.State())})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "snapshot": snapshotPayload(session.State())})
}

// handleReset discards the session entirely: editing state, rate limit
// state, and persisted records.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	s.sessionManager.Delete(sessionID)
	s.rateLimiter.cleanup(sessionID)
	if err := s.recordStore.Delete(sessionID); err != nil {
		s.logger.Warn("Failed to delete records for session %s: %v", sessionID, err)
	}

	s.logger.Debug("Session %s reset", sessionID)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState serves the current session snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	session := s.sessionManager.GetSession(sessionID)
	s.writeJSON(w, http.StatusOK, snapshotPayload(session.State()))
}

// handleImage serves stored image bytes by ID.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, mimeType, err := s.imageStore.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidID):
			http.Error(w, "Bad Request", http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
		default:
			s.logger.Error("Failed to load image %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write image response: %v", err)
	}
}

// handleExport serves the current edit flattened over the original at
// the requested opacity as a PNG download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	session := s.sessionManager.GetSession(sessionID)

	snap := session.State()
	if !snap.HasState {
		s.writeError(w, http.StatusNotFound, "Nothing to export yet.")
		return
	}

	opacity := 1.0
	if raw := r.URL.Query().Get("opacity"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid opacity value.")
			return
		}
		opacity = parsed
	}

	flattened, err := compose.Flatten(snap.Current.Original.Data, snap.Current.Edited.Data, opacity)
	if err != nil {
		if errors.Is(err, compose.ErrInvalidOpacity) {
			s.writeError(w, http.StatusBadRequest, "Opacity must be between 0 and 1.")
			return
		}
		s.logger.Error("Failed to flatten export for session %s: %v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Export failed.")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="retouch-export.png"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(flattened)))
	if _, err := w.Write(flattened); err != nil {
		s.logger.Debug("Failed to write export response: %v", err)
	}
}

// sendErrorEvent sends an error event over SSE, ignoring delivery failures.
func (s *Server) sendErrorEvent(sessionID, message string) {
	if err := s.broker.SendEvent(sessionID, EventError, map[string]string{"message": message}); err != nil {
		s.logger.Debug("Failed to send error event for session %s: %v", sessionID, err)
	}
}

// sendAdvisoryEvent sends an advisory event over SSE, ignoring delivery failures.
func (s *Server) sendAdvisoryEvent(sessionID, message string) {
	if err := s.broker.SendEvent(sessionID, EventAdvisory, map[string]string{"message": message}); err != nil {
		s.logger.Debug("Failed to send advisory event for session %s: %v", sessionID, err)
	}
}
