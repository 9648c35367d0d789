package editor

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrBusy is returned when an edit request is already outstanding.
	ErrBusy = errors.New("an edit is already in progress")
	// ErrNoSourceImage is returned when an edit is requested before any image is loaded.
	ErrNoSourceImage = errors.New("no source image loaded")
	// ErrEmptyPrompt is returned when the edit instruction is empty after trimming.
	ErrEmptyPrompt = errors.New("edit instruction is empty")
	// ErrNotImage is returned when a source or result payload is not image content.
	ErrNotImage = errors.New("payload is not an image")
	// ErrStaleResult is returned when an edit completes after the session moved on
	// to a different source image. The result must be discarded, not surfaced.
	ErrStaleResult = errors.New("edit result is stale")
)

// EditRequest is the token handed out by BeginEdit. It captures the epoch
// and source image at issue time so the completion can be validated
// against the session's state when it eventually arrives.
type EditRequest struct {
	// Epoch is the session epoch at the time the edit was issued.
	Epoch uint64

	// Source is the image the edit applies to. This is always the
	// originally loaded photo, never a previous edited output.
	Source ImageData

	// Prompt is the trimmed instruction text.
	Prompt string
}

// Snapshot is a read-only view of the session used by the renderer.
// Current is only meaningful when HasState is true.
type Snapshot struct {
	Phase    Phase
	HasState bool
	Current  EditState
	CanUndo  bool
	CanRedo  bool
	Busy     bool
	Epoch    uint64
}

// Session is the controller for a single editing session. It owns the
// history, the loaded source image, the busy flag guarding overlapping
// edits, and the epoch counter used to discard stale results.
//
// Session is thread-safe. All methods are protected by a mutex to allow
// concurrent access from multiple HTTP request handlers.
type Session struct {
	mu      sync.Mutex
	history *History
	phase   Phase
	source  ImageData
	epoch   uint64
	busy    bool
}

// NewSession creates a session with no image loaded.
func NewSession() *Session {
	return &Session{
		history: NewHistory(),
		phase:   PhaseEmpty,
	}
}

// LoadImage replaces the source image, resets the history, and bumps the
// epoch so that any outstanding edit result is discarded on arrival.
// This is a hard discontinuity: all edits of the previous image are lost.
//
// Returns ErrNotImage if the payload has no bytes or a non-image mime type.
func (s *Session) LoadImage(img ImageData) (uint64, error) {
	if img.Empty() || !img.IsImage() {
		return 0, ErrNotImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = img
	s.history.Reset()
	s.phase = PhaseReady
	s.epoch++
	return s.epoch, nil
}

// BeginEdit validates and claims an edit slot, returning the request token
// the caller passes to the remote edit service and back to CompleteEdit
// or FailEdit. Exactly one edit may be outstanding at a time.
//
// The UI disables its controls while an edit runs; this is the defensive
// re-check behind that. Callers log the returned error and move on rather
// than treating it as fatal.
func (s *Session) BeginEdit(prompt string) (EditRequest, error) {
	prompt = strings.TrimSpace(prompt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEmpty {
		return EditRequest{}, ErrNoSourceImage
	}
	if prompt == "" {
		return EditRequest{}, ErrEmptyPrompt
	}
	if s.busy {
		return EditRequest{}, ErrBusy
	}

	s.busy = true
	return EditRequest{
		Epoch:  s.epoch,
		Source: s.source,
		Prompt: prompt,
	}, nil
}

// CompleteEdit records a successful generation. It clears the busy flag,
// verifies the request's epoch still matches, builds the EditState, pushes
// it (pruning any redo branch), and moves the session to PhaseEdited.
//
// If the session loaded a new image while the edit was outstanding, the
// result is discarded and ErrStaleResult is returned; the session stays in
// whatever state the LoadImage left it in.
//
// Returns ErrNotImage if the edited payload is missing bytes or mime type;
// result classification happens upstream, this is the final guard on the
// invariant that EditState only ever holds a real image result.
func (s *Session) CompleteEdit(req EditRequest, edited ImageData, responseText string) (EditState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The outstanding request is finished either way.
	s.busy = false

	if req.Epoch != s.epoch {
		return EditState{}, ErrStaleResult
	}
	if edited.Empty() || !edited.IsImage() {
		return EditState{}, ErrNotImage
	}

	state := EditState{
		Original:     req.Source,
		Edited:       edited,
		Prompt:       req.Prompt,
		ResponseText: responseText,
	}
	s.history.Push(state)
	s.phase = PhaseEdited
	return state, nil
}

// FailEdit releases the edit slot without touching history. Used for
// service errors, text-only responses, and empty results, all of which
// leave the session exactly where it was.
func (s *Session) FailEdit(req EditRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// Undo moves to the previous history entry, if any. Never calls the
// remote edit service. Returns false when already at the first entry.
func (s *Session) Undo() (EditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Undo()
}

// Redo moves to the next history entry, if any. Returns false when
// already at the last entry.
func (s *Session) Redo() (EditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Redo()
}

// State returns a point-in-time view of the session for rendering.
// The snapshot is self-sufficient: a renderer can reconstruct the full
// visible view from it alone.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.history.Current()
	return Snapshot{
		Phase:    s.phase,
		HasState: ok,
		Current:  current,
		CanUndo:  s.history.CanUndo(),
		CanRedo:  s.history.CanRedo(),
		Busy:     s.busy,
		Epoch:    s.epoch,
	}
}

// Source returns the currently loaded source image and whether one exists.
func (s *Session) Source() (ImageData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseEmpty {
		return ImageData{}, false
	}
	return s.source, true
}
