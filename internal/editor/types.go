// Package editor provides state management for photo-editing sessions.
// It tracks the loaded source image, the linear history of generated edits,
// and the lifecycle of in-flight edit requests.
//
// # Design Overview
//
// The editor package manages state for a photo-editing assistant where users
// load a photo, describe an edit in natural language, and step back and forth
// through the results. The key design decisions are:
//
// 1. Cursor Into a Single Slice, Not Two Stacks
//
// History is an ordered slice of EditState plus a cursor rather than separate
// undo/redo stacks. Pruning the redo branch on a new push is then a single
// slice truncation, and CanUndo/CanRedo are O(1) reads with no side effects,
// which matters because the UI queries them after every mutation to
// enable/disable its controls.
//
// 2. Every Edit Starts From the Source Image
//
// A new edit is always applied to the originally loaded photo, never to a
// previously edited output. Edits do not compound: only the instruction text
// changes from run to run until the user loads a new image.
//
// 3. Epochs Instead of Cancellation
//
// The remote generation call cannot be cancelled once issued. Instead, every
// LoadImage bumps an epoch counter, and each edit request captures the epoch
// at issue time. A result that completes under a stale epoch is discarded
// rather than pushed into history belonging to a different photo.
//
// # Thread Safety
//
// History is NOT thread-safe. Session wraps a History with a mutex and is
// safe for concurrent use. SessionManager provides per-browser-session
// isolation with automatic cleanup of inactive sessions.
//
// # Usage Example
//
//	s := editor.NewSession()
//	s.LoadImage(editor.ImageData{Data: photo, MimeType: "image/jpeg"})
//
//	req, err := s.BeginEdit("make the sky purple")
//	if err != nil {
//		// busy, no image, or empty prompt
//	}
//	// ... call the remote edit service with req.Source and req.Prompt ...
//	state, err := s.CompleteEdit(req, edited, responseText)
package editor

import "strings"

// ImageData holds raw image bytes together with their mime type.
// ID is an optional storage handle assigned by the web layer when the
// bytes are placed in image storage; the editor carries it opaquely.
type ImageData struct {
	Data     []byte
	MimeType string
	ID       string
}

// IsImage reports whether the mime type identifies image content.
func (d ImageData) IsImage() bool {
	return strings.HasPrefix(d.MimeType, "image/")
}

// Empty reports whether the ImageData holds no bytes.
func (d ImageData) Empty() bool {
	return len(d.Data) == 0
}

// EditState is an immutable snapshot of one successful edit.
//
// It is self-sufficient for rendering: the original image, the edited
// result, the instruction used, and any accompanying text from the
// service are all present, so switching history position never requires
// re-fetching anything.
//
// An EditState is only ever constructed from a successful generation:
// both the edited image bytes and their mime type must be present.
// Text-only or empty responses never produce an EditState.
type EditState struct {
	// Original is the image the edit was applied to.
	Original ImageData

	// Edited is the service's output image.
	Edited ImageData

	// Prompt is the instruction text used for this edit.
	Prompt string

	// ResponseText is optional accompanying text from the service.
	ResponseText string
}

// Phase identifies the session controller state.
type Phase int

const (
	// PhaseEmpty means no source image has been loaded.
	PhaseEmpty Phase = iota
	// PhaseReady means a source image is loaded but no edit has succeeded yet.
	PhaseReady
	// PhaseEdited means history has at least one entry.
	PhaseEdited
)

// String returns the string representation of a phase.
func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseReady:
		return "ready"
	case PhaseEdited:
		return "edited"
	default:
		return "unknown"
	}
}
