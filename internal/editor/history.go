package editor

// History is an ordered sequence of EditState snapshots with a cursor.
//
// The cursor is always -1 (nothing generated yet) or the index of a valid
// entry. Once any entry exists the cursor never returns to -1: undoing at
// the first entry does nothing further rather than clearing the view back
// to the raw photo.
//
// History is not thread-safe. Session provides the locking.
type History struct {
	entries []EditState
	cursor  int // -1 = no state yet
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{cursor: -1}
}

// Reset clears all entries and returns the cursor to -1.
// History for the previous image is unrecoverable after this.
func (h *History) Reset() {
	h.entries = nil
	h.cursor = -1
}

// Push appends a new state, discarding any entries after the current
// cursor first. Once a new edit lands after one or more undos, the old
// redo path is permanently lost, mirroring standard editor semantics.
// The cursor then points at the new last entry.
func (h *History) Push(state EditState) {
	if h.cursor < len(h.entries)-1 {
		h.entries = h.entries[:h.cursor+1]
	}
	h.entries = append(h.entries, state)
	h.cursor = len(h.entries) - 1
}

// Undo moves the cursor back one entry and returns the state there.
// At the first entry (or with no entries) it is a no-op and returns false.
func (h *History) Undo() (EditState, bool) {
	if !h.CanUndo() {
		return EditState{}, false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Redo moves the cursor forward one entry and returns the state there.
// At the last entry (or with no entries) it is a no-op and returns false.
func (h *History) Redo() (EditState, bool) {
	if !h.CanRedo() {
		return EditState{}, false
	}
	h.cursor++
	return h.entries[h.cursor], true
}

// CanUndo reports whether Undo would move the cursor.
func (h *History) CanUndo() bool {
	return h.cursor > 0
}

// CanRedo reports whether Redo would move the cursor.
func (h *History) CanRedo() bool {
	return h.cursor < len(h.entries)-1
}

// Current returns the state at the cursor, or false if the cursor is -1.
func (h *History) Current() (EditState, bool) {
	if h.cursor < 0 {
		return EditState{}, false
	}
	return h.entries[h.cursor], true
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Cursor returns the current cursor position (-1 when empty).
func (h *History) Cursor() int {
	return h.cursor
}
