// Package persistence stores a per-session log of completed edits on
// disk. Records are YAML sidecar files: human-readable, greppable, and
// diffable, which makes sessions debuggable without tooling.
//
// Storage structure:
//
//	config/sessions/{session_id}/records.yaml
//
// Records describe edits (prompt, model, timestamps, image metadata);
// the image bytes themselves live in the in-memory store and are not
// persisted.
package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxRecordsFileBytes is the maximum size allowed for a records file.
	// This prevents disk exhaustion from malicious or corrupted data.
	MaxRecordsFileBytes = 5 * 1024 * 1024 // 5MB

	// MaxRecordsPerSession caps the record log; the oldest records are
	// dropped once the cap is reached.
	MaxRecordsPerSession = 500

	// recordsFileName is the per-session YAML file name.
	recordsFileName = "records.yaml"
)

// ErrRecordsTooLarge is returned when a records file exceeds MaxRecordsFileBytes.
var ErrRecordsTooLarge = errors.New("records file exceeds maximum size")

// EditRecord describes one completed edit.
type EditRecord struct {
	ID           int       `yaml:"id"`
	Prompt       string    `yaml:"prompt"`
	ResponseText string    `yaml:"response_text,omitempty"`
	Model        string    `yaml:"model"`
	OriginalMime string    `yaml:"original_mime"`
	EditedMime   string    `yaml:"edited_mime"`
	EditedBytes  int       `yaml:"edited_bytes"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// recordsFile is the on-disk document shape.
type recordsFile struct {
	Version int          `yaml:"version"`
	Records []EditRecord `yaml:"records"`
}

// RecordStore manages per-session edit records on disk.
type RecordStore struct {
	basePath string // Base directory for all sessions (e.g., "config/sessions")
}

// NewRecordStore creates a record store rooted at the specified base path.
// The directory structure is created as needed when Append is called.
func NewRecordStore(basePath string) *RecordStore {
	return &RecordStore{
		basePath: basePath,
	}
}

// Append loads the session's records, appends the new record with the
// next sequential ID, and writes the file back atomically. The oldest
// records are dropped if the session exceeds MaxRecordsPerSession.
func (s *RecordStore) Append(sessionID string, record EditRecord) error {
	if err := validateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	records, err := s.Load(sessionID)
	if err != nil {
		return err
	}

	record.ID = nextRecordID(records)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	records = append(records, record)

	if len(records) > MaxRecordsPerSession {
		records = records[len(records)-MaxRecordsPerSession:]
	}

	return s.save(sessionID, records)
}

// Load reads the session's records. A missing file yields an empty slice,
// not an error: a session with no persisted edits is a normal state.
func (s *RecordStore) Load(sessionID string) ([]EditRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	path := filepath.Join(s.basePath, sessionID, recordsFileName)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat records file: %w", err)
	}
	if info.Size() > MaxRecordsFileBytes {
		return nil, ErrRecordsTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	var doc recordsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}
	return doc.Records, nil
}

// Delete removes all persisted records for a session.
// No-op if the session has none.
func (s *RecordStore) Delete(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	path := filepath.Join(s.basePath, sessionID, recordsFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove records file: %w", err)
	}
	return nil
}

// save writes the records atomically: temp file then rename.
func (s *RecordStore) save(sessionID string, records []EditRecord) error {
	sessionDir := filepath.Join(s.basePath, sessionID)
	// 0700: owner-only access
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(recordsFile{Version: 1, Records: records})
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	path := filepath.Join(sessionDir, recordsFileName)
	tempPath := path + ".tmp"

	// 0600: owner read/write only
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to commit records file: %w", err)
	}

	return nil
}

// nextRecordID returns one more than the highest ID present, starting at 1.
func nextRecordID(records []EditRecord) int {
	next := 1
	for _, r := range records {
		if r.ID >= next {
			next = r.ID + 1
		}
	}
	return next
}
