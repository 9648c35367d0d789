// Package store provides thread-safe in-memory storage for uploaded and
// generated images, keyed by opaque IDs and served over HTTP.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retouchapp/retouch/internal/logging"
)

const (
	// MaxImages is the maximum number of images to keep in storage.
	MaxImages = 200
	// MaxAge is the maximum age of an image before cleanup.
	MaxAge = 1 * time.Hour
	// CleanupInterval is how often cleanup runs.
	CleanupInterval = 10 * time.Minute
	// MaxImageSize is the maximum size of a single image (20MB).
	MaxImageSize = 20 * 1024 * 1024
)

var (
	// ErrNotFound indicates the requested image does not exist.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidID indicates the provided image ID is invalid.
	ErrInvalidID = errors.New("invalid image ID")
	// ErrImageTooLarge indicates the image exceeds the maximum allowed size.
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	// ErrInvalidMimeType indicates the payload is not image content.
	ErrInvalidMimeType = errors.New("mime type is not an image type")
)

// storedImage holds image bytes with metadata.
type storedImage struct {
	Data       []byte
	MimeType   string
	CreatedAt  time.Time
	AccessedAt time.Time
}

// Store provides thread-safe in-memory image storage.
type Store struct {
	mu     sync.RWMutex
	images map[string]*storedImage
}

// New creates an empty image store.
func New() *Store {
	return &Store{
		images: make(map[string]*storedImage),
	}
}

// Put saves image bytes and returns a unique ID.
func (s *Store) Put(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image data")
	}
	if len(data) > MaxImageSize {
		return "", ErrImageTooLarge
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", ErrInvalidMimeType
	}

	id := uuid.New().String()

	now := time.Now()
	img := &storedImage{
		Data:       data,
		MimeType:   mimeType,
		CreatedAt:  now,
		AccessedAt: now,
	}

	s.mu.Lock()
	s.images[id] = img
	s.mu.Unlock()

	return id, nil
}

// Get retrieves image bytes and mime type by ID.
// Returns ErrNotFound if the image does not exist.
func (s *Store) Get(id string) ([]byte, string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, "", ErrInvalidID
	}

	s.mu.RLock()
	img, exists := s.images[id]
	s.mu.RUnlock()

	if !exists {
		return nil, "", ErrNotFound
	}

	s.mu.Lock()
	img.AccessedAt = time.Now()
	s.mu.Unlock()

	// Return a copy to prevent external modification.
	data := make([]byte, len(img.Data))
	copy(data, img.Data)
	return data, img.MimeType, nil
}

// Count returns the number of stored images.
func (s *Store) Count() int {
	s.mu.RLock()
	count := len(s.images)
	s.mu.RUnlock()
	return count
}

// Delete removes an image by ID. Returns true if an image was deleted.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, exists := s.images[id]
	if exists {
		delete(s.images, id)
	}
	s.mu.Unlock()
	return exists
}

// StartCleanup starts a background goroutine that periodically removes
// old images (older than MaxAge) and enforces the MaxImages limit via
// LRU. The goroutine runs until ctx is cancelled. Caller MUST cancel ctx
// to stop cleanup and prevent a goroutine leak.
func (s *Store) StartCleanup(ctx context.Context, logger *logging.Logger) {
	ticker := time.NewTicker(CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("Image cleanup goroutine stopping")
				return
			case <-ticker.C:
				s.cleanup(logger)
			}
		}
	}()
}

// cleanup removes images older than MaxAge and enforces the MaxImages limit.
func (s *Store) cleanup(logger *logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	initialCount := len(s.images)

	ageDeleted := 0
	for id, img := range s.images {
		if now.Sub(img.CreatedAt) > MaxAge {
			delete(s.images, id)
			ageDeleted++
		}
	}

	if ageDeleted > 0 {
		logger.Debug("Removed %d images older than %v", ageDeleted, MaxAge)
	}

	if len(s.images) > MaxImages {
		type imageEntry struct {
			id         string
			accessedAt time.Time
		}

		entries := make([]imageEntry, 0, len(s.images))
		for id, img := range s.images {
			entries = append(entries, imageEntry{id: id, accessedAt: img.AccessedAt})
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].accessedAt.Before(entries[j].accessedAt)
		})

		lruDeleted := 0
		toDelete := len(entries) - MaxImages
		for i := 0; i < toDelete; i++ {
			delete(s.images, entries[i].id)
			lruDeleted++
		}

		if lruDeleted > 0 {
			logger.Debug("LRU eviction removed %d images (limit: %d)", lruDeleted, MaxImages)
		}
	}

	finalCount := len(s.images)
	if initialCount != finalCount {
		logger.Debug("Cleanup complete: %d -> %d images", initialCount, finalCount)
	}
}
