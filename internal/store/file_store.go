// Package store provides the persisted implementations of core.DocumentStore.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/state"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
	tempSuffix      = ".tmp"
)

// ErrStorage wraps every failure to read or write the roast document.
var ErrStorage = errors.New("storage error")

// FileStore keeps the document in a single JSON file. A process-wide mutex
// serializes read-modify-write cycles.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *logger.Logger
}

// NewFileStore creates a FileStore for path, creating its parent directory.
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	dirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("%w: failed to create directory for %s: %w", ErrStorage, path, dirErr)
	}

	return &FileStore{
		path: path,
		mu:   sync.Mutex{},
		log:  log,
	}, nil
}

// Load returns a snapshot of the document. A missing file yields an empty document.
func (s *FileStore) Load(_ context.Context) (*state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

// Update applies fn to the current document and writes the result atomically.
func (s *FileStore) Update(_ context.Context, fn func(doc *state.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, readErr := s.read()
	if readErr != nil {
		return readErr
	}

	fnErr := fn(doc)
	if fnErr != nil {
		return fnErr
	}

	return s.write(doc)
}

func (s *FileStore) read() (*state.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state.NewDocument(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrStorage, s.path, err)
	}

	return decodeDocument(data)
}

// write replaces the file through a temp file and rename so readers see either
// the old document or the new one.
func (s *FileStore) write(doc *state.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode document: %w", ErrStorage, err)
	}

	tempPath := s.path + tempSuffix

	writeErr := os.WriteFile(tempPath, data, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrStorage, tempPath, writeErr)
	}

	renameErr := os.Rename(tempPath, s.path)
	if renameErr != nil {
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			s.log.Warn("Failed to remove temp document '%s': %v", tempPath, removeErr)
		}

		return fmt.Errorf("%w: failed to replace %s: %w", ErrStorage, s.path, renameErr)
	}

	return nil
}

func decodeDocument(data []byte) (*state.Document, error) {
	doc := state.NewDocument()

	err := json.Unmarshal(data, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode document: %w", ErrStorage, err)
	}

	doc.Normalize()

	return doc, nil
}
