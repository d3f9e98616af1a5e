// Package store persists the application state document as a single JSON
// file, rewritten atomically on every mutation. Cross-session invariants
// (port uniqueness, database capacity) are therefore always consistent on
// disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/mronstro/rondb-tools/internal/models"
)

// Store provides atomic read/replace of the state document. An in-process
// mutex serializes goroutines; a file lock on a sibling .lock file
// serializes against other processes (the operator CLI reads and writes
// the same file). Callers never hold these locks directly; they are
// innermost in the global lock hierarchy.
type Store struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// New returns a store for the document at path, creating the parent
// directory if needed.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{
		path: path,
		fl:   flock.New(path + ".lock"),
	}, nil
}

// Path returns the canonical path of the state document.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a state document has been written.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load reads the current document. A missing file yields the empty
// document. Load blocks while an Update is in progress.
func (s *Store) Load() (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return models.Document{}, fmt.Errorf("lock state file: %w", err)
	}
	defer s.fl.Unlock()
	return s.read()
}

// Update applies fn to the current document and atomically replaces the
// file with the result. Concurrent readers observe either the pre- or the
// post-image, never a partial file. The post-image is returned.
func (s *Store) Update(fn func(models.Document) models.Document) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return models.Document{}, fmt.Errorf("lock state file: %w", err)
	}
	defer s.fl.Unlock()

	doc, err := s.read()
	if err != nil {
		return models.Document{}, err
	}
	doc = fn(doc)
	if err := s.write(doc); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

// Locked runs fn while holding the store's locks without touching the
// document. The proxy config writer installs its fragment under this so
// that file replacement and nginx reloads are serialized with state
// writes.
func (s *Store) Locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer s.fl.Unlock()
	return fn()
}

func (s *Store) read() (models.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewDocument(), nil
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("read state file: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Document{}, fmt.Errorf("parse state file: %w", err)
	}
	if doc.UserSessions == nil {
		doc.UserSessions = map[string]*models.Session{}
	}
	return doc, nil
}

func (s *Store) write(doc models.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("install state file: %w", err)
	}
	return nil
}
