// Package library holds the library configuration collaborator: the set
// of root directories the scanner and sync engine operate on.
//
// The core does not own mutation semantics: adding or removing a library
// is the caller's cue to trigger a sync or a removal cleanup.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hverdal/arkiv/internal/apperr"
)

// Organization hints. Advisory only; the scanner never enforces them.
const (
	OrgFlat     = "flat"
	OrgCategory = "category"
	OrgYear     = "year"
)

// Library is a configured root directory.
type Library struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	RootPath     string `json:"root_path"`
	Organization string `json:"organization,omitempty"`
}

// Store is the read interface consumed by the sync engine and scanner.
type Store interface {
	List() ([]Library, error)
	Get(id string) (*Library, error)
}

// FileStore is a Store backed by a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the JSON file at path. The file
// is created on first mutation; a missing file reads as an empty list.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// List returns all configured libraries.
func (s *FileStore) List() ([]Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the library with the given id.
func (s *FileStore) Get(id string) (*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	libs, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range libs {
		if libs[i].Id == id {
			return &libs[i], nil
		}
	}
	return nil, fmt.Errorf("library %q: %w", id, apperr.ErrNotFound)
}

// Add appends a library. The id must be unique.
func (s *FileStore) Add(lib Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	libs, err := s.load()
	if err != nil {
		return err
	}
	for _, l := range libs {
		if l.Id == lib.Id {
			return fmt.Errorf("library %q: %w", lib.Id, apperr.ErrAlreadyExists)
		}
	}
	return s.save(append(libs, lib))
}

// Remove deletes the library with the given id.
func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	libs, err := s.load()
	if err != nil {
		return err
	}
	out := libs[:0]
	found := false
	for _, l := range libs {
		if l.Id == id {
			found = true
			continue
		}
		out = append(out, l)
	}
	if !found {
		return fmt.Errorf("library %q: %w", id, apperr.ErrNotFound)
	}
	return s.save(out)
}

func (s *FileStore) load() ([]Library, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("library: read %s: %w", s.path, err)
	}
	var libs []Library
	if err := json.Unmarshal(data, &libs); err != nil {
		return nil, fmt.Errorf("library: parse %s: %w", s.path, err)
	}
	return libs, nil
}

func (s *FileStore) save(libs []Library) error {
	data, err := json.MarshalIndent(libs, "", "  ")
	if err != nil {
		return fmt.Errorf("library: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("library: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("library: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("library: rename: %w", err)
	}
	return nil
}

// Verify FileStore satisfies Store at compile time.
var _ Store = (*FileStore)(nil)
