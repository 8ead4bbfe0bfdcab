package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store serializes read-modify-write cycles over a single JSON document
// persisted to disk. Each Store guards one file with its own mutex, so
// independent stores (settings, shares, stats) proceed in parallel while
// callers of the same store never interleave their read/modify/write.
//
// The document type T is typically a map keyed by sandbox-root identifier,
// which lets one physical file back multiple configured media roots.
type Store[T any] struct {
	mu   sync.Mutex
	path string
	init func() T
}

// New creates a store backed by the JSON file at path. init produces the
// document used when the file does not exist yet.
func New[T any](path string, init func() T) *Store[T] {
	return &Store[T]{path: path, init: init}
}

// Path returns the backing file location.
func (s *Store[T]) Path() string {
	return s.path
}

// Update runs fn inside the store's critical section. fn receives the
// current document and returns the document to persist. The lock is held
// from before the file read until after the replacement write lands, so a
// concurrent caller's delta is never lost. The lock is released on every
// exit path; a failed write leaves the file at its last good state.
func (s *Store[T]) Update(fn func(doc T) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		var zero T
		return zero, err
	}
	next, err := fn(doc)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := s.write(next); err != nil {
		var zero T
		return zero, err
	}
	return next, nil
}

// View runs fn with a snapshot of the document under the lock, without
// writing anything back.
func (s *Store[T]) View(fn func(doc T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Read returns the current document.
func (s *Store[T]) Read() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store[T]) load() (T, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.init(), nil
		}
		var zero T
		return zero, fmt.Errorf("failed to read store %s: %w", s.path, err)
	}
	doc := s.init()
	if err := json.Unmarshal(b, &doc); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to parse store %s: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the whole file in one step: marshal, write to a sibling
// temp file, then rename over the target. A crash mid-write leaves the
// previous document intact.
func (s *Store[T]) write(doc T) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write store %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store %s: %w", s.path, err)
	}
	return nil
}
