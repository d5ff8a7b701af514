// Package inmem provides an in-memory core.FileStore with the same
// compare-and-swap semantics as the hosted store. It backs tests and local dev.
package inmem

import (
	"context"
	"strconv"
	"sync"

	"github.com/ulasproject/ulas/core"
)

type entry struct {
	content []byte
	version int
}

type Store struct {
	mu    sync.Mutex
	files map[string]entry

	// BeforeWrite, when set, runs just before each write attempt (outside the
	// lock) so tests can interleave a concurrent writer deterministically.
	BeforeWrite func(path string)
}

var _ core.FileStore = (*Store)(nil)

func New() *Store {
	return &Store{files: make(map[string]entry)}
}

func (s *Store) Read(_ context.Context, path string) (core.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.files[path]
	if !ok {
		return core.File{}, core.ErrFileNotFound
	}
	content := make([]byte, len(e.content))
	copy(content, e.content)
	return core.File{Path: path, Content: content, Version: strconv.Itoa(e.version)}, nil
}

func (s *Store) Write(_ context.Context, path string, content []byte, version, _ string) (string, error) {
	if s.BeforeWrite != nil {
		s.BeforeWrite(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.files[path]
	if exists {
		if version != strconv.Itoa(e.version) {
			return "", core.ErrVersionConflict
		}
	} else if version != "" {
		return "", core.ErrVersionConflict
	}

	stored := make([]byte, len(content))
	copy(stored, content)
	next := e.version + 1
	s.files[path] = entry{content: stored, version: next}
	return strconv.Itoa(next), nil
}

// Seed stores content at path unconditionally, for test setup.
func (s *Store) Seed(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.files[path]
	s.files[path] = entry{content: append([]byte(nil), content...), version: e.version + 1}
}

// Contents returns a copy of the current content at path, or nil.
func (s *Store) Contents(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[path]
	if !ok {
		return nil
	}
	return append([]byte(nil), e.content...)
}
