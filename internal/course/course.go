// Package course stores the per-event course document (start line, marks,
// finish line). The server treats it as opaque JSON: it validates, persists,
// serves, and replaces the document without interpreting it.
package course

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/atomicfile"
	"github.com/seatrack-dev/seatrack/internal/layout"
)

// Store manages every event's course document.
type Store struct {
	mu     sync.Mutex
	lay    layout.Layout
	docs   map[int]json.RawMessage
	loaded map[int]bool
}

// New creates a course store over the given layout.
func New(lay layout.Layout) *Store {
	return &Store{
		lay:    lay,
		docs:   make(map[int]json.RawMessage),
		loaded: make(map[int]bool),
	}
}

// Get returns the course document for eid, or false when none is set.
// The returned bytes are a copy.
func (s *Store) Get(eid int) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(eid)
	doc, ok := s.docs[eid]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, true
}

// Set validates and replaces the course document.
func (s *Store) Set(eid int, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return apperr.Malformed("course document is not valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(eid)
	doc := make(json.RawMessage, len(raw))
	copy(doc, raw)
	s.docs[eid] = doc
	if err := atomicfile.WriteJSON(s.lay.CoursePath(eid), doc); err != nil {
		return apperr.IO("persist course", err)
	}
	return nil
}

// Delete removes the course document from memory and disk.
func (s *Store) Delete(eid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, eid)
	s.loaded[eid] = true
	if err := os.Remove(s.lay.CoursePath(eid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.IO("remove course", err)
	}
	return nil
}

// Purge drops the event's in-memory document on event deletion.
func (s *Store) Purge(eid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, eid)
	delete(s.loaded, eid)
}

// loadLocked reads the document from disk on first touch; a missing or
// unparseable file means no course is set.
func (s *Store) loadLocked(eid int) {
	if s.loaded[eid] {
		return
	}
	s.loaded[eid] = true
	raw, err := os.ReadFile(s.lay.CoursePath(eid))
	if err != nil || !json.Valid(raw) {
		return
	}
	s.docs[eid] = json.RawMessage(raw)
}
