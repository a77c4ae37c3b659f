// Package overrides holds per-event user overrides: admin-assigned display
// names and role replacements keyed by tracker id.
//
// Each event has one small users.json document, loaded lazily and mutated
// under its own lock. Reads hand out copies so callers never see a map
// that is being mutated. Display names are user-supplied text that ends up
// on the public map, so they pass through a strict HTML sanitizer before
// being stored.
package overrides

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/atomicfile"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/model"
)

// MaxNameLength caps stored display names.
const MaxNameLength = 64

// eventDoc is one event's override document with its own lock.
type eventDoc struct {
	mu   sync.Mutex
	data map[string]model.UserOverride
}

// Store manages every event's override document.
type Store struct {
	mu     sync.RWMutex
	lay    layout.Layout
	events map[int]*eventDoc
	policy *bluemonday.Policy
}

// New creates an override store over the given layout.
func New(lay layout.Layout) *Store {
	return &Store{
		lay:    lay,
		events: make(map[int]*eventDoc),
		policy: bluemonday.StrictPolicy(),
	}
}

// doc returns the event's document, loading it from disk on first touch.
// A missing file is an empty document.
func (s *Store) doc(eid int) *eventDoc {
	s.mu.RLock()
	d, ok := s.events[eid]
	s.mu.RUnlock()
	if ok {
		return d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok = s.events[eid]; ok {
		return d
	}

	d = &eventDoc{data: make(map[string]model.UserOverride)}
	if raw, err := os.ReadFile(s.lay.UsersPath(eid)); err == nil {
		// A document that fails to parse is treated as empty rather
		// than blocking the event.
		json.Unmarshal(raw, &d.data)
	}
	s.events[eid] = d
	return d
}

// Get returns a copy of the event's override map.
func (s *Store) Get(eid int) map[string]model.UserOverride {
	d := s.doc(eid)
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]model.UserOverride, len(d.data))
	for id, ov := range d.data {
		out[id] = ov
	}
	return out
}

// Resolve applies any override for (eid, id) to the client-reported name
// and role.
func (s *Store) Resolve(eid int, id string, role model.Role) (string, model.Role) {
	d := s.doc(eid)
	d.mu.Lock()
	defer d.mu.Unlock()
	ov, ok := d.data[id]
	if !ok {
		return "", role
	}
	if ov.Role != "" {
		role = ov.Role
	}
	return ov.Name, role
}

// Set stores an override and persists the document.
func (s *Store) Set(eid int, id string, ov model.UserOverride) error {
	ov.Name = s.SanitizeName(ov.Name)
	if ov.Role != "" {
		ov.Role = model.NormalizeRole(string(ov.Role))
	}

	d := s.doc(eid)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[id] = ov
	return s.persistLocked(eid, d)
}

// SetNameIfAbsent records a display name only when no override exists yet.
// Used by the OwnTracks adapter on first contact; reports whether a write
// happened.
func (s *Store) SetNameIfAbsent(eid int, id, name string) (bool, error) {
	name = s.SanitizeName(name)
	if name == "" {
		return false, nil
	}

	d := s.doc(eid)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[id]; ok {
		return false, nil
	}
	d.data[id] = model.UserOverride{Name: name}
	return true, s.persistLocked(eid, d)
}

// Delete removes an override and persists the document.
func (s *Store) Delete(eid int, id string) error {
	d := s.doc(eid)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[id]; !ok {
		return nil
	}
	delete(d.data, id)
	return s.persistLocked(eid, d)
}

// Purge drops the event's in-memory document. The registry removes the
// on-disk file with the rest of the event directory.
func (s *Store) Purge(eid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eid)
}

// SanitizeName strips markup from a display name, trims surrounding
// whitespace, and caps its length in bytes. Other characters, control
// characters included, pass through.
func (s *Store) SanitizeName(name string) string {
	name = strings.TrimSpace(s.policy.Sanitize(name))
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name
}

// persistLocked writes the document through the atomic writer; callers
// hold the document lock.
func (s *Store) persistLocked(eid int, d *eventDoc) error {
	if err := atomicfile.WriteJSON(s.lay.UsersPath(eid), d.data); err != nil {
		return apperr.IO("persist users", err)
	}
	return nil
}
