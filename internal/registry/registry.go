// Package registry owns the event registry: the events.json document, eid
// allocation, per-event password checks, and the auth-failure cool-down
// cache.
//
// The registry is the exclusive owner of events.json and of each event's
// on-disk subtree lifecycle (creation and deletion). Other components hold
// per-event state keyed by eid and register purge hooks so deleting an
// event drops their state too.
//
// Failure policy: a corrupt events.json at startup is fatal. Mid-run
// persistence errors are logged and the in-memory registry stays
// authoritative; the next mutation retries the write.
package registry

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/atomicfile"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/model"
)

// Registry is the in-memory event registry.
type Registry struct {
	mu         sync.RWMutex
	lay        layout.Layout
	eventsPath string
	persist    bool
	nextEID    int
	events     map[int]*model.Event

	managerPassword   string
	ownTracksFallback string
	fails             *FailCache

	// onDelete hooks purge other components' per-event state. Called in
	// registration order while the registry lock is held, which is the
	// head of the fixed lock order (registry, store, course, users).
	onDelete []func(eid int)

	log zerolog.Logger
}

// Options configures a Registry.
type Options struct {
	Layout layout.Layout

	// EventsPath overrides the registry document location; empty means
	// <root>/events.json.
	EventsPath string

	ManagerPassword string

	// OwnTracksFallback is the process-wide OwnTracks password used when
	// an event has none of its own.
	OwnTracksFallback string

	FailLimit    int
	FailWindow   time.Duration
	FailCooldown time.Duration
}

// New creates an empty multi-event registry and loads events.json if it
// exists. A present-but-unreadable document is a fatal startup error.
func New(opts Options) (*Registry, error) {
	eventsPath := opts.EventsPath
	if eventsPath == "" {
		eventsPath = opts.Layout.EventsFile()
	}
	r := &Registry{
		lay:             opts.Layout,
		eventsPath:      eventsPath,
		persist:         true,
		nextEID:         1,
		events:          make(map[int]*model.Event),
		managerPassword:   opts.ManagerPassword,
		ownTracksFallback: opts.OwnTracksFallback,
		fails:             NewFailCache(opts.FailLimit, opts.FailWindow, opts.FailCooldown),
		log:               *logger.Registry(),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewSingleEvent creates a registry holding only the synthetic event 0.
// Nothing is persisted to events.json; the event exists as long as the
// process does.
func NewSingleEvent(adminPassword, ownTracksPassword string, opts Options) *Registry {
	r := &Registry{
		lay:     opts.Layout,
		nextEID: 1,
		events: map[int]*model.Event{
			layout.SingleEventID: {
				EID:               layout.SingleEventID,
				Name:              "default",
				AdminPassword:     adminPassword,
				OwnTracksPassword: ownTracksPassword,
				AssistEnabled:     true,
				CreatedAt:         time.Now().Unix(),
			},
		},
		managerPassword:   opts.ManagerPassword,
		ownTracksFallback: opts.OwnTracksFallback,
		fails:             NewFailCache(opts.FailLimit, opts.FailWindow, opts.FailCooldown),
		log:               *logger.Registry(),
	}
	return r
}

// load reads events.json into memory.
func (r *Registry) load() error {
	path := r.eventsPath
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var doc model.EventsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("corrupt events file %s: %w", path, err)
	}
	r.nextEID = doc.NextEID
	for i := range doc.Events {
		ev := doc.Events[i]
		if ev.EID <= 0 {
			return fmt.Errorf("corrupt events file %s: event with eid %d", path, ev.EID)
		}
		r.events[ev.EID] = &ev
		if ev.EID >= r.nextEID {
			r.nextEID = ev.EID + 1
		}
	}
	if r.nextEID < 1 {
		r.nextEID = 1
	}
	return nil
}

// persistLocked writes events.json through the atomic writer. Callers hold
// the write lock.
func (r *Registry) persistLocked() error {
	if !r.persist {
		return nil
	}
	doc := model.EventsDoc{NextEID: r.nextEID}
	for _, ev := range r.events {
		doc.Events = append(doc.Events, *ev)
	}
	sort.Slice(doc.Events, func(i, j int) bool { return doc.Events[i].EID < doc.Events[j].EID })
	if err := atomicfile.WriteJSON(r.eventsPath, &doc); err != nil {
		r.log.Error().Err(err).Msg("persisting events.json failed; in-memory registry stays authoritative")
		return apperr.IO("persist events", err)
	}
	return nil
}

// OnDelete registers a purge hook run for every deleted event.
func (r *Registry) OnDelete(hook func(eid int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, hook)
}

// Lookup returns a copy of the event, if it exists.
func (r *Registry) Lookup(eid int) (model.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.events[eid]
	if !ok {
		return model.Event{}, false
	}
	return *ev, true
}

// List returns all events sorted by eid.
func (r *Registry) List() []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EID < out[j].EID })
	return out
}

// AssistEnabledFor reports whether the assist flag is honored for eid.
// Unknown events report false.
func (r *Registry) AssistEnabledFor(eid int) bool {
	ev, ok := r.Lookup(eid)
	return ok && ev.AssistEnabled
}

// AuthenticateTracker checks a packet password against the event. A nil
// return means the packet may proceed. The failure cache is consulted
// before any password comparison so a rate-limited reply carries no
// information about the password itself.
func (r *Registry) AuthenticateTracker(eid int, providedPwd, sourceAddr string) *apperr.AppError {
	ev, ok := r.Lookup(eid)
	if !ok {
		return apperr.UnknownEvent(eid)
	}
	if ev.Archived {
		return apperr.ArchivedEvent(eid)
	}
	if r.fails.Limited(sourceAddr, eid) {
		return apperr.RateLimited("too many failed attempts, try again later")
	}
	if ev.TrackerPassword == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(ev.TrackerPassword), []byte(providedPwd)) == 1 {
		r.fails.Clear(sourceAddr, eid)
		return nil
	}
	r.fails.Record(sourceAddr, eid)
	r.log.Warn().Int("eid", eid).Str("source", sourceAddr).Msg("tracker auth failed")
	return apperr.Auth("wrong password")
}

// AuthenticateOwnTracks checks the HTTP Basic password of an OwnTracks
// client. The expected secret is the event's OwnTracks password when set,
// then the process-wide OwnTracks password, then the event's admin
// password. Failures feed the same cool-down cache as tracker auth.
func (r *Registry) AuthenticateOwnTracks(eid int, providedPwd, sourceAddr string) *apperr.AppError {
	ev, ok := r.Lookup(eid)
	if !ok {
		return apperr.UnknownEvent(eid)
	}
	if ev.Archived {
		return apperr.ArchivedEvent(eid)
	}
	if r.fails.Limited(sourceAddr, eid) {
		return apperr.RateLimited("too many failed attempts, try again later")
	}

	expected := ev.OwnTracksPassword
	if expected == "" {
		expected = r.ownTracksFallback
	}
	if expected == "" {
		expected = ev.AdminPassword
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(providedPwd)) == 1 {
		r.fails.Clear(sourceAddr, eid)
		return nil
	}
	r.fails.Record(sourceAddr, eid)
	r.log.Warn().Int("eid", eid).Str("source", sourceAddr).Msg("owntracks auth failed")
	return apperr.Auth("wrong password")
}

// AuthenticateAdmin checks the per-event admin password. The manager
// password is accepted for any event.
func (r *Registry) AuthenticateAdmin(eid int, providedPwd string) bool {
	if providedPwd == "" {
		return false
	}
	if r.AuthenticateManager(providedPwd) {
		return true
	}
	ev, ok := r.Lookup(eid)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ev.AdminPassword), []byte(providedPwd)) == 1
}

// AuthenticateManager checks the process-wide manager password.
func (r *Registry) AuthenticateManager(providedPwd string) bool {
	if r.managerPassword == "" || providedPwd == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.managerPassword), []byte(providedPwd)) == 1
}

// Fails exposes the failure cache for the scheduler's sweep job.
func (r *Registry) Fails() *FailCache { return r.fails }

// EventUpdate carries the mutable fields of an event. Nil pointers leave
// the current value in place.
type EventUpdate struct {
	Name              *string `json:"name"`
	Description       *string `json:"description"`
	AdminPassword     *string `json:"admin_password"`
	TrackerPassword   *string `json:"tracker_password"`
	OwnTracksPassword *string `json:"owntracks_password"`
	AssistEnabled     *bool   `json:"assist_enabled"`
	Archived          *bool   `json:"archived"`
}

// CreateEvent allocates the next eid and persists the new event.
func (r *Registry) CreateEvent(name, description, adminPwd, trackerPwd, otPwd string, assistEnabled bool) (model.Event, error) {
	if name == "" {
		return model.Event{}, apperr.Malformed("event name is required")
	}
	if adminPwd == "" {
		return model.Event{}, apperr.Malformed("admin password is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ev := &model.Event{
		EID:               r.nextEID,
		Name:              name,
		Description:       description,
		AdminPassword:     adminPwd,
		TrackerPassword:   trackerPwd,
		OwnTracksPassword: otPwd,
		AssistEnabled:     assistEnabled,
		CreatedAt:         time.Now().Unix(),
	}
	r.nextEID++
	r.events[ev.EID] = ev

	if err := r.persistLocked(); err != nil {
		return *ev, err
	}
	return *ev, nil
}

// UpdateEvent applies an update to a live event and persists.
func (r *Registry) UpdateEvent(eid int, upd EventUpdate) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eid]
	if !ok {
		return model.Event{}, apperr.UnknownEvent(eid)
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return model.Event{}, apperr.Malformed("event name cannot be empty")
		}
		ev.Name = *upd.Name
	}
	if upd.Description != nil {
		ev.Description = *upd.Description
	}
	if upd.AdminPassword != nil && *upd.AdminPassword != "" {
		ev.AdminPassword = *upd.AdminPassword
	}
	if upd.TrackerPassword != nil {
		ev.TrackerPassword = *upd.TrackerPassword
	}
	if upd.OwnTracksPassword != nil {
		ev.OwnTracksPassword = *upd.OwnTracksPassword
	}
	if upd.AssistEnabled != nil {
		ev.AssistEnabled = *upd.AssistEnabled
	}
	if upd.Archived != nil {
		ev.Archived = *upd.Archived
	}

	if err := r.persistLocked(); err != nil {
		return *ev, err
	}
	return *ev, nil
}

// ArchiveEvent flips the archived flag. Archived events keep serving
// reads and reject writes.
func (r *Registry) ArchiveEvent(eid int, archived bool) (model.Event, error) {
	return r.UpdateEvent(eid, EventUpdate{Archived: &archived})
}

// DeleteEvent removes the event, purges other components' in-memory state
// through the registered hooks, persists the registry, and removes the
// event's on-disk subtree. The eid is never reassigned.
func (r *Registry) DeleteEvent(eid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[eid]; !ok {
		return apperr.UnknownEvent(eid)
	}
	delete(r.events, eid)

	for _, hook := range r.onDelete {
		hook(eid)
	}

	perr := r.persistLocked()
	if err := os.RemoveAll(r.lay.EventDir(eid)); err != nil {
		r.log.Error().Err(err).Int("eid", eid).Msg("removing event directory failed")
		return apperr.IO("remove event directory", err)
	}
	return perr
}
