// Package store owns the live position state: the per-event current-
// positions map, the daily JSONL track logs, and the snapshot files the
// map UI reads.
//
// Concurrency model: one mutex per event guards that event's positions
// map, its open daily-log handle, and its snapshot-dirty flag. Accepting a
// packet, clearing tracks, and writing a snapshot all run under the same
// per-event lock, so a snapshot is always a point-in-time consistent view.
// Nothing here blocks on the network while holding a lock.
//
// Durability: track-log appends go through a buffered writer flushed on
// every snapshot tick and on rotation/shutdown; --sync-track-logs forces a
// sync per line. An append error drops the packet from durable state but
// the packet is still ACK'd; clients must not retry because of a server
// disk problem.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/atomicfile"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/model"
	"github.com/seatrack-dev/seatrack/internal/overrides"
)

// Options configures a Store.
type Options struct {
	Layout    layout.Layout
	Overrides *overrides.Store

	// AssistEnabled asks the registry whether the assist flag is honored
	// for an event.
	AssistEnabled func(eid int) bool

	// TrackLogs and Snapshots correspond to --no-track-logs and
	// --no-current.
	TrackLogs bool
	Snapshots bool

	// SyncEveryLine forces an fsync per appended track-log line.
	SyncEveryLine bool
}

// Store holds all per-event position state.
type Store struct {
	mu     sync.RWMutex
	events map[int]*eventState

	opts Options
	log  zerolog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// onAccept, when set, receives every stored position (the live feed
	// hub). Called outside the event lock.
	onAccept func(eid int, pos model.CurrentPosition)
}

// New creates a Store.
func New(opts Options) *Store {
	return &Store{
		events: make(map[int]*eventState),
		opts:   opts,
		log:    *logger.Store(),
		now:    time.Now,
	}
}

// OnAccept registers the live-feed callback.
func (s *Store) OnAccept(fn func(eid int, pos model.CurrentPosition)) {
	s.onAccept = fn
}

// state returns the event's state, creating it on first packet.
func (s *Store) state(eid int) *eventState {
	s.mu.RLock()
	st, ok := s.events[eid]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.events[eid]; ok {
		return st
	}
	st = &eventState{positions: make(map[string]*model.CurrentPosition)}
	s.events[eid] = st
	return st
}

// Accept merges one validated, authenticated packet into the event state:
// override resolution, assist coercion, current-position update, daily-log
// append, dirty flag. Returns the stored position.
func (s *Store) Accept(p *model.TrackerPacket, recvTS time.Time) model.CurrentPosition {
	name, role := s.opts.Overrides.Resolve(p.EID, p.ID, p.Role)

	ast := p.Ast
	if p.Stopped || (ast && !s.opts.AssistEnabled(p.EID)) {
		ast = false
	}

	latency := recvTS.Unix() - p.TS
	if latency < 0 {
		latency = 0
	}

	pos := model.CurrentPosition{
		ID:       p.ID,
		Name:     name,
		Lat:      p.Lat,
		Lon:      p.Lon,
		Spd:      p.Spd,
		Hdg:      p.Hdg,
		Bat:      p.Bat,
		Sig:      p.Sig,
		Role:     role,
		Ast:      ast,
		Stopped:  p.Stopped,
		Ver:      p.Ver,
		OS:       p.OS,
		TS:       p.TS,
		RecvTS:   recvTS.Unix(),
		LatencyS: latency,
	}

	st := s.state(p.EID)
	st.mu.Lock()
	stored := pos
	st.positions[p.ID] = &stored
	st.dirty = true

	if s.opts.TrackLogs {
		if err := s.appendLocked(st, p, pos, recvTS); err != nil {
			// The packet stays ACK'd; only durability suffered.
			s.log.Warn().Err(err).Int("eid", p.EID).Str("id", p.ID).
				Msg("track log append failed, packet dropped from durable state")
		}
	}
	st.mu.Unlock()

	if s.onAccept != nil {
		s.onAccept(p.EID, pos)
	}
	return pos
}

// Positions returns a copy of the event's current positions.
func (s *Store) Positions(eid int) map[string]model.CurrentPosition {
	st := s.state(eid)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]model.CurrentPosition, len(st.positions))
	for id, pos := range st.positions {
		out[id] = *pos
	}
	return out
}

// ClearTracks truncates today's daily log, drops every in-memory position
// for the event, and forces a snapshot write. Historical days are
// untouched.
func (s *Store) ClearTracks(eid int) error {
	st := s.state(eid)
	st.mu.Lock()

	st.positions = make(map[string]*model.CurrentPosition)
	st.dirty = true

	var firstErr error
	if err := st.truncateToday(s.lay(), eid, s.now()); err != nil {
		firstErr = err
	}
	st.mu.Unlock()

	if err := s.flushEvent(eid, st, true); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// FlushSnapshots writes the snapshot for every dirty event and flushes
// buffered track-log writers. With force set, clean events are written
// too (shutdown, clear-tracks).
func (s *Store) FlushSnapshots(force bool) {
	s.mu.RLock()
	states := make(map[int]*eventState, len(s.events))
	for eid, st := range s.events {
		states[eid] = st
	}
	s.mu.RUnlock()

	for eid, st := range states {
		if err := s.flushEvent(eid, st, force); err != nil {
			// Retried on the next tick; the dirty flag stays set.
			s.log.Warn().Err(err).Int("eid", eid).Msg("snapshot write failed")
		}
	}
}

// flushEvent flushes one event's log writer and, when dirty or forced,
// writes its snapshot under the event lock.
func (s *Store) flushEvent(eid int, st *eventState, force bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.flushLogLocked()

	if !s.opts.Snapshots {
		st.dirty = false
		return nil
	}
	if !st.dirty && !force {
		return nil
	}

	snap := make(map[string]model.CurrentPosition, len(st.positions))
	for id, pos := range st.positions {
		snap[id] = *pos
	}
	if err := atomicfile.WriteJSON(s.lay().SnapshotPath(eid), snap); err != nil {
		return err
	}
	st.dirty = false
	return nil
}

// Purge closes the event's log handle and drops its state. Registered as
// the registry's delete hook.
func (s *Store) Purge(eid int) {
	s.mu.Lock()
	st, ok := s.events[eid]
	if ok {
		delete(s.events, eid)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.closeLogLocked()
	st.mu.Unlock()
}

// Close force-flushes every snapshot and closes all log handles.
func (s *Store) Close() {
	s.FlushSnapshots(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.events {
		st.mu.Lock()
		st.closeLogLocked()
		st.mu.Unlock()
	}
}

func (s *Store) lay() layout.Layout { return s.opts.Layout }

// appendLocked writes one log line per track point, rotating the daily
// file when the UTC date changed. Callers hold the event lock.
func (s *Store) appendLocked(st *eventState, p *model.TrackerPacket, pos model.CurrentPosition, recvTS time.Time) error {
	day := recvTS.UTC().Format("2006_01_02")
	if err := st.openLogLocked(s.lay(), p.EID, day, recvTS); err != nil {
		return err
	}

	for _, pt := range p.Points {
		spd := p.Spd
		if pt.Spd != nil {
			spd = *pt.Spd
		}
		entry := model.TrackLogEntry{
			ID:      p.ID,
			EID:     p.EID,
			Seq:     p.Seq,
			TS:      pt.TS,
			Lat:     pt.Lat,
			Lon:     pt.Lon,
			Spd:     spd,
			Hdg:     p.Hdg,
			Ast:     pos.Ast,
			Bat:     p.Bat,
			Role:    pos.Role,
			Name:    pos.Name,
			RecvTS:  recvTS.Unix(),
			Sig:     p.Sig,
			Ver:     p.Ver,
			OS:      p.OS,
			Stopped: p.Stopped,
		}
		line, err := entry.Line()
		if err != nil {
			return err
		}
		if _, err := st.logWriter.Write(line); err != nil {
			return err
		}
	}
	if s.opts.SyncEveryLine {
		st.flushLogLocked()
		if st.logFile != nil {
			return st.logFile.Sync()
		}
	}
	return nil
}

// SetClock replaces the store clock; tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }
