// Package layout maps event identifiers onto the on-disk directory
// structure.
//
// Multi-event:
//
//	<root>/events.json
//	<root>/html/<eid>/current_positions.json
//	<root>/html/<eid>/course.json
//	<root>/html/<eid>/users.json
//	<root>/html/<eid>/logs/YYYY_MM_DD.jsonl
//
// Single-event mode uses the same files without the <eid> segment. The
// server always runs the multi-event engine internally; single-event mode
// is event 0 with this layout rewriting.
package layout

import (
	"path/filepath"
	"strconv"
	"time"
)

// SingleEventID is the synthetic eid used in single-event mode.
const SingleEventID = 0

// Layout resolves per-event paths under a data root.
type Layout struct {
	Root   string
	Single bool
}

// EventsFile is the registry document path.
func (l Layout) EventsFile() string {
	return filepath.Join(l.Root, "events.json")
}

// EventDir is the per-event subtree; the whole tree is removed when the
// event is deleted.
func (l Layout) EventDir(eid int) string {
	if l.Single {
		return filepath.Join(l.Root, "html")
	}
	return filepath.Join(l.Root, "html", strconv.Itoa(eid))
}

// SnapshotPath is the current-positions snapshot read by the map UI.
func (l Layout) SnapshotPath(eid int) string {
	return filepath.Join(l.EventDir(eid), "current_positions.json")
}

// CoursePath is the per-event course document.
func (l Layout) CoursePath(eid int) string {
	return filepath.Join(l.EventDir(eid), "course.json")
}

// UsersPath is the per-event user-override document.
func (l Layout) UsersPath(eid int) string {
	return filepath.Join(l.EventDir(eid), "users.json")
}

// LogsDir holds the daily track logs for one event.
func (l Layout) LogsDir(eid int) string {
	return filepath.Join(l.EventDir(eid), "logs")
}

// DailyLogPath names the track log for one UTC date.
func (l Layout) DailyLogPath(eid int, day time.Time) string {
	return filepath.Join(l.LogsDir(eid), day.UTC().Format("2006_01_02")+".jsonl")
}
