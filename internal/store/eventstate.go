package store

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/model"
)

// eventState is one event's live state. Its mutex guards the positions
// map, the daily-log handle, and the snapshot-dirty flag together, per the
// locking model described in the package comment.
type eventState struct {
	mu        sync.Mutex
	positions map[string]*model.CurrentPosition

	logFile   *os.File
	logWriter *bufio.Writer
	logDay    string

	dirty bool
}

// openLogLocked ensures the daily log for day is open, rotating away from
// a previous day's handle if needed.
func (st *eventState) openLogLocked(lay layout.Layout, eid int, day string, now time.Time) error {
	if st.logFile != nil && st.logDay == day {
		return nil
	}
	st.closeLogLocked()

	if err := os.MkdirAll(lay.LogsDir(eid), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	path := lay.DailyLogPath(eid, now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log %s: %w", path, err)
	}
	st.logFile = f
	st.logWriter = bufio.NewWriter(f)
	st.logDay = day
	return nil
}

// truncateToday empties today's log file. Historical days are not
// touched. A log file that was never created is fine.
func (st *eventState) truncateToday(lay layout.Layout, eid int, now time.Time) error {
	day := now.UTC().Format("2006_01_02")
	if st.logFile != nil && st.logDay == day {
		// Discard anything buffered, then cut the file under it.
		st.logWriter.Reset(st.logFile)
		if err := st.logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate daily log: %w", err)
		}
		if _, err := st.logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("rewind daily log: %w", err)
		}
		return nil
	}

	path := lay.DailyLogPath(eid, now)
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate daily log %s: %w", path, err)
	}
	return nil
}

// flushLogLocked drains the buffered writer.
func (st *eventState) flushLogLocked() {
	if st.logWriter != nil {
		st.logWriter.Flush()
	}
}

// closeLogLocked flushes and closes the current handle.
func (st *eventState) closeLogLocked() {
	if st.logWriter != nil {
		st.logWriter.Flush()
		st.logWriter = nil
	}
	if st.logFile != nil {
		st.logFile.Close()
		st.logFile = nil
	}
	st.logDay = ""
}
