package store

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/model"
	"github.com/seatrack-dev/seatrack/internal/overrides"
)

var testRecv = time.Unix(1732615260, 0)

func newTestStore(t *testing.T, assistEnabled bool) (*Store, layout.Layout) {
	t.Helper()
	lay := layout.Layout{Root: t.TempDir()}
	s := New(Options{
		Layout:        lay,
		Overrides:     overrides.New(lay),
		AssistEnabled: func(int) bool { return assistEnabled },
		TrackLogs:     true,
		Snapshots:     true,
	})
	return s, lay
}

func singleFix(id string, eid int, lat, lon float64) *model.TrackerPacket {
	return &model.TrackerPacket{
		ID:  id,
		EID: eid,
		Seq: 1,
		TS:  1732615200,
		Lat: lat,
		Lon: lon,
		Points: []model.TrackPoint{
			{TS: 1732615200, Lat: lat, Lon: lon},
		},
		Spd:  12.5,
		Hdg:  275,
		Bat:  85,
		Role: model.RoleSailor,
	}
}

func readLogLines(t *testing.T, lay layout.Layout, eid int, day time.Time) []string {
	t.Helper()
	data, err := os.ReadFile(lay.DailyLogPath(eid, day))
	require.NoError(t, err)
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestAccept_UpdatesPositionsAndLog(t *testing.T) {
	s, lay := newTestStore(t, true)

	s.Accept(singleFix("S07", 2, -36.8485, 174.7633), testRecv)

	positions := s.Positions(2)
	require.Contains(t, positions, "S07")
	pos := positions["S07"]
	assert.InDelta(t, -36.8485, pos.Lat, 1e-9)
	assert.Equal(t, int64(60), pos.LatencyS)

	s.FlushSnapshots(false)

	lines := readLogLines(t, lay, 2, testRecv)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"id":"S07"`)
	assert.Contains(t, lines[0], `"recv_ts":1732615260`)

	// Snapshot parses and carries the tracker.
	raw, err := os.ReadFile(lay.SnapshotPath(2))
	require.NoError(t, err)
	var snap map[string]model.CurrentPosition
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Contains(t, snap, "S07")
	assert.InDelta(t, 174.7633, snap["S07"].Lon, 1e-9)
}

func TestAccept_BatchWritesOneLinePerPoint(t *testing.T) {
	s, lay := newTestStore(t, true)

	spd := 3.5
	p := singleFix("B1", 2, -36.82, 174.72)
	p.Points = []model.TrackPoint{
		{TS: 1732615200, Lat: -36.80, Lon: 174.70},
		{TS: 1732615201, Lat: -36.81, Lon: 174.71, Spd: &spd},
		{TS: 1732615202, Lat: -36.82, Lon: 174.72},
	}
	s.Accept(p, testRecv)
	s.FlushSnapshots(false)

	lines := readLogLines(t, lay, 2, testRecv)
	require.Len(t, lines, 3)

	var mid model.TrackLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &mid))
	assert.Equal(t, int64(1732615201), mid.TS)
	assert.InDelta(t, 3.5, mid.Spd, 1e-9, "per-point speed wins")
	assert.Equal(t, 85, mid.Bat, "packet metadata copied onto every point")

	pos := s.Positions(2)["B1"]
	assert.InDelta(t, -36.82, pos.Lat, 1e-9)
	assert.InDelta(t, 174.72, pos.Lon, 1e-9)
}

func TestAccept_AssistCoercedWhenDisabled(t *testing.T) {
	s, _ := newTestStore(t, false)

	p := singleFix("S07", 2, 0, 0)
	p.Ast = true
	pos := s.Accept(p, testRecv)

	assert.False(t, pos.Ast)
	assert.False(t, s.Positions(2)["S07"].Ast)
}

func TestAccept_StoppedForcesAssistOff(t *testing.T) {
	s, _ := newTestStore(t, true)

	p := singleFix("S07", 2, 0, 0)
	p.Ast = true
	p.Stopped = true
	pos := s.Accept(p, testRecv)

	assert.False(t, pos.Ast)
	assert.True(t, pos.Stopped)
}

func TestAccept_OverrideResolution(t *testing.T) {
	lay := layout.Layout{Root: t.TempDir()}
	ovr := overrides.New(lay)
	require.NoError(t, ovr.Set(2, "S07", model.UserOverride{Name: "Alex", Role: model.RoleSupport}))
	s := New(Options{
		Layout:        lay,
		Overrides:     ovr,
		AssistEnabled: func(int) bool { return true },
		TrackLogs:     true,
		Snapshots:     true,
	})

	pos := s.Accept(singleFix("S07", 2, 0, 0), testRecv)
	assert.Equal(t, "Alex", pos.Name)
	assert.Equal(t, model.RoleSupport, pos.Role)

	s.FlushSnapshots(false)
	lines := readLogLines(t, lay, 2, testRecv)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"name":"Alex"`)
	assert.Contains(t, lines[0], `"role":"support"`)
}

func TestClearTracks(t *testing.T) {
	s, lay := newTestStore(t, true)
	// ClearTracks truncates the log of the store clock's day.
	s.SetClock(func() time.Time { return testRecv })

	// Yesterday's log must survive a clear.
	yesterday := testRecv.Add(-24 * time.Hour)
	s.Accept(singleFix("S07", 4, 0, 0), yesterday)
	s.Accept(singleFix("S07", 4, 1, 1), testRecv)
	s.Accept(singleFix("S08", 4, 2, 2), testRecv)

	require.NoError(t, s.ClearTracks(4))

	assert.Empty(t, s.Positions(4))
	assert.Empty(t, readLogLines(t, lay, 4, testRecv))
	assert.Len(t, readLogLines(t, lay, 4, yesterday), 1)

	// The forced snapshot is empty.
	raw, err := os.ReadFile(lay.SnapshotPath(4))
	require.NoError(t, err)
	var snap map[string]model.CurrentPosition
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Empty(t, snap)
}

func TestDailyRotation(t *testing.T) {
	s, lay := newTestStore(t, true)

	day1 := time.Date(2024, 11, 26, 23, 59, 50, 0, time.UTC)
	day2 := time.Date(2024, 11, 27, 0, 0, 10, 0, time.UTC)

	s.Accept(singleFix("S07", 2, 0, 0), day1)
	s.Accept(singleFix("S07", 2, 1, 1), day2)
	s.FlushSnapshots(false)

	assert.Len(t, readLogLines(t, lay, 2, day1), 1)
	assert.Len(t, readLogLines(t, lay, 2, day2), 1)
}

func TestFlushSnapshots_CoalescesWrites(t *testing.T) {
	s, lay := newTestStore(t, true)

	s.Accept(singleFix("S07", 2, 0, 0), testRecv)
	s.FlushSnapshots(false)

	info1, err := os.Stat(lay.SnapshotPath(2))
	require.NoError(t, err)

	// Clean event: no rewrite on the next tick.
	require.NoError(t, os.Remove(lay.SnapshotPath(2)))
	s.FlushSnapshots(false)
	_, err = os.Stat(lay.SnapshotPath(2))
	assert.True(t, os.IsNotExist(err))

	// Force writes even when clean.
	s.FlushSnapshots(true)
	info2, err := os.Stat(lay.SnapshotPath(2))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info2.Size(), info1.Size())
}

func TestDisabledTrackLogsAndSnapshots(t *testing.T) {
	lay := layout.Layout{Root: t.TempDir()}
	s := New(Options{
		Layout:        lay,
		Overrides:     overrides.New(lay),
		AssistEnabled: func(int) bool { return true },
	})

	s.Accept(singleFix("S07", 2, 0, 0), testRecv)
	s.FlushSnapshots(true)

	_, err := os.Stat(lay.DailyLogPath(2, testRecv))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(lay.SnapshotPath(2))
	assert.True(t, os.IsNotExist(err))

	// The in-memory map still works for the live feed.
	assert.Contains(t, s.Positions(2), "S07")
}

func TestPurgeAndClose(t *testing.T) {
	s, _ := newTestStore(t, true)
	s.Accept(singleFix("S07", 5, 0, 0), testRecv)

	s.Purge(5)
	assert.Empty(t, s.Positions(5))

	s.Accept(singleFix("S09", 6, 0, 0), testRecv)
	s.Close()
}

func TestOnAccept_FeedsLiveHub(t *testing.T) {
	s, _ := newTestStore(t, true)

	var gotEID int
	var gotPos model.CurrentPosition
	s.OnAccept(func(eid int, pos model.CurrentPosition) {
		gotEID = eid
		gotPos = pos
	})

	s.Accept(singleFix("S07", 2, -36.8, 174.7), testRecv)
	assert.Equal(t, 2, gotEID)
	assert.Equal(t, "S07", gotPos.ID)
}
