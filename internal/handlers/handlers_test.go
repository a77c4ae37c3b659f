package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrack-dev/seatrack/internal/course"
	"github.com/seatrack-dev/seatrack/internal/ingest"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/live"
	"github.com/seatrack-dev/seatrack/internal/middleware"
	"github.com/seatrack-dev/seatrack/internal/model"
	"github.com/seatrack-dev/seatrack/internal/overrides"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/store"
)

type fixture struct {
	router *gin.Engine
	reg    *registry.Registry
	store  *store.Store
	lay    layout.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lay := layout.Layout{Root: t.TempDir()}

	reg, err := registry.New(registry.Options{
		Layout:            lay,
		ManagerPassword:   "manager",
		OwnTracksFallback: "",
		FailLimit:         5,
		FailWindow:        time.Minute,
		FailCooldown:      5 * time.Minute,
	})
	require.NoError(t, err)

	users := overrides.New(lay)
	courses := course.New(lay)
	st := store.New(store.Options{
		Layout:        lay,
		Overrides:     users,
		AssistEnabled: reg.AssistEnabledFor,
		TrackLogs:     true,
		Snapshots:     true,
	})
	hub := live.NewHub()
	st.OnAccept(hub.Broadcast)

	disp := ingest.NewDispatcher(reg, st, 2, 16)
	disp.Start()
	t.Cleanup(disp.Stop)

	reg.OnDelete(st.Purge)
	reg.OnDelete(users.Purge)
	reg.OnDelete(courses.Purge)
	reg.OnDelete(hub.Purge)

	router := NewRouter(RouterConfig{
		Registry:    reg,
		Store:       st,
		Courses:     courses,
		Users:       users,
		Disp:        disp,
		Hub:         hub,
		Layout:      lay,
		IngestRate:  10000,
		IngestBurst: 10000,
	})

	return &fixture{router: router, reg: reg, store: st, lay: lay}
}

func (f *fixture) do(t *testing.T, method, url string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, url, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func adminHdr(pwd string) map[string]string {
	return map[string]string{middleware.AdminPasswordHeader: pwd}
}

func managerHdr() map[string]string {
	return map[string]string{middleware.ManagerPasswordHeader: "manager"}
}

func trackerPacket(eid int, id string, sq int64) string {
	return fmt.Sprintf(`{"id":%q,"eid":%d,"sq":%d,"ts":1732615200,`+
		`"lat":-36.8485,"lon":174.7633,"spd":12.5,"hdg":275,"bat":85}`, id, eid, sq)
}

func TestPostTracker_HappyPath(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Harbour", "", "admin", "", "", true)
	require.NoError(t, err)

	w := f.do(t, "POST", "/api/tracker", trackerPacket(ev.EID, "S07", 12345), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var ack ingest.Ack
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, int64(12345), ack.Ack)
	assert.Equal(t, "Harbour", ack.Event)
	assert.Empty(t, ack.Error)

	assert.Contains(t, f.store.Positions(ev.EID), "S07")
}

func TestPostPosition_Alias(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Harbour", "", "admin", "", "", true)
	require.NoError(t, err)

	w := f.do(t, "POST", "/api/position", trackerPacket(ev.EID, "S08", 2), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostTracker_EmptyBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/api/tracker", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostTracker_Garbage(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/api/tracker", "not json at all", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed")
}

func TestPostTracker_AuthFailureIs200(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Locked", "", "admin", "x", "", true)
	require.NoError(t, err)

	raw := fmt.Sprintf(`{"id":"S01","eid":%d,"sq":5,"ts":1,"lat":0,"lon":0,"pwd":"bad"}`, ev.EID)
	w := f.do(t, "POST", "/api/tracker", raw, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var ack ingest.Ack
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "auth", ack.Error)
}

func TestListEvents_HidesArchived(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.CreateEvent("Visible", "spring series", "a", "", "", true)
	require.NoError(t, err)
	ev2, err := f.reg.CreateEvent("Hidden", "", "a", "", "", true)
	require.NoError(t, err)
	_, err = f.reg.ArchiveEvent(ev2.EID, true)
	require.NoError(t, err)

	w := f.do(t, "GET", "/api/events", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Visible", events[0]["name"])
	assert.Equal(t, "spring series", events[0]["description"])
}

func TestCourse_AdminRoundtrip(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Race", "", "admin", "", "", true)
	require.NoError(t, err)
	url := fmt.Sprintf("/api/admin/course?eid=%d", ev.EID)

	// No course yet.
	w := f.do(t, "GET", fmt.Sprintf("/api/course?eid=%d", ev.EID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Wrong password cannot write.
	w = f.do(t, "POST", url, `{"name":"c"}`, adminHdr("bad"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	doc := `{"name":"Harbour","start":[[-36.84,174.76],[-36.85,174.77]]}`
	w = f.do(t, "POST", url, doc, adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", fmt.Sprintf("/api/course?eid=%d", ev.EID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, doc, w.Body.String())

	// Invalid JSON is rejected.
	w = f.do(t, "POST", url, `{broken`, adminHdr("admin"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "DELETE", url, "", adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "GET", fmt.Sprintf("/api/course?eid=%d", ev.EID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthCheck(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Race", "", "admin", "", "", true)
	require.NoError(t, err)
	url := fmt.Sprintf("/api/auth/check?eid=%d", ev.EID)

	w := f.do(t, "GET", url, "", adminHdr("admin"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	w = f.do(t, "GET", url, "", adminHdr("manager"))
	assert.Equal(t, http.StatusOK, w.Code, "manager password accepted on admin routes")

	w = f.do(t, "GET", url, "", adminHdr("wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClearTracks(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Race", "", "admin", "", "", true)
	require.NoError(t, err)

	w := f.do(t, "POST", "/api/tracker", trackerPacket(ev.EID, "S07", 1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, f.store.Positions(ev.EID), "S07")

	w = f.do(t, "POST", fmt.Sprintf("/api/admin/clear-tracks?eid=%d", ev.EID), "", adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, f.store.Positions(ev.EID))

	data, err := os.ReadFile(f.lay.DailyLogPath(ev.EID, time.Now()))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestUserOverrides_AdminFlow(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Race", "", "admin", "", "", true)
	require.NoError(t, err)

	w := f.do(t, "POST", fmt.Sprintf("/api/admin/user/S07?eid=%d", ev.EID),
		`{"name":"Alex","role":"support"}`, adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", fmt.Sprintf("/api/users?eid=%d", ev.EID), "", adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	var users map[string]model.UserOverride
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Equal(t, "Alex", users["S07"].Name)
	assert.Equal(t, model.RoleSupport, users["S07"].Role)

	// Overrides flow into accepted packets.
	w = f.do(t, "POST", "/api/tracker", trackerPacket(ev.EID, "S07", 2), nil)
	require.Equal(t, http.StatusOK, w.Code)
	pos := f.store.Positions(ev.EID)["S07"]
	assert.Equal(t, "Alex", pos.Name)
	assert.Equal(t, model.RoleSupport, pos.Role)

	w = f.do(t, "DELETE", fmt.Sprintf("/api/admin/user/S07?eid=%d", ev.EID), "", adminHdr("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "GET", fmt.Sprintf("/api/users?eid=%d", ev.EID), "", adminHdr("admin"))
	assert.NotContains(t, w.Body.String(), "Alex")
}

func TestManager_EventLifecycle(t *testing.T) {
	f := newFixture(t)

	// Create.
	w := f.do(t, "POST", "/api/manager/events",
		`{"name":"New Race","description":"d","admin_password":"ap","tracker_password":"tp","assist_enabled":true}`,
		managerHdr())
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	eid := int(created["eid"].(float64))
	assert.Equal(t, 1, eid)

	// Validation failures answer 400.
	w = f.do(t, "POST", "/api/manager/events", `{"description":"no name"}`, managerHdr())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Wrong manager password.
	w = f.do(t, "GET", "/api/manager/events", "",
		map[string]string{middleware.ManagerPasswordHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Update.
	w = f.do(t, "PUT", fmt.Sprintf("/api/manager/events/%d", eid),
		`{"name":"Renamed","archived":true}`, managerHdr())
	require.Equal(t, http.StatusOK, w.Code)
	ev, ok := f.reg.Lookup(eid)
	require.True(t, ok)
	assert.Equal(t, "Renamed", ev.Name)
	assert.True(t, ev.Archived)

	// Manager listing still shows the archived event.
	w = f.do(t, "GET", "/api/manager/events", "", managerHdr())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Renamed")
}

func TestManager_DeleteEventPurgesEverything(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/api/manager/events",
		`{"name":"Doomed","admin_password":"ap"}`, managerHdr())
	require.Equal(t, http.StatusOK, w.Code)

	// Feed a packet so the event has disk state.
	w = f.do(t, "POST", "/api/tracker", trackerPacket(1, "S07", 1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	f.store.FlushSnapshots(true)
	require.DirExists(t, f.lay.EventDir(1))

	w = f.do(t, "DELETE", "/api/manager/events/1", "", managerHdr())
	require.Equal(t, http.StatusOK, w.Code)

	assert.NoDirExists(t, f.lay.EventDir(1))
	assert.Empty(t, f.store.Positions(1))

	// Packets to the deleted event answer unknown_event.
	w = f.do(t, "POST", "/api/tracker", trackerPacket(1, "S07", 2), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ack ingest.Ack
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "unknown_event", ack.Error)

	// The eid is never reassigned.
	w = f.do(t, "POST", "/api/manager/events",
		`{"name":"Next","admin_password":"ap"}`, managerHdr())
	require.Equal(t, http.StatusOK, w.Code)
	var next map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.Equal(t, 2, int(next["eid"].(float64)))
}

func TestOwnTracks_HappyPath(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("OT Race", "", "admin", "", "otpass", true)
	require.NoError(t, err)

	payload := `{"_type":"location","lat":-36.85,"lon":174.76,"tst":1732615200,` +
		`"vel":20,"cog":90,"batt":70,"topic":"owntracks/alex/phone"}`
	req := httptest.NewRequest("POST", fmt.Sprintf("/api/owntracks?eid=%d", ev.EID),
		bytes.NewReader([]byte(payload)))
	req.SetBasicAuth("alex", "otpass")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	positions := f.store.Positions(ev.EID)
	require.Contains(t, positions, "OT-alex")
	pos := positions["OT-alex"]
	assert.InDelta(t, -36.85, pos.Lat, 1e-9)
	assert.InDelta(t, 20.0/1.852, pos.Spd, 1e-6, "km/h converted to knots")
	assert.Equal(t, 70, pos.Bat)
	assert.Equal(t, "phone", pos.Name, "first contact stores the topic name")
}

func TestOwnTracks_WrongPassword(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("OT Race", "", "admin", "", "otpass", true)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/owntracks?eid=%d", ev.EID),
		bytes.NewReader([]byte(`{"_type":"location","lat":1,"lon":2,"tst":5}`)))
	req.SetBasicAuth("alex", "wrong")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
	assert.Empty(t, f.store.Positions(ev.EID))
}

func TestOwnTracks_AdminPasswordFallback(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("OT Race", "", "admin", "", "", true)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/owntracks?eid=%d", ev.EID),
		bytes.NewReader([]byte(`{"_type":"location","lat":1,"lon":2,"tst":1732615200}`)))
	req.SetBasicAuth("dev", "admin")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, f.store.Positions(ev.EID), "OT-dev")
}

func TestOwnTracks_NonLocationIgnored(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("OT Race", "", "admin", "", "otpass", true)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/owntracks?eid=%d", ev.EID),
		bytes.NewReader([]byte(`{"_type":"waypoint"}`)))
	req.SetBasicAuth("alex", "otpass")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
	assert.Empty(t, f.store.Positions(ev.EID))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServesSnapshotUnderHTML(t *testing.T) {
	f := newFixture(t)
	ev, err := f.reg.CreateEvent("Race", "", "admin", "", "", true)
	require.NoError(t, err)

	w := f.do(t, "POST", "/api/tracker", trackerPacket(ev.EID, "S07", 1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	f.store.FlushSnapshots(true)

	w = f.do(t, "GET", fmt.Sprintf("/html/%d/current_positions.json", ev.EID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "S07")
}
