package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrack-dev/seatrack/internal/model"
)

// dialTestHub serves the hub on a test server and returns a connected
// viewer for eid.
func dialTestHub(t *testing.T, h *Hub, eid int) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("eid"))
		h.HandleViewer(w, r, id)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?eid=" + strconv.Itoa(eid)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForViewers(t *testing.T, h *Hub, eid, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ViewerCount(eid) != n {
		if time.Now().After(deadline) {
			t.Fatalf("viewer count for eid %d never reached %d", eid, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesViewer(t *testing.T) {
	h := NewHub()
	conn := dialTestHub(t, h, 2)
	waitForViewers(t, h, 2, 1)

	h.Broadcast(2, model.CurrentPosition{ID: "S07", Lat: -36.8, Lon: 174.7})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var upd positionUpdate
	require.NoError(t, json.Unmarshal(msg, &upd))
	assert.Equal(t, "position", upd.Type)
	assert.Equal(t, 2, upd.EID)
	assert.Equal(t, "S07", upd.Pos.ID)
}

func TestHub_BroadcastScopedToEvent(t *testing.T) {
	h := NewHub()
	conn := dialTestHub(t, h, 3)
	waitForViewers(t, h, 3, 1)

	h.Broadcast(4, model.CurrentPosition{ID: "other"})
	h.Broadcast(3, model.CurrentPosition{ID: "mine"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"mine"`)
}

func TestHub_PurgeDisconnectsViewers(t *testing.T) {
	h := NewHub()
	conn := dialTestHub(t, h, 5)
	waitForViewers(t, h, 5, 1)

	h.Purge(5)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, h.ViewerCount(5))
}

func TestHub_BroadcastWithNoViewers(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.Broadcast(1, model.CurrentPosition{ID: "S07"})
}
