// Package live pushes accepted positions to map viewers over WebSocket.
//
// The hub keeps a registry of viewer connections per event. Every
// position the store accepts is broadcast, as stored (post-override,
// post-assist-coercion), to that event's viewers as one JSON message.
//
// Connection lifecycle:
//  1. Viewer connects via GET /api/live?eid=N and is registered
//  2. Each connection gets a buffered send channel and a write pump
//  3. A full send channel marks the viewer as slow: the connection is
//     closed rather than blocking the hub
//  4. The write pump pings every 30 seconds; a viewer that misses the
//     read deadline (90 seconds) is dropped
//
// Viewers are read-only; inbound frames are consumed and discarded.
package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/model"
)

const (
	// sendBuffer is the per-viewer outbound queue. A viewer this far
	// behind is disconnected.
	sendBuffer = 64

	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The map UI is served from arbitrary origins behind the proxy;
	// positions are public within an event.
	CheckOrigin: func(*http.Request) bool { return true },
}

// viewer is one connected map client.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks viewers per event and fans positions out to them.
type Hub struct {
	mu      sync.RWMutex
	viewers map[int]map[*viewer]struct{}
	closed  bool
	log     zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		viewers: make(map[int]map[*viewer]struct{}),
		log:     *logger.Live(),
	}
}

// Broadcast sends one stored position to every viewer of the event. Slow
// viewers are dropped, never waited on.
func (h *Hub) Broadcast(eid int, pos model.CurrentPosition) {
	msg, err := positionMessage(eid, pos)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*viewer, 0, len(h.viewers[eid]))
	for v := range h.viewers[eid] {
		conns = append(conns, v)
	}
	h.mu.RUnlock()

	for _, v := range conns {
		select {
		case v.send <- msg:
		default:
			h.log.Debug().Int("eid", eid).Msg("dropping slow viewer")
			h.remove(eid, v)
		}
	}
}

// ViewerCount reports connected viewers for an event.
func (h *Hub) ViewerCount(eid int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[eid])
}

// HandleViewer upgrades the request and serves the connection until the
// viewer goes away. Blocks for the connection lifetime.
func (h *Hub) HandleViewer(w http.ResponseWriter, r *http.Request, eid int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.viewers[eid] == nil {
		h.viewers[eid] = make(map[*viewer]struct{})
	}
	h.viewers[eid][v] = struct{}{}
	h.mu.Unlock()

	go h.writePump(eid, v)
	h.readPump(eid, v)
}

// Purge disconnects every viewer of an event (event deletion).
func (h *Hub) Purge(eid int) {
	h.mu.Lock()
	conns := h.viewers[eid]
	delete(h.viewers, eid)
	h.mu.Unlock()
	for v := range conns {
		close(v.send)
	}
}

// Close disconnects everything (shutdown).
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.viewers
	h.viewers = make(map[int]map[*viewer]struct{})
	h.mu.Unlock()
	for _, conns := range all {
		for v := range conns {
			close(v.send)
		}
	}
}

// remove unregisters one viewer and closes its send channel.
func (h *Hub) remove(eid int, v *viewer) {
	h.mu.Lock()
	conns, ok := h.viewers[eid]
	if ok {
		if _, present := conns[v]; present {
			delete(conns, v)
			close(v.send)
		}
		if len(conns) == 0 {
			delete(h.viewers, eid)
		}
	}
	h.mu.Unlock()
}

// readPump consumes (and discards) inbound frames so pongs are processed
// and closure is noticed.
func (h *Hub) readPump(eid int, v *viewer) {
	defer h.remove(eid, v)
	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes queued messages and keep-alive pings.
func (h *Hub) writePump(eid int, v *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			if !ok {
				v.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
