// Package push projects room-state changes to subscribed WebSocket clients:
// a per-room player view and a whole-server admin view. It implements the
// session layer's Telemetry interface.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/room"
)

// RoomSource is the slice of the session hub the push layer reads from.
type RoomSource interface {
	Snapshots() []room.Snapshot
	RoomSnapshot(id string) (room.Snapshot, bool)
}

// AdminAuth validates an admin or view token presented over WS, with the
// client's IP for temp-token binding.
type AdminAuth func(token, ip string) bool

// Hub is the WebSocket subscriber registry.
type Hub struct {
	source    RoomSource
	adminAuth AdminAuth
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty push hub. The room source is attached afterwards
// with SetSource because the session hub is built on top of this one.
func NewHub(auth AdminAuth) *Hub {
	return &Hub{
		adminAuth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*Client]struct{}{},
	}
}

// SetSource attaches the room source. Must be called before serving.
func (h *Hub) SetSource(src RoomSource) { h.source = src }

// Handler upgrades one HTTP request into a push client.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(h, conn, c.ClientIP())
		h.register(client)
		go client.writePump()
		go client.readPump()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.setSubscriptions("", false)
}

// RoomUpdated pushes the room's current view to its subscribers.
func (h *Hub) RoomUpdated(roomID string) {
	if h.source == nil {
		return
	}
	snap, ok := h.source.RoomSnapshot(roomID)
	if !ok {
		return
	}
	payload := marshal(envelope{Type: "room_update", Data: newRoomView(snap)})
	h.fanOutRoom(roomID, payload)
}

// RoomLog pushes one timestamped log line to the room's subscribers.
func (h *Hub) RoomLog(roomID, line string) {
	payload := marshal(envelope{Type: "room_log", Data: logEntry{
		Timestamp: time.Now().UnixMilli(),
		Message:   line,
	}})
	h.fanOutRoom(roomID, payload)
}

// AdminUpdate pushes a whole-server snapshot to the admin subscribers.
func (h *Hub) AdminUpdate() {
	if h.source == nil {
		return
	}
	payload := marshal(envelope{Type: "admin_update", Data: h.adminView()})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isAdmin() {
			c.trySend(payload)
		}
	}
}

func (h *Hub) adminView() []roomView {
	snaps := h.source.Snapshots()
	out := make([]roomView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, newRoomView(s))
	}
	return out
}

func (h *Hub) fanOutRoom(roomID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribedRoom() == roomID {
			c.trySend(payload)
		}
	}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type logEntry struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// roomView is the JSON projection of one room.
type roomView struct {
	ID              string       `json:"id"`
	State           string       `json:"state"`
	HostID          int32        `json:"hostId"`
	HostName        string       `json:"hostName"`
	PlayerCount     int          `json:"playerCount"`
	MonitorCount    int          `json:"monitorCount"`
	IsLocked        bool         `json:"isLocked"`
	IsCycle         bool         `json:"isCycle"`
	IsLive          bool         `json:"isLive"`
	IsRecruiting    bool         `json:"isRecruiting"`
	SelectedChartID *int32       `json:"selectedChartId"`
	Players         []playerView `json:"players"`
}

type playerView struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	IsMonitor bool   `json:"isMonitor"`
}

func newRoomView(s room.Snapshot) roomView {
	v := roomView{
		ID:           s.ID,
		State:        s.Stage.String(),
		HostID:       s.HostID,
		HostName:     s.HostName,
		PlayerCount:  len(s.Players),
		MonitorCount: len(s.Monitors),
		IsLocked:     s.Locked,
		IsCycle:      s.Cycle,
		IsLive:       s.Live,
		IsRecruiting: s.Recruiting,
		Players:      []playerView{},
	}
	if s.Chart != nil {
		id := s.Chart.ID
		v.SelectedChartID = &id
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, playerView{ID: p.ID, Name: p.Name})
	}
	for _, m := range s.Monitors {
		v.Players = append(v.Players, playerView{ID: m.ID, Name: m.Name, IsMonitor: true})
	}
	return v
}

func marshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "push payload marshal failed", zap.Error(err))
		return []byte(`{"type":"error","message":"internal"}`)
	}
	return raw
}
