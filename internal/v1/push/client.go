package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
)

// heartbeatInterval is the WS ping cadence and the idle deadline.
const heartbeatInterval = 30 * time.Second

// sendBuffer bounds the per-client outbound queue; a client too slow to
// drain it is dropped.
const sendBuffer = 64

type inbound struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Client is one WebSocket subscriber. It may hold a room subscription, the
// admin subscription, or both.
type Client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	ip   string

	send chan []byte
	done chan struct{}

	mu           sync.Mutex
	roomID       string
	admin        bool
	lastActivity time.Time

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, ip string) *Client {
	return &Client{
		id:           uuid.New(),
		hub:          hub,
		conn:         conn,
		ip:           ip,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
}

func (c *Client) subscribedRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) isAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin
}

// setSubscriptions replaces both subscription states and keeps the gauges in
// step.
func (c *Client) setSubscriptions(roomID string, admin bool) {
	c.mu.Lock()
	wasRoom, wasAdmin := c.roomID != "", c.admin
	c.roomID, c.admin = roomID, admin
	c.mu.Unlock()

	if isRoom := roomID != ""; isRoom != wasRoom {
		gaugeStep("room", isRoom)
	}
	if admin != wasAdmin {
		gaugeStep("admin", admin)
	}
}

func gaugeStep(kind string, up bool) {
	g := metrics.PushSubscribers.WithLabelValues(kind)
	if up {
		g.Inc()
	} else {
		g.Dec()
	}
}

// trySend queues a payload without blocking; a full queue drops the client.
// The close runs on its own goroutine: trySend is called from fan-out loops
// holding the hub's read lock, and unregister needs the write lock.
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logging.Warn(context.Background(), "push client too slow, dropping",
			zap.String("client_id", c.id.String()))
		go c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.hub.unregister(c)
	})
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *Client) readPump() {
	defer c.close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	switch msg.Type {
	case "ping":
		c.reply(envelope{Type: "pong"})
	case "subscribe":
		if msg.RoomID == "" {
			c.sendError("roomId is required")
			return
		}
		c.setSubscriptions(msg.RoomID, c.isAdmin())
		c.reply(envelope{Type: "subscribed", Data: map[string]string{"roomId": msg.RoomID}})
		// Seed the new subscriber with the current view.
		if c.hub.source != nil {
			if snap, ok := c.hub.source.RoomSnapshot(msg.RoomID); ok {
				c.trySend(marshal(envelope{Type: "room_update", Data: newRoomView(snap)}))
			}
		}
	case "unsubscribe":
		c.setSubscriptions("", c.isAdmin())
		c.reply(envelope{Type: "unsubscribed"})
	case "admin_subscribe":
		if c.hub.adminAuth == nil || !c.hub.adminAuth(msg.Token, c.ip) {
			c.sendError("unauthorized")
			return
		}
		c.setSubscriptions(c.subscribedRoom(), true)
		c.reply(envelope{Type: "admin_subscribed"})
		if c.hub.source != nil {
			c.trySend(marshal(envelope{Type: "admin_update", Data: c.hub.adminView()}))
		}
	case "admin_unsubscribe":
		c.setSubscriptions(c.subscribedRoom(), false)
		c.reply(envelope{Type: "admin_unsubscribed"})
	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) reply(env envelope) {
	c.trySend(marshal(env))
}

func (c *Client) sendError(message string) {
	c.trySend(marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: "error", Message: message}))
}

// writePump drains the send queue and runs the heartbeat: a JSON ping every
// interval, and a drop once the client has been silent for a full interval.
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer c.close()
	ping := marshal(envelope{Type: "ping"})
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if c.idleSince() > heartbeatInterval {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}
