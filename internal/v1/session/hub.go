package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/config"
	"github.com/rhyline/rhyline-server/internal/v1/identity"
	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
	"github.com/rhyline/rhyline-server/internal/v1/protocol"
	"github.com/rhyline/rhyline-server/internal/v1/room"
	"github.com/rhyline/rhyline-server/internal/v1/store"
	"github.com/rhyline/rhyline-server/internal/v1/transport"
)

// handshakeTimeout bounds the wait for the version byte that opens every
// connection.
const handshakeTimeout = 10 * time.Second

// ErrRoomNotFound is returned when an operation names a room id that is not
// registered.
var ErrRoomNotFound = errors.New("room not found")

var (
	errNotInRoom            = errors.New("not in a room")
	errAlreadyInRoom        = errors.New("already in a room")
	errRoomCreationDisabled = errors.New("room creation is disabled")
	errRoomExists           = errors.New("room id is taken")
	errInvalidRoomID        = errors.New("invalid room id")
	errNoRecruitingRoom     = errors.New("no recruiting room available")
	errBannedFromRoom       = errors.New("banned from this room")
)

// identityAPI is the slice of the identity client the hub consumes; tests
// substitute a stub.
type identityAPI interface {
	Me(ctx context.Context, token string) (identity.Me, error)
	ChartName(ctx context.Context, id int32) string
	Record(ctx context.Context, id int32) (identity.Record, error)
}

// Telemetry receives push notifications for room changes and registry-level
// events. All methods must be non-blocking.
type Telemetry interface {
	room.Notifier
	AdminUpdate()
}

// Hub owns the process-wide registries of sessions, users, and rooms, plus
// the admin-mutable feature flags.
type Hub struct {
	cfg       *config.Config
	identity  identityAPI
	adminData *store.AdminData
	notifier  Telemetry
	recordDir string
	start     time.Time

	replayRecording atomic.Bool // default off
	roomCreation    atomic.Bool // default on

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	users    map[int32]*User
	rooms    map[string]*room.Room
}

// NewHub wires the registries. notifier may be nil.
func NewHub(cfg *config.Config, idc identityAPI, data *store.AdminData, notifier Telemetry) *Hub {
	h := &Hub{
		cfg:       cfg,
		identity:  idc,
		adminData: data,
		notifier:  notifier,
		recordDir: cfg.RecordDir(),
		start:     time.Now(),
		sessions:  map[uuid.UUID]*Session{},
		users:     map[int32]*User{},
		rooms:     map[string]*room.Room{},
	}
	h.roomCreation.Store(true)
	// The system user exists from the start so server chat always has an
	// origin.
	h.users[SystemUserID] = &User{id: SystemUserID, hub: h, name: cfg.ServerName}
	return h
}

// Serve accepts connections from ln until it is closed. Each connection gets
// its own goroutine; HandleConn blocks on the version handshake, and one
// silent client must not stall the others.
func (h *Hub) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(context.Background(), "accept failed", zap.Error(err))
			continue
		}
		go h.HandleConn(conn)
	}
}

// HandleConn adopts one accepted TCP connection: version handshake, session
// registration, pipeline start.
func (h *Hub) HandleConn(nc net.Conn) {
	conn := transport.NewConn(nc)
	_ = nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	version, err := conn.ReadVersionByte()
	if err != nil {
		conn.Close()
		return
	}
	_ = nc.SetReadDeadline(time.Time{})

	addr := nc.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	s := newSession(h, conn, version, addr)

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()
	logging.Info(context.Background(), "session opened",
		zap.String("session_id", s.ID.String()),
		zap.String("addr", addr),
		zap.Uint8("protocol_version", version))

	conn.Start(s)
	go s.heartbeat()
}

// sessionClosed runs the connection-lost protocol: unbind the user, leave
// the room, drop the session from the registry.
func (h *Hub) sessionClosed(s *Session, err error) {
	close(s.done)
	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	metrics.ActiveSessions.Dec()

	if u := s.user; u != nil {
		// A rebound user belongs to a newer session now; only the current
		// binding runs the room-leave protocol.
		if u.unbindSession(s) {
			if r := u.Room(); r != nil {
				r.Leave(u)
				u.Detach()
			}
		}
	}
	logging.Info(context.Background(), "session closed",
		zap.String("session_id", s.ID.String()), zap.Error(err))
}

func (h *Hub) internUser(id int32, name string) *User {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u, ok := h.users[id]; ok {
		return u
	}
	u := &User{id: id, hub: h, name: name}
	h.users[id] = u
	return u
}

func (h *Hub) createRoom(u *User, requested string) error {
	if !h.roomCreation.Load() {
		return errRoomCreationDisabled
	}
	if u.Room() != nil {
		return errAlreadyInRoom
	}
	random := requested == "0"
	if !random && !validRoomID(requested) {
		return errInvalidRoomID
	}

	h.mu.Lock()
	id := requested
	if random {
		for {
			id = fmt.Sprintf("%06d", rand.IntN(1000000))
			if _, taken := h.rooms[id]; !taken {
				break
			}
		}
	} else if _, taken := h.rooms[id]; taken {
		h.mu.Unlock()
		return errRoomExists
	}
	r := room.New(id, u, room.Options{
		Recruiting:    random,
		ReplayEnabled: h.replayRecording.Load,
		Notifier:      h.roomNotifier(),
		OnDestroy:     h.roomDestroyed,
	})
	h.rooms[id] = r
	h.mu.Unlock()

	u.setRoom(r, false)
	metrics.ActiveRooms.Inc()
	logging.Info(logging.WithRoomID(context.Background(), id), "room created",
		zap.Int32("host_id", u.ID()))
	h.adminUpdate()
	return nil
}

func (h *Hub) joinRoom(u *User, id string, monitor bool) (resp protocol.JoinRoomResponse, err error) {
	if u.Room() != nil {
		return resp, errAlreadyInRoom
	}
	var r *room.Room
	if id == "0" {
		if r = h.randomRecruitingRoom(); r == nil {
			return resp, errNoRecruitingRoom
		}
	} else if r = h.RoomByID(id); r == nil {
		return resp, ErrRoomNotFound
	}
	if h.adminData.IsBannedFromRoom(r.ID, int64(u.ID())) {
		return resp, errBannedFromRoom
	}
	resp, err = r.Join(u, monitor)
	if err != nil {
		return resp, err
	}
	u.setRoom(r, monitor)
	return resp, nil
}

// randomRecruitingRoom picks uniformly from the rooms open to matchmaking.
func (h *Hub) randomRecruitingRoom() *room.Room {
	h.mu.RLock()
	candidates := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.JoinableRandomly() {
			candidates = append(candidates, r)
		}
	}
	h.mu.RUnlock()
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.IntN(len(candidates))]
}

func (h *Hub) roomDestroyed(r *room.Room) {
	h.mu.Lock()
	delete(h.rooms, r.ID)
	h.mu.Unlock()
	metrics.ActiveRooms.Dec()
	logging.Info(logging.WithRoomID(context.Background(), r.ID), "room destroyed")
	h.adminUpdate()
}

func (h *Hub) roomNotifier() room.Notifier {
	if h.notifier == nil {
		return nil
	}
	return h.notifier
}

func (h *Hub) adminUpdate() {
	if h.notifier != nil {
		h.notifier.AdminUpdate()
	}
}

// RoomByID returns a registered room or nil.
func (h *Hub) RoomByID(id string) *room.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}

// Rooms returns all rooms sorted by id.
func (h *Hub) Rooms() []*room.Room {
	h.mu.RLock()
	out := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomSnapshot returns one room's snapshot by id.
func (h *Hub) RoomSnapshot(id string) (room.Snapshot, bool) {
	r := h.RoomByID(id)
	if r == nil {
		return room.Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Snapshots returns consistent per-room snapshots, sorted by room id.
func (h *Hub) Snapshots() []room.Snapshot {
	rooms := h.Rooms()
	out := make([]room.Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}

// Stats is the /status projection.
type Stats struct {
	Uptime       time.Duration
	RoomCount    int
	SessionCount int
	UserCount    int
}

// Stats reports registry sizes and uptime. The system user is not counted.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Uptime:       time.Since(h.start),
		RoomCount:    len(h.rooms),
		SessionCount: len(h.sessions),
		UserCount:    len(h.users) - 1,
	}
}

// Shutdown closes every live session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.close()
	}
}

func validRoomID(id string) bool {
	if len(id) == 0 || len(id) > 20 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
