package session

import (
	"errors"

	"github.com/rhyline/rhyline-server/internal/v1/protocol"
	"github.com/rhyline/rhyline-server/internal/v1/room"
)

// Admin operations invoked from the HTTP surface. They reuse the same room
// entry points as the game protocol, so the per-room lock discipline holds.

// Errors returned by the admin user operations, distinguished so the HTTP
// layer can map them to status codes.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserConnected = errors.New("user is still connected")
	ErrUserOffline   = errors.New("user is not connected")
)

// ReplayRecordingEnabled reports the replay feature flag.
func (h *Hub) ReplayRecordingEnabled() bool { return h.replayRecording.Load() }

// SetReplayRecording flips the replay feature flag. Plays already running
// keep their writers.
func (h *Hub) SetReplayRecording(enabled bool) { h.replayRecording.Store(enabled) }

// RoomCreationEnabled reports the room-creation feature flag.
func (h *Hub) RoomCreationEnabled() bool { return h.roomCreation.Load() }

// SetRoomCreation flips the room-creation feature flag. Existing rooms are
// unaffected.
func (h *Hub) SetRoomCreation(enabled bool) { h.roomCreation.Store(enabled) }

// Broadcast sends a server chat line to every room.
func (h *Hub) Broadcast(message string) {
	for _, r := range h.Rooms() {
		r.ServerChat(message)
	}
}

// DisbandRoom tears a room down on admin request.
func (h *Hub) DisbandRoom(id string) error {
	r := h.RoomByID(id)
	if r == nil {
		return ErrRoomNotFound
	}
	r.Disband()
	return nil
}

// RoomChat sends a server chat line into one room.
func (h *Hub) RoomChat(id, message string) error {
	r := h.RoomByID(id)
	if r == nil {
		return ErrRoomNotFound
	}
	r.ServerChat(message)
	return nil
}

// SetRoomMaxUsers changes a room's player cap.
func (h *Hub) SetRoomMaxUsers(id string, maxUsers int) error {
	r := h.RoomByID(id)
	if r == nil {
		return ErrRoomNotFound
	}
	return r.SetMaxPlayers(maxUsers)
}

// BanUser updates the global ban list; banned users fail authentication.
// With disconnect set, a currently connected banned user is dropped, which
// also runs the room-leave protocol.
func (h *Hub) BanUser(userID int32, banned, disconnect bool) {
	h.adminData.BanUser(int64(userID), banned)
	if banned && disconnect {
		_ = h.DisconnectUser(userID)
	}
}

// BanFromRoom updates a per-room ban. It gates future joins only; a banned
// user already inside stays.
func (h *Hub) BanFromRoom(roomID string, userID int32, banned bool) {
	h.adminData.BanFromRoom(roomID, int64(userID), banned)
}

// DisconnectUser closes the user's current connection.
func (h *Hub) DisconnectUser(userID int32) error {
	u := h.userByID(userID)
	if u == nil {
		return ErrUserNotFound
	}
	if !u.Online() {
		return ErrUserOffline
	}
	u.Disconnect()
	return nil
}

// MoveUser reseats a disconnected user into another room: removal under the
// source room's lock, then admission under the destination's, never both at
// once. The destination must be selecting a chart.
func (h *Hub) MoveUser(userID int32, roomID string, monitor bool) error {
	u := h.userByID(userID)
	if u == nil {
		return ErrUserNotFound
	}
	if u.Online() {
		return ErrUserConnected
	}
	target := h.RoomByID(roomID)
	if target == nil {
		return ErrRoomNotFound
	}
	if target.Stage() != protocol.StageSelectChart {
		return room.ErrWrongStage
	}
	if src := u.Room(); src != nil {
		src.Leave(u)
		u.Detach()
	}
	if _, err := target.Join(u, monitor); err != nil {
		return err
	}
	u.setRoom(target, monitor)
	return nil
}

// ConfigureContest switches a room's contest mode, optionally replacing the
// whitelist.
func (h *Hub) ConfigureContest(roomID string, enabled bool, whitelist []int64) error {
	r := h.RoomByID(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	r.ConfigureContest(enabled, whitelist)
	return nil
}

// SetContestWhitelist replaces a room's contest whitelist.
func (h *Hub) SetContestWhitelist(roomID string, userIDs []int64) error {
	r := h.RoomByID(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	r.SetWhitelist(userIDs)
	return nil
}

// StartRoomManually forces or requests a start of a room waiting for ready.
func (h *Hub) StartRoomManually(roomID string, force bool) error {
	r := h.RoomByID(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	return r.StartManually(force)
}

// UserView is the admin projection of one user.
type UserView struct {
	ID     int32  `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
	RoomID string `json:"roomId,omitempty"`
	Banned bool   `json:"banned"`
}

// UserByID returns the admin view of a user.
func (h *Hub) UserByID(userID int32) (UserView, error) {
	u := h.userByID(userID)
	if u == nil {
		return UserView{}, ErrUserNotFound
	}
	v := UserView{
		ID:     u.ID(),
		Name:   u.Name(),
		Online: u.Online(),
		Banned: h.adminData.IsUserBanned(int64(userID)),
	}
	if r := u.Room(); r != nil {
		v.RoomID = r.ID
	}
	return v, nil
}

func (h *Hub) userByID(id int32) *User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[id]
}
