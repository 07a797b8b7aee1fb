package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/protocol"
	"github.com/rhyline/rhyline-server/internal/v1/replay"
	"github.com/rhyline/rhyline-server/internal/v1/room"
)

// SystemUserID is the distinguished user id for server-originated chat.
const SystemUserID int32 = 0

// User is a process-wide identity interned by id. Re-authentication of a
// known id reuses the same User and rebinds its session. User implements
// room.Member.
type User struct {
	id  int32
	hub *Hub

	mu      sync.Mutex
	name    string
	session *Session
	room    *room.Room
	monitor bool
	writer  *replay.Writer
}

func (u *User) ID() int32 { return u.id }

func (u *User) Name() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.name
}

// Room returns the room the user is currently in, if any.
func (u *User) Room() *room.Room {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.room
}

// Online reports whether a session is currently bound.
func (u *User) Online() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session != nil
}

// Send queues a server command on the user's current session, if any.
func (u *User) Send(cmd protocol.ServerCommand) {
	u.mu.Lock()
	s := u.session
	u.mu.Unlock()
	if s != nil {
		s.send(cmd)
	}
}

// StartReplay opens a replay writer for the current play. A failure to open
// the file is logged and play continues unrecorded.
func (u *User) StartReplay(chartID int32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.writer != nil {
		u.writer.Dispose()
	}
	w, err := replay.NewWriter(u.hub.recordDir, u.id, chartID)
	if err != nil {
		logging.Error(context.Background(), "replay writer open failed",
			zap.Int32("user_id", u.id), zap.Int32("chart_id", chartID), zap.Error(err))
		u.writer = nil
		return
	}
	u.writer = w
}

// StopReplay closes the active replay writer, if any.
func (u *User) StopReplay() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.writer != nil {
		u.writer.Dispose()
		u.writer = nil
	}
}

// SetReplayRecord patches the active replay file with the validated record
// id.
func (u *User) SetReplayRecord(recordID int32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.writer != nil {
		u.writer.UpdateRecordID(recordID)
	}
}

// appendReplay records one raw Touches/Judges payload. Appends are already
// ordered because the owning session dispatches commands sequentially.
func (u *User) appendReplay(raw []byte) {
	u.mu.Lock()
	w := u.writer
	u.mu.Unlock()
	if w != nil {
		w.Append(raw)
	}
}

// Detach clears the room binding; the room calls this when it goes away.
func (u *User) Detach() {
	u.mu.Lock()
	u.room = nil
	u.monitor = false
	u.mu.Unlock()
}

// Disconnect drops the user's current connection.
func (u *User) Disconnect() {
	u.mu.Lock()
	s := u.session
	u.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func (u *User) setRoom(r *room.Room, monitor bool) {
	u.mu.Lock()
	u.room = r
	u.monitor = monitor
	u.mu.Unlock()
}

// bindSession attaches s and returns the previously bound session, if it was
// a different one.
func (u *User) bindSession(s *Session, name string) *Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.name = name
	old := u.session
	u.session = s
	if old == s {
		return nil
	}
	return old
}

// unbindSession detaches s if it is still the bound session. Returns false
// when the user has already been rebound to a newer session.
func (u *User) unbindSession(s *Session) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session != s {
		return false
	}
	u.session = nil
	return true
}
