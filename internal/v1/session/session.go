// Package session owns the live server state: sessions, interned users, and
// the room registry, together with the per-session command dispatch that
// drives the room state machine.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
	"github.com/rhyline/rhyline-server/internal/v1/protocol"
	"github.com/rhyline/rhyline-server/internal/v1/room"
)

// heartbeatInterval is both the heartbeat tick and the idle deadline. The
// tick equals the deadline on purpose; clients idling for a full interval
// are dropped.
const heartbeatInterval = 10 * time.Second

// welcomeDelay spaces the welcome chat behind the authenticate response so
// the client has committed to the authenticated state before chat arrives.
const welcomeDelay = 300 * time.Millisecond

type connAPI interface {
	Send(payload []byte)
	LastReceive() time.Time
	Close()
}

// Session is one authenticated-or-not TCP client. Command dispatch is
// sequential: the receive loop calls HandleFrame one frame at a time.
type Session struct {
	ID      uuid.UUID
	hub     *Hub
	conn    connAPI
	version byte
	addr    string

	// user is written only from the session's own dispatch; reads from other
	// goroutines go through the hub registry instead.
	user *User

	done chan struct{}
}

func newSession(hub *Hub, conn connAPI, version byte, addr string) *Session {
	return &Session{
		ID:      uuid.New(),
		hub:     hub,
		conn:    conn,
		version: version,
		addr:    addr,
		done:    make(chan struct{}),
	}
}

func (s *Session) send(cmd protocol.ServerCommand) {
	s.conn.Send(protocol.EncodeServer(cmd))
}

func (s *Session) close() {
	s.conn.Close()
}

// heartbeat drops the connection once a full interval passes with no inbound
// frame.
func (s *Session) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(s.conn.LastReceive()) > heartbeatInterval {
				logging.Info(context.Background(), "session heartbeat expired",
					zap.String("session_id", s.ID.String()), zap.String("addr", s.addr))
				s.close()
				return
			}
		}
	}
}

// HandleFrame decodes and dispatches one inbound frame. Protocol errors are
// fatal for the stream; everything else answers on the originating command.
func (s *Session) HandleFrame(payload []byte) {
	cmd, err := protocol.DecodeClient(payload)
	if err != nil {
		logging.Warn(context.Background(), "malformed frame, dropping session",
			zap.String("session_id", s.ID.String()), zap.Error(err))
		s.close()
		return
	}
	name := commandName(cmd)
	metrics.FramesReceived.WithLabelValues(name).Inc()
	start := time.Now()
	s.dispatch(cmd, payload)
	metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// HandleClosed runs the connection-lost protocol exactly once per stream.
func (s *Session) HandleClosed(err error) {
	s.hub.sessionClosed(s, err)
}

func (s *Session) dispatch(cmd protocol.ClientCommand, raw []byte) {
	if _, ok := cmd.(protocol.Ping); ok {
		s.send(protocol.Pong{})
		return
	}
	if auth, ok := cmd.(protocol.Authenticate); ok {
		s.handleAuthenticate(auth.Token)
		return
	}
	// Before authentication every other command is ignored, not errored.
	if s.user == nil {
		return
	}

	switch c := cmd.(type) {
	case protocol.Chat:
		s.send(protocol.ChatResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.Chat(s.user, c.Message)
		}))})
	case protocol.Touches:
		if r := s.user.Room(); r != nil {
			s.user.appendReplay(raw)
			r.RelayTouches(s.user, c.Frames)
		}
	case protocol.Judges:
		if r := s.user.Room(); r != nil {
			s.user.appendReplay(raw)
			r.RelayJudges(s.user, c.Judges)
		}
	case protocol.CreateRoom:
		s.send(protocol.CreateRoomResp{Err: errString(s.hub.createRoom(s.user, c.ID))})
	case protocol.JoinRoom:
		resp, err := s.hub.joinRoom(s.user, c.ID, c.Monitor)
		s.send(protocol.JoinRoomResp{Err: errString(err), Room: resp})
	case protocol.LeaveRoom:
		s.send(protocol.LeaveRoomResp{Err: errString(s.leaveRoom())})
	case protocol.LockRoom:
		s.send(protocol.LockRoomResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.SetLock(s.user, c.Lock)
		}))})
	case protocol.CycleRoom:
		s.send(protocol.CycleRoomResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.SetCycle(s.user, c.Cycle)
		}))})
	case protocol.SelectChart:
		s.send(protocol.SelectChartResp{Err: errString(s.selectChart(c.Chart))})
	case protocol.RequestStart:
		s.send(protocol.RequestStartResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.RequestStart(s.user)
		}))})
	case protocol.Ready:
		s.send(protocol.ReadyResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.Ready(s.user)
		}))})
	case protocol.CancelReady:
		s.send(protocol.CancelReadyResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.CancelReady(s.user)
		}))})
	case protocol.Played:
		s.send(protocol.PlayedResp{Err: errString(s.played(c.RecordID))})
	case protocol.Abort:
		s.send(protocol.AbortResp{Err: errString(s.inRoom(func(r *room.Room) error {
			return r.Abort(s.user)
		}))})
	}
}

func (s *Session) handleAuthenticate(token string) {
	ctx := logging.WithSessionID(context.Background(), s.ID.String())
	me, err := s.hub.identity.Me(ctx, token)
	if err != nil {
		logging.Info(ctx, "authentication failed", zap.Error(err))
		s.send(protocol.AuthenticateResp{Err: "authentication failed"})
		return
	}
	if s.hub.adminData.IsUserBanned(int64(me.ID)) {
		s.send(protocol.AuthenticateResp{Err: "user is banned"})
		return
	}

	// Re-authenticating as a different account releases the old identity:
	// the previous user goes offline and leaves its room, as if this
	// connection had dropped.
	if prev := s.user; prev != nil && prev.ID() != me.ID {
		if prev.unbindSession(s) {
			if r := prev.Room(); r != nil {
				r.Leave(prev)
				prev.Detach()
			}
		}
		s.user = nil
	}

	user := s.hub.internUser(me.ID, me.Name)
	if old := user.bindSession(s, me.Name); old != nil {
		// The previous connection of this user is superseded, not "lost":
		// its close must not run the room-leave protocol.
		old.close()
	}
	s.user = user

	resp := protocol.AuthenticateResp{
		Me: protocol.UserInfo{ID: me.ID, Name: me.Name},
	}
	if r := user.Room(); r != nil {
		state := r.ClientState(me.ID)
		resp.Room = &state
	}
	s.send(resp)
	logging.Info(ctx, "user authenticated",
		zap.Int32("user_id", me.ID), zap.String("name", me.Name))

	s.scheduleWelcome(user)
}

func (s *Session) scheduleWelcome(user *User) {
	msg := s.hub.cfg.WelcomeMessage
	if msg == "" || user.ID() == s.hub.cfg.WelcomeSkipUserID {
		return
	}
	timer := time.AfterFunc(welcomeDelay, func() {
		select {
		case <-s.done:
			return
		default:
		}
		s.send(protocol.MessageEvent{Message: protocol.MsgChat{User: SystemUserID, Content: msg}})
	})
	go func() {
		<-s.done
		timer.Stop()
	}()
}

func (s *Session) inRoom(fn func(*room.Room) error) error {
	r := s.user.Room()
	if r == nil {
		return errNotInRoom
	}
	return fn(r)
}

func (s *Session) leaveRoom() error {
	r := s.user.Room()
	if r == nil {
		return errNotInRoom
	}
	r.Leave(s.user)
	s.user.Detach()
	return nil
}

// selectChart resolves the chart name before the room lock is taken; the
// lookup degrades to a fallback name and never blocks the selection.
func (s *Session) selectChart(chartID int32) error {
	r := s.user.Room()
	if r == nil {
		return errNotInRoom
	}
	name := s.hub.identity.ChartName(context.Background(), chartID)
	return r.SelectChart(s.user, room.ChartInfo{ID: chartID, Name: name})
}

// played validates the record against the external service first, then
// applies the score under the room lock.
func (s *Session) played(recordID int32) error {
	r := s.user.Room()
	if r == nil {
		return errNotInRoom
	}
	rec, err := s.hub.identity.Record(context.Background(), recordID)
	if err != nil {
		return fmt.Errorf("record lookup failed")
	}
	if rec.Player != s.user.ID() {
		return fmt.Errorf("record belongs to another player")
	}
	return r.Played(s.user, recordID, room.PlayResult{
		Score:     rec.Score,
		Accuracy:  rec.Accuracy,
		FullCombo: rec.FullCombo,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func commandName(cmd protocol.ClientCommand) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", cmd), "protocol.")
}
