package room

import (
	"fmt"

	"github.com/rhyline/rhyline-server/internal/v1/protocol"
)

// Snapshot is a consistent copy of a room's state for the HTTP views and the
// telemetry push layer.
type Snapshot struct {
	ID         string
	Stage      protocol.Stage
	HostID     int32
	HostName   string
	Players    []protocol.UserInfo
	Monitors   []protocol.UserInfo
	Locked     bool
	Cycle      bool
	Live       bool
	Recruiting bool
	Contest    bool
	MaxPlayers int
	Chart      *ChartInfo
}

// Snapshot copies the room state under the read lock.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		ID:         r.ID,
		Stage:      r.stage,
		Locked:     r.locked,
		Cycle:      r.cycle,
		Live:       r.live,
		Recruiting: r.recruiting,
		Contest:    r.contest,
		MaxPlayers: r.maxPlayers,
	}
	if r.host != nil {
		s.HostID = r.host.ID()
		s.HostName = r.host.Name()
	}
	for _, p := range r.players {
		s.Players = append(s.Players, protocol.UserInfo{ID: p.ID(), Name: p.Name()})
	}
	for _, m := range r.monitors {
		s.Monitors = append(s.Monitors, protocol.UserInfo{ID: m.ID(), Name: m.Name(), Monitor: true})
	}
	if r.chart != nil {
		c := *r.chart
		s.Chart = &c
	}
	return s
}

// ClientState builds the room view embedded in a reconnecting user's
// authenticate response.
func (r *Room) ClientState(userID int32) protocol.ClientRoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := protocol.ClientRoomState{
		ID:      r.ID,
		Stage:   r.stage,
		Live:    r.live,
		Locked:  r.locked,
		Cycle:   r.cycle,
		IsHost:  r.host != nil && r.host.ID() == userID,
		IsReady: r.ready.Has(userID),
		Users:   r.userInfosLocked(),
	}
	if r.chart != nil {
		id := r.chart.ID
		s.Chart = &id
	}
	return s
}

// HostID returns the current host's user id.
func (r *Room) HostID() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.host == nil {
		return 0
	}
	return r.host.ID()
}

// Stage returns the current lifecycle stage.
func (r *Room) Stage() protocol.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// JoinableRandomly reports whether the room accepts random matchmaking.
func (r *Room) JoinableRandomly() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recruiting && !r.locked && !r.closed && len(r.players) < r.maxPlayers
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) joinResponseLocked() protocol.JoinRoomResponse {
	return protocol.JoinRoomResponse{
		Stage: r.stage,
		Users: r.userInfosLocked(),
		Live:  r.live,
	}
}

func (r *Room) userInfosLocked() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(r.players)+len(r.monitors))
	for _, p := range r.players {
		out = append(out, protocol.UserInfo{ID: p.ID(), Name: p.Name()})
	}
	for _, m := range r.monitors {
		out = append(out, protocol.UserInfo{ID: m.ID(), Name: m.Name(), Monitor: true})
	}
	return out
}

// logLine renders a broadcast message as a human-readable telemetry line.
func logLine(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.MsgChat:
		if m.User == 0 {
			return fmt.Sprintf("[server] %s", m.Content)
		}
		return fmt.Sprintf("[chat] %d: %s", m.User, m.Content)
	case protocol.MsgCreateRoom:
		return fmt.Sprintf("room created by %d", m.User)
	case protocol.MsgJoinRoom:
		return fmt.Sprintf("%s (%d) joined", m.Name, m.User)
	case protocol.MsgLeaveRoom:
		return fmt.Sprintf("%s (%d) left", m.Name, m.User)
	case protocol.MsgNewHost:
		return fmt.Sprintf("%d is now the host", m.User)
	case protocol.MsgSelectChart:
		return fmt.Sprintf("%d selected chart %s (%d)", m.User, m.Name, m.Chart)
	case protocol.MsgGameStart:
		return fmt.Sprintf("%d started the ready-up phase", m.User)
	case protocol.MsgReady:
		return fmt.Sprintf("%d is ready", m.User)
	case protocol.MsgCancelReady:
		return fmt.Sprintf("%d cancelled ready", m.User)
	case protocol.MsgCancelGame:
		return fmt.Sprintf("%d cancelled the game", m.User)
	case protocol.MsgStartPlaying:
		return "game started"
	case protocol.MsgPlayed:
		return fmt.Sprintf("%d finished with score %d (acc %.4f)", m.User, m.Score, m.Accuracy)
	case protocol.MsgGameEnd:
		return "game ended"
	case protocol.MsgAbort:
		return fmt.Sprintf("%d aborted", m.User)
	case protocol.MsgLockRoom:
		if m.Locked {
			return "room locked"
		}
		return "room unlocked"
	case protocol.MsgCycleRoom:
		if m.Cycle {
			return "cycle mode on"
		}
		return "cycle mode off"
	default:
		return fmt.Sprintf("%T", msg)
	}
}
