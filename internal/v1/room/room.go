// Package room holds the authoritative room state machine: membership,
// readiness, play results, host succession, and the cycle/contest modes.
// Every mutating operation takes the room's lock for the whole transition,
// and broadcasts to members while holding it, so each recipient observes
// events in transition order.
package room

import (
	"errors"
	"sync"

	"k8s.io/utils/set"

	"github.com/rhyline/rhyline-server/internal/v1/metrics"
	"github.com/rhyline/rhyline-server/internal/v1/protocol"
)

// DefaultMaxPlayers is the default player cap for new rooms.
const DefaultMaxPlayers = 32678

// DisbandChat is the server chat line sent when an admin disbands a room.
const DisbandChat = "房间已被管理员解散"

// ContestEndChat is the server chat line sent when a contest room is
// disbanded after its single play.
const ContestEndChat = "房间已被管理员解散:比赛已结束"

var (
	ErrClosed         = errors.New("room is closed")
	ErrNotHost        = errors.New("only the host can do that")
	ErrWrongStage     = errors.New("not allowed in the current room state")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomLocked     = errors.New("room is locked")
	ErrNotWhitelisted = errors.New("not on the contest whitelist")
	ErrNotInRoom      = errors.New("not a member of this room")
	ErrAlreadyIn      = errors.New("already in this room")
	ErrNoChart        = errors.New("no chart selected")
	ErrAlreadyPlayed  = errors.New("result already submitted")
)

// Member is a room's view of a connected user. Implementations queue sends
// and never block; replay hooks are best effort.
type Member interface {
	ID() int32
	Name() string
	Send(cmd protocol.ServerCommand)
	StartReplay(chartID int32)
	StopReplay()
	SetReplayRecord(recordID int32)
	// Detach clears the member's room binding without running the leave
	// protocol; used when the room itself goes away.
	Detach()
	Disconnect()
}

// Notifier receives telemetry pushes after room changes. RoomUpdated may read
// the room; RoomLog must not call back into it (it runs under the room lock).
type Notifier interface {
	RoomUpdated(roomID string)
	RoomLog(roomID, line string)
}

// ChartInfo is the selected chart with its resolved display name.
type ChartInfo struct {
	ID   int32
	Name string
}

// PlayResult is one player's accepted score for the current play.
type PlayResult struct {
	Score     int32
	Accuracy  float32
	FullCombo bool
}

// Options configures a new room.
type Options struct {
	MaxPlayers    int  // 0 means DefaultMaxPlayers
	Recruiting    bool // joinable via random matchmaking
	ReplayEnabled func() bool
	Notifier      Notifier
	OnDestroy     func(*Room)
}

// Room is one multiplayer room. All exported methods are safe for concurrent
// use.
type Room struct {
	ID string

	mu       sync.RWMutex
	players  []Member // join order; first player inherits host on succession
	monitors map[int32]Member
	host     Member
	stage    protocol.Stage
	chart    *ChartInfo

	locked     bool
	cycle      bool
	recruiting bool
	live       bool
	contest    bool
	maxPlayers int
	whitelist  set.Set[int64]

	ready       set.Set[int32]
	playResults map[int32]PlayResult
	playRecords map[int32]int32
	aborted     set.Set[int32]

	closed bool

	replayEnabled func() bool
	notifier      Notifier
	onDestroy     func(*Room)
	destroyOnce   sync.Once
}

// New creates a room with creator as its host and sole player, and announces
// the creation to them.
func New(id string, creator Member, opts Options) *Room {
	max := opts.MaxPlayers
	if max <= 0 {
		max = DefaultMaxPlayers
	}
	replayEnabled := opts.ReplayEnabled
	if replayEnabled == nil {
		replayEnabled = func() bool { return false }
	}
	r := &Room{
		ID:            id,
		players:       []Member{creator},
		monitors:      map[int32]Member{},
		host:          creator,
		stage:         protocol.StageSelectChart,
		recruiting:    opts.Recruiting,
		maxPlayers:    max,
		whitelist:     set.New[int64](),
		ready:         set.New[int32](),
		playResults:   map[int32]PlayResult{},
		playRecords:   map[int32]int32{},
		aborted:       set.New[int32](),
		replayEnabled: replayEnabled,
		notifier:      opts.Notifier,
		onDestroy:     opts.OnDestroy,
	}
	r.broadcastLocked(protocol.MsgCreateRoom{User: creator.ID()})
	r.updatePlayerGauge()
	return r
}

// Join admits a user. Monitors are always accepted and mark the room live;
// players are gated by the lock flag, the contest whitelist, and the player
// cap.
func (r *Room) Join(m Member, monitor bool) (protocol.JoinRoomResponse, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return protocol.JoinRoomResponse{}, ErrClosed
	}
	if r.memberLocked(m.ID()) != nil {
		r.mu.Unlock()
		return protocol.JoinRoomResponse{}, ErrAlreadyIn
	}
	if !monitor {
		if r.locked {
			r.mu.Unlock()
			return protocol.JoinRoomResponse{}, ErrRoomLocked
		}
		if r.contest && !r.whitelist.Has(int64(m.ID())) {
			r.mu.Unlock()
			return protocol.JoinRoomResponse{}, ErrNotWhitelisted
		}
		if len(r.players) >= r.maxPlayers {
			r.mu.Unlock()
			return protocol.JoinRoomResponse{}, ErrRoomFull
		}
	}

	info := protocol.UserInfo{ID: m.ID(), Name: m.Name(), Monitor: monitor}
	for _, p := range r.members() {
		p.Send(protocol.OnJoinRoom{User: info})
	}
	if monitor {
		r.monitors[m.ID()] = m
		r.live = true
	} else {
		r.players = append(r.players, m)
	}
	r.broadcastLocked(protocol.MsgJoinRoom{User: m.ID(), Name: m.Name()})
	resp := r.joinResponseLocked()
	r.updatePlayerGauge()
	r.mu.Unlock()

	r.notifyUpdated()
	return resp, nil
}

// Leave runs the leave protocol for m: departure broadcast, host succession,
// readiness and completion re-evaluation, and destruction when the last
// player is gone.
func (r *Room) Leave(m Member) {
	r.mu.Lock()
	if r.closed || r.memberLocked(m.ID()) == nil {
		r.mu.Unlock()
		return
	}
	r.broadcastLocked(protocol.MsgLeaveRoom{User: m.ID(), Name: m.Name()})
	r.removeLocked(m.ID())

	if len(r.players) == 0 {
		r.destroyLocked("", false)
		r.mu.Unlock()
		r.fireDestroy()
		return
	}
	if r.host.ID() == m.ID() {
		r.host = r.players[0]
		r.host.Send(protocol.ChangeHost{IsHost: true})
		r.broadcastLocked(protocol.MsgNewHost{User: r.host.ID()})
	}
	// Departures can complete an all-ready or all-played condition.
	r.checkAllReadyLocked()
	r.checkGameEndLocked()
	r.finishLocked()
}

// Chat broadcasts a chat line from m.
func (r *Room) Chat(m Member, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.memberLocked(m.ID()) == nil {
		return ErrNotInRoom
	}
	r.broadcastLocked(protocol.MsgChat{User: m.ID(), Content: content})
	return nil
}

// ServerChat broadcasts a chat line from the system user.
func (r *Room) ServerChat(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.broadcastLocked(protocol.MsgChat{User: 0, Content: content})
}

// SetLock toggles the lock flag. Locking stops recruiting.
func (r *Room) SetLock(m Member, lock bool) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(m); err != nil {
		r.mu.Unlock()
		return err
	}
	r.locked = lock
	if lock {
		r.recruiting = false
	}
	r.broadcastLocked(protocol.MsgLockRoom{Locked: lock})
	r.mu.Unlock()
	r.notifyUpdated()
	return nil
}

// SetCycle toggles host rotation on game end.
func (r *Room) SetCycle(m Member, cycle bool) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(m); err != nil {
		r.mu.Unlock()
		return err
	}
	r.cycle = cycle
	r.broadcastLocked(protocol.MsgCycleRoom{Cycle: cycle})
	r.mu.Unlock()
	r.notifyUpdated()
	return nil
}

// SelectChart records the host's chart choice. The chart name is resolved by
// the caller before the lock is taken.
func (r *Room) SelectChart(m Member, chart ChartInfo) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(m); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.stage != protocol.StageSelectChart {
		r.mu.Unlock()
		return ErrWrongStage
	}
	c := chart
	r.chart = &c
	r.broadcastLocked(protocol.MsgSelectChart{User: m.ID(), Name: chart.Name, Chart: chart.ID})
	r.mu.Unlock()
	r.notifyUpdated()
	return nil
}

// RequestStart moves the room into WaitingForReady. The host is marked ready
// pre-emptively, so a solo host starts playing immediately.
func (r *Room) RequestStart(m Member) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(m); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.stage != protocol.StageSelectChart {
		r.mu.Unlock()
		return ErrWrongStage
	}
	if r.chart == nil {
		r.mu.Unlock()
		return ErrNoChart
	}
	r.ready.Insert(m.ID())
	r.broadcastLocked(protocol.MsgGameStart{User: m.ID()})
	r.stage = protocol.StageWaitingForReady
	r.sendAllLocked(protocol.ChangeState{Stage: protocol.StageWaitingForReady})
	r.checkAllReadyLocked()
	r.finishLocked()
	return nil
}

// Ready marks m ready and starts the game once everyone is.
func (r *Room) Ready(m Member) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.memberLocked(m.ID()) == nil {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if r.stage != protocol.StageWaitingForReady {
		r.mu.Unlock()
		return ErrWrongStage
	}
	r.ready.Insert(m.ID())
	r.broadcastLocked(protocol.MsgReady{User: m.ID()})
	r.checkAllReadyLocked()
	r.finishLocked()
	return nil
}

// CancelReady withdraws readiness. From the host it cancels the whole
// ready-up phase and returns the room to SelectChart.
func (r *Room) CancelReady(m Member) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.memberLocked(m.ID()) == nil {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if r.stage != protocol.StageWaitingForReady {
		r.mu.Unlock()
		return ErrWrongStage
	}
	if r.host.ID() == m.ID() {
		r.ready = set.New[int32]()
		r.broadcastLocked(protocol.MsgCancelGame{User: m.ID()})
		r.stage = protocol.StageSelectChart
		r.sendAllLocked(r.changeStateLocked())
	} else {
		r.ready.Delete(m.ID())
		r.broadcastLocked(protocol.MsgCancelReady{User: m.ID()})
	}
	r.mu.Unlock()
	r.notifyUpdated()
	return nil
}

// Played applies a validated play result. Record validation against the
// external service happens before the lock is taken.
func (r *Room) Played(m Member, recordID int32, res PlayResult) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.isPlayerLocked(m.ID()) {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if r.stage != protocol.StagePlaying {
		r.mu.Unlock()
		return ErrWrongStage
	}
	if _, done := r.playResults[m.ID()]; done || r.aborted.Has(m.ID()) {
		r.mu.Unlock()
		return ErrAlreadyPlayed
	}
	r.playResults[m.ID()] = res
	r.playRecords[m.ID()] = recordID
	m.SetReplayRecord(recordID)
	r.broadcastLocked(protocol.MsgPlayed{
		User: m.ID(), Score: res.Score, Accuracy: res.Accuracy, FullCombo: res.FullCombo,
	})
	r.checkGameEndLocked()
	r.finishLocked()
	return nil
}

// Abort marks m's play abandoned and re-evaluates completion.
func (r *Room) Abort(m Member) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.isPlayerLocked(m.ID()) {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if r.stage != protocol.StagePlaying {
		r.mu.Unlock()
		return ErrWrongStage
	}
	if _, done := r.playResults[m.ID()]; done || r.aborted.Has(m.ID()) {
		r.mu.Unlock()
		return ErrAlreadyPlayed
	}
	r.aborted.Insert(m.ID())
	m.StopReplay()
	r.broadcastLocked(protocol.MsgAbort{User: m.ID()})
	r.checkGameEndLocked()
	r.finishLocked()
	return nil
}

// RelayTouches fans a player's touch frames out to the monitors.
func (r *Room) RelayTouches(from Member, frames []protocol.TouchFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd := protocol.TouchesRelay{Player: from.ID(), Frames: frames}
	for _, m := range r.monitors {
		m.Send(cmd)
	}
}

// RelayJudges fans a player's judgements out to the monitors.
func (r *Room) RelayJudges(from Member, judges []protocol.JudgeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd := protocol.JudgesRelay{Player: from.ID(), Judges: judges}
	for _, m := range r.monitors {
		m.Send(cmd)
	}
}

// SetMaxPlayers changes the player cap. Existing members above the new cap
// stay; the cap only gates admission.
func (r *Room) SetMaxPlayers(n int) error {
	if n <= 0 {
		return errors.New("max players must be positive")
	}
	r.mu.Lock()
	r.maxPlayers = n
	r.mu.Unlock()
	r.notifyUpdated()
	return nil
}

// ConfigureContest switches contest mode and optionally replaces the
// whitelist. Enabling contest mode suspends the automatic all-ready start.
func (r *Room) ConfigureContest(enabled bool, whitelist []int64) {
	r.mu.Lock()
	r.contest = enabled
	if whitelist != nil {
		r.whitelist = set.New(whitelist...)
	}
	r.mu.Unlock()
	r.notifyUpdated()
}

// SetWhitelist replaces the contest whitelist.
func (r *Room) SetWhitelist(ids []int64) {
	r.mu.Lock()
	r.whitelist = set.New(ids...)
	r.mu.Unlock()
	r.notifyUpdated()
}

// StartManually is the admin start: without force it still requires everyone
// ready, with force it starts unconditionally. The room must be in
// WaitingForReady.
func (r *Room) StartManually(force bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.stage != protocol.StageWaitingForReady {
		r.mu.Unlock()
		return ErrWrongStage
	}
	if !force && !r.allReadyLocked() {
		r.mu.Unlock()
		return errors.New("not all members are ready")
	}
	r.startPlayingLocked()
	r.finishLocked()
	return nil
}

// Disband tears the room down on admin request: server chat, member
// detachment, registry removal.
func (r *Room) Disband() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.destroyLocked(DisbandChat, false)
	r.mu.Unlock()
	r.fireDestroy()
}

func (r *Room) hostCheckLocked(m Member) error {
	if r.closed {
		return ErrClosed
	}
	if r.memberLocked(m.ID()) == nil {
		return ErrNotInRoom
	}
	if r.host.ID() != m.ID() {
		return ErrNotHost
	}
	return nil
}

func (r *Room) memberLocked(id int32) Member {
	if m, ok := r.monitors[id]; ok {
		return m
	}
	for _, p := range r.players {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

func (r *Room) isPlayerLocked(id int32) bool {
	for _, p := range r.players {
		if p.ID() == id {
			return true
		}
	}
	return false
}

func (r *Room) removeLocked(id int32) {
	if _, ok := r.monitors[id]; ok {
		delete(r.monitors, id)
	} else {
		for i, p := range r.players {
			if p.ID() == id {
				r.players = append(r.players[:i], r.players[i+1:]...)
				break
			}
		}
	}
	r.ready.Delete(id)
	delete(r.playResults, id)
	delete(r.playRecords, id)
	r.aborted.Delete(id)
	r.updatePlayerGauge()
}

func (r *Room) members() []Member {
	out := make([]Member, 0, len(r.players)+len(r.monitors))
	out = append(out, r.players...)
	for _, m := range r.monitors {
		out = append(out, m)
	}
	return out
}

func (r *Room) broadcastLocked(msg protocol.Message) {
	cmd := protocol.MessageEvent{Message: msg}
	for _, m := range r.members() {
		m.Send(cmd)
	}
	if r.notifier != nil {
		r.notifier.RoomLog(r.ID, logLine(msg))
	}
}

func (r *Room) sendAllLocked(cmd protocol.ServerCommand) {
	for _, m := range r.members() {
		m.Send(cmd)
	}
}

func (r *Room) allReadyLocked() bool {
	for _, m := range r.members() {
		if !r.ready.Has(m.ID()) {
			return false
		}
	}
	return true
}

func (r *Room) checkAllReadyLocked() {
	if r.stage != protocol.StageWaitingForReady || r.contest {
		return
	}
	if !r.allReadyLocked() {
		return
	}
	r.startPlayingLocked()
}

func (r *Room) startPlayingLocked() {
	r.playResults = map[int32]PlayResult{}
	r.playRecords = map[int32]int32{}
	r.aborted = set.New[int32]()
	if r.replayEnabled() && r.chart != nil {
		for _, p := range r.players {
			p.StartReplay(r.chart.ID)
		}
	}
	r.broadcastLocked(protocol.MsgStartPlaying{})
	r.stage = protocol.StagePlaying
	r.sendAllLocked(protocol.ChangeState{Stage: protocol.StagePlaying})
}

// checkGameEndLocked leaves Playing once every player has either a result or
// an abort. Contest rooms are disbanded instead of returning to SelectChart.
func (r *Room) checkGameEndLocked() {
	if r.stage != protocol.StagePlaying {
		return
	}
	for _, p := range r.players {
		if _, done := r.playResults[p.ID()]; !done && !r.aborted.Has(p.ID()) {
			return
		}
	}
	for _, p := range r.players {
		p.StopReplay()
	}
	r.broadcastLocked(protocol.MsgGameEnd{})

	if r.contest {
		if r.notifier != nil {
			r.notifier.RoomLog(r.ID, "contest finished, disbanding room")
		}
		r.destroyLocked(ContestEndChat, true)
		return
	}

	r.ready = set.New[int32]()
	if r.cycle && len(r.players) >= 2 {
		r.rotateHostLocked()
	}
	r.stage = protocol.StageSelectChart
	r.sendAllLocked(r.changeStateLocked())
}

func (r *Room) rotateHostLocked() {
	idx := 0
	for i, p := range r.players {
		if p.ID() == r.host.ID() {
			idx = i
			break
		}
	}
	next := r.players[(idx+1)%len(r.players)]
	r.host.Send(protocol.ChangeHost{IsHost: false})
	next.Send(protocol.ChangeHost{IsHost: true})
	r.host = next
	r.broadcastLocked(protocol.MsgNewHost{User: next.ID()})
}

// changeStateLocked builds the ChangeState announcement for the current
// stage; the chart rides along only in SelectChart.
func (r *Room) changeStateLocked() protocol.ChangeState {
	cmd := protocol.ChangeState{Stage: r.stage}
	if r.stage == protocol.StageSelectChart && r.chart != nil {
		id := r.chart.ID
		cmd.Chart = &id
	}
	return cmd
}

// destroyLocked marks the room closed and detaches every member. A non-empty
// chat line is announced first; contest teardown additionally drops the
// members' connections.
func (r *Room) destroyLocked(chat string, disconnect bool) {
	if r.closed {
		return
	}
	if chat != "" {
		r.broadcastLocked(protocol.MsgChat{User: 0, Content: chat})
	}
	for _, m := range r.members() {
		m.StopReplay()
		m.Detach()
		if disconnect {
			m.Disconnect()
		}
	}
	r.players = nil
	r.monitors = map[int32]Member{}
	r.closed = true
	metrics.RoomPlayers.DeleteLabelValues(r.ID)
}

// finishLocked releases the lock and emits the deferred notifications. It
// must be the last statement before return in any op that may destroy the
// room.
func (r *Room) finishLocked() {
	destroyed := r.closed
	r.mu.Unlock()
	if destroyed {
		r.fireDestroy()
	} else {
		r.notifyUpdated()
	}
}

func (r *Room) fireDestroy() {
	r.destroyOnce.Do(func() {
		if r.onDestroy != nil {
			r.onDestroy(r)
		}
	})
}

func (r *Room) notifyUpdated() {
	if r.notifier != nil {
		r.notifier.RoomUpdated(r.ID)
	}
}

func (r *Room) updatePlayerGauge() {
	metrics.RoomPlayers.WithLabelValues(r.ID).Set(float64(len(r.players) + len(r.monitors)))
}
