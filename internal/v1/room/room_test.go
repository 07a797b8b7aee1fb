package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhyline/rhyline-server/internal/v1/protocol"
)

type fakeMember struct {
	id   int32
	name string

	mu           sync.Mutex
	sent         []protocol.ServerCommand
	replays      []int32
	replayStops  int
	recordID     int32
	detached     bool
	disconnected bool
}

func newFakeMember(id int32, name string) *fakeMember {
	return &fakeMember{id: id, name: name}
}

func (f *fakeMember) ID() int32    { return f.id }
func (f *fakeMember) Name() string { return f.name }

func (f *fakeMember) Send(cmd protocol.ServerCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
}

func (f *fakeMember) StartReplay(chartID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, chartID)
}

func (f *fakeMember) StopReplay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayStops++
}

func (f *fakeMember) SetReplayRecord(recordID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordID = recordID
}

func (f *fakeMember) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
}

func (f *fakeMember) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeMember) commands() []protocol.ServerCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ServerCommand, len(f.sent))
	copy(out, f.sent)
	return out
}

// messagesOf filters the MessageEvent payloads out of a command stream.
func messagesOf(cmds []protocol.ServerCommand) []protocol.Message {
	var out []protocol.Message
	for _, c := range cmds {
		if ev, ok := c.(protocol.MessageEvent); ok {
			out = append(out, ev.Message)
		}
	}
	return out
}

func lastChangeHost(cmds []protocol.ServerCommand) (protocol.ChangeHost, bool) {
	var got protocol.ChangeHost
	found := false
	for _, c := range cmds {
		if ch, ok := c.(protocol.ChangeHost); ok {
			got, found = ch, true
		}
	}
	return got, found
}

func TestSoloPlayCycle(t *testing.T) {
	host := newFakeMember(42, "A")
	r := New("123456", host, Options{})

	require.NoError(t, r.SelectChart(host, ChartInfo{ID: 100, Name: "Spectral Rain"}))
	require.NoError(t, r.RequestStart(host))

	// Host was marked ready pre-emptively, so a solo room goes straight to
	// Playing.
	assert.Equal(t, protocol.StagePlaying, r.Stage())

	require.NoError(t, r.Played(host, 7, PlayResult{Score: 900000, Accuracy: 0.98, FullCombo: true}))

	assert.Equal(t, protocol.StageSelectChart, r.Stage())
	assert.False(t, r.Closed())

	msgs := messagesOf(host.commands())
	var sawStart, sawPlaying, sawPlayed, sawEnd bool
	for _, m := range msgs {
		switch m.(type) {
		case protocol.MsgGameStart:
			sawStart = true
		case protocol.MsgStartPlaying:
			sawPlaying = true
		case protocol.MsgPlayed:
			sawPlayed = true
		case protocol.MsgGameEnd:
			sawEnd = true
		}
	}
	assert.True(t, sawStart && sawPlaying && sawPlayed && sawEnd)

	// The return to SelectChart keeps the selected chart.
	var lastState *protocol.ChangeState
	for _, c := range host.commands() {
		if cs, ok := c.(protocol.ChangeState); ok {
			lastState = &cs
		}
	}
	require.NotNil(t, lastState)
	assert.Equal(t, protocol.StageSelectChart, lastState.Stage)
	require.NotNil(t, lastState.Chart)
	assert.Equal(t, int32(100), *lastState.Chart)

	// New play starts from a clean slate.
	require.NoError(t, r.RequestStart(host))
	assert.Equal(t, protocol.StagePlaying, r.Stage())
}

func TestCycleRotatesHost(t *testing.T) {
	p1 := newFakeMember(1, "P1")
	p2 := newFakeMember(2, "P2")
	r := New("room", p1, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	require.NoError(t, r.SetCycle(p1, true))
	require.NoError(t, r.SelectChart(p1, ChartInfo{ID: 5, Name: "Chart5"}))
	require.NoError(t, r.RequestStart(p1))
	require.NoError(t, r.Ready(p2))
	require.Equal(t, protocol.StagePlaying, r.Stage())

	require.NoError(t, r.Played(p1, 1, PlayResult{Score: 1}))
	require.NoError(t, r.Played(p2, 2, PlayResult{Score: 2}))

	assert.Equal(t, protocol.StageSelectChart, r.Stage())
	assert.Equal(t, int32(2), r.HostID())

	ch1, ok := lastChangeHost(p1.commands())
	require.True(t, ok)
	assert.False(t, ch1.IsHost)
	ch2, ok := lastChangeHost(p2.commands())
	require.True(t, ok)
	assert.True(t, ch2.IsHost)

	var sawNewHost bool
	for _, m := range messagesOf(p1.commands()) {
		if nh, ok := m.(protocol.MsgNewHost); ok && nh.User == 2 {
			sawNewHost = true
		}
	}
	assert.True(t, sawNewHost)
}

func TestContestGatingAndDisband(t *testing.T) {
	host := newFakeMember(10, "H")
	r := New("contest", host, Options{})
	r.ConfigureContest(true, []int64{10, 20})

	// Non-whitelisted player is rejected; the same user as monitor is fine.
	outsider := newFakeMember(30, "X")
	_, err := r.Join(outsider, false)
	assert.ErrorIs(t, err, ErrNotWhitelisted)
	_, err = r.Join(outsider, true)
	require.NoError(t, err)

	p2 := newFakeMember(20, "P2")
	_, err = r.Join(p2, false)
	require.NoError(t, err)

	require.NoError(t, r.SelectChart(host, ChartInfo{ID: 9, Name: "Chart9"}))
	require.NoError(t, r.RequestStart(host))
	require.NoError(t, r.Ready(p2))
	require.NoError(t, r.Ready(outsider))

	// Contest rooms never auto-start, even when everyone is ready.
	assert.Equal(t, protocol.StageWaitingForReady, r.Stage())
	require.NoError(t, r.StartManually(false))
	assert.Equal(t, protocol.StagePlaying, r.Stage())

	require.NoError(t, r.Played(host, 1, PlayResult{Score: 1}))
	require.NoError(t, r.Abort(p2))

	// One full play disbands a contest room and drops everyone.
	assert.True(t, r.Closed())
	for _, m := range []*fakeMember{host, p2, outsider} {
		m.mu.Lock()
		assert.True(t, m.detached, "%s should be detached", m.name)
		assert.True(t, m.disconnected, "%s should be disconnected", m.name)
		m.mu.Unlock()

		var sawChat bool
		for _, msg := range messagesOf(m.commands()) {
			if c, ok := msg.(protocol.MsgChat); ok && c.User == 0 && c.Content == ContestEndChat {
				sawChat = true
			}
		}
		assert.True(t, sawChat, "%s should see the disband chat", m.name)
	}
}

func TestHostLeaveSuccession(t *testing.T) {
	p1 := newFakeMember(1, "P1")
	p2 := newFakeMember(2, "P2")
	r := New("room", p1, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)

	r.Leave(p1)

	assert.False(t, r.Closed())
	assert.Equal(t, int32(2), r.HostID())

	ch, ok := lastChangeHost(p2.commands())
	require.True(t, ok)
	assert.True(t, ch.IsHost)

	var sawLeave, sawNewHost bool
	for _, m := range messagesOf(p2.commands()) {
		switch v := m.(type) {
		case protocol.MsgLeaveRoom:
			if v.User == 1 && v.Name == "P1" {
				sawLeave = true
			}
		case protocol.MsgNewHost:
			if v.User == 2 {
				sawNewHost = true
			}
		}
	}
	assert.True(t, sawLeave)
	assert.True(t, sawNewHost)
}

func TestLastPlayerLeaveDestroysRoom(t *testing.T) {
	host := newFakeMember(1, "P1")
	mon := newFakeMember(2, "M")
	var destroyed []string
	r := New("room", host, Options{OnDestroy: func(r *Room) {
		destroyed = append(destroyed, r.ID)
	}})
	_, err := r.Join(mon, true)
	require.NoError(t, err)

	r.Leave(host)

	assert.True(t, r.Closed())
	assert.Equal(t, []string{"room"}, destroyed)
	mon.mu.Lock()
	assert.True(t, mon.detached)
	assert.False(t, mon.disconnected, "plain destruction keeps sockets open")
	mon.mu.Unlock()

	// Operations on a closed room fail cleanly.
	assert.ErrorIs(t, r.Ready(host), ErrClosed)
}

func TestLeaveCompletesPendingPlay(t *testing.T) {
	p1 := newFakeMember(1, "P1")
	p2 := newFakeMember(2, "P2")
	r := New("room", p1, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	require.NoError(t, r.SelectChart(p1, ChartInfo{ID: 5, Name: "Chart5"}))
	require.NoError(t, r.RequestStart(p1))
	require.NoError(t, r.Ready(p2))
	require.NoError(t, r.Played(p1, 1, PlayResult{Score: 1}))
	require.Equal(t, protocol.StagePlaying, r.Stage())

	// The last unfinished player leaving ends the game.
	r.Leave(p2)
	assert.Equal(t, protocol.StageSelectChart, r.Stage())
}

func TestHostOnlyOperations(t *testing.T) {
	host := newFakeMember(1, "H")
	p2 := newFakeMember(2, "P2")
	r := New("room", host, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)

	assert.ErrorIs(t, r.SetLock(p2, true), ErrNotHost)
	assert.ErrorIs(t, r.SetCycle(p2, true), ErrNotHost)
	assert.ErrorIs(t, r.SelectChart(p2, ChartInfo{ID: 1}), ErrNotHost)
	assert.ErrorIs(t, r.RequestStart(p2), ErrNotHost)

	// Starting without a chart is refused.
	assert.ErrorIs(t, r.RequestStart(host), ErrNoChart)
}

func TestLockStopsRecruiting(t *testing.T) {
	host := newFakeMember(1, "H")
	r := New("room", host, Options{Recruiting: true})
	assert.True(t, r.JoinableRandomly())

	require.NoError(t, r.SetLock(host, true))
	assert.False(t, r.JoinableRandomly())
	snap := r.Snapshot()
	assert.True(t, snap.Locked)
	assert.False(t, snap.Recruiting)

	// Unlocking does not resume recruiting.
	require.NoError(t, r.SetLock(host, false))
	assert.False(t, r.JoinableRandomly())

	p2 := newFakeMember(2, "P2")
	require.NoError(t, r.SetLock(host, true))
	_, err := r.Join(p2, false)
	assert.ErrorIs(t, err, ErrRoomLocked)
	_, err = r.Join(p2, true)
	assert.NoError(t, err, "monitors bypass the lock")
}

func TestPlayerCap(t *testing.T) {
	host := newFakeMember(1, "H")
	r := New("room", host, Options{MaxPlayers: 2})
	p2 := newFakeMember(2, "P2")
	p3 := newFakeMember(3, "P3")
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	_, err = r.Join(p3, false)
	assert.ErrorIs(t, err, ErrRoomFull)
	_, err = r.Join(p3, true)
	assert.NoError(t, err, "the cap only limits players")
}

func TestHostCancelReadyReturnsToSelectChart(t *testing.T) {
	host := newFakeMember(1, "H")
	p2 := newFakeMember(2, "P2")
	r := New("room", host, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	require.NoError(t, r.SelectChart(host, ChartInfo{ID: 5, Name: "Chart5"}))
	require.NoError(t, r.RequestStart(host))
	require.Equal(t, protocol.StageWaitingForReady, r.Stage())

	// Non-host cancel only withdraws that member's readiness.
	require.NoError(t, r.Ready(p2))
	require.NoError(t, r.CancelReady(p2))
	assert.Equal(t, protocol.StageWaitingForReady, r.Stage())

	require.NoError(t, r.CancelReady(host))
	assert.Equal(t, protocol.StageSelectChart, r.Stage())

	var sawCancelGame bool
	for _, m := range messagesOf(p2.commands()) {
		if _, ok := m.(protocol.MsgCancelGame); ok {
			sawCancelGame = true
		}
	}
	assert.True(t, sawCancelGame)

	// Ready state does not leak into the next round.
	assert.False(t, r.ClientState(2).IsReady)
}

func TestReplayLifecycle(t *testing.T) {
	host := newFakeMember(1, "H")
	enabled := true
	r := New("room", host, Options{ReplayEnabled: func() bool { return enabled }})
	mon := newFakeMember(9, "M")
	_, err := r.Join(mon, true)
	require.NoError(t, err)
	require.NoError(t, r.SelectChart(host, ChartInfo{ID: 77, Name: "Chart77"}))
	require.NoError(t, r.RequestStart(host))
	require.NoError(t, r.Ready(mon))
	require.Equal(t, protocol.StagePlaying, r.Stage())

	host.mu.Lock()
	assert.Equal(t, []int32{77}, host.replays, "players record")
	host.mu.Unlock()
	mon.mu.Lock()
	assert.Empty(t, mon.replays, "monitors do not record")
	mon.mu.Unlock()

	require.NoError(t, r.Played(host, 55, PlayResult{Score: 1}))
	host.mu.Lock()
	assert.Equal(t, int32(55), host.recordID)
	assert.GreaterOrEqual(t, host.replayStops, 1)
	host.mu.Unlock()

	// With the flag off, the next play records nothing.
	enabled = false
	require.NoError(t, r.RequestStart(host))
	require.NoError(t, r.Ready(mon))
	host.mu.Lock()
	assert.Equal(t, []int32{77}, host.replays)
	host.mu.Unlock()
}

func TestRelaysReachMonitorsOnly(t *testing.T) {
	host := newFakeMember(1, "H")
	p2 := newFakeMember(2, "P2")
	mon := newFakeMember(3, "M")
	r := New("room", host, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	_, err = r.Join(mon, true)
	require.NoError(t, err)

	frames := []protocol.TouchFrame{{Time: 1.5, Points: []protocol.TouchPoint{{Pointer: 0, X: 0.5, Y: 0.25}}}}
	r.RelayTouches(host, frames)
	r.RelayJudges(host, []protocol.JudgeEvent{{Time: 2, Line: 1, Note: 3, Judgement: 0}})

	var monGot, p2Got int
	for _, c := range mon.commands() {
		switch c.(type) {
		case protocol.TouchesRelay, protocol.JudgesRelay:
			monGot++
		}
	}
	for _, c := range p2.commands() {
		switch c.(type) {
		case protocol.TouchesRelay, protocol.JudgesRelay:
			p2Got++
		}
	}
	assert.Equal(t, 2, monGot)
	assert.Zero(t, p2Got)
}

func TestClientStateView(t *testing.T) {
	host := newFakeMember(1, "H")
	p2 := newFakeMember(2, "P2")
	r := New("room", host, Options{})
	_, err := r.Join(p2, false)
	require.NoError(t, err)
	require.NoError(t, r.SelectChart(host, ChartInfo{ID: 100, Name: "Chart100"}))

	s := r.ClientState(1)
	assert.Equal(t, "room", s.ID)
	assert.True(t, s.IsHost)
	assert.Len(t, s.Users, 2)
	require.NotNil(t, s.Chart)
	assert.Equal(t, int32(100), *s.Chart)

	s2 := r.ClientState(2)
	assert.False(t, s2.IsHost)
}

func TestDuplicateJoinRejected(t *testing.T) {
	host := newFakeMember(1, "H")
	r := New("room", host, Options{})
	_, err := r.Join(host, true)
	assert.ErrorIs(t, err, ErrAlreadyIn)
}

func TestAdminDisband(t *testing.T) {
	host := newFakeMember(1, "H")
	var destroyed bool
	r := New("room", host, Options{OnDestroy: func(*Room) { destroyed = true }})

	r.Disband()
	assert.True(t, r.Closed())
	assert.True(t, destroyed)
	host.mu.Lock()
	assert.True(t, host.detached)
	assert.False(t, host.disconnected, "admin disband keeps sockets open")
	host.mu.Unlock()

	var sawChat bool
	for _, m := range messagesOf(host.commands()) {
		if c, ok := m.(protocol.MsgChat); ok && c.User == 0 && c.Content == DisbandChat {
			sawChat = true
		}
	}
	assert.True(t, sawChat)
}
