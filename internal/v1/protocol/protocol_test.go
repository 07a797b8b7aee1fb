package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

func chartID(v int32) *int32 { return &v }

func TestClientCommandRoundTrip(t *testing.T) {
	cmds := []ClientCommand{
		Ping{},
		Authenticate{Token: "bearer-token"},
		Chat{Message: "hello"},
		Touches{Frames: []TouchFrame{
			{Time: 1.5, Points: []TouchPoint{{Pointer: 1, X: 0.5, Y: -0.25}, {Pointer: -2, X: 0.75, Y: 0}}},
			{Time: 2.25},
		}},
		Judges{Judges: []JudgeEvent{
			{Time: 0.5, Line: 3, Note: 17, Judgement: 2},
			{Time: 9.75, Line: 0, Note: 1, Judgement: 0},
		}},
		CreateRoom{ID: "0"},
		CreateRoom{ID: "myroom"},
		JoinRoom{ID: "123456", Monitor: true},
		LeaveRoom{},
		LockRoom{Lock: true},
		CycleRoom{Cycle: false},
		SelectChart{Chart: 100},
		RequestStart{},
		Ready{},
		CancelReady{},
		Played{RecordID: 7},
		Abort{},
	}
	for _, cmd := range cmds {
		payload := EncodeClient(cmd)
		got, err := DecodeClient(payload)
		require.NoError(t, err, "%T", cmd)
		assert.Equal(t, cmd, got, "%T", cmd)
	}
}

func TestServerCommandRoundTrip(t *testing.T) {
	cmds := []ServerCommand{
		Pong{},
		AuthenticateResp{Err: "invalid token"},
		AuthenticateResp{Me: UserInfo{ID: 42, Name: "A"}},
		AuthenticateResp{
			Me: UserInfo{ID: 42, Name: "A"},
			Room: &ClientRoomState{
				ID:      "123456",
				Stage:   StageWaitingForReady,
				Live:    true,
				Locked:  false,
				Cycle:   true,
				IsHost:  true,
				IsReady: false,
				Users: []UserInfo{
					{ID: 42, Name: "A"},
					{ID: 7, Name: "B", Monitor: true},
				},
				Chart: chartID(100),
			},
		},
		ChatResp{},
		ChatResp{Err: "not in room"},
		TouchesRelay{Player: 42, Frames: []TouchFrame{{Time: 1, Points: []TouchPoint{{Pointer: 0, X: 0.5, Y: 0.5}}}}},
		JudgesRelay{Player: 42, Judges: []JudgeEvent{{Time: 1, Line: 2, Note: 3, Judgement: 1}}},
		MessageEvent{Message: MsgChat{User: 0, Content: "welcome"}},
		ChangeState{Stage: StageSelectChart},
		ChangeState{Stage: StageSelectChart, Chart: chartID(100)},
		ChangeState{Stage: StageWaitingForReady},
		ChangeState{Stage: StagePlaying},
		ChangeHost{IsHost: true},
		CreateRoomResp{},
		JoinRoomResp{Err: "room is locked"},
		JoinRoomResp{Room: JoinRoomResponse{
			Stage: StageSelectChart,
			Users: []UserInfo{{ID: 1, Name: "P1"}},
			Live:  true,
		}},
		OnJoinRoom{User: UserInfo{ID: 9, Name: "C", Monitor: false}},
		LeaveRoomResp{},
		LockRoomResp{Err: "only the host can do this"},
		CycleRoomResp{},
		SelectChartResp{},
		RequestStartResp{Err: "no chart selected"},
		ReadyResp{},
		CancelReadyResp{},
		PlayedResp{Err: "record mismatch"},
		AbortResp{},
	}
	for _, cmd := range cmds {
		payload := EncodeServer(cmd)
		got, err := DecodeServer(payload)
		require.NoError(t, err, "%T", cmd)
		assert.Equal(t, cmd, got, "%T", cmd)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		MsgChat{User: 42, Content: "hi"},
		MsgCreateRoom{User: 42},
		MsgJoinRoom{User: 7, Name: "B"},
		MsgLeaveRoom{User: 7, Name: "B"},
		MsgNewHost{User: 7},
		MsgSelectChart{User: 42, Name: "Chart100", Chart: 100},
		MsgGameStart{User: 42},
		MsgReady{User: 7},
		MsgCancelReady{User: 7},
		MsgCancelGame{User: 42},
		MsgStartPlaying{},
		MsgPlayed{User: 42, Score: 900000, Accuracy: 0.98, FullCombo: true},
		MsgGameEnd{},
		MsgAbort{User: 7},
		MsgLockRoom{Locked: true},
		MsgCycleRoom{Cycle: true},
	}
	for _, m := range msgs {
		payload := EncodeServer(MessageEvent{Message: m})
		got, err := DecodeServer(payload)
		require.NoError(t, err, "%T", m)
		assert.Equal(t, MessageEvent{Message: m}, got, "%T", m)
	}
}

func TestUnknownTagsRejected(t *testing.T) {
	_, err := DecodeClient([]byte{16})
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = DecodeServer([]byte{20})
	assert.ErrorIs(t, err, ErrUnknownTag)

	// Unknown message tag inside a Message command.
	_, err = DecodeServer([]byte{5, 16})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestTruncatedCommandRejected(t *testing.T) {
	payload := EncodeClient(Authenticate{Token: "abcdef"})
	_, err := DecodeClient(payload[:len(payload)-2])
	assert.Error(t, err)
}

// A tiny payload declaring billions of elements must fail on the missing
// bytes, not allocate for the declared count.
func TestHugeElementCountRejected(t *testing.T) {
	touches := wire.AppendUvarint([]byte{tagTouches}, 0xFFFF_FFFE)
	_, err := DecodeClient(touches)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	judges := wire.AppendUvarint([]byte{tagJudges}, 0xFFFF_FFFE)
	_, err = DecodeClient(judges)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)
}
