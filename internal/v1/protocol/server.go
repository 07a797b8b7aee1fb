package protocol

import (
	"fmt"

	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

// ServerCommand is a command sent to the game client. Server commands use
// their own tag space, separate from client commands.
type ServerCommand interface {
	serverTag() byte
}

const (
	tagSvPong         byte = 0
	tagSvAuthenticate byte = 1
	tagSvChat         byte = 2
	tagSvTouches      byte = 3
	tagSvJudges       byte = 4
	tagSvMessage      byte = 5
	tagSvChangeState  byte = 6
	tagSvChangeHost   byte = 7
	tagSvCreateRoom   byte = 8
	tagSvJoinRoom     byte = 9
	tagSvOnJoinRoom   byte = 10
	tagSvLeaveRoom    byte = 11
	tagSvLockRoom     byte = 12
	tagSvCycleRoom    byte = 13
	tagSvSelectChart  byte = 14
	tagSvRequestStart byte = 15
	tagSvReady        byte = 16
	tagSvCancelReady  byte = 17
	tagSvPlayed       byte = 18
	tagSvAbort        byte = 19
)

// Pong answers a client Ping.
type Pong struct{}

// AuthenticateResp answers Authenticate. On success it carries the resolved
// user and, for users already in a room, the full room view.
type AuthenticateResp struct {
	Err  string
	Me   UserInfo
	Room *ClientRoomState
}

// ChatResp acknowledges a Chat command.
type ChatResp struct{ Err string }

// TouchesRelay fans a player's touch frames out to monitors.
type TouchesRelay struct {
	Player int32
	Frames []TouchFrame
}

// JudgesRelay fans a player's judgements out to monitors.
type JudgesRelay struct {
	Player int32
	Judges []JudgeEvent
}

// MessageEvent wraps a room broadcast message.
type MessageEvent struct {
	Message Message
}

// ChangeState announces a room stage transition. Chart is present only when
// the new stage is SelectChart.
type ChangeState struct {
	Stage Stage
	Chart *int32
}

// ChangeHost tells one user whether they gained or lost host status.
type ChangeHost struct {
	IsHost bool
}

// CreateRoomResp acknowledges CreateRoom.
type CreateRoomResp struct{ Err string }

// JoinRoomResp answers JoinRoom with the room contents on success.
type JoinRoomResp struct {
	Err  string
	Room JoinRoomResponse
}

// OnJoinRoom announces a new member to the existing members.
type OnJoinRoom struct {
	User UserInfo
}

// LeaveRoomResp acknowledges LeaveRoom.
type LeaveRoomResp struct{ Err string }

// LockRoomResp acknowledges LockRoom.
type LockRoomResp struct{ Err string }

// CycleRoomResp acknowledges CycleRoom.
type CycleRoomResp struct{ Err string }

// SelectChartResp acknowledges SelectChart.
type SelectChartResp struct{ Err string }

// RequestStartResp acknowledges RequestStart.
type RequestStartResp struct{ Err string }

// ReadyResp acknowledges Ready.
type ReadyResp struct{ Err string }

// CancelReadyResp acknowledges CancelReady.
type CancelReadyResp struct{ Err string }

// PlayedResp acknowledges Played.
type PlayedResp struct{ Err string }

// AbortResp acknowledges Abort.
type AbortResp struct{ Err string }

func (Pong) serverTag() byte             { return tagSvPong }
func (AuthenticateResp) serverTag() byte { return tagSvAuthenticate }
func (ChatResp) serverTag() byte         { return tagSvChat }
func (TouchesRelay) serverTag() byte     { return tagSvTouches }
func (JudgesRelay) serverTag() byte      { return tagSvJudges }
func (MessageEvent) serverTag() byte     { return tagSvMessage }
func (ChangeState) serverTag() byte      { return tagSvChangeState }
func (ChangeHost) serverTag() byte       { return tagSvChangeHost }
func (CreateRoomResp) serverTag() byte   { return tagSvCreateRoom }
func (JoinRoomResp) serverTag() byte     { return tagSvJoinRoom }
func (OnJoinRoom) serverTag() byte       { return tagSvOnJoinRoom }
func (LeaveRoomResp) serverTag() byte    { return tagSvLeaveRoom }
func (LockRoomResp) serverTag() byte     { return tagSvLockRoom }
func (CycleRoomResp) serverTag() byte    { return tagSvCycleRoom }
func (SelectChartResp) serverTag() byte  { return tagSvSelectChart }
func (RequestStartResp) serverTag() byte { return tagSvRequestStart }
func (ReadyResp) serverTag() byte        { return tagSvReady }
func (CancelReadyResp) serverTag() byte  { return tagSvCancelReady }
func (PlayedResp) serverTag() byte       { return tagSvPlayed }
func (AbortResp) serverTag() byte        { return tagSvAbort }

// EncodeServer serializes cmd into a frame payload: tag byte plus body.
func EncodeServer(cmd ServerCommand) []byte {
	e := wire.NewEncoder()
	e.Byte(cmd.serverTag())
	switch c := cmd.(type) {
	case Pong:
	case AuthenticateResp:
		if encodeResult(e, c.Err) {
			c.Me.encode(e)
			if c.Room == nil {
				e.Bool(false)
			} else {
				e.Bool(true)
				c.Room.encode(e)
			}
		}
	case ChatResp:
		encodeResult(e, c.Err)
	case TouchesRelay:
		e.I32(c.Player)
		encodeTouchFrames(e, c.Frames)
	case JudgesRelay:
		e.I32(c.Player)
		encodeJudgeEvents(e, c.Judges)
	case MessageEvent:
		encodeMessage(e, c.Message)
	case ChangeState:
		e.Byte(byte(c.Stage))
		if c.Stage == StageSelectChart {
			encodeOptI32(e, c.Chart)
		}
	case ChangeHost:
		e.Bool(c.IsHost)
	case CreateRoomResp:
		encodeResult(e, c.Err)
	case JoinRoomResp:
		if encodeResult(e, c.Err) {
			c.Room.encode(e)
		}
	case OnJoinRoom:
		c.User.encode(e)
	case LeaveRoomResp:
		encodeResult(e, c.Err)
	case LockRoomResp:
		encodeResult(e, c.Err)
	case CycleRoomResp:
		encodeResult(e, c.Err)
	case SelectChartResp:
		encodeResult(e, c.Err)
	case RequestStartResp:
		encodeResult(e, c.Err)
	case ReadyResp:
		encodeResult(e, c.Err)
	case CancelReadyResp:
		encodeResult(e, c.Err)
	case PlayedResp:
		encodeResult(e, c.Err)
	case AbortResp:
		encodeResult(e, c.Err)
	}
	return e.Bytes()
}

// DecodeServer parses a frame payload into a typed server command. The
// server itself never consumes this path; clients and tests do.
func DecodeServer(payload []byte) (ServerCommand, error) {
	d := wire.NewDecoder(payload)
	tag, err := d.Byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagSvPong:
		return Pong{}, nil
	case tagSvAuthenticate:
		var c AuthenticateResp
		msg, ok, err := decodeResult(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.Err = msg
			return c, nil
		}
		if c.Me, err = decodeUserInfo(d); err != nil {
			return nil, err
		}
		has, err := d.Bool()
		if err != nil {
			return nil, err
		}
		if has {
			room, err := decodeClientRoomState(d)
			if err != nil {
				return nil, err
			}
			c.Room = &room
		}
		return c, nil
	case tagSvChat:
		msg, _, err := decodeResult(d)
		return ChatResp{Err: msg}, err
	case tagSvTouches:
		var c TouchesRelay
		if c.Player, err = d.I32(); err != nil {
			return nil, err
		}
		c.Frames, err = decodeTouchFrames(d)
		return c, err
	case tagSvJudges:
		var c JudgesRelay
		if c.Player, err = d.I32(); err != nil {
			return nil, err
		}
		c.Judges, err = decodeJudgeEvents(d)
		return c, err
	case tagSvMessage:
		m, err := decodeMessage(d)
		return MessageEvent{Message: m}, err
	case tagSvChangeState:
		var c ChangeState
		if c.Stage, err = decodeStage(d); err != nil {
			return nil, err
		}
		if c.Stage == StageSelectChart {
			if c.Chart, err = decodeOptI32(d); err != nil {
				return nil, err
			}
		}
		return c, nil
	case tagSvChangeHost:
		var c ChangeHost
		c.IsHost, err = d.Bool()
		return c, err
	case tagSvCreateRoom:
		msg, _, err := decodeResult(d)
		return CreateRoomResp{Err: msg}, err
	case tagSvJoinRoom:
		var c JoinRoomResp
		msg, ok, err := decodeResult(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.Err = msg
			return c, nil
		}
		c.Room, err = decodeJoinRoomResponse(d)
		return c, err
	case tagSvOnJoinRoom:
		var c OnJoinRoom
		c.User, err = decodeUserInfo(d)
		return c, err
	case tagSvLeaveRoom:
		msg, _, err := decodeResult(d)
		return LeaveRoomResp{Err: msg}, err
	case tagSvLockRoom:
		msg, _, err := decodeResult(d)
		return LockRoomResp{Err: msg}, err
	case tagSvCycleRoom:
		msg, _, err := decodeResult(d)
		return CycleRoomResp{Err: msg}, err
	case tagSvSelectChart:
		msg, _, err := decodeResult(d)
		return SelectChartResp{Err: msg}, err
	case tagSvRequestStart:
		msg, _, err := decodeResult(d)
		return RequestStartResp{Err: msg}, err
	case tagSvReady:
		msg, _, err := decodeResult(d)
		return ReadyResp{Err: msg}, err
	case tagSvCancelReady:
		msg, _, err := decodeResult(d)
		return CancelReadyResp{Err: msg}, err
	case tagSvPlayed:
		msg, _, err := decodeResult(d)
		return PlayedResp{Err: msg}, err
	case tagSvAbort:
		msg, _, err := decodeResult(d)
		return AbortResp{Err: msg}, err
	default:
		return nil, fmt.Errorf("%w: server command %d", ErrUnknownTag, tag)
	}
}
