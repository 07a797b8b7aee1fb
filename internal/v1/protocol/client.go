package protocol

import (
	"fmt"

	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

// ClientCommand is a command sent by the game client. Each variant carries
// its own wire tag.
type ClientCommand interface {
	clientTag() byte
}

// Client command tags, in wire order.
const (
	tagPing         byte = 0
	tagAuthenticate byte = 1
	tagChat         byte = 2
	tagTouches      byte = 3
	tagJudges       byte = 4
	tagCreateRoom   byte = 5
	tagJoinRoom     byte = 6
	tagLeaveRoom    byte = 7
	tagLockRoom     byte = 8
	tagCycleRoom    byte = 9
	tagSelectChart  byte = 10
	tagRequestStart byte = 11
	tagReady        byte = 12
	tagCancelReady  byte = 13
	tagPlayed       byte = 14
	tagAbort        byte = 15
)

// Ping is a liveness probe; the server answers Pong.
type Ping struct{}

// Authenticate resolves the bearer token against the identity service and
// binds the user to the session.
type Authenticate struct {
	Token string
}

// Chat sends a chat line to the sender's room.
type Chat struct {
	Message string
}

// Touches relays raw touch input frames while playing.
type Touches struct {
	Frames []TouchFrame
}

// Judges relays judgement events while playing.
type Judges struct {
	Judges []JudgeEvent
}

// CreateRoom creates a room; ID "0" requests a random id.
type CreateRoom struct {
	ID string
}

// JoinRoom joins a room; ID "0" requests a random recruiting room.
type JoinRoom struct {
	ID      string
	Monitor bool
}

// LeaveRoom leaves the current room.
type LeaveRoom struct{}

// LockRoom sets the room lock flag (host only).
type LockRoom struct {
	Lock bool
}

// CycleRoom sets the host-rotation flag (host only).
type CycleRoom struct {
	Cycle bool
}

// SelectChart selects the chart to play (host only, SelectChart stage).
type SelectChart struct {
	Chart int32
}

// RequestStart moves the room to the ready-up phase (host only).
type RequestStart struct{}

// Ready marks the sender ready.
type Ready struct{}

// CancelReady withdraws readiness; from the host it cancels the game.
type CancelReady struct{}

// Played reports a finished play by its uploaded record id.
type Played struct {
	RecordID int32
}

// Abort reports that the sender abandoned the current play.
type Abort struct{}

func (Ping) clientTag() byte         { return tagPing }
func (Authenticate) clientTag() byte { return tagAuthenticate }
func (Chat) clientTag() byte         { return tagChat }
func (Touches) clientTag() byte      { return tagTouches }
func (Judges) clientTag() byte       { return tagJudges }
func (CreateRoom) clientTag() byte   { return tagCreateRoom }
func (JoinRoom) clientTag() byte     { return tagJoinRoom }
func (LeaveRoom) clientTag() byte    { return tagLeaveRoom }
func (LockRoom) clientTag() byte     { return tagLockRoom }
func (CycleRoom) clientTag() byte    { return tagCycleRoom }
func (SelectChart) clientTag() byte  { return tagSelectChart }
func (RequestStart) clientTag() byte { return tagRequestStart }
func (Ready) clientTag() byte        { return tagReady }
func (CancelReady) clientTag() byte  { return tagCancelReady }
func (Played) clientTag() byte       { return tagPlayed }
func (Abort) clientTag() byte        { return tagAbort }

// EncodeClient serializes cmd into a frame payload: tag byte plus body.
func EncodeClient(cmd ClientCommand) []byte {
	e := wire.NewEncoder()
	e.Byte(cmd.clientTag())
	switch c := cmd.(type) {
	case Ping, LeaveRoom, RequestStart, Ready, CancelReady, Abort:
	case Authenticate:
		e.String(c.Token)
	case Chat:
		e.String(c.Message)
	case Touches:
		encodeTouchFrames(e, c.Frames)
	case Judges:
		encodeJudgeEvents(e, c.Judges)
	case CreateRoom:
		e.String(c.ID)
	case JoinRoom:
		e.String(c.ID)
		e.Bool(c.Monitor)
	case LockRoom:
		e.Bool(c.Lock)
	case CycleRoom:
		e.Bool(c.Cycle)
	case SelectChart:
		e.I32(c.Chart)
	case Played:
		e.I32(c.RecordID)
	}
	return e.Bytes()
}

// DecodeClient parses a frame payload into a typed client command.
func DecodeClient(payload []byte) (ClientCommand, error) {
	d := wire.NewDecoder(payload)
	tag, err := d.Byte()
	if err != nil {
		return nil, err
	}
	var cmd ClientCommand
	switch tag {
	case tagPing:
		cmd = Ping{}
	case tagAuthenticate:
		var c Authenticate
		if c.Token, err = d.String(); err != nil {
			return nil, err
		}
		cmd = c
	case tagChat:
		var c Chat
		if c.Message, err = d.String(); err != nil {
			return nil, err
		}
		cmd = c
	case tagTouches:
		var c Touches
		if c.Frames, err = decodeTouchFrames(d); err != nil {
			return nil, err
		}
		cmd = c
	case tagJudges:
		var c Judges
		if c.Judges, err = decodeJudgeEvents(d); err != nil {
			return nil, err
		}
		cmd = c
	case tagCreateRoom:
		var c CreateRoom
		if c.ID, err = d.String(); err != nil {
			return nil, err
		}
		cmd = c
	case tagJoinRoom:
		var c JoinRoom
		if c.ID, err = d.String(); err != nil {
			return nil, err
		}
		if c.Monitor, err = d.Bool(); err != nil {
			return nil, err
		}
		cmd = c
	case tagLeaveRoom:
		cmd = LeaveRoom{}
	case tagLockRoom:
		var c LockRoom
		if c.Lock, err = d.Bool(); err != nil {
			return nil, err
		}
		cmd = c
	case tagCycleRoom:
		var c CycleRoom
		if c.Cycle, err = d.Bool(); err != nil {
			return nil, err
		}
		cmd = c
	case tagSelectChart:
		var c SelectChart
		if c.Chart, err = d.I32(); err != nil {
			return nil, err
		}
		cmd = c
	case tagRequestStart:
		cmd = RequestStart{}
	case tagReady:
		cmd = Ready{}
	case tagCancelReady:
		cmd = CancelReady{}
	case tagPlayed:
		var c Played
		if c.RecordID, err = d.I32(); err != nil {
			return nil, err
		}
		cmd = c
	case tagAbort:
		cmd = Abort{}
	default:
		return nil, fmt.Errorf("%w: client command %d", ErrUnknownTag, tag)
	}
	return cmd, nil
}
