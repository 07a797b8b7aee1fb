package protocol

import (
	"fmt"

	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

// Message is a broadcast event inside a room. Messages ride inside the
// server's Message command and share one tag space.
type Message interface {
	messageTag() byte
}

const (
	msgChat         byte = 0
	msgCreateRoom   byte = 1
	msgJoinRoom     byte = 2
	msgLeaveRoom    byte = 3
	msgNewHost      byte = 4
	msgSelectChart  byte = 5
	msgGameStart    byte = 6
	msgReady        byte = 7
	msgCancelReady  byte = 8
	msgCancelGame   byte = 9
	msgStartPlaying byte = 10
	msgPlayed       byte = 11
	msgGameEnd      byte = 12
	msgAbort        byte = 13
	msgLockRoom     byte = 14
	msgCycleRoom    byte = 15
)

// MsgChat carries a chat line; user 0 is the server itself.
type MsgChat struct {
	User    int32
	Content string
}

// MsgCreateRoom announces the room creator.
type MsgCreateRoom struct {
	User int32
}

// MsgJoinRoom announces a new member.
type MsgJoinRoom struct {
	User int32
	Name string
}

// MsgLeaveRoom announces a departure.
type MsgLeaveRoom struct {
	User int32
	Name string
}

// MsgNewHost announces host succession.
type MsgNewHost struct {
	User int32
}

// MsgSelectChart announces the selected chart with its resolved name.
type MsgSelectChart struct {
	User  int32
	Name  string
	Chart int32
}

// MsgGameStart announces the host starting the ready-up phase.
type MsgGameStart struct {
	User int32
}

// MsgReady announces a member going ready.
type MsgReady struct {
	User int32
}

// MsgCancelReady announces a member withdrawing readiness.
type MsgCancelReady struct {
	User int32
}

// MsgCancelGame announces the host cancelling the ready-up phase.
type MsgCancelGame struct {
	User int32
}

// MsgStartPlaying announces entry into the Playing stage.
type MsgStartPlaying struct{}

// MsgPlayed announces an accepted play result.
type MsgPlayed struct {
	User      int32
	Score     int32
	Accuracy  float32
	FullCombo bool
}

// MsgGameEnd announces the end of a play.
type MsgGameEnd struct{}

// MsgAbort announces an abandoned play.
type MsgAbort struct {
	User int32
}

// MsgLockRoom announces a lock flag change.
type MsgLockRoom struct {
	Locked bool
}

// MsgCycleRoom announces a cycle flag change.
type MsgCycleRoom struct {
	Cycle bool
}

func (MsgChat) messageTag() byte         { return msgChat }
func (MsgCreateRoom) messageTag() byte   { return msgCreateRoom }
func (MsgJoinRoom) messageTag() byte     { return msgJoinRoom }
func (MsgLeaveRoom) messageTag() byte    { return msgLeaveRoom }
func (MsgNewHost) messageTag() byte      { return msgNewHost }
func (MsgSelectChart) messageTag() byte  { return msgSelectChart }
func (MsgGameStart) messageTag() byte    { return msgGameStart }
func (MsgReady) messageTag() byte        { return msgReady }
func (MsgCancelReady) messageTag() byte  { return msgCancelReady }
func (MsgCancelGame) messageTag() byte   { return msgCancelGame }
func (MsgStartPlaying) messageTag() byte { return msgStartPlaying }
func (MsgPlayed) messageTag() byte       { return msgPlayed }
func (MsgGameEnd) messageTag() byte      { return msgGameEnd }
func (MsgAbort) messageTag() byte        { return msgAbort }
func (MsgLockRoom) messageTag() byte     { return msgLockRoom }
func (MsgCycleRoom) messageTag() byte    { return msgCycleRoom }

func encodeMessage(e *wire.Encoder, m Message) {
	e.Byte(m.messageTag())
	switch v := m.(type) {
	case MsgChat:
		e.I32(v.User)
		e.String(v.Content)
	case MsgCreateRoom:
		e.I32(v.User)
	case MsgJoinRoom:
		e.I32(v.User)
		e.String(v.Name)
	case MsgLeaveRoom:
		e.I32(v.User)
		e.String(v.Name)
	case MsgNewHost:
		e.I32(v.User)
	case MsgSelectChart:
		e.I32(v.User)
		e.String(v.Name)
		e.I32(v.Chart)
	case MsgGameStart:
		e.I32(v.User)
	case MsgReady:
		e.I32(v.User)
	case MsgCancelReady:
		e.I32(v.User)
	case MsgCancelGame:
		e.I32(v.User)
	case MsgStartPlaying, MsgGameEnd:
	case MsgPlayed:
		e.I32(v.User)
		e.I32(v.Score)
		e.F32(v.Accuracy)
		e.Bool(v.FullCombo)
	case MsgAbort:
		e.I32(v.User)
	case MsgLockRoom:
		e.Bool(v.Locked)
	case MsgCycleRoom:
		e.Bool(v.Cycle)
	}
}

func decodeMessage(d *wire.Decoder) (Message, error) {
	tag, err := d.Byte()
	if err != nil {
		return nil, err
	}
	readUser := func() (int32, error) { return d.I32() }
	switch tag {
	case msgChat:
		var m MsgChat
		if m.User, err = readUser(); err != nil {
			return nil, err
		}
		if m.Content, err = d.String(); err != nil {
			return nil, err
		}
		return m, nil
	case msgCreateRoom:
		var m MsgCreateRoom
		m.User, err = readUser()
		return m, err
	case msgJoinRoom:
		var m MsgJoinRoom
		if m.User, err = readUser(); err != nil {
			return nil, err
		}
		m.Name, err = d.String()
		return m, err
	case msgLeaveRoom:
		var m MsgLeaveRoom
		if m.User, err = readUser(); err != nil {
			return nil, err
		}
		m.Name, err = d.String()
		return m, err
	case msgNewHost:
		var m MsgNewHost
		m.User, err = readUser()
		return m, err
	case msgSelectChart:
		var m MsgSelectChart
		if m.User, err = readUser(); err != nil {
			return nil, err
		}
		if m.Name, err = d.String(); err != nil {
			return nil, err
		}
		m.Chart, err = d.I32()
		return m, err
	case msgGameStart:
		var m MsgGameStart
		m.User, err = readUser()
		return m, err
	case msgReady:
		var m MsgReady
		m.User, err = readUser()
		return m, err
	case msgCancelReady:
		var m MsgCancelReady
		m.User, err = readUser()
		return m, err
	case msgCancelGame:
		var m MsgCancelGame
		m.User, err = readUser()
		return m, err
	case msgStartPlaying:
		return MsgStartPlaying{}, nil
	case msgPlayed:
		var m MsgPlayed
		if m.User, err = readUser(); err != nil {
			return nil, err
		}
		if m.Score, err = d.I32(); err != nil {
			return nil, err
		}
		if m.Accuracy, err = d.F32(); err != nil {
			return nil, err
		}
		m.FullCombo, err = d.Bool()
		return m, err
	case msgGameEnd:
		return MsgGameEnd{}, nil
	case msgAbort:
		var m MsgAbort
		m.User, err = readUser()
		return m, err
	case msgLockRoom:
		var m MsgLockRoom
		m.Locked, err = d.Bool()
		return m, err
	case msgCycleRoom:
		var m MsgCycleRoom
		m.Cycle, err = d.Bool()
		return m, err
	default:
		return nil, fmt.Errorf("%w: message %d", ErrUnknownTag, tag)
	}
}
