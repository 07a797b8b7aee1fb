// Package protocol defines the typed command families that travel over the
// game TCP stream, together with their tagged binary encodings. The tag to
// decoder tables in this package are the single source of truth for the wire
// format.
package protocol

import (
	"errors"
	"fmt"

	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

// ErrUnknownTag is returned when a frame carries a tag outside the known
// command or message space. Unknown tags are fatal for the stream.
var ErrUnknownTag = errors.New("protocol: unknown tag")

// Stage is the lifecycle phase of a room as seen on the wire.
type Stage byte

const (
	StageSelectChart     Stage = 0
	StageWaitingForReady Stage = 1
	StagePlaying         Stage = 2
)

func (s Stage) String() string {
	switch s {
	case StageSelectChart:
		return "SelectChart"
	case StageWaitingForReady:
		return "WaitingForReady"
	case StagePlaying:
		return "Playing"
	default:
		return fmt.Sprintf("Stage(%d)", byte(s))
	}
}

func decodeStage(d *wire.Decoder) (Stage, error) {
	b, err := d.Byte()
	if err != nil {
		return 0, err
	}
	if b > byte(StagePlaying) {
		return 0, fmt.Errorf("%w: room stage %d", ErrUnknownTag, b)
	}
	return Stage(b), nil
}

// UserInfo identifies a user inside a room.
type UserInfo struct {
	ID      int32
	Name    string
	Monitor bool
}

func (u UserInfo) encode(e *wire.Encoder) {
	e.I32(u.ID)
	e.String(u.Name)
	e.Bool(u.Monitor)
}

func decodeUserInfo(d *wire.Decoder) (UserInfo, error) {
	var u UserInfo
	var err error
	if u.ID, err = d.I32(); err != nil {
		return u, err
	}
	if u.Name, err = d.String(); err != nil {
		return u, err
	}
	u.Monitor, err = d.Bool()
	return u, err
}

// TouchPoint is a single pointer sample inside a touch frame. Coordinates
// travel as half floats.
type TouchPoint struct {
	Pointer int8
	X, Y    float32
}

// TouchFrame groups the pointer samples reported at one game time.
type TouchFrame struct {
	Time   float32
	Points []TouchPoint
}

// JudgeEvent is a single judgement reported by the playing client. The server
// relays and records it without interpreting the outcome.
type JudgeEvent struct {
	Time      float32
	Line      uint32
	Note      uint32
	Judgement uint8
}

// ClientRoomState is the full room view sent to a reconnecting user in the
// authenticate response.
type ClientRoomState struct {
	ID      string
	Stage   Stage
	Live    bool
	Locked  bool
	Cycle   bool
	IsHost  bool
	IsReady bool
	Users   []UserInfo
	Chart   *int32
}

func (s ClientRoomState) encode(e *wire.Encoder) {
	e.String(s.ID)
	e.Byte(byte(s.Stage))
	e.Bool(s.Live)
	e.Bool(s.Locked)
	e.Bool(s.Cycle)
	e.Bool(s.IsHost)
	e.Bool(s.IsReady)
	e.Count(len(s.Users))
	for _, u := range s.Users {
		e.I32(u.ID)
		u.encode(e)
	}
	encodeOptI32(e, s.Chart)
}

func decodeClientRoomState(d *wire.Decoder) (ClientRoomState, error) {
	var s ClientRoomState
	var err error
	if s.ID, err = d.String(); err != nil {
		return s, err
	}
	if s.Stage, err = decodeStage(d); err != nil {
		return s, err
	}
	for _, dst := range []*bool{&s.Live, &s.Locked, &s.Cycle, &s.IsHost, &s.IsReady} {
		if *dst, err = d.Bool(); err != nil {
			return s, err
		}
	}
	n, err := d.Count()
	if err != nil {
		return s, err
	}
	for i := 0; i < n; i++ {
		if _, err = d.I32(); err != nil { // id key, repeated inside UserInfo
			return s, err
		}
		u, err := decodeUserInfo(d)
		if err != nil {
			return s, err
		}
		s.Users = append(s.Users, u)
	}
	s.Chart, err = decodeOptI32(d)
	return s, err
}

// JoinRoomResponse is the success payload of a join.
type JoinRoomResponse struct {
	Stage Stage
	Users []UserInfo
	Live  bool
}

func (r JoinRoomResponse) encode(e *wire.Encoder) {
	e.Byte(byte(r.Stage))
	e.Count(len(r.Users))
	for _, u := range r.Users {
		u.encode(e)
	}
	e.Bool(r.Live)
}

func decodeJoinRoomResponse(d *wire.Decoder) (JoinRoomResponse, error) {
	var r JoinRoomResponse
	var err error
	if r.Stage, err = decodeStage(d); err != nil {
		return r, err
	}
	n, err := d.Count()
	if err != nil {
		return r, err
	}
	for i := 0; i < n; i++ {
		u, err := decodeUserInfo(d)
		if err != nil {
			return r, err
		}
		r.Users = append(r.Users, u)
	}
	r.Live, err = d.Bool()
	return r, err
}

func encodeOptI32(e *wire.Encoder, v *int32) {
	if v == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	e.I32(*v)
}

func decodeOptI32(d *wire.Decoder) (*int32, error) {
	ok, err := d.Bool()
	if err != nil || !ok {
		return nil, err
	}
	v, err := d.I32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// encodeResult writes the result<T> preamble: a success flag, and the error
// string when the flag is false. The caller writes the success payload.
func encodeResult(e *wire.Encoder, errMsg string) bool {
	ok := errMsg == ""
	e.Bool(ok)
	if !ok {
		e.String(errMsg)
	}
	return ok
}

// decodeResult reads the result<T> preamble; a non-empty return means failure.
func decodeResult(d *wire.Decoder) (string, bool, error) {
	ok, err := d.Bool()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	msg, err := d.String()
	return msg, false, err
}

func encodeTouchFrames(e *wire.Encoder, frames []TouchFrame) {
	e.Count(len(frames))
	for _, f := range frames {
		e.F32(f.Time)
		e.Count(len(f.Points))
		for _, p := range f.Points {
			e.I8(p.Pointer)
			e.F16(p.X)
			e.F16(p.Y)
		}
	}
}

func decodeTouchFrames(d *wire.Decoder) ([]TouchFrame, error) {
	n, err := d.Count()
	if err != nil {
		return nil, err
	}
	// A frame is at least 5 bytes on the wire (time + point count); capping
	// the preallocation keeps a declared count from allocating beyond what
	// the payload could possibly hold.
	frames := make([]TouchFrame, 0, capByRemaining(n, 5, d.Remaining()))
	for i := 0; i < n; i++ {
		var f TouchFrame
		if f.Time, err = d.F32(); err != nil {
			return nil, err
		}
		m, err := d.Count()
		if err != nil {
			return nil, err
		}
		for j := 0; j < m; j++ {
			var p TouchPoint
			if p.Pointer, err = d.I8(); err != nil {
				return nil, err
			}
			if p.X, err = d.F16(); err != nil {
				return nil, err
			}
			if p.Y, err = d.F16(); err != nil {
				return nil, err
			}
			f.Points = append(f.Points, p)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// capByRemaining bounds a decoded element count by the bytes left in the
// buffer, so hostile counts cannot force a huge allocation up front.
func capByRemaining(n, minElemSize, remaining int) int {
	if limit := remaining / minElemSize; n > limit {
		return limit
	}
	return n
}

func encodeJudgeEvents(e *wire.Encoder, judges []JudgeEvent) {
	e.Count(len(judges))
	for _, j := range judges {
		e.F32(j.Time)
		e.U32(j.Line)
		e.U32(j.Note)
		e.Byte(j.Judgement)
	}
}

func decodeJudgeEvents(d *wire.Decoder) ([]JudgeEvent, error) {
	n, err := d.Count()
	if err != nil {
		return nil, err
	}
	// 13 bytes per event on the wire; see decodeTouchFrames.
	judges := make([]JudgeEvent, 0, capByRemaining(n, 13, d.Remaining()))
	for i := 0; i < n; i++ {
		var j JudgeEvent
		if j.Time, err = d.F32(); err != nil {
			return nil, err
		}
		if j.Line, err = d.U32(); err != nil {
			return nil, err
		}
		if j.Note, err = d.U32(); err != nil {
			return nil, err
		}
		if j.Judgement, err = d.Byte(); err != nil {
			return nil, err
		}
		judges = append(judges, j)
	}
	return judges, nil
}
