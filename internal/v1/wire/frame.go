package wire

import (
	"errors"
	"io"
	"math"
)

// MaxFrameLen bounds a single frame payload. Anything larger is a fatal
// stream error.
const MaxFrameLen = 2 << 20 // 2 MiB

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// ByteStream is the reader a frame decoder needs; *bufio.Reader satisfies it.
type ByteStream interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads one ULEB128 length-prefixed frame from r and returns its
// payload. Length prefixes wider than 32 bits are refused. EOF mid-length or
// mid-payload breaks the stream.
func ReadFrame(r ByteStream) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload to w prefixed by its ULEB128 length.
// The two segments are written back to back; the caller flushes.
func WriteFrame(w io.Writer, payload []byte) error {
	hdr := AppendUvarint(make([]byte, 0, 5), uint64(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readLength decodes the frame length prefix, rejecting varints that do not
// fit in 32 bits.
func readLength(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && shift > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if v > math.MaxUint32 {
				return 0, ErrVarintOverflow
			}
			return v, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, ErrVarintOverflow
		}
	}
}
