// Package wire implements the binary value codec and the length-prefixed
// framing used by the game TCP protocol.
//
// All multi-byte fixed-width integers and floats are little-endian. Strings
// are UTF-8 prefixed by a ULEB128 byte length. Counts are ULEB128. Touch
// coordinates travel as 16-bit IEEE-754 half floats.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

var (
	// ErrVarintOverflow is returned when a ULEB128 value does not terminate
	// within 64 bits, or when a length field exceeds 32 bits.
	ErrVarintOverflow = errors.New("wire: varint overflow")

	// ErrShortBuffer is returned when a decode runs past the end of the payload.
	ErrShortBuffer = errors.New("wire: short buffer")

	// ErrInvalidString is returned when a decoded string is not valid UTF-8.
	ErrInvalidString = errors.New("wire: string is not valid utf-8")
)

// AppendUvarint appends v as an unsigned LEB128 varint: 7 data bits per byte,
// high bit set on every byte except the last.
func AppendUvarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// Decoder reads primitive values from a single frame payload.
// The zero offset is the start of the payload; every method advances it.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps a frame payload for decoding. The decoder does not copy buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Byte decodes a single byte.
func (d *Decoder) Byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool decodes a one-byte boolean. Any non-zero value reads as true.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.Byte()
	return b != 0, err
}

// I8 decodes a signed 8-bit integer.
func (d *Decoder) I8() (int8, error) {
	b, err := d.Byte()
	return int8(b), err
}

// U32 decodes a little-endian unsigned 32-bit integer.
func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// I32 decodes a little-endian signed 32-bit integer.
func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

// I64 decodes a little-endian signed 64-bit integer.
func (d *Decoder) I64() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// F32 decodes a little-endian IEEE-754 single-precision float.
func (d *Decoder) F32() (float32, error) {
	v, err := d.U32()
	return math.Float32frombits(v), err
}

// F16 decodes a little-endian IEEE-754 half-precision float into a float32.
func (d *Decoder) F16() (float32, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return halfToFloat32(binary.LittleEndian.Uint16(b)), nil
}

// Uvarint decodes an unsigned LEB128 varint of up to 64 bits.
func (d *Decoder) Uvarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := d.Byte()
		if err != nil {
			return 0, err
		}
		if shift == 63 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, ErrVarintOverflow
		}
	}
}

// Count decodes a ULEB128 element count and refuses values wider than 32 bits.
func (d *Decoder) Count() (int, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrVarintOverflow
	}
	return int(v), nil
}

// String decodes a ULEB128 length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	n, err := d.Count()
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

// Encoder builds a frame payload from primitive values.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with an empty payload.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Byte appends a single byte.
func (e *Encoder) Byte(b byte) {
	e.buf = append(e.buf, b)
}

// Bool appends a one-byte boolean, 0 or 1.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// I8 appends a signed 8-bit integer.
func (e *Encoder) I8(v int8) {
	e.buf = append(e.buf, byte(v))
}

// U32 appends a little-endian unsigned 32-bit integer.
func (e *Encoder) U32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// I32 appends a little-endian signed 32-bit integer.
func (e *Encoder) I32(v int32) {
	e.U32(uint32(v))
}

// I64 appends a little-endian signed 64-bit integer.
func (e *Encoder) I64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

// F32 appends a little-endian single-precision float.
func (e *Encoder) F32(v float32) {
	e.U32(math.Float32bits(v))
}

// F16 appends v as a little-endian half-precision float.
func (e *Encoder) F16(v float32) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, float32ToHalf(v))
}

// Uvarint appends an unsigned LEB128 varint.
func (e *Encoder) Uvarint(v uint64) {
	e.buf = AppendUvarint(e.buf, v)
}

// Count appends a ULEB128 element count.
func (e *Encoder) Count(n int) {
	e.Uvarint(uint64(n))
}

// String appends a ULEB128 length-prefixed UTF-8 string.
func (e *Encoder) String(s string) {
	e.Count(len(s))
	e.buf = append(e.buf, s...)
}

// halfToFloat32 widens an IEEE-754 binary16 value to binary32.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h >> 10 & 0x1f)
	frac := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize into the binary32 exponent range.
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		return math.Float32frombits(sign | e<<23 | frac<<13)
	case 0x1f:
		// Inf / NaN.
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	}
}

// float32ToHalf narrows a binary32 value to binary16, rounding to nearest even.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>31) << 15
	exp := int32(bits >> 23 & 0xff)
	frac := bits & 0x7fffff

	switch {
	case exp == 0xff:
		// Inf / NaN, keep a non-zero mantissa for NaN.
		if frac != 0 {
			return sign | 0x1f<<10 | 0x200
		}
		return sign | 0x1f<<10
	case exp > 127+15:
		// Overflow to infinity.
		return sign | 0x1f<<10
	case exp >= 127-14:
		h := sign | uint16(exp-127+15)<<10 | uint16(frac>>13)
		// Round to nearest, ties to even.
		if frac&0x1fff > 0x1000 || (frac&0x1fff == 0x1000 && h&1 == 1) {
			h++
		}
		return h
	case exp >= 127-24:
		// Subnormal half.
		frac |= 0x800000
		shift := uint32(13 + (127 - 14 - exp))
		m := frac >> shift
		rem := frac & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		h := sign | uint16(m)
		if rem > half || (rem == half && h&1 == 1) {
			h++
		}
		return h
	default:
		// Underflow to signed zero.
		return sign
	}
}
