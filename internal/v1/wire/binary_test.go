package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7f, 0x80, 0x3fff, 0x4000,
		math.MaxUint32, math.MaxUint32 + 1,
		math.MaxUint64 / 2, math.MaxUint64,
	}
	for _, v := range values {
		buf := AppendUvarint(nil, v)
		d := NewDecoder(buf)
		got, err := d.Uvarint()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, 0, d.Remaining())
	}
}

func TestUvarintOverflow(t *testing.T) {
	// Eleven continuation bytes never terminate within 64 bits.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x02}
	_, err := NewDecoder(buf).Uvarint()
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestCountRejectsWideValues(t *testing.T) {
	buf := AppendUvarint(nil, uint64(math.MaxUint32)+1)
	_, err := NewDecoder(buf).Count()
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestPrimitiveRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.Byte(0x2a)
	e.Bool(true)
	e.Bool(false)
	e.I8(-5)
	e.U32(0xdeadbeef)
	e.I32(-123456)
	e.I64(-9123456789)
	e.F32(3.5)
	e.String("hello 世界")

	d := NewDecoder(e.Bytes())
	b, err := d.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x2a), b)

	v, err := d.Bool()
	require.NoError(t, err)
	assert.True(t, v)
	v, err = d.Bool()
	require.NoError(t, err)
	assert.False(t, v)

	i8, err := d.I8()
	require.NoError(t, err)
	assert.Equal(t, int8(-5), i8)

	u32, err := d.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)

	i32, err := d.I32()
	require.NoError(t, err)
	assert.Equal(t, int32(-123456), i32)

	i64, err := d.I64()
	require.NoError(t, err)
	assert.Equal(t, int64(-9123456789), i64)

	f32, err := d.F32()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f32)

	s, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "hello 世界", s)

	assert.Equal(t, 0, d.Remaining())
}

func TestStringRejectsInvalidUTF8(t *testing.T) {
	buf := append(AppendUvarint(nil, 2), 0xff, 0xfe)
	_, err := NewDecoder(buf).String()
	assert.ErrorIs(t, err, ErrInvalidString)
}

func TestShortBuffer(t *testing.T) {
	d := NewDecoder([]byte{0x01})
	_, err := d.U32()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestHalfFloatRoundTrip(t *testing.T) {
	// Every value here is exactly representable in binary16.
	values := []float32{0, 1, -1, 0.5, -0.25, 0.75, 2048, -2048, 65504, -65504}
	for _, v := range values {
		e := NewEncoder()
		e.F16(v)
		got, err := NewDecoder(e.Bytes()).F16()
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %v", v)
	}
}

func TestHalfFloatSpecials(t *testing.T) {
	e := NewEncoder()
	e.F16(float32(math.Inf(1)))
	e.F16(float32(math.Inf(-1)))
	e.F16(float32(math.NaN()))
	e.F16(1e9) // overflows to +Inf

	d := NewDecoder(e.Bytes())
	v, err := d.F16()
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(v), 1))

	v, err = d.F16()
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(v), -1))

	v, err = d.F16()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(v)))

	v, err = d.F16()
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(v), 1))
}

func TestHalfFloatExhaustiveWidenNarrow(t *testing.T) {
	// Widening then narrowing must reproduce every finite half bit pattern.
	for h := 0; h <= 0xffff; h++ {
		if h>>10&0x1f == 0x1f {
			continue // Inf/NaN patterns are not canonical
		}
		f := halfToFloat32(uint16(h))
		back := float32ToHalf(f)
		require.Equal(t, uint16(h), back, "half bits %#04x", h)
	}
}
