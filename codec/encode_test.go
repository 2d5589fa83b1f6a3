package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeU14_RoundTrip(t *testing.T) {
	for v := 0; v <= MaxU14; v++ {
		b := EncodeU14(nil, uint16(v))
		require.Len(t, b, 2)
		require.LessOrEqual(t, b[0], byte(0x7F), "groups must be 7-bit clean")
		require.LessOrEqual(t, b[1], byte(0x7F))

		got, err := DecodeU14(b)
		require.NoError(t, err)
		require.Equal(t, uint16(v), got)
	}
}

func TestDecodeU14_Short(t *testing.T) {
	_, err := DecodeU14([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortCommand)
}

func TestEncodeS14_RoundTrip(t *testing.T) {
	for _, v := range []int16{-MaxRel14, -8190, -1, 0, 1, 100, MaxRel14} {
		b := EncodeS14(nil, v)
		got, err := DecodeS14(b)
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %d", v)
	}
}

func TestEncodeS35_SignedRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 1000, -1000, 0x7FFFFFFF, -0x80000000, 2147483000, -2147483000}
	for _, v := range values {
		b := EncodeS35(nil, v)
		require.Len(t, b, 5)
		for _, g := range b {
			require.LessOrEqual(t, g, byte(0x7F))
		}

		got, err := DecodeS35(b)
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %d", v)
	}
}

func TestDecodeS35_WrapsNegative(t *testing.T) {
	// A 35-bit field holding 0xFFFFFFFF must decode as -1 after the signed
	// 32-bit reinterpretation.
	b := EncodeU35(nil, 0xFFFFFFFF)
	got, err := DecodeS35(b)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got)
}

func TestEncodeU35_RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 34, u35Mask} {
		b := EncodeU35(nil, v)
		got, err := DecodeU35(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEncodePower(t *testing.T) {
	assert.Equal(t, uint16(0), EncodePower(0))
	assert.Equal(t, uint16(PowerScale-1), EncodePower(100))
	assert.Equal(t, uint16(PowerScale-1), EncodePower(150), "clamped above 100%")
	assert.Equal(t, uint16(0), EncodePower(-5), "clamped below 0%")

	// 50% should land at half scale within rounding.
	half := EncodePower(50)
	assert.InDelta(t, (PowerScale-1)/2, int(half), 1)
	assert.InDelta(t, 50.0, DecodePower(half), 0.01)
}

func TestEncodeSpeed(t *testing.T) {
	assert.Equal(t, uint64(25000), EncodeSpeed(25.0), "25 mm/s is 25000 µm/s on the wire")
	assert.Equal(t, 25.0, DecodeSpeed(25000))
	assert.Equal(t, uint64(0), EncodeSpeed(-1))
}

func TestEncodeFrequency(t *testing.T) {
	assert.Equal(t, uint64(20000), EncodeFrequency(20000))
	assert.Equal(t, uint32(20000), DecodeFrequency(20000))
}
