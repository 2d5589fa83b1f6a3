package codec

import "math"

// Value ranges of the 7-bit group encodings.
const (
	// MaxU14 is the largest value representable in two 7-bit groups.
	MaxU14 = 0x3FFF

	// MaxRel14 is the largest magnitude of a signed 14-bit relative offset.
	MaxRel14 = 0x1FFF

	// u35Mask keeps the low 35 bits of a sign-extended value.
	u35Mask = 0x7_FFFF_FFFF

	// PowerScale is the number of power units per 100%.
	PowerScale = 16384
)

// EncodeU14 appends v as two big-endian 7-bit groups to dst and returns the
// extended slice. Values above MaxU14 are truncated to 14 bits.
func EncodeU14(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>7)&0x7F, byte(v)&0x7F)
}

// DecodeU14 decodes two 7-bit groups into an unsigned 14-bit value.
func DecodeU14(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, newShortError("u14", 2, len(b))
	}

	return uint16(b[0]&0x7F)<<7 | uint16(b[1]&0x7F), nil
}

// EncodeS14 appends a signed relative offset in [-MaxRel14, MaxRel14] as two
// 7-bit groups using 14-bit two's complement.
func EncodeS14(dst []byte, v int16) []byte {
	return EncodeU14(dst, uint16(v)&MaxU14)
}

// DecodeS14 decodes two 7-bit groups as a 14-bit two's complement offset.
func DecodeS14(b []byte) (int16, error) {
	u, err := DecodeU14(b)
	if err != nil {
		return 0, err
	}
	if u > MaxRel14 {
		return int16(u) - (MaxU14 + 1), nil
	}

	return int16(u), nil
}

// EncodeU35 appends v as five big-endian 7-bit groups (a 35-bit field).
func EncodeU35(dst []byte, v uint64) []byte {
	v &= u35Mask

	return append(dst,
		byte(v>>28)&0x7F,
		byte(v>>21)&0x7F,
		byte(v>>14)&0x7F,
		byte(v>>7)&0x7F,
		byte(v)&0x7F,
	)
}

// DecodeU35 decodes five 7-bit groups into an unsigned 35-bit value.
func DecodeU35(b []byte) (uint64, error) {
	if len(b) < 5 {
		return 0, newShortError("u35", 5, len(b))
	}

	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<7 | uint64(b[i]&0x7F)
	}

	return v, nil
}

// EncodeS35 appends a signed 32-bit value sign-extended into a 35-bit field.
// Coordinates, which may be negative for relative origins, use this form.
func EncodeS35(dst []byte, v int32) []byte {
	return EncodeU35(dst, uint64(int64(v))&u35Mask)
}

// DecodeS35 decodes a 35-bit field and reinterprets it as a signed 32-bit
// value: field values above 0x7FFFFFFF wrap negative. This matters for
// relative and negative moves.
func DecodeS35(b []byte) (int32, error) {
	u, err := DecodeU35(b)
	if err != nil {
		return 0, err
	}

	return int32(uint32(u)), nil
}

// EncodePower converts a power percentage (0-100) to protocol units, where
// PowerScale units equal 100%.
func EncodePower(percent float64) uint16 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return uint16(math.Round(percent * (PowerScale - 1) / 100.0))
}

// DecodePower converts protocol power units back to a percentage.
func DecodePower(v uint16) float64 {
	return float64(v) * 100.0 / (PowerScale - 1)
}

// EncodeSpeed converts a speed in mm/s to its 35-bit wire value, which is
// the physical value × 1000 (µm/s). Time values use the same ×1000 scaling
// (seconds on the API, milliseconds on the wire).
func EncodeSpeed(mmPerSec float64) uint64 {
	if mmPerSec < 0 {
		mmPerSec = 0
	}

	return uint64(math.Round(mmPerSec * 1000.0))
}

// DecodeSpeed converts a 35-bit wire speed value back to mm/s.
func DecodeSpeed(v uint64) float64 {
	return float64(v) / 1000.0
}

// EncodeFrequency converts a laser frequency in Hz to its 35-bit wire value.
// Frequency is carried raw, with no fixed-point scaling.
func EncodeFrequency(hz uint32) uint64 {
	return uint64(hz)
}

// DecodeFrequency converts a 35-bit wire frequency value back to Hz.
func DecodeFrequency(v uint64) uint32 {
	return uint32(v)
}
