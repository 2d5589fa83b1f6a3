package codec

import (
	"encoding/binary"
	"fmt"
)

// checksumSize is the size of the packet checksum prefix in bytes.
const checksumSize = 2

// Checksum computes the packet checksum of a plain (unswizzled) payload:
// the arithmetic sum of all byte values, truncated to 16 bits.
func Checksum(payload []byte) uint16 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}

	return uint16(sum & 0xFFFF)
}

// FramePacket builds the packet transport wire form of a plain payload:
//
//	[checksum_hi][checksum_lo][swizzled payload...]
//
// The checksum is computed over the plain bytes and sent unswizzled.
func (c *Codec) FramePacket(payload []byte) []byte {
	out := make([]byte, checksumSize+len(payload))
	binary.BigEndian.PutUint16(out[:checksumSize], Checksum(payload))
	for i, b := range payload {
		out[checksumSize+i] = c.fwd[b]
	}

	return out
}

// UnframePacket validates and strips the checksum framing of an inbound
// packet, returning the plain (unswizzled) payload.
//
// The receiver recomputes the checksum over the unswizzled body; on mismatch
// the payload is discarded and ErrChecksumMismatch returned.
func (c *Codec) UnframePacket(packet []byte) ([]byte, error) {
	if len(packet) < checksumSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}

	want := binary.BigEndian.Uint16(packet[:checksumSize])
	payload := c.Unswizzle(packet[checksumSize:])

	if got := Checksum(payload); got != want {
		return nil, fmt.Errorf("%w: wire=0x%04X, computed=0x%04X", ErrChecksumMismatch, want, got)
	}

	return payload, nil
}
