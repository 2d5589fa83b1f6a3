package codec

// MagicRDC6445 is the magic key used by the RDC6442/6445 family and most
// other controllers observed in the wild.
const MagicRDC6445 byte = 0x88

// Magic634XG is the magic key used by the 634XG controller family.
const Magic634XG byte = 0x11

// Codec obfuscates and de-obfuscates wire bytes for a single magic key.
//
// Both directions are table-driven: the tables are built once in [NewCodec]
// and never mutated afterwards, so a Codec is safe for concurrent use.
type Codec struct {
	magic byte
	fwd   [256]byte // plain -> wire
	inv   [256]byte // wire -> plain
}

// NewCodec creates a Codec for the given magic key.
func NewCodec(magic byte) *Codec {
	c := &Codec{magic: magic}
	for i := 0; i < 256; i++ {
		w := swizzleByte(byte(i), magic)
		c.fwd[i] = w
		c.inv[w] = byte(i)
	}

	return c
}

// Magic returns the magic key this Codec was built for.
func (c *Codec) Magic() byte { return c.magic }

// SwizzleByte obfuscates a single byte.
func (c *Codec) SwizzleByte(b byte) byte { return c.fwd[b] }

// UnswizzleByte de-obfuscates a single byte.
func (c *Codec) UnswizzleByte(b byte) byte { return c.inv[b] }

// Swizzle obfuscates data into a new slice. The input is not modified.
func (c *Codec) Swizzle(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = c.fwd[b]
	}

	return out
}

// Unswizzle de-obfuscates data into a new slice. The input is not modified.
func (c *Codec) Unswizzle(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = c.inv[b]
	}

	return out
}

// swapBits07 exchanges bit 0 and bit 7 of b.
func swapBits07(b byte) byte {
	return (b & 0x7E) | ((b & 0x01) << 7) | ((b & 0x80) >> 7)
}

// swizzleByte is the reference (non-table) forward transform: exchange bits
// 0 and 7, XOR with magic, increment mod 256.
func swizzleByte(b, magic byte) byte {
	return (swapBits07(b) ^ magic) + 1
}

// unswizzleByte is the reference inverse transform: decrement mod 256, XOR
// with magic, exchange bits 0 and 7 back.
func unswizzleByte(b, magic byte) byte {
	return swapBits07((b - 1) ^ magic)
}
