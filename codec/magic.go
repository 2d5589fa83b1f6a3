package codec

// SniffMagic recovers the magic key of a swizzled capture by frequency
// analysis.
//
// Coordinate operands are dominated by zero-valued bytes, so the most common
// byte of a swizzled stream is assumed to decode to zero. Since
// swizzle(0, magic) == magic+1 for every magic, the key is the mode byte
// minus one.
//
// The caller should verify the result by unswizzling the stream and checking
// that it tokenizes into plausible commands; a short or atypical capture can
// defeat the histogram.
func SniffMagic(stream []byte) (byte, error) {
	if len(stream) == 0 {
		return 0, ErrEmptyStream
	}

	var hist [256]int
	for _, b := range stream {
		hist[b]++
	}

	mode := 0
	for i := 1; i < 256; i++ {
		if hist[i] > hist[mode] {
			mode = i
		}
	}

	return byte(mode) - 1, nil
}
