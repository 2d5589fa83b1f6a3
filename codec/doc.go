// Package codec implements the low-level byte encodings of the Ruida laser
// controller wire protocol: the swizzle byte obfuscation, the 7-bit-clean
// integer groups, the fixed-point scalings for power, speed, time and
// frequency, the additive 16-bit checksum used for packet framing, and the
// command-boundary tokenizer.
//
// # Swizzle
//
// Every byte on the wire is obfuscated with a reversible transform
// parameterized by a one-byte "magic" key that both endpoints must agree on:
// bits 0 and 7 are exchanged, the result is XORed with the magic, then
// incremented mod 256. A [Codec] value owns precomputed forward and inverse
// 256-entry lookup tables for one magic key.
//
// # Commands
//
// A command is a variable-length byte sequence whose first byte has the high
// bit set; all following bytes have the high bit clear. This property makes
// command boundaries recoverable from a raw byte stream without per-opcode
// length tables, which [SplitCommands] and [Tokenizer] rely on.
package codec
