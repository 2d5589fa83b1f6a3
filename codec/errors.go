package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors for codec failures.
var (
	// ErrShortCommand indicates a command had fewer operand bytes than its
	// opcode requires.
	ErrShortCommand = errors.New("codec: short command")

	// ErrUnknownOpcode indicates an opcode value outside the known
	// vocabulary.
	ErrUnknownOpcode = errors.New("codec: unknown opcode")

	// ErrChecksumMismatch indicates a packet whose checksum does not match
	// its unswizzled body.
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")

	// ErrShortPacket indicates a packet too small to carry a checksum.
	ErrShortPacket = errors.New("codec: packet shorter than checksum")

	// ErrStrayOperand indicates a byte stream that begins with an operand
	// byte (high bit clear) instead of an opcode.
	ErrStrayOperand = errors.New("codec: stream starts mid-command")

	// ErrEmptyStream indicates there was no data to inspect.
	ErrEmptyStream = errors.New("codec: empty stream")
)

// DecodeError describes a failure to decode one field or command, carrying
// enough context for the caller to decide between skip-and-log and abort.
type DecodeError struct {
	// Field names what was being decoded ("u14", "u35", or an operation name).
	Field string
	// Opcode is the command's opcode byte, when known.
	Opcode byte
	// Want and Got are the expected and available byte counts for short
	// reads, zero otherwise.
	Want, Got int

	err error
}

func (e *DecodeError) Error() string {
	if e.Opcode != 0 {
		return fmt.Sprintf("codec: decode %s (opcode 0x%02X): %v", e.Field, e.Opcode, e.err)
	}

	return fmt.Sprintf("codec: decode %s: %v", e.Field, e.err)
}

func (e *DecodeError) Unwrap() error { return e.err }

// newShortError builds a DecodeError for a truncated field.
func newShortError(field string, want, got int) *DecodeError {
	return &DecodeError{
		Field: field,
		Want:  want,
		Got:   got,
		err:   fmt.Errorf("%w: want %d bytes, got %d", ErrShortCommand, want, got),
	}
}

// NewCommandError builds a DecodeError attributed to a whole command.
func NewCommandError(field string, opcode byte, err error) *DecodeError {
	return &DecodeError{Field: field, Opcode: opcode, err: err}
}
