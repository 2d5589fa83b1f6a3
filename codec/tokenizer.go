package codec

// SplitCommands splits a plain (unswizzled) byte stream into commands.
//
// Each command starts at a byte with the high bit set; every following byte
// with the high bit clear belongs to the same command. The concatenation of
// the returned slices is exactly the input.
//
// Returns ErrStrayOperand if the stream begins with an operand byte, since a
// command never starts mid-stream on a byte below 0x80.
func SplitCommands(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] < 0x80 {
		return nil, ErrStrayOperand
	}

	var cmds [][]byte
	start := 0
	for i := 1; i < len(data); i++ {
		if data[i] >= 0x80 {
			cmds = append(cmds, data[start:i])
			start = i
		}
	}
	cmds = append(cmds, data[start:])

	return cmds, nil
}

// Tokenizer splits an incremental plain byte stream into commands.
//
// Because command boundaries are only recognizable when the next opcode byte
// arrives, the final command of a stream stays buffered until either the next
// opcode is seen or Flush is called.
type Tokenizer struct {
	buf []byte
}

// Feed appends data to the tokenizer and returns all commands completed by
// it. Stray operand bytes arriving before any opcode are dropped; a real
// stream never begins mid-command, but a reconnect may observe a tail.
func (t *Tokenizer) Feed(data []byte) [][]byte {
	var cmds [][]byte
	for _, b := range data {
		if b >= 0x80 {
			if len(t.buf) > 0 {
				cmds = append(cmds, t.buf)
				t.buf = nil
			}
			t.buf = append(t.buf, b)

			continue
		}

		if len(t.buf) == 0 {
			// Operand byte with no opcode in progress.
			continue
		}
		t.buf = append(t.buf, b)
	}

	return cmds
}

// Pending returns the number of buffered bytes of the command in progress.
func (t *Tokenizer) Pending() int { return len(t.buf) }

// Flush returns the command in progress, if any, and resets the tokenizer.
// Call it at end-of-stream, where no further opcode will close the command.
func (t *Tokenizer) Flush() []byte {
	cmd := t.buf
	t.buf = nil

	return cmd
}
