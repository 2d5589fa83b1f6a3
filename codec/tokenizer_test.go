package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommands(t *testing.T) {
	stream := bytes.Join([][]byte{
		{0x88, 0x00, 0x00, 0x00, 0x07, 0x68, 0x00, 0x00, 0x00, 0x0F, 0x50},
		{0xA9, 0x03, 0x7F, 0x00, 0x10},
		{0xCC},
		{0xDA, 0x00, 0x05, 0x7E},
	}, nil)

	cmds, err := SplitCommands(stream)
	require.NoError(t, err)
	require.Len(t, cmds, 4)
	assert.Equal(t, byte(0x88), cmds[0][0])
	assert.Equal(t, byte(0xA9), cmds[1][0])
	assert.Equal(t, []byte{0xCC}, cmds[2])
	assert.Equal(t, []byte{0xDA, 0x00, 0x05, 0x7E}, cmds[3])

	// Re-concatenation must reproduce the original stream exactly.
	assert.Equal(t, stream, bytes.Join(cmds, nil))
}

func TestSplitCommands_Empty(t *testing.T) {
	cmds, err := SplitCommands(nil)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestSplitCommands_StrayOperand(t *testing.T) {
	_, err := SplitCommands([]byte{0x10, 0x88})
	assert.ErrorIs(t, err, ErrStrayOperand)
}

func TestTokenizer_IncrementalFeed(t *testing.T) {
	var tk Tokenizer

	// Feed a command split across arbitrary chunk boundaries.
	cmds := tk.Feed([]byte{0x88, 0x00, 0x01})
	assert.Empty(t, cmds, "command not complete until next opcode arrives")
	assert.Equal(t, 3, tk.Pending())

	cmds = tk.Feed([]byte{0x02, 0x03, 0xA8})
	require.Len(t, cmds, 1)
	assert.Equal(t, []byte{0x88, 0x00, 0x01, 0x02, 0x03}, cmds[0])

	cmds = tk.Feed([]byte{0x10, 0x20})
	assert.Empty(t, cmds)

	tail := tk.Flush()
	assert.Equal(t, []byte{0xA8, 0x10, 0x20}, tail)
	assert.Zero(t, tk.Pending())
}

func TestTokenizer_DropsLeadingOperands(t *testing.T) {
	var tk Tokenizer
	cmds := tk.Feed([]byte{0x11, 0x22, 0xCC, 0xCD})
	require.Len(t, cmds, 1)
	assert.Equal(t, []byte{0xCC}, cmds[0])
	assert.Equal(t, []byte{0xCD}, tk.Flush())
}
