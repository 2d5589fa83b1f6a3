package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/session"
	"github.com/openlaser/go-ruida/transport"
)

// fiveKProgram builds a 5000-byte program out of 1000 five-byte relative
// moves.
func fiveKProgram(t *testing.T) *ruida.Program {
	t.Helper()

	p := ruida.NewProgram()
	for i := 0; i < 1000; i++ {
		require.NoError(t, p.MoveRel(1, 1))
	}
	require.Equal(t, 5000, p.Len())

	return p
}

func TestChunkProgram_FiveChunks(t *testing.T) {
	prog := fiveKProgram(t)

	chunks, err := ChunkProgram(prog, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	var rejoined []byte
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)

		// Every chunk starts and ends on a command boundary.
		cmds, err := codec.SplitCommands(chunk)
		require.NoError(t, err)
		for _, cmd := range cmds {
			assert.Len(t, cmd, 5)
		}

		rejoined = append(rejoined, chunk...)
	}
	assert.Equal(t, prog.Bytes(), rejoined)
}

func TestChunkProgram_Errors(t *testing.T) {
	_, err := ChunkProgram(ruida.NewProgram(), 1000)
	assert.ErrorIs(t, err, ErrEmptyProgram)

	prog := ruida.NewProgram()
	require.NoError(t, prog.MoveAbs(1, 2)) // 11 bytes
	_, err = ChunkProgram(prog, 4)
	assert.ErrorIs(t, err, ErrCommandTooLarge)
}

func TestChunkProgram_SingleChunk(t *testing.T) {
	prog := ruida.NewProgram()
	require.NoError(t, prog.MoveAbs(1, 2))
	require.NoError(t, prog.EOF())

	chunks, err := ChunkProgram(prog, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, prog.Bytes(), chunks[0])
}

// ackLoopback builds an opened session over a loopback whose peer ACKs
// every packet after delay.
func ackLoopback(t *testing.T, delay time.Duration) (*session.Session, *transport.Loopback) {
	t.Helper()

	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()
	tp.Respond(func(p []byte) [][]byte {
		if delay > 0 && len(p) > 3 {
			time.Sleep(delay)
		}

		return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
	})

	cfg, err := session.NewConfig(
		session.WithReadTimeout(50*time.Millisecond),
		session.WithRetryInterval(5*time.Millisecond))
	require.NoError(t, err)

	s := session.New(tp, cfg)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })

	return s, tp
}

func TestController_SendProgram(t *testing.T) {
	sess, tp := ackLoopback(t, 0)
	ctrl := New(sess)

	prog := fiveKProgram(t)
	results := make(chan JobResult, 1)

	id, err := ctrl.SendProgram(context.Background(), prog, func(r JobResult) {
		results <- r
	})
	require.NoError(t, err)

	var result JobResult
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
	}

	require.NoError(t, result.Err)
	assert.Equal(t, id, result.ID)
	assert.Equal(t, 5, result.Chunks)
	assert.Equal(t, 5000, result.Bytes)

	// Reassemble the job from the wire: drop probe packets, strip the
	// checksum framing, unswizzle, and compare against the program bytes.
	enc := codec.NewCodec(codec.MagicRDC6445)

	var wire []byte
	for _, w := range tp.Writes() {
		if len(w) <= 3 {
			continue
		}
		payload, err := enc.UnframePacket(w)
		require.NoError(t, err)
		wire = append(wire, payload...)
	}
	assert.Equal(t, prog.Bytes(), wire, "chunks arrive in order")
}

func TestController_OneJobAtATime(t *testing.T) {
	sess, _ := ackLoopback(t, 20*time.Millisecond)
	ctrl := New(sess)

	prog := fiveKProgram(t)
	done := make(chan JobResult, 2)
	collect := func(r JobResult) { done <- r }

	_, err := ctrl.SendProgram(context.Background(), prog, collect)
	require.NoError(t, err)

	_, err = ctrl.SendProgram(context.Background(), prog, collect)
	assert.ErrorIs(t, err, ErrJobInProgress)

	select {
	case r := <-done:
		require.NoError(t, r.Err)
	case <-time.After(10 * time.Second):
		t.Fatal("first job did not complete")
	}

	// The slot frees up once the first job finished.
	assert.Eventually(t, func() bool {
		_, err := ctrl.SendProgram(context.Background(), prog, collect)

		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestController_AbortsOnDeadLink(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()

	// ACK probes, never the job chunks.
	tp.Respond(func(p []byte) [][]byte {
		if len(p) == 3 {
			return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
		}

		return nil
	})

	cfg, err := session.NewConfig(
		session.WithReadTimeout(10*time.Millisecond),
		session.WithRetryInterval(5*time.Millisecond),
		session.WithTryCount(2))
	require.NoError(t, err)

	sess := session.New(tp, cfg)
	require.NoError(t, sess.Open())
	defer sess.Close()

	ctrl := New(sess)
	results := make(chan JobResult, 1)

	_, err = ctrl.SendProgram(context.Background(), fiveKProgram(t), func(r JobResult) {
		results <- r
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		assert.ErrorIs(t, r.Err, session.ErrNotResponding)
		assert.Less(t, r.Bytes, 5000, "job aborted before completion")
	case <-time.After(10 * time.Second):
		t.Fatal("job did not fail")
	}
}
