package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/transport"
)

// fastConfig keeps handshake timeouts short enough for tests.
func fastConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	base := []Option{
		WithReadTimeout(20 * time.Millisecond),
		WithRetryInterval(5 * time.Millisecond),
		WithTryCount(2),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

// probeLen is the packaged size of the packet liveness probe: a 2-byte
// checksum plus one swizzled token byte.
const probeLen = 3

// ackPeer answers every write with a swizzled ACK.
func ackPeer(enc *codec.Codec) func([]byte) [][]byte {
	return func([]byte) [][]byte {
		return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
	}
}

func TestSession_SendAcked(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()
	tp.Respond(ackPeer(enc))

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.SendWait(ctx, []byte{ruida.OpProcess, ruida.ProcessStart}))
	assert.True(t, s.Connected())
	assert.Zero(t, s.RetryCount())
}

func TestSession_DroppedFirstAckResendsOnce(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()

	var dataWrites atomic.Int64
	tp.Respond(func(p []byte) [][]byte {
		if len(p) == probeLen {
			return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
		}
		if dataWrites.Add(1) == 1 {
			return nil // drop the first ACK
		}

		return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
	})

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.SendWait(ctx, []byte{ruida.OpProcess, ruida.ProcessStart}))
	assert.Equal(t, int64(2), dataWrites.Load(), "exactly one resend")
	assert.Equal(t, uint64(1), s.RetryCount())
	assert.True(t, s.Connected())
}

func TestSession_NeverRespondingEscalates(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()

	// Probes are answered only until the message shows up, so the session
	// stays disconnected after the failure instead of silently reconnecting.
	var dataWrites atomic.Int64
	tp.Respond(func(p []byte) [][]byte {
		if len(p) != probeLen {
			dataWrites.Add(1)

			return nil
		}
		if dataWrites.Load() == 0 {
			return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
		}

		return nil
	})

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.SendWait(ctx, []byte{ruida.OpProcess, ruida.ProcessStart})
	assert.ErrorIs(t, err, ErrNotResponding)
	assert.False(t, s.Connected())

	// The failed message must not be retried behind the caller's back.
	sent := dataWrites.Load()
	assert.Equal(t, int64(2), sent, "initial write plus one resend for try count 2")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, sent, dataWrites.Load())
}

func TestSession_NakResends(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()

	var dataWrites atomic.Int64
	tp.Respond(func(p []byte) [][]byte {
		if len(p) == probeLen {
			return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
		}
		if dataWrites.Add(1) == 1 {
			return [][]byte{{enc.SwizzleByte(ruida.TokNAK)}}
		}

		return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
	})

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.SendWait(ctx, []byte{ruida.OpProcess, ruida.ProcessStart}))
	assert.Equal(t, int64(2), dataWrites.Load())
	assert.Equal(t, uint64(1), s.RetryCount())
}

func TestSession_MemoryReadDeliversReply(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()
	tp.Respond(func(p []byte) [][]byte {
		ack := []byte{enc.SwizzleByte(ruida.TokACK)}
		if len(p) == probeLen {
			return [][]byte{ack}
		}

		reply := enc.Swizzle(ruida.BuildMemoryReply(ruida.MemBedWidth, 900_000))

		return [][]byte{ack, reply}
	})

	var (
		mu    sync.Mutex
		frame []byte
	)
	cfg := fastConfig(t, WithReceiveHandler(func(f []byte, err error) {
		require.NoError(t, err)
		mu.Lock()
		frame = f
		mu.Unlock()
	}))

	s := New(tp, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.SendWait(ctx, ruida.BuildMemoryGet(ruida.MemBedWidth)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frame, ruida.ReplyFrameSize)
	addr, value, err := ruida.ParseMemoryReply(frame)
	require.NoError(t, err)
	assert.Equal(t, ruida.MemBedWidth, addr)
	assert.Equal(t, uint64(900_000), value)
}

func TestSession_ReplyTimeoutInvokesFailureSentinel(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()
	// ACK the probes and the read itself, never send the reply frame, and go
	// silent once the read was seen so the failure state is observable.
	var sawRead atomic.Bool
	tp.Respond(func(p []byte) [][]byte {
		if sawRead.Load() {
			return nil
		}
		if len(p) != probeLen {
			sawRead.Store(true)
		}

		return [][]byte{{enc.SwizzleByte(ruida.TokACK)}}
	})

	var failure atomic.Bool
	cfg := fastConfig(t, WithReceiveHandler(func(f []byte, err error) {
		if err != nil {
			assert.ErrorIs(t, err, ErrNotResponding)
			assert.Nil(t, f)
			failure.Store(true)
		}
	}))

	s := New(tp, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.SendWait(ctx, ruida.BuildMemoryGet(ruida.MemCardID))
	assert.ErrorIs(t, err, ErrNotResponding)
	assert.True(t, failure.Load())
	assert.False(t, s.Connected())
}

func TestSession_StreamFraming(t *testing.T) {
	enc := codec.NewCodec(codec.Magic634XG)
	tp := transport.NewLoopback()
	tp.Respond(func(p []byte) [][]byte {
		plain := enc.Unswizzle(p)
		if ruida.IsMemoryRead(plain) {
			addr, _ := ruida.ParseMemoryGet(plain)

			return [][]byte{enc.Swizzle(ruida.BuildMemoryReply(addr, 7))}
		}

		return nil // stream peers send no ACKs
	})

	var got atomic.Uint64
	cfg := fastConfig(t,
		WithMagic(codec.Magic634XG),
		WithFraming(FramingStream),
		WithReceiveHandler(func(f []byte, err error) {
			if err == nil {
				_, v, perr := ruida.ParseMemoryReply(f)
				require.NoError(t, perr)
				got.Store(v)
			}
		}))

	s := New(tp, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Plain commands complete without any token exchange.
	require.NoError(t, s.SendWait(ctx, []byte{ruida.OpProcess, ruida.ProcessStart}))

	// Memory reads still wait for their 9-byte frame.
	require.NoError(t, s.SendWait(ctx, ruida.BuildMemoryGet(ruida.MemStorageUsed)))
	assert.Equal(t, uint64(7), got.Load())
}

func TestSession_QueueBackpressure(t *testing.T) {
	tp := transport.NewLoopback() // no responder: connect never succeeds

	cfg := fastConfig(t,
		WithQueueSize(1),
		WithEnqueueTimeout(10*time.Millisecond))
	s := New(tp, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	require.NoError(t, s.Send([]byte{ruida.OpEOF}))
	assert.ErrorIs(t, s.Send([]byte{ruida.OpEOF}), ErrQueueFull)
}

func TestSession_ConnectedHandler(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	tp := transport.NewLoopback()
	tp.Respond(ackPeer(enc))

	transitions := make(chan bool, 8)
	cfg := fastConfig(t, WithConnectedHandler(func(v bool) {
		transitions <- v
	}))

	s := New(tp, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	select {
	case v := <-transitions:
		assert.True(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected transition")
	}
}

func TestSession_CloseUnblocksSendWait(t *testing.T) {
	tp := transport.NewLoopback() // never connects

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.SendWait(context.Background(), []byte{ruida.OpEOF})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("SendWait did not return after close")
	}
}

func TestSession_OpenTwice(t *testing.T) {
	tp := transport.NewLoopback()

	s := New(tp, fastConfig(t))
	require.NoError(t, s.Open())
	defer s.Close()

	assert.ErrorIs(t, s.Open(), ErrAlreadyOpen)
}

func TestConfig_Validation(t *testing.T) {
	_, err := NewConfig(WithTryCount(0))
	assert.Error(t, err)

	_, err = NewConfig(WithReadTimeout(time.Minute))
	assert.Error(t, err)

	_, err = NewConfig(WithQueueSize(0))
	assert.Error(t, err)

	_, err = NewConfig(WithFraming(Framing(9)))
	assert.Error(t, err)

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, byte(codec.MagicRDC6445), cfg.magic)
	assert.Equal(t, DefaultTryCount, cfg.tryCount)
}
