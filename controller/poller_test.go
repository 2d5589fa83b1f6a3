package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/session"
	"github.com/openlaser/go-ruida/transport"
)

// statusPeer answers probes with ACK and memory reads with ACK plus a reply
// frame holding a fixed per-address value.
func statusPeer(enc *codec.Codec, values map[uint16]uint64) func([]byte) [][]byte {
	return func(p []byte) [][]byte {
		ack := []byte{enc.SwizzleByte(ruida.TokACK)}

		plain, err := enc.UnframePacket(p)
		if err != nil || !ruida.IsMemoryRead(plain) {
			return [][]byte{ack}
		}

		addr, _ := ruida.ParseMemoryGet(plain)

		return [][]byte{ack, enc.Swizzle(ruida.BuildMemoryReply(addr, values[addr]))}
	}
}

func pollerSession(t *testing.T, peer func([]byte) [][]byte) *session.Session {
	t.Helper()

	tp := transport.NewLoopback()
	tp.Respond(peer)

	cfg, err := session.NewConfig(
		session.WithReadTimeout(50*time.Millisecond),
		session.WithRetryInterval(5*time.Millisecond))
	require.NoError(t, err)

	s := session.New(tp, cfg)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })

	return s
}

func TestPoller_PositionAndStatus(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	sess := pollerSession(t, statusPeer(enc, map[uint16]uint64{
		ruida.MemMachineStatus: ruida.StatusRunning,
		ruida.MemAxisXPos:      2000,
		ruida.MemAxisYPos:      4000,
	}))

	ctrl := New(sess)
	p := ctrl.Poller()
	p.SetInterval(10 * time.Millisecond)
	p.SetScale(2.0)

	var (
		mu     sync.Mutex
		x, y   float64
		gotPos bool
		status uint64
	)
	p.OnPosition(func(px, py float64) {
		mu.Lock()
		x, y, gotPos = px, py, true
		mu.Unlock()
	})
	p.OnStatus(func(s uint64) {
		mu.Lock()
		status = s
		mu.Unlock()
	})

	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return gotPos && status == ruida.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.InDelta(t, 1000.0, x, 0.001)
	assert.InDelta(t, 2000.0, y, 0.001)
	mu.Unlock()

	// The cycle advanced through all three addresses.
	for _, addr := range []uint16{ruida.MemMachineStatus, ruida.MemAxisXPos, ruida.MemAxisYPos} {
		_, ok := p.Latest(addr)
		assert.True(t, ok, "no reply recorded for 0x%04X", addr)
	}
}

func TestPoller_SkipsTicksDuringBulkSend(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	sess := pollerSession(t, statusPeer(enc, nil))

	ctrl := New(sess)
	p := ctrl.Poller()
	p.SetInterval(5 * time.Millisecond)

	// Wait for the session to come up, then grab the bulk-send lock.
	require.Eventually(t, func() bool { return sess.Connected() },
		5*time.Second, 5*time.Millisecond)

	sess.SendLock()
	defer sess.SendUnlock()

	p.Start()
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	_, polled := p.Latest(ruida.MemMachineStatus)
	assert.False(t, polled, "no polls while the bulk-send lock is held")
}

func TestPoller_StuckAddressIsReissued(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)

	// The status address never answers; position addresses would, but the
	// poller must not advance past the stuck probe to reach them.
	peer := func(p []byte) [][]byte {
		ack := []byte{enc.SwizzleByte(ruida.TokACK)}

		plain, err := enc.UnframePacket(p)
		if err != nil || !ruida.IsMemoryRead(plain) {
			return [][]byte{ack}
		}
		addr, _ := ruida.ParseMemoryGet(plain)
		if addr == ruida.MemMachineStatus {
			return [][]byte{ack}
		}

		return [][]byte{ack, enc.Swizzle(ruida.BuildMemoryReply(addr, 1))}
	}

	sess := pollerSession(t, peer)
	ctrl := New(sess)
	p := ctrl.Poller()
	p.SetInterval(10 * time.Millisecond)
	p.Start()
	defer p.Stop()

	time.Sleep(300 * time.Millisecond)

	_, gotX := p.Latest(ruida.MemAxisXPos)
	assert.False(t, gotX, "poller advanced past a stuck address")
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	enc := codec.NewCodec(codec.MagicRDC6445)
	sess := pollerSession(t, statusPeer(enc, nil))

	p := New(sess).Poller()
	p.SetInterval(10 * time.Millisecond)

	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
