package controller

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/session"
)

// DefaultPositionScale converts raw device position units to µm. It is an
// empirically measured calibration constant; re-derive it per machine when
// positions drift.
const DefaultPositionScale = 2.5801195035

// DefaultPollInterval is the pause between status poll ticks.
const DefaultPollInterval = 250 * time.Millisecond

// PositionHandler receives scene positions in µm.
type PositionHandler func(x, y float64)

// StatusHandler receives the raw machine status word.
type StatusHandler func(status uint64)

// Poller cycles through a fixed list of memory addresses, one read per tick,
// advancing to the next address only after the current one answered. Ticks
// are skipped entirely while a bulk send holds the session lock, so polling
// never interleaves with job bytes on the wire.
type Poller struct {
	sess *session.Session
	log  logger.Logger

	interval time.Duration
	scale    float64
	// offsetX/offsetY are subtracted from scaled positions; they depend on
	// where the machine origin sits relative to the bed.
	offsetX float64
	offsetY float64

	addrs []uint16
	idx   atomic.Int32

	// latest raw reply per address, for diagnostics.
	latest *xsync.MapOf[uint16, uint64]

	mu         sync.Mutex
	onPosition PositionHandler
	onStatus   StatusHandler
	x, y       float64
	haveX      bool

	done    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

func newPoller(sess *session.Session, log logger.Logger) *Poller {
	return &Poller{
		sess:     sess,
		log:      log,
		interval: DefaultPollInterval,
		scale:    DefaultPositionScale,
		addrs:    []uint16{ruida.MemMachineStatus, ruida.MemAxisXPos, ruida.MemAxisYPos},
		latest:   xsync.NewMapOf[uint16, uint64](),
	}
}

// SetInterval sets the tick interval. Call before Start.
func (p *Poller) SetInterval(d time.Duration) { p.interval = d }

// SetScale sets the raw-to-µm position scale. Call before Start.
func (p *Poller) SetScale(scale float64) { p.scale = scale }

// SetOffsets sets the scene origin offsets in µm. Call before Start.
func (p *Poller) SetOffsets(x, y float64) {
	p.offsetX = x
	p.offsetY = y
}

// SetAddresses replaces the polled address cycle. Call before Start.
func (p *Poller) SetAddresses(addrs []uint16) {
	p.addrs = append([]uint16(nil), addrs...)
}

// OnPosition registers the scene position consumer.
func (p *Poller) OnPosition(fn PositionHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPosition = fn
}

// OnStatus registers the status word consumer.
func (p *Poller) OnStatus(fn StatusHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = fn
}

// Latest returns the last raw value received for addr.
func (p *Poller) Latest(addr uint16) (uint64, bool) {
	return p.latest.Load(addr)
}

// Start registers the reply handler and launches the tick loop.
func (p *Poller) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	p.done = make(chan struct{})
	p.sess.OnReceive(p.handleReply)

	p.wg.Add(1)
	go p.loop()
}

// Stop halts the tick loop.
func (p *Poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	close(p.done)
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.done:
			return
		}
	}
}

// tick issues one read of the current address. The same address is issued
// again next tick unless its reply arrived meanwhile; a stuck probe is never
// silently skipped.
func (p *Poller) tick() {
	if !p.sess.TrySendLock() {
		return // bulk send in progress
	}
	defer p.sess.SendUnlock()

	if !p.sess.Connected() {
		return
	}

	addr := p.addrs[int(p.idx.Load())%len(p.addrs)]
	if err := p.sess.Send(ruida.BuildMemoryGet(addr)); err != nil {
		p.log.Warn("status poll enqueue failed", "addr", addr, "error", err)
	}
}

func (p *Poller) handleReply(frame []byte, err error) {
	if err != nil {
		// Timed out; the same address will be re-issued on the next tick.
		return
	}

	addr, value, perr := ruida.ParseMemoryReply(frame)
	if perr != nil {
		p.log.Warn("unparseable status reply", "error", perr)

		return
	}

	cur := p.addrs[int(p.idx.Load())%len(p.addrs)]
	if addr == cur {
		p.idx.Add(1)
	}

	p.latest.Store(addr, value)
	p.dispatch(addr, value)
}

func (p *Poller) dispatch(addr uint16, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch addr {
	case ruida.MemAxisXPos:
		p.x = p.scene(value, p.offsetX)
		p.haveX = true

	case ruida.MemAxisYPos:
		p.y = p.scene(value, p.offsetY)
		if p.haveX && p.onPosition != nil {
			p.onPosition(p.x, p.y)
		}

	case ruida.MemMachineStatus:
		if p.onStatus != nil {
			p.onStatus(value)
		}
	}
}

// scene converts a raw position value to scene µm.
func (p *Poller) scene(raw uint64, offset float64) float64 {
	return float64(int32(uint32(raw)))/p.scale - offset
}
