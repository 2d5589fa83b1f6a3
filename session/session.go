// Package session implements the handshake engine that moves commands over
// an unreliable link: connect probing, the per-message ACK exchange, memory
// read replies, bounded retries and not-responding escalation.
//
// Exactly one goroutine, the protocol loop, performs all transport reads and
// writes. Producers only enqueue; the loop packages each message (swizzle,
// plus checksum framing on the packet transport), writes it, and runs the
// token exchange the wire requires.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/internal/pool"
	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/transport"
)

// Session errors.
var (
	// ErrNotResponding means the link exhausted its retry budget. The failed
	// message is abandoned, not silently retried; the caller must resubmit.
	ErrNotResponding = errors.New("session: device not responding")
	// ErrQueueFull means the outgoing queue stayed full past the enqueue
	// timeout and the message was dropped.
	ErrQueueFull = errors.New("session: outgoing queue full")
	// ErrClosed means the session was shut down.
	ErrClosed = errors.New("session: closed")
	// ErrAlreadyOpen is returned by Open on a running session.
	ErrAlreadyOpen = errors.New("session: already open")
)

// State is the handshake engine state, visible for diagnostics and tests.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateIdle
	StateAckPending
	StateReplyPending
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateAckPending:
		return "ack-pending"
	case StateReplyPending:
		return "reply-pending"
	default:
		return "unknown"
	}
}

// probeAddr is the memory address read as a liveness probe on stream
// transports, which have no bare token semantics. The card ID is constant
// and side-effect free.
const probeAddr = ruida.MemCardID

// reopenEvery is how many failed connect probes pass between transport
// reopen attempts.
const reopenEvery = 5

type message struct {
	cmd  []byte
	done chan error // buffered 1 when the producer waits, else nil
}

// Session runs the handshake protocol over one transport.
type Session struct {
	cfg *Config
	tp  transport.Transport
	enc *codec.Codec
	log logger.Logger

	queue chan *message

	opened atomic.Bool
	state  atomic.Int32
	done   chan struct{}
	wg     sync.WaitGroup

	// sendMu serializes bulk job transmission against status polling.
	sendMu sync.Mutex

	recvMu    sync.Mutex
	onReceive ReceiveHandler

	sentCount  atomic.Uint64
	retryCount atomic.Uint64
}

// New creates a Session over tp. cfg may be nil for all defaults.
func New(tp transport.Transport, cfg *Config) *Session {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	s := &Session{
		cfg:       cfg,
		tp:        tp,
		enc:       codec.NewCodec(cfg.magic),
		log:       cfg.logger,
		queue:     make(chan *message, cfg.queueSize),
		onReceive: cfg.onReceive,
	}
	s.state.Store(int32(StateClosed))

	return s
}

// Open opens the transport and starts the protocol loop.
func (s *Session) Open() error {
	if !s.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	if err := s.tp.Open(); err != nil {
		s.opened.Store(false)

		return err
	}
	s.tp.SetTimeout(s.cfg.readTimeout)

	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop()

	return nil
}

// Close stops the protocol loop and closes the transport. Messages still
// queued fail with ErrClosed.
func (s *Session) Close() error {
	if !s.opened.CompareAndSwap(true, false) {
		return nil
	}

	close(s.done)
	err := s.tp.Close()
	s.wg.Wait()
	s.setState(StateClosed)

	for {
		select {
		case msg := <-s.queue:
			msg.fail(ErrClosed)
		default:
			return err
		}
	}
}

// Send enqueues one plain command buffer, blocking up to the enqueue
// timeout when the queue is full. It returns before the command reached the
// wire; use SendWait to observe the exchange outcome.
func (s *Session) Send(cmd []byte) error {
	return s.enqueue(&message{cmd: cloneBytes(cmd)})
}

// SendWait enqueues one plain command buffer and blocks until its handshake
// completed, failed, or ctx ended.
func (s *Session) SendWait(ctx context.Context, cmd []byte) error {
	msg := &message{cmd: cloneBytes(cmd), done: make(chan error, 1)}
	if err := s.enqueue(msg); err != nil {
		return err
	}

	select {
	case err := <-msg.done:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendLock acquires the bulk-send lock, serializing job transmission
// against the status poller.
func (s *Session) SendLock() { s.sendMu.Lock() }

// TrySendLock acquires the bulk-send lock without blocking. The status
// poller uses it to skip ticks while a job is on the wire.
func (s *Session) TrySendLock() bool { return s.sendMu.TryLock() }

// SendUnlock releases the bulk-send lock.
func (s *Session) SendUnlock() { s.sendMu.Unlock() }

// OnReceive replaces the memory-read reply handler.
func (s *Session) OnReceive(fn ReceiveHandler) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.onReceive = fn
}

// Connected reports whether the link answered its last exchange.
func (s *Session) Connected() bool { return s.tp.Connected() }

// State returns the current engine state.
func (s *Session) State() State { return State(s.state.Load()) }

// SentCount returns the number of packaged writes, resends included.
func (s *Session) SentCount() uint64 { return s.sentCount.Load() }

// RetryCount returns the number of resends.
func (s *Session) RetryCount() uint64 { return s.retryCount.Load() }

func (s *Session) enqueue(msg *message) error {
	if !s.opened.Load() {
		return ErrClosed
	}

	timer := pool.GetTimer(s.cfg.enqueueTimeout)
	defer pool.PutTimer(timer)

	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-timer.C:
		s.log.Warn("outgoing queue full, dropping message", "len", len(msg.cmd))

		return ErrQueueFull
	}
}

// loop is the protocol loop; it owns every transport read and write.
func (s *Session) loop() {
	defer s.wg.Done()

	for {
		if s.isClosing() {
			return
		}

		if !s.tp.Connected() {
			if !s.connect() {
				return
			}
		}

		s.setState(StateIdle)

		select {
		case msg := <-s.queue:
			msg.fail(s.dispatch(msg.cmd))
		case <-s.done:
			return
		}
	}
}

// connect probes the link until it answers. It returns false only when the
// session is closing.
func (s *Session) connect() bool {
	s.setState(StateConnecting)
	probe := s.probeCmd()

	for attempt := 1; ; attempt++ {
		if s.isClosing() {
			return false
		}

		if err := s.tp.Open(); err != nil {
			s.log.Warn("transport open failed", "error", err)
			if !s.sleep(s.cfg.retryInterval) {
				return false
			}

			continue
		}

		if s.probeOnce(probe) {
			_ = s.tp.Purge()
			s.tp.SetConnected(true)
			s.notifyConnected(true)
			s.log.Info("device responding", "attempts", attempt)

			// Prime the queue with the probe so the first real send does
			// not pay for waking the link up.
			select {
			case s.queue <- &message{cmd: probe}:
			default:
			}

			return true
		}

		if attempt%reopenEvery == 0 {
			_ = s.tp.Close()
		}
		if !s.sleep(s.cfg.retryInterval) {
			return false
		}
	}
}

// probeCmd returns the plain liveness probe for the configured framing.
func (s *Session) probeCmd() []byte {
	if s.cfg.framing == FramingStream {
		return ruida.BuildMemoryGet(probeAddr)
	}

	return []byte{ruida.TokENQ}
}

// probeOnce writes one packaged probe and reads its answer.
func (s *Session) probeOnce(probe []byte) bool {
	if err := s.tp.Write(s.pack(probe)); err != nil {
		s.log.Debug("probe write failed", "error", err)

		return false
	}

	want := 1
	if s.cfg.framing == FramingStream {
		want = ruida.ReplyFrameSize
	}

	reply, err := s.tp.Read(want)
	if err != nil {
		s.log.Debug("probe read failed", "error", err)

		return false
	}

	return len(reply) > 0
}

// pack packages a plain command for the wire.
func (s *Session) pack(cmd []byte) []byte {
	if s.cfg.framing == FramingPacket {
		return s.enc.FramePacket(cmd)
	}

	return s.enc.Swizzle(cmd)
}

// dispatch runs the full handshake for one message: write, ACK exchange on
// the packet transport, reply wait for memory reads.
func (s *Session) dispatch(cmd []byte) error {
	replyPending := ruida.IsMemoryRead(cmd)
	pkg := s.pack(cmd)

	if err := s.write(pkg); err != nil {
		return err
	}

	if s.cfg.framing == FramingPacket {
		if err := s.awaitAck(pkg); err != nil {
			return err
		}
	}

	if replyPending {
		return s.awaitReply()
	}

	return nil
}

func (s *Session) write(pkg []byte) error {
	if err := s.tp.Write(pkg); err != nil {
		s.log.Error("transport write failed", "error", err)
		s.notResponding()

		return fmt.Errorf("%w: %w", ErrNotResponding, err)
	}
	s.sentCount.Add(1)

	return nil
}

// awaitAck reads tokens until the message is acknowledged. A NAK or a read
// timeout resends the same packaged bytes; an ENQ or keep-alive is counted
// and waited out. After tryCount consecutive timeouts the message is
// abandoned and the link declared not responding.
func (s *Session) awaitAck(pkg []byte) error {
	s.setState(StateAckPending)

	timeouts := 0
	for {
		if s.isClosing() {
			return ErrClosed
		}

		data, err := s.tp.Read(1)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			timeouts++
			if timeouts >= s.cfg.tryCount {
				s.log.Warn("no ack", "timeouts", timeouts)
				s.notResponding()

				return ErrNotResponding
			}
			if err := s.resend(pkg); err != nil {
				return err
			}

			continue

		case err != nil:
			s.log.Error("ack read failed", "error", err)
			s.notResponding()

			return fmt.Errorf("%w: %w", ErrNotResponding, err)
		}

		if len(data) != 1 {
			s.log.Warn("unexpected datagram while waiting for ack", "len", len(data))

			continue
		}

		switch s.enc.UnswizzleByte(data[0]) {
		case ruida.TokACK:
			return nil
		case ruida.TokNAK:
			if err := s.resend(pkg); err != nil {
				return err
			}
		case ruida.TokENQ, ruida.TokKeepAlive:
			// The device is alive but busy; keep waiting.
		default:
			s.log.Warn("unexpected token while waiting for ack", "byte", data[0])
		}
	}
}

func (s *Session) resend(pkg []byte) error {
	s.retryCount.Add(1)

	return s.write(pkg)
}

// awaitReply reads the fixed 9-byte reply frame of a memory read and hands
// the plain frame to the receive handler. On repeated timeout the handler
// gets ErrNotResponding instead and the link reconnects.
func (s *Session) awaitReply() error {
	s.setState(StateReplyPending)

	timeouts := 0
	for {
		if s.isClosing() {
			return ErrClosed
		}

		frame, err := s.tp.Read(ruida.ReplyFrameSize)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			timeouts++
			if timeouts >= s.cfg.tryCount {
				s.log.Warn("no reply", "timeouts", timeouts)
				s.deliver(nil, ErrNotResponding)
				s.notResponding()

				return ErrNotResponding
			}

			continue

		case err != nil:
			s.log.Error("reply read failed", "error", err)
			s.deliver(nil, ErrNotResponding)
			s.notResponding()

			return fmt.Errorf("%w: %w", ErrNotResponding, err)
		}

		plain := s.enc.Unswizzle(frame)
		if len(plain) != ruida.ReplyFrameSize {
			s.log.Warn("unexpected reply frame", "len", len(plain))

			continue
		}

		s.deliver(plain, nil)

		return nil
	}
}

func (s *Session) deliver(frame []byte, err error) {
	s.recvMu.Lock()
	fn := s.onReceive
	s.recvMu.Unlock()

	if fn != nil {
		fn(frame, err)
	}
}

func (s *Session) notResponding() {
	if s.tp.Connected() {
		s.tp.SetConnected(false)
		s.notifyConnected(false)
	}
}

func (s *Session) notifyConnected(v bool) {
	if s.cfg.onConnected != nil {
		s.cfg.onConnected(v)
	}
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) isClosing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// sleep pauses for d, returning false when the session closed meanwhile.
func (s *Session) sleep(d time.Duration) bool {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	}
}

func (m *message) fail(err error) {
	if m.done != nil {
		m.done <- err
	}
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
