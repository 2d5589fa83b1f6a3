package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlaser/go-ruida/internal/pool"
)

// Loopback is an in-memory transport for tests and offline decoding. It
// keeps datagram semantics: every injected chunk is returned by one Read,
// and every Write is recorded as one chunk.
//
// A responder function, when set, sees each written chunk and returns the
// chunks the fake peer answers with.
type Loopback struct {
	mu      sync.Mutex
	writes  [][]byte
	respond func(p []byte) [][]byte

	inbound chan []byte
	done    chan struct{}

	timeout   atomic.Int64
	open      atomic.Bool
	connected atomic.Bool
}

// NewLoopback creates a Loopback transport. It still requires Open, like
// the real transports.
func NewLoopback() *Loopback {
	l := &Loopback{
		inbound: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	l.timeout.Store(int64(DefaultTimeout))

	return l
}

// Respond installs the fake peer: fn is called under no locks with each
// written chunk and its returned chunks are queued for subsequent Reads.
func (l *Loopback) Respond(fn func(p []byte) [][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.respond = fn
}

// Inject queues one inbound chunk.
func (l *Loopback) Inject(p []byte) {
	l.inbound <- append([]byte(nil), p...)
}

// Writes returns a copy of all chunks written so far.
func (l *Loopback) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]byte, len(l.writes))
	copy(out, l.writes)

	return out
}

// Open marks the transport usable. Reopening after Close is allowed, as on
// the real transports.
func (l *Loopback) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open.Load() {
		l.done = make(chan struct{})
		l.open.Store(true)
	}

	return nil
}

// Close wakes any blocked Read with ErrClosed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open.CompareAndSwap(true, false) {
		l.connected.Store(false)
		close(l.done)
	}

	return nil
}

// Read returns the next queued chunk, blocking up to the configured timeout.
func (l *Loopback) Read(_ int) ([]byte, error) {
	if !l.open.Load() {
		return nil, ErrNotOpen
	}

	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	timer := pool.GetTimer(l.Timeout())
	defer pool.PutTimer(timer)

	select {
	case p := <-l.inbound:
		return p, nil
	case <-done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Write records the chunk and feeds it to the responder, if any.
func (l *Loopback) Write(p []byte) error {
	if !l.open.Load() {
		return ErrNotOpen
	}

	cp := append([]byte(nil), p...)

	l.mu.Lock()
	l.writes = append(l.writes, cp)
	respond := l.respond
	l.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(cp) {
			l.Inject(reply)
		}
	}

	return nil
}

// Purge discards all queued inbound chunks.
func (l *Loopback) Purge() error {
	for {
		select {
		case <-l.inbound:
		default:
			return nil
		}
	}
}

// Timeout returns the current read timeout.
func (l *Loopback) Timeout() time.Duration { return time.Duration(l.timeout.Load()) }

// SetTimeout sets the read timeout for subsequent Read calls.
func (l *Loopback) SetTimeout(d time.Duration) { l.timeout.Store(int64(d)) }

// IsOpen reports whether the transport is open.
func (l *Loopback) IsOpen() bool { return l.open.Load() }

// Connected reports the liveness flag maintained by the session.
func (l *Loopback) Connected() bool { return l.connected.Load() }

// SetConnected sets the liveness flag.
func (l *Loopback) SetConnected(v bool) { l.connected.Store(v) }
