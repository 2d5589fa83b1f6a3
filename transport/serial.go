package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/openlaser/go-ruida/logger"
)

// DefaultBaudRate matches the fixed rate of controller USB-serial bridges.
const DefaultBaudRate = 921600

// Stream is the serial transport: raw swizzled bytes with no framing.
// Read(n) blocks until exactly n bytes arrived or the timeout elapsed,
// which callers rely on to read fixed-size reply frames.
type Stream struct {
	device string
	baud   int

	mu        sync.Mutex
	port      serial.Port
	timeout   atomic.Int64 // nanoseconds
	open      atomic.Bool
	connected atomic.Bool

	log logger.Logger
}

// StreamOption configures a Stream transport.
type StreamOption func(*Stream)

// WithBaudRate overrides the default baud rate.
func WithBaudRate(baud int) StreamOption {
	return func(s *Stream) { s.baud = baud }
}

// WithStreamLogger sets the logger used for transport diagnostics.
func WithStreamLogger(log logger.Logger) StreamOption {
	return func(s *Stream) { s.log = log }
}

// NewStream creates a serial transport on the given device path.
// The transport is created closed; call Open before use.
func NewStream(device string, opts ...StreamOption) *Stream {
	s := &Stream{
		device: device,
		baud:   DefaultBaudRate,
		log:    logger.GetLogger(),
	}
	s.timeout.Store(int64(DefaultTimeout))

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open opens the serial device and asserts the modem control lines the
// controller expects before it transmits.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	port, err := serial.Open(s.device, &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.device, err)
	}

	if err := port.SetDTR(true); err != nil {
		port.Close()

		return fmt.Errorf("set dtr on %s: %w", s.device, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()

		return fmt.Errorf("set rts on %s: %w", s.device, err)
	}

	s.port = port
	s.open.Store(true)

	s.log.Debug("stream transport open", "device", s.device, "baud", s.baud)

	return nil
}

// Close releases the device.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open.Store(false)
	s.connected.Store(false)

	if s.port == nil {
		return nil
	}
	port := s.port
	s.port = nil

	return port.Close()
}

// Read blocks until exactly n bytes arrived or the timeout elapsed.
// A partial read at the deadline is still ErrTimeout; the bytes stay
// unconsumed only in the sense that the caller must treat the exchange as
// failed and resynchronize with Purge.
func (s *Stream) Read(n int) ([]byte, error) {
	port := s.handle()
	if port == nil {
		return nil, ErrNotOpen
	}

	deadline := time.Now().Add(s.Timeout())
	buf := make([]byte, n)
	got := 0

	for got < n {
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, ErrTimeout
		}
		if err := port.SetReadTimeout(remain); err != nil {
			return nil, err
		}

		r, err := port.Read(buf[got:])
		if err != nil {
			if !s.open.Load() {
				return nil, ErrClosed
			}

			return nil, err
		}
		if r == 0 {
			// go.bug.st/serial signals a timeout as a zero-length read.
			return nil, ErrTimeout
		}
		got += r
	}

	return buf, nil
}

// Write sends p down the line.
func (s *Stream) Write(p []byte) error {
	port := s.handle()
	if port == nil {
		return ErrNotOpen
	}

	for len(p) > 0 {
		n, err := port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}

	return nil
}

// Purge discards all buffered inbound bytes.
func (s *Stream) Purge() error {
	port := s.handle()
	if port == nil {
		return ErrNotOpen
	}

	return port.ResetInputBuffer()
}

// Timeout returns the current read timeout.
func (s *Stream) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

// SetTimeout sets the read timeout for subsequent Read calls.
func (s *Stream) SetTimeout(d time.Duration) { s.timeout.Store(int64(d)) }

// IsOpen reports whether the device is open.
func (s *Stream) IsOpen() bool { return s.open.Load() }

// Connected reports the liveness flag maintained by the session.
func (s *Stream) Connected() bool { return s.connected.Load() }

// SetConnected sets the liveness flag.
func (s *Stream) SetConnected(v bool) { s.connected.Store(v) }

func (s *Stream) handle() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}
