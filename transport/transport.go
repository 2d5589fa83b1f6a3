// Package transport provides the byte-level links a session runs over: a
// UDP packet transport, a serial stream transport, and an in-memory loopback
// for tests and offline decoding.
//
// All transports share the same contract: Read blocks up to the configured
// timeout and returns ErrTimeout on expiry, Purge drains buffered inbound
// bytes without blocking, and exactly one goroutine (the session's protocol
// loop) performs Read/Write calls.
package transport

import (
	"errors"
	"time"
)

// Transport errors.
var (
	// ErrTimeout is returned by Read when no data arrived within the
	// configured timeout. It is recoverable; the session uses it as its
	// liveness signal.
	ErrTimeout = errors.New("transport: read timeout")
	// ErrNotOpen is returned by operations on a transport that is not open.
	ErrNotOpen = errors.New("transport: not open")
	// ErrClosed is returned when the transport was closed mid-operation.
	ErrClosed = errors.New("transport: closed")
)

// Default timing parameters.
const (
	DefaultTimeout = 500 * time.Millisecond
	// purgePollTimeout bounds each drain read during Purge.
	purgePollTimeout = 5 * time.Millisecond
)

// Transport is a half-duplex byte link to a controller.
//
// Read on the packet transport returns one whole datagram regardless of n;
// on the stream transport it blocks until exactly n bytes arrived or the
// timeout elapsed. Message boundaries therefore exist only on the packet
// transport.
//
// Connected is a liveness flag owned by the session: the transport merely
// stores it so status consumers can ask the link, not the session.
type Transport interface {
	Open() error
	Close() error

	// Read returns received bytes, blocking up to the configured timeout.
	// It returns ErrTimeout on expiry and a hard error when the link broke.
	Read(n int) ([]byte, error)
	// Write sends p in one unit (one datagram on the packet transport).
	Write(p []byte) error
	// Purge drains all currently buffered inbound bytes without blocking.
	Purge() error

	SetTimeout(d time.Duration)
	IsOpen() bool

	Connected() bool
	SetConnected(v bool)
}
