package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlaser/go-ruida/logger"
)

// Controllers listen on UDP port 50200 and answer to source port 40200.
const (
	DefaultRemotePort = 50200
	DefaultLocalPort  = 40200

	// maxDatagram comfortably exceeds any observed controller datagram.
	maxDatagram = 2048
)

// Packet is the UDP transport. One Write is one datagram; Read returns one
// whole inbound datagram regardless of the requested size.
type Packet struct {
	host       string
	remotePort int
	localPort  int

	mu        sync.Mutex
	conn      *net.UDPConn
	remote    *net.UDPAddr
	timeout   atomic.Int64 // nanoseconds
	open      atomic.Bool
	connected atomic.Bool

	log logger.Logger
}

// PacketOption configures a Packet transport.
type PacketOption func(*Packet)

// WithPacketPorts overrides the default local and remote UDP ports.
func WithPacketPorts(local, remote int) PacketOption {
	return func(p *Packet) {
		p.localPort = local
		p.remotePort = remote
	}
}

// WithPacketLogger sets the logger used for transport diagnostics.
func WithPacketLogger(log logger.Logger) PacketOption {
	return func(p *Packet) { p.log = log }
}

// NewPacket creates a UDP transport targeting the controller at host.
// The transport is created closed; call Open before use.
func NewPacket(host string, opts ...PacketOption) *Packet {
	p := &Packet{
		host:       host,
		remotePort: DefaultRemotePort,
		localPort:  DefaultLocalPort,
		log:        logger.GetLogger(),
	}
	p.timeout.Store(int64(DefaultTimeout))

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Open binds the local port and resolves the controller address.
func (p *Packet) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", p.host, p.remotePort))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.host, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: p.localPort})
	if err != nil {
		return fmt.Errorf("bind udp :%d: %w", p.localPort, err)
	}

	p.conn = conn
	p.remote = remote
	p.open.Store(true)

	p.log.Debug("packet transport open",
		"remote", remote.String(),
		"local", conn.LocalAddr().String())

	return nil
}

// Close releases the socket. A blocked Read returns a hard error.
func (p *Packet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.open.Store(false)
	p.connected.Store(false)

	if p.conn == nil {
		return nil
	}
	conn := p.conn
	p.conn = nil

	return conn.Close()
}

// Read returns the next inbound datagram. n is ignored; datagram boundaries
// are the only framing the packet transport has.
func (p *Packet) Read(_ int) ([]byte, error) {
	conn := p.socket()
	if conn == nil {
		return nil, ErrNotOpen
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.Timeout())); err != nil {
		return nil, err
	}

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrTimeout
			}
			if !p.open.Load() {
				return nil, ErrClosed
			}

			return nil, err
		}

		// Stray datagrams from other hosts are dropped, not surfaced.
		if !addr.IP.Equal(p.remote.IP) {
			p.log.Warn("dropping datagram from unexpected source", "addr", addr.String())

			continue
		}

		return buf[:n], nil
	}
}

// Write sends p to the controller as one datagram.
func (p *Packet) Write(b []byte) error {
	conn := p.socket()
	if conn == nil {
		return ErrNotOpen
	}

	_, err := conn.WriteToUDP(b, p.remote)

	return err
}

// Purge drains buffered inbound datagrams without blocking.
func (p *Packet) Purge() error {
	conn := p.socket()
	if conn == nil {
		return ErrNotOpen
	}

	buf := make([]byte, maxDatagram)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(purgePollTimeout)); err != nil {
			return err
		}
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			return nil
		}
	}
}

// Timeout returns the current read timeout.
func (p *Packet) Timeout() time.Duration { return time.Duration(p.timeout.Load()) }

// SetTimeout sets the read timeout for subsequent Read calls.
func (p *Packet) SetTimeout(d time.Duration) { p.timeout.Store(int64(d)) }

// IsOpen reports whether the socket is bound.
func (p *Packet) IsOpen() bool { return p.open.Load() }

// Connected reports the liveness flag maintained by the session.
func (p *Packet) Connected() bool { return p.connected.Load() }

// SetConnected sets the liveness flag.
func (p *Packet) SetConnected(v bool) { p.connected.Store(v) }

func (p *Packet) socket() *net.UDPConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn
}
