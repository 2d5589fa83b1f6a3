package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/logger"
)

// Framing selects how outgoing commands are packaged for the wire.
type Framing int

const (
	// FramingPacket prepends the 16-bit checksum to the swizzled payload and
	// runs the ACK handshake after every write. Used over UDP.
	FramingPacket Framing = iota
	// FramingStream writes raw swizzled bytes with no checksum and no ACK.
	// Used over serial links, which carry only memory-read replies inbound.
	FramingStream
)

// Config holds the parameters of a Session. Use NewConfig with Option values
// to build one; the zero value is not usable.
type Config struct {
	magic   byte
	framing Framing

	// readTimeout bounds each transport read attempt: one ACK wait, one
	// reply wait, one connect probe answer.
	readTimeout time.Duration
	// tryCount is how many consecutive read timeouts on one message are
	// tolerated before the link is declared not responding.
	tryCount int
	// queueSize bounds the outgoing command queue.
	queueSize int
	// enqueueTimeout is how long producers block on a full queue before the
	// message is dropped with ErrQueueFull.
	enqueueTimeout time.Duration
	// retryInterval is the pause between failed connect probes.
	retryInterval time.Duration

	onReceive   ReceiveHandler
	onConnected ConnectedHandler

	logger logger.Logger
}

// ReceiveHandler consumes memory-read replies: the plain (unswizzled) 9-byte
// frame, or a nil frame with ErrNotResponding when the reply never arrived.
type ReceiveHandler func(frame []byte, err error)

// ConnectedHandler observes liveness transitions.
type ConnectedHandler func(connected bool)

// Configuration defaults and bounds.
const (
	DefaultReadTimeout    = 500 * time.Millisecond
	DefaultTryCount       = 3
	DefaultQueueSize      = 64
	DefaultEnqueueTimeout = 2 * time.Second
	DefaultRetryInterval  = 200 * time.Millisecond

	minReadTimeout = time.Millisecond
	maxReadTimeout = 30 * time.Second
	minTryCount    = 1
	maxTryCount    = 10
	minQueueSize   = 1
	maxQueueSize   = 4096
)

// NewConfig builds a Config with defaults applied and every option
// validated.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		magic:          codec.MagicRDC6445,
		framing:        FramingPacket,
		readTimeout:    DefaultReadTimeout,
		tryCount:       DefaultTryCount,
		queueSize:      DefaultQueueSize,
		enqueueTimeout: DefaultEnqueueTimeout,
		retryInterval:  DefaultRetryInterval,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures a Session at construction time.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithMagic sets the swizzle magic key shared with the controller.
func WithMagic(magic byte) Option {
	return newOptFunc("WithMagic", func(cfg *Config) error {
		cfg.magic = magic

		return nil
	})
}

// WithFraming selects packet or stream packaging.
func WithFraming(f Framing) Option {
	return newOptFunc("WithFraming", func(cfg *Config) error {
		if f != FramingPacket && f != FramingStream {
			return fmt.Errorf("framing %d: %w", f, errInvalidOption)
		}
		cfg.framing = f

		return nil
	})
}

// WithReadTimeout sets the per-attempt read timeout, between 1ms and 30s.
func WithReadTimeout(d time.Duration) Option {
	return newOptFunc("WithReadTimeout", func(cfg *Config) error {
		if d < minReadTimeout || d > maxReadTimeout {
			return fmt.Errorf("read timeout %v out of range [%v, %v]: %w",
				d, minReadTimeout, maxReadTimeout, errInvalidOption)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithTryCount sets how many consecutive timeouts escalate to
// not-responding, between 1 and 10.
func WithTryCount(n int) Option {
	return newOptFunc("WithTryCount", func(cfg *Config) error {
		if n < minTryCount || n > maxTryCount {
			return fmt.Errorf("try count %d out of range [%d, %d]: %w",
				n, minTryCount, maxTryCount, errInvalidOption)
		}
		cfg.tryCount = n

		return nil
	})
}

// WithQueueSize sets the outgoing queue capacity, between 1 and 4096.
func WithQueueSize(n int) Option {
	return newOptFunc("WithQueueSize", func(cfg *Config) error {
		if n < minQueueSize || n > maxQueueSize {
			return fmt.Errorf("queue size %d out of range [%d, %d]: %w",
				n, minQueueSize, maxQueueSize, errInvalidOption)
		}
		cfg.queueSize = n

		return nil
	})
}

// WithEnqueueTimeout sets how long producers block on a full queue.
func WithEnqueueTimeout(d time.Duration) Option {
	return newOptFunc("WithEnqueueTimeout", func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("enqueue timeout %v must be positive: %w", d, errInvalidOption)
		}
		cfg.enqueueTimeout = d

		return nil
	})
}

// WithRetryInterval sets the pause between failed connect probes.
func WithRetryInterval(d time.Duration) Option {
	return newOptFunc("WithRetryInterval", func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("retry interval %v must be positive: %w", d, errInvalidOption)
		}
		cfg.retryInterval = d

		return nil
	})
}

// WithReceiveHandler registers the memory-read reply consumer.
func WithReceiveHandler(fn ReceiveHandler) Option {
	return newOptFunc("WithReceiveHandler", func(cfg *Config) error {
		cfg.onReceive = fn

		return nil
	})
}

// WithConnectedHandler registers a liveness transition observer.
func WithConnectedHandler(fn ConnectedHandler) Option {
	return newOptFunc("WithConnectedHandler", func(cfg *Config) error {
		cfg.onConnected = fn

		return nil
	})
}

// WithLogger sets the session logger.
func WithLogger(log logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if log == nil {
			return fmt.Errorf("nil logger: %w", errInvalidOption)
		}
		cfg.logger = log

		return nil
	})
}

var errInvalidOption = errors.New("session: invalid option")
