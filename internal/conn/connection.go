// Package conn is the framed connection: one secure transport, a reader
// goroutine that decodes envelopes and posts them to the loop, and a
// single writer goroutine that serializes every outbound frame.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/frame"
	"github.com/danmuck/castctl/internal/router"
	"github.com/danmuck/castctl/internal/transport"
)

// Connection owns the transport and the router. Router and timer state
// belong to the loop; Send, Fail, and Close are safe from any goroutine.
type Connection struct {
	loop      *loop.Loop
	router    *router.Router
	limits    frame.Limits
	transport transport.Config
	logger    zerolog.Logger

	mu      sync.Mutex
	tr      *transport.Transport
	closing bool
	queue   [][]byte
	wake    chan struct{}

	requestIDs atomic.Uint64

	// loop-only
	shutdownStarted bool

	closeOnce  sync.Once
	cause      error
	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
}

type Option func(*Connection)

func WithLimits(limits frame.Limits) Option {
	return func(c *Connection) { c.limits = limits }
}

func WithTransportConfig(cfg transport.Config) Option {
	return func(c *Connection) { c.transport = cfg }
}

func New(lp *loop.Loop, opts ...Option) *Connection {
	c := &Connection{
		loop:       lp,
		router:     router.New(),
		limits:     frame.DefaultLimits(),
		transport:  transport.DefaultConfig(),
		logger:     observability.Component("conn"),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) Loop() *loop.Loop { return c.loop }

// NextRequestID returns a request id unique for this connection. Zero is
// reserved for unsolicited pushes and never returned.
func (c *Connection) NextRequestID() uint64 {
	return c.requestIDs.Add(1)
}

// Router must only be used on the loop.
func (c *Connection) Router() *router.Router { return c.router }

// Connect dials host:port and starts the read and write goroutines.
// Failures are returned wrapped in protocol.ErrConnect and leave the
// connection unused.
func (c *Connection) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.closing || c.tr != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection already used", protocol.ErrConnect)
	}
	c.mu.Unlock()

	tr, err := transport.Dial(ctx, host, port, c.transport)
	if err != nil {
		observability.RecordConnectionFailure("connect")
		c.logger.Debug().Str("host", host).Int("port", port).Err(err).Msg("connect failed")
		return err
	}
	if err := c.Attach(tr); err != nil {
		_ = tr.Close()
		return err
	}
	c.logger.Debug().Str("host", host).Int("port", port).Msg("connected")
	return nil
}

// Attach adopts an established transport.
func (c *Connection) Attach(tr *transport.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.tr != nil {
		return fmt.Errorf("%w: connection already used", protocol.ErrConnect)
	}
	c.tr = tr
	go c.readLoop(tr)
	go c.writeLoop(tr)
	return nil
}

// Send encodes env and queues its frame for the writer. Frames are
// written whole and in Send order.
func (c *Connection) Send(env envelope.Envelope) error {
	payload, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	buf, err := frame.AppendFrame(make([]byte, 0, frame.HeaderLen+len(payload)), payload, c.limits)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformedEnvelope, err)
	}

	c.mu.Lock()
	if c.closing || c.tr == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: send %s", protocol.ErrClosed, env.Address)
	}
	c.queue = append(c.queue, buf)
	c.mu.Unlock()
	c.signal()

	observability.RecordEnvelope("out", env.Address.Namespace, len(payload))
	return nil
}

// Fail closes the connection with a fatal cause. Safe from any goroutine
// including the loop; it does not wait for teardown.
func (c *Connection) Fail(cause error) {
	if !c.loop.Post(func() { c.shutdown(cause) }) {
		go c.finish(cause)
	}
}

// Close shuts the connection down in order: cancel loop timers, seal the
// router, flush queued writes, close the transport. Idempotent. Must not
// be called from the loop; use Fail there.
func (c *Connection) Close() error {
	c.Fail(nil)
	<-c.done
	return nil
}

// Done is closed once teardown completes.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the fatal cause, or nil after an orderly Close.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.cause
	default:
		return nil
	}
}

func (c *Connection) shutdown(cause error) {
	if c.shutdownStarted {
		return
	}
	c.shutdownStarted = true
	timers := c.loop.StopTimers()
	c.router.Seal()
	if cause != nil {
		observability.RecordConnectionFailure(failureCause(cause))
		c.logger.Warn().Err(cause).Int("timers", timers).Msg("connection failed")
	} else {
		c.logger.Debug().Int("timers", timers).Msg("connection closing")
	}
	go c.finish(cause)
}

func (c *Connection) finish(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		tr := c.tr
		c.mu.Unlock()
		c.signal()

		if tr != nil {
			<-c.writerDone
			_ = tr.Close()
			<-c.readerDone
		}
		c.cause = cause
		close(c.done)
	})
}

func (c *Connection) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Connection) readLoop(tr *transport.Transport) {
	defer close(c.readerDone)
	for {
		payload, err := frame.ReadFrame(tr, c.limits)
		if err != nil {
			if c.isClosing() {
				return
			}
			c.Fail(readFailure(err))
			return
		}
		env, err := envelope.Decode(payload)
		if err != nil {
			c.Fail(err)
			return
		}
		observability.RecordEnvelope("in", env.Address.Namespace, len(payload))
		if !c.loop.Post(func() { c.dispatch(env) }) {
			return
		}
	}
}

func (c *Connection) dispatch(env envelope.Envelope) {
	if err := c.router.Dispatch(env); err != nil {
		c.shutdown(err)
	}
}

// writeLoop drains the queue one frame at a time. After closing starts it
// flushes what is queued and exits.
func (c *Connection) writeLoop(tr *transport.Transport) {
	defer close(c.writerDone)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closing {
			c.mu.Unlock()
			<-c.wake
			c.mu.Lock()
		}
		batch := c.queue
		c.queue = nil
		closing := c.closing
		c.mu.Unlock()

		for _, buf := range batch {
			if err := tr.WriteAll(buf); err != nil {
				c.Fail(fmt.Errorf("%w: write: %w", protocol.ErrConnectionDead, err))
				return
			}
		}
		if closing {
			c.mu.Lock()
			empty := len(c.queue) == 0
			c.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

func readFailure(err error) error {
	switch {
	case errors.Is(err, frame.ErrEmptyFrame), errors.Is(err, frame.ErrPayloadTooLarge):
		return fmt.Errorf("%w: %w", protocol.ErrProtocolViolation, err)
	case errors.Is(err, protocol.ErrConnectionDead):
		return err
	default:
		return fmt.Errorf("%w: read: %w", protocol.ErrConnectionDead, err)
	}
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, protocol.ErrLivenessTimeout):
		return "liveness"
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		return "malformed"
	case errors.Is(err, protocol.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, protocol.ErrUnrecognizedAddress), errors.Is(err, protocol.ErrUnhandledMessage), errors.Is(err, protocol.ErrProtocolViolation):
		return "protocol"
	case errors.Is(err, protocol.ErrShortWrite), errors.Is(err, protocol.ErrConnectionDead):
		return "io"
	default:
		return "other"
	}
}
