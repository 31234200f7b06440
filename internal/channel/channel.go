// Package channel holds the sub-protocol building blocks that share one
// connection: the base Channel, the virtual connection handshake, the
// heartbeat, and request/response correlation.
//
// Every method in this package must run on the connection's loop.
package channel

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
	"github.com/danmuck/castctl/internal/router"
)

// Conn is the part of a connection a channel uses.
type Conn interface {
	Send(env envelope.Envelope) error
	Router() *router.Router
	Loop() *loop.Loop
	NextRequestID() uint64
	Fail(cause error)
}

// TextHandler claims text payloads. handled=false falls through to the
// unhandled policy; a non-nil error is fatal to the connection.
type TextHandler interface {
	OnText(text string) (handled bool, err error)
}

type BinaryHandler interface {
	OnBinary(data []byte) (handled bool, err error)
}

// UnhandledHandler replaces the default unhandled-message policy.
type UnhandledHandler interface {
	OnUnhandled(env envelope.Envelope) error
}

// SendObserver sees every envelope just before it is queued.
type SendObserver interface {
	OnSending(env envelope.Envelope)
}

// Channel owns one address on a connection.
type Channel struct {
	conn   Conn
	addr   envelope.Address
	impl   any
	tracer *zerolog.Logger
	closed bool
}

type Option func(*Channel)

// WithTracer logs every sent and received envelope at trace level.
func WithTracer(logger zerolog.Logger) Option {
	return func(c *Channel) { c.tracer = &logger }
}

// New registers a channel at addr. impl may implement any of the
// handler interfaces; nil means every inbound message is unhandled.
func New(conn Conn, addr envelope.Address, impl any, opts ...Option) (*Channel, error) {
	c := &Channel{conn: conn, addr: addr, impl: impl}
	for _, opt := range opts {
		opt(c)
	}
	if err := conn.Router().Register(addr, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) Address() envelope.Address { return c.addr }

func (c *Channel) Conn() Conn { return c.conn }

func (c *Channel) Closed() bool { return c.closed }

// Send stamps the channel address on payload and queues it.
func (c *Channel) Send(payload envelope.Payload) error {
	if c.closed {
		return fmt.Errorf("%w: channel %s", protocol.ErrClosed, c.addr)
	}
	env := envelope.New(c.addr, payload)
	if obs, ok := c.impl.(SendObserver); ok {
		obs.OnSending(env)
	}
	if c.tracer != nil {
		c.tracer.Trace().Str("direction", "out").Msg(env.String())
	}
	return c.conn.Send(env)
}

func (c *Channel) SendText(text string) error {
	return c.Send(envelope.TextPayload(text))
}

func (c *Channel) SendBinary(data []byte) error {
	return c.Send(envelope.BinaryPayload(data))
}

// SendJSON sends a JSON body as a text payload.
func (c *Channel) SendJSON(msg jsonmsg.Message) error {
	return c.SendText(msg.String())
}

// HandleEnvelope implements router.Handler.
func (c *Channel) HandleEnvelope(env envelope.Envelope) error {
	if c.tracer != nil {
		c.tracer.Trace().Str("direction", "in").Msg(env.String())
	}

	var (
		handled bool
		err     error
	)
	switch env.Payload.Kind {
	case envelope.KindText:
		if h, ok := c.impl.(TextHandler); ok {
			handled, err = h.OnText(env.Payload.Text)
		}
	case envelope.KindBinary:
		if h, ok := c.impl.(BinaryHandler); ok {
			handled, err = h.OnBinary(env.Payload.Binary)
		}
	default:
		return fmt.Errorf("%w: payload kind %s", protocol.ErrMalformedEnvelope, env.Payload.Kind)
	}
	if err != nil || handled {
		return err
	}
	if h, ok := c.impl.(UnhandledHandler); ok {
		return h.OnUnhandled(env)
	}
	return DefaultUnhandled(env)
}

// DefaultUnhandled is fatal except for broadcasts, which may carry
// traffic meant for another sender.
func DefaultUnhandled(env envelope.Envelope) error {
	if env.Address.IsBroadcast() {
		return nil
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnhandledMessage, env)
}

// Close unregisters the channel. Idempotent.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Router().Unregister(c.addr)
}
