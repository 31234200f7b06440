// Package chantest provides an in-memory connection for driving channels
// from tests with a fake clock.
package chantest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/castctl/internal/clock"
	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
	"github.com/danmuck/castctl/internal/router"
)

// Conn records sends and failures in place of a socket.
type Conn struct {
	Clock *clock.FakeClock

	loop   *loop.Loop
	router *router.Router
	ids    uint64

	mu     sync.Mutex
	sent   []envelope.Envelope
	failed []error
}

func New(t *testing.T) *Conn {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	lp := loop.New(clk)
	lp.Start()
	t.Cleanup(lp.Stop)
	return &Conn{Clock: clk, loop: lp, router: router.New()}
}

func (c *Conn) Send(env envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *Conn) Router() *router.Router { return c.router }
func (c *Conn) Loop() *loop.Loop       { return c.loop }

func (c *Conn) NextRequestID() uint64 {
	c.ids++
	return c.ids
}

func (c *Conn) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, cause)
}

// On runs f on the loop and waits. Use t.Errorf, not t.Fatalf, inside f.
func (c *Conn) On(t *testing.T, f func()) {
	t.Helper()
	if err := c.loop.Do(context.Background(), f); err != nil {
		t.Fatalf("loop do: %v", err)
	}
}

// Advance moves the clock in steps so timers rearmed on the loop fire
// within the window.
func (c *Conn) Advance(t *testing.T, step time.Duration, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		c.Clock.Advance(step)
		if err := c.loop.Sync(context.Background()); err != nil {
			t.Fatalf("sync: %v", err)
		}
	}
}

// Deliver dispatches env through the router and returns the fatal
// error, if any.
func (c *Conn) Deliver(t *testing.T, env envelope.Envelope) error {
	t.Helper()
	var err error
	c.On(t, func() { err = c.router.Dispatch(env) })
	return err
}

// DeliverText dispatches a text body from the peer side of addr.
func (c *Conn) DeliverText(t *testing.T, addr envelope.Address, body string) error {
	t.Helper()
	return c.Deliver(t, envelope.New(addr.Inbound(), envelope.TextPayload(body)))
}

func (c *Conn) Sent() []envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.Envelope(nil), c.sent...)
}

// SentBodies parses every sent text payload.
func (c *Conn) SentBodies(t *testing.T) []jsonmsg.Message {
	t.Helper()
	sent := c.Sent()
	out := make([]jsonmsg.Message, 0, len(sent))
	for _, env := range sent {
		msg, err := jsonmsg.Parse(env.Payload.Text)
		if err != nil {
			t.Fatalf("sent body is not json: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// LastBody returns the most recent sent body.
func (c *Conn) LastBody(t *testing.T) jsonmsg.Message {
	t.Helper()
	bodies := c.SentBodies(t)
	if len(bodies) == 0 {
		t.Fatalf("nothing sent")
	}
	return bodies[len(bodies)-1]
}

func (c *Conn) Failures() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.failed...)
}
