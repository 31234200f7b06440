// Package client is the public sender surface: connect to a device,
// keep the platform channels alive, and drive receiver and media
// operations as blocking, context-aware calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/clock"
	"github.com/danmuck/castctl/internal/conn"
	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/frame"
	"github.com/danmuck/castctl/internal/receiver"
	"github.com/danmuck/castctl/internal/router"
	"github.com/danmuck/castctl/internal/transport"
)

// ErrOperationFailed is returned when the device answered but reported
// that the operation did not take effect.
var ErrOperationFailed = errors.New("client: operation failed")

// platformNoiseID is an endpoint some firmware uses to talk to itself
// over the sender's stream.
const platformNoiseID = "Tr@n$p0rt-0"

type Config struct {
	Port           int
	Transport      transport.Config
	Heartbeat      channel.HeartbeatConfig
	Retry          channel.RetryPolicy
	Limits         frame.Limits
	TraceEnvelopes bool
	Clock          clock.Clock
}

func DefaultConfig() Config {
	return Config{
		Port:      protocol.DefaultPort,
		Transport: transport.DefaultConfig(),
		Heartbeat: channel.DefaultHeartbeatConfig(),
		Retry:     channel.DefaultRetryPolicy(),
		Limits:    frame.DefaultLimits(),
	}
}

// Client owns one connection and its well-known channels.
type Client struct {
	cfg    Config
	loop   *loop.Loop
	conn   *conn.Connection
	logger zerolog.Logger

	closeOnce sync.Once

	// loop-only
	connection *channel.ConnectionChannel
	heartbeat  *channel.Heartbeat
	receiver   *receiver.Channel
}

func New(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	cfg.Transport = cfg.Transport.WithDefaults()
	if cfg.Heartbeat.Interval <= 0 || cfg.Heartbeat.Timeout <= 0 {
		cfg.Heartbeat = defaults.Heartbeat
	}
	if cfg.Retry.Interval <= 0 {
		cfg.Retry.Interval = defaults.Retry.Interval
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = defaults.Limits
	}
	lp := loop.New(cfg.Clock)
	lp.Start()
	return &Client{
		cfg:    cfg,
		loop:   lp,
		conn:   conn.New(lp, conn.WithLimits(cfg.Limits), conn.WithTransportConfig(cfg.Transport)),
		logger: observability.Component("client"),
	}
}

// Connect dials host on the configured port, opens the platform virtual
// connection, and starts the heartbeat.
func (c *Client) Connect(ctx context.Context, host string) error {
	if err := c.conn.Connect(ctx, host, c.cfg.Port); err != nil {
		return err
	}
	return c.handshake(ctx)
}

// ConnectTransport is Connect over an established transport.
func (c *Client) ConnectTransport(ctx context.Context, tr *transport.Transport) error {
	if err := c.conn.Attach(tr); err != nil {
		return err
	}
	return c.handshake(ctx)
}

func (c *Client) handshake(ctx context.Context) error {
	err := c.Do(ctx, func() error {
		c.conn.Router().SetUnrecognized(ignorePlatformNoise)

		var opts []channel.Option
		if c.cfg.TraceEnvelopes {
			opts = append(opts, channel.WithTracer(observability.Component("trace")))
		}
		var err error
		if c.connection, err = channel.NewConnectionChannel(c.conn, protocol.DefaultSenderID, protocol.DefaultReceiverID, opts...); err != nil {
			return err
		}
		if c.heartbeat, err = channel.NewHeartbeat(c.conn, protocol.DefaultSenderID, protocol.DefaultReceiverID, c.cfg.Heartbeat, opts...); err != nil {
			return err
		}
		if c.receiver, err = receiver.New(c.conn, protocol.DefaultSenderID, protocol.DefaultReceiverID, c.cfg.Retry, opts...); err != nil {
			return err
		}
		c.connection.OnRemoteClose(func() {
			c.conn.Fail(fmt.Errorf("%w: receiver closed the platform connection", protocol.ErrConnectionDead))
		})
		if err := c.connection.Connect(); err != nil {
			return err
		}
		c.heartbeat.Start()
		return nil
	})
	if err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("%w: handshake: %w", protocol.ErrConnect, err)
	}
	c.logger.Info().Msg("connected")
	return nil
}

func ignorePlatformNoise(env envelope.Envelope) error {
	if env.Address.Source == platformNoiseID && env.Address.Destination == platformNoiseID {
		return nil
	}
	return router.DefaultUnrecognized(env)
}

// Close detaches any app, sends CLOSE on the platform connection, and
// tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.loop.Do(ctx, func() {
			if c.receiver != nil {
				c.receiver.Detach()
			}
			if c.heartbeat != nil {
				c.heartbeat.Stop()
			}
			if c.connection != nil {
				if err := c.connection.CloseVirtual(); err != nil {
					c.logger.Debug().Err(err).Msg("close platform connection")
				}
			}
		})
		_ = c.conn.Close()
		c.loop.Stop()
		c.logger.Info().Msg("closed")
	})
	return nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Err is the fatal cause that closed the connection, if any.
func (c *Client) Err() error { return c.conn.Err() }

// Do runs fn on the loop and returns its error.
func (c *Client) Do(ctx context.Context, fn func() error) error {
	var err error
	if doErr := c.loop.Do(ctx, func() { err = fn() }); doErr != nil {
		if errors.Is(doErr, loop.ErrStopped) {
			return c.closedErr()
		}
		return doErr
	}
	return err
}

func (c *Client) closedErr() error {
	if err := c.conn.Err(); err != nil {
		return err
	}
	return protocol.ErrClosed
}

// await runs start on the loop and blocks until its reply callback
// fires, the context ends, or the connection dies.
func await[T any](ctx context.Context, c *Client, start func(reply func(T)) error) (T, error) {
	var zero T
	replies := make(chan T, 1)
	reply := func(v T) {
		select {
		case replies <- v:
		default:
		}
	}
	if err := c.Do(ctx, func() error { return start(reply) }); err != nil {
		return zero, err
	}
	select {
	case v := <-replies:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.conn.Done():
		return zero, c.closedErr()
	}
}

func (c *Client) platformReady() error {
	if c.receiver == nil {
		return fmt.Errorf("%w: not connected", protocol.ErrClosed)
	}
	return nil
}

// Status fetches a fresh receiver status.
func (c *Client) Status(ctx context.Context) (receiver.ReceiverStatus, error) {
	return await(ctx, c, func(reply func(receiver.ReceiverStatus)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.GetStatus(reply)
	})
}

func (c *Client) AppAvailability(ctx context.Context, appIDs []string) ([]receiver.AppAvailability, error) {
	return await(ctx, c, func(reply func([]receiver.AppAvailability)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.GetAppAvailability(appIDs, reply)
	})
}

// Mute returns the muted state the device reports.
func (c *Client) Mute(ctx context.Context, muted bool) (bool, error) {
	return await(ctx, c, func(reply func(bool)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.Mute(muted, reply)
	})
}

func (c *Client) SetVolume(ctx context.Context, level float64) error {
	ok, err := await(ctx, c, func(reply func(bool)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.SetVolume(level, reply)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: volume %.2f not applied", ErrOperationFailed, level)
	}
	return nil
}

// Launch starts app and returns once it is running and initialized.
func (c *Client) Launch(ctx context.Context, app receiver.Application) error {
	ok, err := await(ctx, c, func(reply func(bool)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.Launch(app, reply)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: launch %s", ErrOperationFailed, app.ID())
	}
	return nil
}

// Join attaches app to an instance already running on the device.
func (c *Client) Join(ctx context.Context, app receiver.Application) error {
	ok, err := await(ctx, c, func(reply func(bool)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.Join(app, reply)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: join %s", ErrOperationFailed, app.ID())
	}
	return nil
}

// StopApp stops the attached app on the device.
func (c *Client) StopApp(ctx context.Context) error {
	ok, err := await(ctx, c, func(reply func(bool)) error {
		if err := c.platformReady(); err != nil {
			return err
		}
		return c.receiver.Stop(reply)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: application still running", ErrOperationFailed)
	}
	return nil
}

// LastStatus returns the cached receiver status without a request.
func (c *Client) LastStatus(ctx context.Context) (receiver.ReceiverStatus, bool, error) {
	var (
		status receiver.ReceiverStatus
		ok     bool
	)
	err := c.Do(ctx, func() error {
		if err := c.platformReady(); err != nil {
			return err
		}
		status, ok = c.receiver.LastStatus()
		return nil
	})
	return status, ok, err
}
