package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

type HeartbeatState int

const (
	HeartbeatIdle HeartbeatState = iota
	HeartbeatRunning
	HeartbeatClosed
)

func (s HeartbeatState) String() string {
	switch s {
	case HeartbeatIdle:
		return "idle"
	case HeartbeatRunning:
		return "running"
	case HeartbeatClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 5 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// Heartbeat sends PING on a fixed interval and fails the connection when
// no PING arrives from the peer within the timeout.
type Heartbeat struct {
	*Channel
	cfg    HeartbeatConfig
	state  HeartbeatState
	send   *loop.Timer
	recv   *loop.Timer
	logger zerolog.Logger
}

func NewHeartbeat(conn Conn, source, destination string, cfg HeartbeatConfig, opts ...Option) (*Heartbeat, error) {
	defaults := DefaultHeartbeatConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	hb := &Heartbeat{cfg: cfg, logger: observability.Component("heartbeat")}
	ch, err := New(conn, envelope.NewAddress(source, destination, protocol.NamespaceHeartbeat), hb, opts...)
	if err != nil {
		return nil, err
	}
	hb.Channel = ch
	return hb, nil
}

func (hb *Heartbeat) State() HeartbeatState { return hb.state }

// Start arms the send and receive timers. Only the first call from Idle
// has any effect.
func (hb *Heartbeat) Start() {
	if hb.state != HeartbeatIdle {
		return
	}
	hb.state = HeartbeatRunning
	hb.armSend()
	hb.armReceive()
	hb.logger.Debug().Dur("interval", hb.cfg.Interval).Dur("timeout", hb.cfg.Timeout).Msg("heartbeat started")
}

// Stop cancels both timers. Idempotent.
func (hb *Heartbeat) Stop() {
	hb.send.Stop()
	hb.recv.Stop()
	hb.state = HeartbeatClosed
}

// Close stops the heartbeat and unregisters the channel.
func (hb *Heartbeat) Close() error {
	hb.Stop()
	return hb.Channel.Close()
}

func (hb *Heartbeat) armSend() {
	hb.send = hb.Conn().Loop().AfterFunc(hb.cfg.Interval, func() {
		if hb.state != HeartbeatRunning {
			return
		}
		if err := hb.SendJSON(jsonmsg.New(protocol.TypePing)); err != nil {
			hb.Conn().Fail(err)
			return
		}
		hb.armSend()
	})
}

func (hb *Heartbeat) armReceive() {
	hb.recv.Stop()
	hb.recv = hb.Conn().Loop().AfterFunc(hb.cfg.Timeout, func() {
		if hb.state != HeartbeatRunning {
			return
		}
		hb.state = HeartbeatClosed
		hb.send.Stop()
		observability.RecordHeartbeatTimeout()
		hb.Conn().Fail(fmt.Errorf("%w: no ping within %s", protocol.ErrLivenessTimeout, hb.cfg.Timeout))
	})
}

func (hb *Heartbeat) OnText(text string) (bool, error) {
	msg, err := jsonmsg.Parse(text)
	if err != nil {
		return false, err
	}
	switch msg.Type() {
	case protocol.TypePong:
		return true, nil
	case protocol.TypePing:
		if err := hb.SendJSON(jsonmsg.New(protocol.TypePong)); err != nil {
			return true, err
		}
		if hb.state == HeartbeatRunning {
			hb.armReceive()
		}
		return true, nil
	default:
		return false, nil
	}
}
