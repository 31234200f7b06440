// Package receiver is the receiver-control sub-protocol: device status,
// volume, app availability, and the launch/join lifecycle that binds an
// Application to the transport id the device assigns.
package receiver

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

// VolumeTolerance is how far the reported level may be from the
// requested one for SetVolume to count as applied.
const VolumeTolerance = 0.01

// Application is a receiver app driven by this sender.
type Application interface {
	ID() string
	// Initialize binds the app to info.TransportID and calls done once
	// it is usable. A returned error is fatal to the connection.
	Initialize(conn channel.Conn, info ApplicationInfo, done func(bool)) error
	// Stopped releases the app's channels.
	Stopped()
}

type StatusCallback func(ReceiverStatus)

// Channel is the receiver-control channel. All methods run on the loop.
type Channel struct {
	*channel.RequestChannel

	last       ReceiverStatus
	hasStatus  bool
	app        Application
	launching  bool
	onLaunched func(bool)
	onStatus   StatusCallback
	logger     zerolog.Logger
}

func New(conn channel.Conn, source, destination string, policy channel.RetryPolicy, opts ...channel.Option) (*Channel, error) {
	rc, err := channel.NewRequestChannel(conn, envelope.NewAddress(source, destination, protocol.NamespaceReceiver), policy, opts...)
	if err != nil {
		return nil, err
	}
	c := &Channel{RequestChannel: rc, logger: observability.Component("receiver")}
	rc.SetObserver(c.observe)
	rc.SetPushHandler(c.onPush)
	return c, nil
}

// LastStatus returns the most recent status and whether one was seen.
func (c *Channel) LastStatus() (ReceiverStatus, bool) {
	return c.last, c.hasStatus
}

// Application returns the attached app, or nil.
func (c *Channel) Application() Application {
	return c.app
}

// Launching reports whether a launch is waiting for the app to appear.
func (c *Channel) Launching() bool {
	return c.launching
}

// OnStatus observes every status snapshot, solicited or pushed.
func (c *Channel) OnStatus(f StatusCallback) {
	c.onStatus = f
}

func (c *Channel) observe(msg jsonmsg.Message) error {
	if msg.Type() != protocol.TypeReceiverStatus {
		return nil
	}
	status, err := ParseStatus(msg)
	if err != nil {
		return err
	}
	return c.applyStatus(status)
}

func (c *Channel) onPush(msg jsonmsg.Message) error {
	if msg.Type() == protocol.TypeLaunchError {
		c.launchFailed(msg)
	}
	return nil
}

func (c *Channel) applyStatus(status ReceiverStatus) error {
	c.last = status
	c.hasStatus = true
	if c.onStatus != nil {
		c.onStatus(status)
	}
	if c.app == nil || !c.launching || len(status.Applications) == 0 {
		return nil
	}

	appID := c.app.ID()
	for _, info := range status.Applications {
		if info.AppID != appID && !strings.Contains(info.DisplayName, appID) {
			continue
		}
		c.launching = false
		done := c.onLaunched
		c.onLaunched = nil
		c.logger.Debug().Str("app_id", appID).Str("session_id", info.SessionID).Str("transport_id", info.TransportID).Msg("application launched")
		return c.initialize(c.app, info, done)
	}
	return nil
}

// initialize attaches app and runs its setup. An app whose setup reports
// false is stopped and detached again.
func (c *Channel) initialize(app Application, info ApplicationInfo, done func(bool)) error {
	c.app = app
	err := app.Initialize(c.Conn(), info, func(ok bool) {
		if !ok && c.app == app {
			c.logger.Debug().Str("app_id", app.ID()).Msg("application failed to initialize")
			app.Stopped()
			c.app = nil
		}
		if done != nil {
			done(ok)
		}
	})
	if err != nil && c.app == app {
		c.app = nil
	}
	return err
}

// failPendingLaunch completes an unfinished launch with false.
func (c *Channel) failPendingLaunch() {
	pending := c.onLaunched
	c.launching = false
	c.onLaunched = nil
	if pending != nil {
		pending(false)
	}
}

func (c *Channel) launchFailed(msg jsonmsg.Message) {
	if !c.launching {
		return
	}
	c.launching = false
	done := c.onLaunched
	c.onLaunched = nil
	c.logger.Warn().Str("reason", msg.Get(jsonmsg.FieldReason).String()).Msg("application launch failed")
	if c.app != nil {
		c.app.Stopped()
		c.app = nil
	}
	if done != nil {
		done(false)
	}
}

// GetStatus requests a status snapshot. cb may be nil.
func (c *Channel) GetStatus(cb StatusCallback) error {
	return c.getStatus(func(status ReceiverStatus) error {
		if cb != nil {
			cb(status)
		}
		return nil
	})
}

func (c *Channel) getStatus(cb func(ReceiverStatus) error) error {
	_, err := c.Request(jsonmsg.New(protocol.TypeGetStatus), func(msg jsonmsg.Message) error {
		status, err := ParseStatus(msg)
		if err != nil {
			return err
		}
		return cb(status)
	})
	return err
}

// GetAppAvailability asks which of appIDs the device can run.
func (c *Channel) GetAppAvailability(appIDs []string, cb func([]AppAvailability)) error {
	if len(appIDs) == 0 {
		return fmt.Errorf("%w: empty application id list", protocol.ErrInvalidArgument)
	}
	ids := append([]string(nil), appIDs...)
	body := jsonmsg.New(protocol.TypeGetAppAvailability)
	if err := body.Set("appId", ids); err != nil {
		return err
	}
	_, err := c.Request(body, func(msg jsonmsg.Message) error {
		if cb != nil {
			cb(parseAvailability(msg, ids))
		}
		return nil
	})
	return err
}

// Mute sets the mute state; cb receives the muted state the device
// reports.
func (c *Channel) Mute(muted bool, cb func(bool)) error {
	body := jsonmsg.New(protocol.TypeSetVolume)
	body.MustSet("volume.muted", muted)
	return c.volumeRequest(body, func(status ReceiverStatus) {
		if cb != nil {
			cb(status.Muted)
		}
	})
}

// SetVolume sets the level in [0,1]; cb reports whether the device
// applied it within VolumeTolerance.
func (c *Channel) SetVolume(level float64, cb func(bool)) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("%w: volume level %v outside [0,1]", protocol.ErrInvalidParameter, level)
	}
	body := jsonmsg.New(protocol.TypeSetVolume)
	body.MustSet("volume.level", level)
	return c.volumeRequest(body, func(status ReceiverStatus) {
		if cb != nil {
			cb(math.Abs(level-status.VolumeLevel) < VolumeTolerance)
		}
	})
}

func (c *Channel) volumeRequest(body jsonmsg.Message, cb StatusCallback) error {
	_, err := c.Request(body, func(msg jsonmsg.Message) error {
		status, err := ParseStatus(msg)
		if err != nil {
			return err
		}
		cb(status)
		return nil
	})
	return err
}

// Launch starts app on the device. An attached app is detached locally
// first. done is called once the app shows up in a status snapshot and
// finishes initializing, or with false on LAUNCH_ERROR.
func (c *Channel) Launch(app Application, done func(bool)) error {
	if app == nil {
		return fmt.Errorf("%w: nil application", protocol.ErrInvalidArgument)
	}
	c.failPendingLaunch()
	if c.app != nil {
		c.logger.Warn().Str("app_id", c.app.ID()).Msg("detaching attached application before launch")
		c.app.Stopped()
	}
	c.app = app
	c.onLaunched = done

	body := jsonmsg.New(protocol.TypeLaunch)
	body.MustSet("appId", app.ID())
	if _, err := c.Request(body, c.onLaunchResponse); err != nil {
		c.app = nil
		c.onLaunched = nil
		return err
	}
	c.launching = true
	return nil
}

func (c *Channel) onLaunchResponse(msg jsonmsg.Message) error {
	if msg.Type() == protocol.TypeLaunchError {
		c.launchFailed(msg)
	}
	return nil
}

// Join attaches app to an instance already running on the device. done
// is required and receives false when an app is already attached or
// app is not running.
func (c *Channel) Join(app Application, done func(bool)) error {
	if done == nil {
		return fmt.Errorf("%w: join requires a completion callback", protocol.ErrInvalidArgument)
	}
	if app == nil {
		return fmt.Errorf("%w: nil application", protocol.ErrInvalidArgument)
	}
	return c.getStatus(func(status ReceiverStatus) error {
		if c.app != nil {
			done(false)
			return nil
		}
		info, ok := status.Application(app.ID())
		if !ok {
			c.logger.Debug().Str("app_id", app.ID()).Msg("join target not running")
			done(false)
			return nil
		}
		return c.initialize(app, info, done)
	})
}

// Stop asks the device to stop the attached app and detaches it. cb
// reports whether the app's session is gone from the returned status.
func (c *Channel) Stop(cb func(bool)) error {
	if c.app == nil {
		return fmt.Errorf("%w: no application attached", protocol.ErrInvalidArgument)
	}
	info, ok := c.last.Application(c.app.ID())
	if !ok {
		return fmt.Errorf("%w: no session known for %s", protocol.ErrInvalidArgument, c.app.ID())
	}
	body := jsonmsg.New(protocol.TypeStop)
	body.MustSet("sessionId", info.SessionID)

	c.app.Stopped()
	c.app = nil
	c.failPendingLaunch()

	_, err := c.Request(body, func(msg jsonmsg.Message) error {
		status, err := ParseStatus(msg)
		if err != nil {
			return err
		}
		if cb != nil {
			cb(!hasSession(status, info.SessionID))
		}
		return nil
	})
	return err
}

// Detach drops the attached app locally without telling the device.
func (c *Channel) Detach() {
	if c.app != nil {
		c.app.Stopped()
	}
	c.app = nil
	c.failPendingLaunch()
}

func hasSession(status ReceiverStatus, sessionID string) bool {
	for _, info := range status.Applications {
		if info.SessionID == sessionID {
			return true
		}
	}
	return false
}
