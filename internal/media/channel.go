// Package media is the media-control sub-protocol and the default media
// receiver application built on it.
package media

import (
	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

type Callback func(Response)

// Channel tracks the latest media status and stamps its mediaSessionId
// on session-scoped requests. All methods run on the loop.
type Channel struct {
	*channel.RequestChannel
	last MediaStatus
}

func NewChannel(conn channel.Conn, source, destination string, policy channel.RetryPolicy, opts ...channel.Option) (*Channel, error) {
	rc, err := channel.NewRequestChannel(conn, envelope.NewAddress(source, destination, protocol.NamespaceMedia), policy, opts...)
	if err != nil {
		return nil, err
	}
	c := &Channel{RequestChannel: rc}
	rc.SetObserver(c.observe)
	rc.SetPushHandler(func(jsonmsg.Message) error { return nil })
	return c, nil
}

// LastStatus is the most recent status from any MEDIA_STATUS body.
func (c *Channel) LastStatus() MediaStatus { return c.last }

func (c *Channel) observe(msg jsonmsg.Message) error {
	if msg.Type() != protocol.TypeMediaStatus {
		return nil
	}
	status, err := ParseStatus(msg)
	if err != nil {
		return err
	}
	c.last = status
	return nil
}

// Load starts playback of m. A successful response replaces LastStatus.
func (c *Channel) Load(m Media, autoplay bool, cb Callback) error {
	body := jsonmsg.New(protocol.TypeLoad)
	if err := body.SetJSON("media", m); err != nil {
		return err
	}
	body.MustSet("autoplay", autoplay)
	body.MustSet("currentTime", 0)
	return c.request(body, func(resp Response) {
		if resp.Succeeded() {
			c.last = resp.Status
		}
		if cb != nil {
			cb(resp)
		}
	})
}

func (c *Channel) Play(cb Callback) error {
	return c.sessionRequest(jsonmsg.New(protocol.TypePlay), cb)
}

func (c *Channel) Pause(cb Callback) error {
	return c.sessionRequest(jsonmsg.New(protocol.TypePause), cb)
}

func (c *Channel) Stop(cb Callback) error {
	return c.sessionRequest(jsonmsg.New(protocol.TypeStop), cb)
}

// Seek moves playback to seconds from the start.
func (c *Channel) Seek(seconds float64, cb Callback) error {
	body := jsonmsg.New(protocol.TypeSeek)
	body.MustSet("currentTime", seconds)
	return c.sessionRequest(body, cb)
}

// SetTrackInfo selects the active tracks.
func (c *Channel) SetTrackInfo(trackIDs []int, cb Callback) error {
	body := jsonmsg.New(protocol.TypeEditTracksInfo)
	if err := body.Set("activeTrackIds", append([]int{}, trackIDs...)); err != nil {
		return err
	}
	return c.sessionRequest(body, cb)
}

func (c *Channel) GetStatus(cb Callback) error {
	return c.request(jsonmsg.New(protocol.TypeGetStatus), cb)
}

// sessionRequest stamps the cached mediaSessionId, zero when no session
// is known; the device rejects those.
func (c *Channel) sessionRequest(body jsonmsg.Message, cb Callback) error {
	body.MustSet("mediaSessionId", c.last.MediaSessionID)
	return c.request(body, cb)
}

func (c *Channel) request(body jsonmsg.Message, cb Callback) error {
	_, err := c.Request(body, func(msg jsonmsg.Message) error {
		resp, err := ParseResponse(msg)
		if err != nil {
			return err
		}
		if cb != nil {
			cb(resp)
		}
		return nil
	})
	return err
}
