package media

import (
	"fmt"

	"github.com/danmuck/castctl/internal/app"
	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/receiver"
)

// DefaultReceiverAppID is the Default Media Receiver.
const DefaultReceiverAppID = "CC1AD845"

// Player drives a media receiver app through its media channel.
type Player struct {
	*app.Session
	policy channel.RetryPolicy
	media  *Channel
}

var _ app.Application = (*Player)(nil)

type PlayerOption func(*Player)

// WithAppID targets a custom receiver app that speaks the media namespace.
func WithAppID(appID string, opts ...channel.Option) PlayerOption {
	return func(p *Player) { p.Session = app.NewSession(appID, opts...) }
}

func WithRetryPolicy(policy channel.RetryPolicy) PlayerOption {
	return func(p *Player) { p.policy = policy }
}

func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{
		Session: app.NewSession(DefaultReceiverAppID),
		policy:  channel.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize opens the virtual and media channels, then reports success
// once a media GET_STATUS succeeds.
func (p *Player) Initialize(conn channel.Conn, info receiver.ApplicationInfo, done func(bool)) error {
	ok, err := p.Attach(conn, info)
	if err != nil {
		return err
	}
	if !ok {
		done(false)
		return nil
	}
	if p.media != nil {
		_ = p.media.Close()
	}
	p.media, err = NewChannel(conn, p.SenderID(), info.TransportID, p.policy, p.ChannelOptions()...)
	if err != nil {
		return err
	}
	return p.media.GetStatus(func(resp Response) {
		done(resp.Succeeded())
	})
}

// Stopped closes the media channel and the virtual connection.
func (p *Player) Stopped() {
	if p.media != nil {
		_ = p.media.Close()
		p.media = nil
	}
	p.Session.Stopped()
}

// Channel returns the media channel, or nil before initialization.
func (p *Player) Channel() *Channel { return p.media }

func (p *Player) mediaChannel() (*Channel, error) {
	if p.media == nil {
		return nil, fmt.Errorf("%w: media player %s not initialized", protocol.ErrClosed, p.ID())
	}
	return p.media, nil
}

func (p *Player) LastStatus() MediaStatus {
	if p.media == nil {
		return MediaStatus{}
	}
	return p.media.LastStatus()
}

func (p *Player) Load(m Media, autoplay bool, cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.Load(m, autoplay, cb)
}

func (p *Player) Play(cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.Play(cb)
}

func (p *Player) Pause(cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.Pause(cb)
}

func (p *Player) Stop(cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.Stop(cb)
}

func (p *Player) Seek(seconds float64, cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.Seek(seconds, cb)
}

func (p *Player) SetTrackInfo(trackIDs []int, cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.SetTrackInfo(trackIDs, cb)
}

func (p *Player) GetStatus(cb Callback) error {
	c, err := p.mediaChannel()
	if err != nil {
		return err
	}
	return c.GetStatus(cb)
}
