package client

import (
	"context"
	"fmt"

	"github.com/danmuck/castctl/internal/media"
)

// MediaSession drives a launched or joined media player.
type MediaSession struct {
	client *Client
	player *media.Player
}

func (c *Client) LaunchMedia(ctx context.Context, player *media.Player) (*MediaSession, error) {
	if err := c.Launch(ctx, player); err != nil {
		return nil, err
	}
	return &MediaSession{client: c, player: player}, nil
}

func (c *Client) JoinMedia(ctx context.Context, player *media.Player) (*MediaSession, error) {
	if err := c.Join(ctx, player); err != nil {
		return nil, err
	}
	return &MediaSession{client: c, player: player}, nil
}

func (s *MediaSession) Player() *media.Player { return s.player }

func (s *MediaSession) call(ctx context.Context, op string, start func(cb media.Callback) error) (media.Response, error) {
	resp, err := await(ctx, s.client, func(reply func(media.Response)) error {
		return start(reply)
	})
	if err != nil {
		return resp, err
	}
	if resp.Failed() {
		return resp, fmt.Errorf("%w: %s: %s", ErrOperationFailed, op, resp.Reason)
	}
	return resp, nil
}

func (s *MediaSession) Load(ctx context.Context, m media.Media, autoplay bool) (media.Response, error) {
	return s.call(ctx, "load", func(cb media.Callback) error { return s.player.Load(m, autoplay, cb) })
}

func (s *MediaSession) Play(ctx context.Context) (media.Response, error) {
	return s.call(ctx, "play", s.player.Play)
}

func (s *MediaSession) Pause(ctx context.Context) (media.Response, error) {
	return s.call(ctx, "pause", s.player.Pause)
}

func (s *MediaSession) Stop(ctx context.Context) (media.Response, error) {
	return s.call(ctx, "stop", s.player.Stop)
}

func (s *MediaSession) Seek(ctx context.Context, seconds float64) (media.Response, error) {
	return s.call(ctx, "seek", func(cb media.Callback) error { return s.player.Seek(seconds, cb) })
}

func (s *MediaSession) SetTrackInfo(ctx context.Context, trackIDs []int) (media.Response, error) {
	return s.call(ctx, "edit tracks", func(cb media.Callback) error { return s.player.SetTrackInfo(trackIDs, cb) })
}

func (s *MediaSession) Status(ctx context.Context) (media.Response, error) {
	return s.call(ctx, "status", s.player.GetStatus)
}

// LastStatus returns the cached media status without a request.
func (s *MediaSession) LastStatus(ctx context.Context) (media.MediaStatus, error) {
	var status media.MediaStatus
	err := s.client.Do(ctx, func() error {
		status = s.player.LastStatus()
		return nil
	})
	return status, err
}
