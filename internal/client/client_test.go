package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/castctl/internal/media"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
	"github.com/danmuck/castctl/internal/testutil/devicetest"
	"github.com/danmuck/castctl/internal/testutil/testlog"
	"github.com/danmuck/castctl/internal/transport"
)

const waitFor = 2 * time.Second

func connectPipe(t *testing.T, opts ...devicetest.Option) (*Client, *devicetest.Device) {
	t.Helper()
	tr, device := devicetest.Pipe(t, opts...)
	c := New(DefaultConfig())
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.ConnectTransport(ctx, tr))
	return c, device
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectOpensAndClosesPlatformConnection(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)

	assert.Eventually(t, func() bool {
		return len(device.Types(protocol.NamespaceConnection)) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{protocol.TypeConnect}, device.Types(protocol.NamespaceConnection))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()
	assert.NoError(t, c.Err())
	assert.Eventually(t, func() bool {
		types := device.Types(protocol.NamespaceConnection)
		return len(types) == 2 && types[1] == protocol.TypeClose
	}, waitFor, 5*time.Millisecond)
}

func TestStatusVolumeAndMute(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t, devicetest.WithVolume(0.25, false))
	ctx := testContext(t)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, status.VolumeLevel, 0.001)
	assert.False(t, status.Muted)
	require.NotNil(t, status.IsActiveInput)
	assert.True(t, *status.IsActiveInput)

	require.NoError(t, c.SetVolume(ctx, 0.8))
	level, _ := device.Volume()
	assert.InDelta(t, 0.8, level, 0.001)

	muted, err := c.Mute(ctx, true)
	require.NoError(t, err)
	assert.True(t, muted)

	err = c.SetVolume(ctx, 1.5)
	assert.ErrorIs(t, err, protocol.ErrInvalidParameter)

	cached, ok, err := c.LastStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.Muted)
}

func TestAppAvailability(t *testing.T) {
	testlog.Start(t)
	c, _ := connectPipe(t)
	ctx := testContext(t)

	availability, err := c.AppAvailability(ctx, []string{devicetest.MediaAppID, "00000000"})
	require.NoError(t, err)
	require.Len(t, availability, 2)
	assert.True(t, availability[0].Available)
	assert.False(t, availability[1].Available)

	_, err = c.AppAvailability(ctx, nil)
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)
}

func TestLaunchMediaAndControlPlayback(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)
	ctx := testContext(t)

	session, err := c.LaunchMedia(ctx, media.NewPlayer())
	require.NoError(t, err)
	assert.Equal(t, devicetest.MediaAppID, device.Running())
	assert.Equal(t, devicetest.TransportID, session.Player().TransportID())

	resp, err := session.Load(ctx, media.Media{
		ContentID:   "https://example.com/big_buck_bunny.mp4",
		StreamType:  media.StreamBuffered,
		ContentType: "video/mp4",
	}, true)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, int64(1), resp.Status.MediaSessionID)
	assert.Equal(t, media.PlayerPlaying, resp.Status.PlayerState)

	resp, err = session.Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, media.PlayerPaused, resp.Status.PlayerState)

	resp, err = session.Seek(ctx, 30)
	require.NoError(t, err)
	assert.InDelta(t, 30, resp.Status.CurrentTime, 0.001)

	_, err = session.SetTrackInfo(ctx, []int{1, 2})
	require.NoError(t, err)

	resp, err = session.Play(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(media.PlayerPlaying), device.PlayerState())

	last, err := session.LastStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.Status.MediaSessionID, last.MediaSessionID)

	_, err = session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IDLE", device.PlayerState())

	require.NoError(t, c.StopApp(ctx))
	assert.Empty(t, device.Running())
}

func TestPlaybackWithoutMediaSessionFails(t *testing.T) {
	testlog.Start(t)
	c, _ := connectPipe(t)
	ctx := testContext(t)

	session, err := c.LaunchMedia(ctx, media.NewPlayer())
	require.NoError(t, err)

	resp, err := session.Play(ctx)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, protocol.TypeInvalidPlayerState, resp.Reason)
}

func TestLaunchUnavailableAppFails(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t, devicetest.WithApps())
	ctx := testContext(t)

	err := c.Launch(ctx, media.NewPlayer())
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Empty(t, device.Running())

	err = c.StopApp(ctx)
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)
}

func TestJoinRunningMediaApp(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)
	ctx := testContext(t)

	_, err := c.JoinMedia(ctx, media.NewPlayer())
	assert.ErrorIs(t, err, ErrOperationFailed)

	device.SetRunning(devicetest.MediaAppID)
	session, err := c.JoinMedia(ctx, media.NewPlayer())
	require.NoError(t, err)
	assert.True(t, session.Player().Attached())

	_, err = c.JoinMedia(ctx, media.NewPlayer())
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestPlatformNoiseIsIgnored(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)
	ctx := testContext(t)

	noise := envelope.NewAddress(platformNoiseID, platformNoiseID, protocol.NamespaceConnection)
	require.NoError(t, device.SendText(noise, jsonmsg.New(protocol.TypeConnect)))

	_, err := c.Status(ctx)
	require.NoError(t, err)
	select {
	case <-c.Done():
		t.Fatalf("client closed: %v", c.Err())
	default:
	}
}

func TestUnknownAddressFailsConnection(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)

	stray := envelope.NewAddress("receiver-9", protocol.DefaultSenderID, "urn:x-cast:com.example.unknown")
	require.NoError(t, device.SendText(stray, jsonmsg.New("HELLO")))

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("connection stayed open")
	}
	assert.ErrorIs(t, c.Err(), protocol.ErrUnrecognizedAddress)

	_, err := c.Status(testContext(t))
	assert.Error(t, err)
}

func TestRemoteCloseFailsConnection(t *testing.T) {
	testlog.Start(t)
	c, device := connectPipe(t)

	addr := envelope.NewAddress(protocol.DefaultReceiverID, protocol.DefaultSenderID, protocol.NamespaceConnection)
	require.NoError(t, device.SendText(addr, jsonmsg.New(protocol.TypeClose)))

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("connection stayed open")
	}
	assert.ErrorIs(t, c.Err(), protocol.ErrConnectionDead)
}

func TestCallsAfterCloseFail(t *testing.T) {
	testlog.Start(t)
	c, _ := connectPipe(t)
	require.NoError(t, c.Close())

	_, err := c.Status(testContext(t))
	assert.ErrorIs(t, err, protocol.ErrClosed)
}

func TestConnectOverTLS(t *testing.T) {
	testlog.Start(t)
	srv := devicetest.Listen(t)

	cfg := DefaultConfig()
	cfg.Port = srv.Port
	cfg.Transport.TLS = transport.TLSConfig{
		Verify: true,
		CAFile: srv.Authority.CAFile(t, t.TempDir()),
	}
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close() })

	ctx := testContext(t)
	require.NoError(t, c.Connect(ctx, srv.Host))
	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, status.VolumeLevel, 0.001)
}

func TestConnectRejectsHostName(t *testing.T) {
	testlog.Start(t)
	c := New(DefaultConfig())
	t.Cleanup(func() { _ = c.Close() })

	err := c.Connect(testContext(t), "living-room.local")
	assert.ErrorIs(t, err, protocol.ErrConnect)
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)
}
