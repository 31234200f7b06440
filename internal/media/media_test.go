package media

import (
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
	"github.com/danmuck/castctl/internal/receiver"
	"github.com/danmuck/castctl/internal/testutil/chantest"
	"github.com/danmuck/castctl/internal/testutil/testlog"
)

const sampleStatus = `{"type":"MEDIA_STATUS","requestId":%d,"status":[{"mediaSessionId":%d,"playbackRate":1,"playerState":"PLAYING","currentTime":12.5,"supportedMediaCommands":15,"volume":{"level":0.8,"muted":false},"currentItemId":1,"repeatMode":"REPEAT_OFF","media":{"contentId":"http://example.test/movie.mp4","contentType":"video/mp4","streamType":"BUFFERED","duration":596.5,"textTrackStyle":{"backgroundColor":"#000000FF","edgeType":"OUTLINE"}}}]}`

var mediaAddr = envelope.NewAddress("sender-test", "web-1", protocol.NamespaceMedia)

func newTestMediaChannel(t *testing.T) (*chantest.Conn, *Channel) {
	t.Helper()
	conn := chantest.New(t)
	var c *Channel
	conn.On(t, func() {
		var err error
		c, err = NewChannel(conn, mediaAddr.Source, mediaAddr.Destination, channel.DefaultRetryPolicy())
		if err != nil {
			t.Errorf("new media channel: %v", err)
		}
	})
	if c == nil {
		t.FailNow()
	}
	return conn, c
}

func lastRequestID(t *testing.T, conn *chantest.Conn) uint64 {
	t.Helper()
	id, ok := conn.LastBody(t).RequestID()
	if !ok {
		t.Fatalf("last body has no request id")
	}
	return id
}

func TestParseStatus(t *testing.T) {
	testlog.Start(t)

	msg, err := jsonmsg.Parse(fmt.Sprintf(sampleStatus, 0, 7))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	status, err := ParseStatus(msg)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if !status.Valid || status.MediaSessionID != 7 || status.PlayerState != PlayerPlaying {
		t.Fatalf("unexpected status: %+v", status)
	}
	if !status.SupportedMediaCommands.Has(CommandPause|CommandSeek) || status.SupportedMediaCommands.Has(CommandSkipForward) {
		t.Fatalf("unexpected command mask: %b", status.SupportedMediaCommands)
	}
	if status.Media == nil || status.Media.StreamType != StreamBuffered || status.Media.TextTrackStyle == nil {
		t.Fatalf("media not decoded: %+v", status.Media)
	}
	if bg := status.Media.TextTrackStyle.BackgroundColor; bg == nil || *bg != (Color{0, 0, 0, 0xff}) {
		t.Fatalf("unexpected background color: %v", bg)
	}

	empty, err := jsonmsg.Parse(`{"type":"MEDIA_STATUS","requestId":0,"status":[]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	status, err = ParseStatus(empty)
	if err != nil || status.Valid {
		t.Fatalf("empty status should decode as invalid: %+v %v", status, err)
	}
}

func TestParseColorRejectsMalformed(t *testing.T) {
	testlog.Start(t)

	for _, in := range []string{"", "000000FF", "#00FF", "#GG0000FF"} {
		if _, err := ParseColor(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	c, err := ParseColor("#ffcc00aa")
	if err != nil {
		t.Fatalf("parse color: %v", err)
	}
	if c.String() != "#FFCC00AA" {
		t.Fatalf("unexpected color rendering: %s", c)
	}
}

func TestLoadStoresStatusAndStampsSession(t *testing.T) {
	testlog.Start(t)

	conn, c := newTestMediaChannel(t)
	var responses []Response
	conn.On(t, func() {
		m := Media{ContentID: "http://example.test/movie.mp4", ContentType: "video/mp4", StreamType: StreamBuffered}
		if err := c.Load(m, true, func(r Response) { responses = append(responses, r) }); err != nil {
			t.Errorf("load: %v", err)
		}
	})
	load := conn.LastBody(t)
	if load.Type() != protocol.TypeLoad || load.Get("media.contentId").String() != "http://example.test/movie.mp4" || !load.Get("autoplay").Bool() {
		t.Fatalf("unexpected LOAD body: %s", load)
	}
	if err := conn.DeliverText(t, mediaAddr, fmt.Sprintf(sampleStatus, lastRequestID(t, conn), 5)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(responses) != 1 || !responses[0].Succeeded() {
		t.Fatalf("unexpected load responses: %v", responses)
	}

	conn.On(t, func() {
		if err := c.Play(nil); err != nil {
			t.Errorf("play: %v", err)
			return
		}
		if err := c.Seek(42, nil); err != nil {
			t.Errorf("seek: %v", err)
		}
	})
	bodies := conn.SentBodies(t)
	play, seek := bodies[len(bodies)-2], bodies[len(bodies)-1]
	if play.Type() != protocol.TypePlay || play.Get("mediaSessionId").Int() != 5 {
		t.Fatalf("PLAY not stamped with session: %s", play)
	}
	if seek.Get("currentTime").Float() != 42 || seek.Get("mediaSessionId").Int() != 5 {
		t.Fatalf("unexpected SEEK body: %s", seek)
	}
}

func TestSessionRequestWithoutStatusUsesZero(t *testing.T) {
	testlog.Start(t)

	conn, c := newTestMediaChannel(t)
	conn.On(t, func() {
		if err := c.SetTrackInfo([]int{1, 2}, nil); err != nil {
			t.Errorf("set track info: %v", err)
		}
	})
	body := conn.LastBody(t)
	if !body.Has("mediaSessionId") || body.Get("mediaSessionId").Int() != 0 {
		t.Fatalf("expected zero session id: %s", body)
	}
	if ids := body.Get("activeTrackIds").Array(); len(ids) != 2 {
		t.Fatalf("unexpected track ids: %s", body)
	}
}

func TestPushRefreshesLastStatus(t *testing.T) {
	testlog.Start(t)

	conn, c := newTestMediaChannel(t)
	if err := conn.DeliverText(t, mediaAddr, fmt.Sprintf(sampleStatus, 0, 11)); err != nil {
		t.Fatalf("deliver push: %v", err)
	}
	var last MediaStatus
	conn.On(t, func() { last = c.LastStatus() })
	if last.MediaSessionID != 11 {
		t.Fatalf("push did not refresh status: %+v", last)
	}
}

func TestLoadFailedKeepsStatus(t *testing.T) {
	testlog.Start(t)

	conn, c := newTestMediaChannel(t)
	if err := conn.DeliverText(t, mediaAddr, fmt.Sprintf(sampleStatus, 0, 3)); err != nil {
		t.Fatalf("deliver push: %v", err)
	}
	var resp Response
	conn.On(t, func() {
		if err := c.Load(Media{ContentID: "x", ContentType: "video/mp4", StreamType: StreamBuffered}, false, func(r Response) { resp = r }); err != nil {
			t.Errorf("load: %v", err)
		}
	})
	failed := fmt.Sprintf(`{"type":"LOAD_FAILED","requestId":%d}`, lastRequestID(t, conn))
	if err := conn.DeliverText(t, mediaAddr, failed); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if resp.Succeeded() || resp.Reason != protocol.TypeLoadFailed {
		t.Fatalf("expected LOAD_FAILED response, got %+v", resp)
	}
	var last MediaStatus
	conn.On(t, func() { last = c.LastStatus() })
	if last.MediaSessionID != 3 {
		t.Fatalf("failed load replaced status: %+v", last)
	}
}

func TestPlayerInitializeAndStop(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	p := NewPlayer()
	if p.ID() != DefaultReceiverAppID {
		t.Fatalf("unexpected app id: %s", p.ID())
	}

	var err error
	conn.On(t, func() { err = p.Load(Media{}, true, nil) })
	if !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("expected ErrClosed before init, got %v", err)
	}

	var done []bool
	conn.On(t, func() {
		err := p.Initialize(conn, receiver.ApplicationInfo{AppID: DefaultReceiverAppID, SessionID: "s-1", TransportID: "web-1"}, func(ok bool) {
			done = append(done, ok)
		})
		if err != nil {
			t.Errorf("initialize: %v", err)
		}
	})
	bodies := conn.SentBodies(t)
	if len(bodies) != 2 || bodies[0].Type() != protocol.TypeConnect || bodies[1].Type() != protocol.TypeGetStatus {
		t.Fatalf("expected CONNECT then media GET_STATUS, got %v", bodies)
	}
	if len(done) != 0 {
		t.Fatalf("initialization completed before media status")
	}

	playerAddr := envelope.NewAddress(p.SenderID(), "web-1", protocol.NamespaceMedia)
	if err := conn.DeliverText(t, playerAddr, fmt.Sprintf(sampleStatus, lastRequestID(t, conn), 1)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(done) != 1 || !done[0] {
		t.Fatalf("expected initialization success, got %v", done)
	}

	conn.On(t, func() { p.Stopped() })
	if conn.Router().Len() != 0 {
		t.Fatalf("player left %d channels registered", conn.Router().Len())
	}
	if last := conn.LastBody(t); last.Type() != protocol.TypeClose {
		t.Fatalf("expected CLOSE on stop, got %s", last)
	}
}
