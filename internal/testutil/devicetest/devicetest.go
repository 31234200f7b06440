// Package devicetest runs a scripted cast receiver on the far side of a
// socket. It answers the platform, receiver, and media namespaces the
// way a Default Media Receiver does.
package devicetest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/frame"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
	"github.com/danmuck/castctl/internal/testutil/tlstest"
	"github.com/danmuck/castctl/internal/transport"
)

const (
	MediaAppID       = "CC1AD845"
	MediaDisplayName = "Default Media Receiver"
	SessionID        = "session-1"
	TransportID      = "web-1"
)

// HandlerFunc may take over an inbound message. Returning true skips the
// scripted behavior.
type HandlerFunc func(d *Device, env envelope.Envelope, msg jsonmsg.Message) bool

type Option func(*Device)

// WithHandler installs h ahead of the scripted behavior.
func WithHandler(h HandlerFunc) Option {
	return func(d *Device) { d.handler = h }
}

// WithApps sets which application ids LAUNCH and GET_APP_AVAILABILITY
// accept.
func WithApps(appIDs ...string) Option {
	return func(d *Device) {
		d.st.mu.Lock()
		defer d.st.mu.Unlock()
		d.st.apps = map[string]bool{}
		for _, id := range appIDs {
			d.st.apps[id] = true
		}
	}
}

func WithVolume(level float64, muted bool) Option {
	return func(d *Device) {
		d.st.mu.Lock()
		defer d.st.mu.Unlock()
		d.st.level = level
		d.st.muted = muted
	}
}

// state is the receiver side of the device. Connections accepted by one
// Server share it.
type state struct {
	mu           sync.Mutex
	apps         map[string]bool
	level        float64
	muted        bool
	running      string
	mediaSession int64
	playerState  string
	contentID    string
	currentTime  float64
	activeTracks []int
}

func newState() *state {
	return &state{
		apps:        map[string]bool{MediaAppID: true},
		level:       0.5,
		playerState: "IDLE",
	}
}

// Device is one scripted receiver connection.
type Device struct {
	t       testing.TB
	conn    net.Conn
	handler HandlerFunc
	st      *state

	writeMu sync.Mutex

	mu       sync.Mutex
	received []envelope.Envelope
	done     chan struct{}
}

// Serve answers conn until it closes.
func Serve(t testing.TB, conn net.Conn, opts ...Option) *Device {
	t.Helper()
	return serve(t, conn, newState(), opts...)
}

func serve(t testing.TB, conn net.Conn, st *state, opts ...Option) *Device {
	d := &Device{t: t, conn: conn, st: st, done: make(chan struct{})}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	t.Cleanup(func() {
		_ = conn.Close()
		<-d.done
	})
	return d
}

// Pipe returns a client transport wired to a fresh device.
func Pipe(t testing.TB, opts ...Option) (*transport.Transport, *Device) {
	t.Helper()
	client, server := net.Pipe()
	return transport.New(client), Serve(t, server, opts...)
}

// Server accepts TLS connections and serves a device on each. All of
// them share one receiver state.
type Server struct {
	Host      string
	Port      int
	Authority *tlstest.Authority

	receiver *Device
	mu       sync.Mutex
	devices  []*Device
}

// Receiver reads the shared receiver state. Only its state accessors
// are usable.
func (s *Server) Receiver() *Device { return s.receiver }

func Listen(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, authority := tlstest.Listen(t)
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{Host: addr.IP.String(), Port: addr.Port, Authority: authority}
	s.receiver = &Device{st: newState()}
	for _, opt := range opts {
		opt(s.receiver)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if tc, ok := conn.(*tls.Conn); ok {
				if err := tc.Handshake(); err != nil {
					_ = conn.Close()
					continue
				}
			}
			d := serve(t, conn, s.receiver.st, WithHandler(s.receiver.handler))
			s.mu.Lock()
			s.devices = append(s.devices, d)
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *Server) Devices() []*Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Device(nil), s.devices...)
}

// Done is closed once the client side hangs up.
func (d *Device) Done() <-chan struct{} { return d.done }

func (d *Device) Close() error { return d.conn.Close() }

// Received returns the bodies of inbound text messages on namespace.
func (d *Device) Received(namespace string) []jsonmsg.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []jsonmsg.Message
	for _, env := range d.received {
		if env.Address.Namespace != namespace || env.Payload.Kind != envelope.KindText {
			continue
		}
		msg, err := jsonmsg.Parse(env.Payload.Text)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Types lists the message types received on namespace, in order.
func (d *Device) Types(namespace string) []string {
	var out []string
	for _, msg := range d.Received(namespace) {
		out = append(out, msg.Type())
	}
	return out
}

func (d *Device) Volume() (float64, bool) {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	return d.st.level, d.st.muted
}

// Running is the id of the running application, empty when idle.
func (d *Device) Running() string {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	return d.st.running
}

// SetRunning starts appID as if another sender launched it.
func (d *Device) SetRunning(appID string) {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	d.st.running = appID
}

func (d *Device) PlayerState() string {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	return d.st.playerState
}

// Send writes env to the client.
func (d *Device) Send(env envelope.Envelope) error {
	payload, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return frame.WriteFrame(d.conn, payload, frame.DefaultLimits())
}

// SendText writes body on addr.
func (d *Device) SendText(addr envelope.Address, body jsonmsg.Message) error {
	return d.Send(envelope.New(addr, envelope.TextPayload(body.String())))
}

// ReceiverStatus pushes an unsolicited RECEIVER_STATUS to sender-0.
func (d *Device) ReceiverStatus() error {
	addr := envelope.NewAddress(protocol.DefaultReceiverID, protocol.DefaultSenderID, protocol.NamespaceReceiver)
	return d.SendText(addr, d.receiverStatus(0))
}

func (d *Device) run() {
	defer close(d.done)
	r := frame.Reader(d.conn)
	for {
		payload, err := frame.ReadFrame(r, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				d.t.Logf("device read: %v", err)
			}
			return
		}
		env, err := envelope.Decode(payload)
		if err != nil {
			d.t.Errorf("device decode: %v", err)
			return
		}
		d.mu.Lock()
		d.received = append(d.received, env)
		d.mu.Unlock()

		if env.Payload.Kind != envelope.KindText {
			continue
		}
		msg, err := jsonmsg.Parse(env.Payload.Text)
		if err != nil {
			d.t.Errorf("device parse %s: %v", env.Address, err)
			continue
		}
		if d.handler != nil && d.handler(d, env, msg) {
			continue
		}
		reply, ok := d.answer(env, msg)
		if !ok {
			continue
		}
		if err := d.SendText(env.Address.Inbound(), reply); err != nil {
			return
		}
	}
}

func (d *Device) answer(env envelope.Envelope, msg jsonmsg.Message) (jsonmsg.Message, bool) {
	switch env.Address.Namespace {
	case protocol.NamespaceHeartbeat:
		if msg.Type() == protocol.TypePing {
			return jsonmsg.New(protocol.TypePong), true
		}
	case protocol.NamespaceReceiver:
		return d.answerReceiver(msg)
	case protocol.NamespaceMedia:
		return d.answerMedia(msg)
	}
	return jsonmsg.Message{}, false
}

func (d *Device) answerReceiver(msg jsonmsg.Message) (jsonmsg.Message, bool) {
	id, _ := msg.RequestID()
	d.st.mu.Lock()
	switch msg.Type() {
	case protocol.TypeGetStatus:
	case protocol.TypeSetVolume:
		if level := msg.Get("volume.level"); level.Exists() {
			d.st.level = level.Float()
		}
		if muted := msg.Get("volume.muted"); muted.Exists() {
			d.st.muted = muted.Bool()
		}
	case protocol.TypeLaunch:
		appID := msg.Get("appId").String()
		if !d.st.apps[appID] {
			d.st.mu.Unlock()
			reply := jsonmsg.New(protocol.TypeLaunchError)
			reply.MustSet(jsonmsg.FieldRequestID, id)
			reply.MustSet(jsonmsg.FieldReason, "NOT_FOUND")
			return reply, true
		}
		d.st.running = appID
		d.st.mediaSession = 0
		d.st.playerState = "IDLE"
	case protocol.TypeStop:
		if msg.Get("sessionId").String() == SessionID {
			d.st.running = ""
		}
	case protocol.TypeGetAppAvailability:
		reply := jsonmsg.Message{}
		reply.MustSet("responseType", protocol.TypeGetAppAvailability)
		reply.MustSet(jsonmsg.FieldRequestID, id)
		availability := map[string]string{}
		for _, appID := range msg.Get("appId").Array() {
			state := "APP_UNAVAILABLE"
			if d.st.apps[appID.String()] {
				state = "APP_AVAILABLE"
			}
			availability[appID.String()] = state
		}
		reply.MustSet("availability", availability)
		d.st.mu.Unlock()
		return reply, true
	default:
		d.st.mu.Unlock()
		return jsonmsg.Message{}, false
	}
	d.st.mu.Unlock()
	return d.receiverStatus(id), true
}

func (d *Device) receiverStatus(requestID uint64) jsonmsg.Message {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	body := jsonmsg.New(protocol.TypeReceiverStatus)
	body.MustSet(jsonmsg.FieldRequestID, requestID)
	body.MustSet("status.volume.level", d.st.level)
	body.MustSet("status.volume.muted", d.st.muted)
	body.MustSet("status.isActiveInput", true)
	body.MustSet("status.isStandBy", false)
	if d.st.running != "" {
		displayName := d.st.running
		if d.st.running == MediaAppID {
			displayName = MediaDisplayName
		}
		body.MustSet("status.applications", []map[string]any{{
			"appId":       d.st.running,
			"displayName": displayName,
			"sessionId":   SessionID,
			"transportId": TransportID,
			"statusText":  "Ready To Cast",
			"namespaces":  []map[string]string{{"name": protocol.NamespaceMedia}},
		}})
	}
	return body
}

func (d *Device) answerMedia(msg jsonmsg.Message) (jsonmsg.Message, bool) {
	id, _ := msg.RequestID()
	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	switch msg.Type() {
	case protocol.TypeGetStatus:
		return d.mediaStatus(id), true
	case protocol.TypeLoad:
		d.st.mediaSession++
		d.st.contentID = msg.Get("media.contentId").String()
		d.st.currentTime = msg.Get("currentTime").Float()
		d.st.playerState = "PAUSED"
		if msg.Get("autoplay").Bool() {
			d.st.playerState = "PLAYING"
		}
		return d.mediaStatus(id), true
	}

	if d.st.mediaSession == 0 || msg.Get("mediaSessionId").Int() != d.st.mediaSession {
		reply := jsonmsg.New(protocol.TypeInvalidPlayerState)
		reply.MustSet(jsonmsg.FieldRequestID, id)
		return reply, true
	}
	switch msg.Type() {
	case protocol.TypePlay:
		d.st.playerState = "PLAYING"
	case protocol.TypePause:
		d.st.playerState = "PAUSED"
	case protocol.TypeStop:
		d.st.playerState = "IDLE"
	case protocol.TypeSeek:
		d.st.currentTime = msg.Get("currentTime").Float()
	case protocol.TypeEditTracksInfo:
		d.st.activeTracks = d.st.activeTracks[:0]
		for _, track := range msg.Get("activeTrackIds").Array() {
			d.st.activeTracks = append(d.st.activeTracks, int(track.Int()))
		}
	default:
		return jsonmsg.Message{}, false
	}
	return d.mediaStatus(id), true
}

// mediaStatus expects d.st.mu held.
func (d *Device) mediaStatus(requestID uint64) jsonmsg.Message {
	body := jsonmsg.New(protocol.TypeMediaStatus)
	body.MustSet(jsonmsg.FieldRequestID, requestID)
	if d.st.mediaSession == 0 {
		body.MustSet("status", []any{})
		return body
	}
	status := map[string]any{
		"mediaSessionId":         d.st.mediaSession,
		"playbackRate":           1,
		"playerState":            d.st.playerState,
		"currentTime":            d.st.currentTime,
		"supportedMediaCommands": 15,
		"volume":                 map[string]any{"level": 1, "muted": false},
		"media": map[string]any{
			"contentId":   d.st.contentID,
			"streamType":  "BUFFERED",
			"contentType": "video/mp4",
		},
	}
	if len(d.st.activeTracks) > 0 {
		status["activeTrackIds"] = d.st.activeTracks
	}
	body.MustSet("status", []any{status})
	return body
}
