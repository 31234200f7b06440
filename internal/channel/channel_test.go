package channel

import (
	"errors"
	"testing"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/testutil/chantest"
	"github.com/danmuck/castctl/internal/testutil/testlog"
)

type probeImpl struct {
	texts    []string
	binaries [][]byte
	sending  []envelope.Envelope
	claim    bool
}

func (p *probeImpl) OnText(text string) (bool, error) {
	p.texts = append(p.texts, text)
	return p.claim, nil
}

func (p *probeImpl) OnBinary(data []byte) (bool, error) {
	p.binaries = append(p.binaries, data)
	return p.claim, nil
}

func (p *probeImpl) OnSending(env envelope.Envelope) {
	p.sending = append(p.sending, env)
}

var mediaAddr = envelope.NewAddress("sender-1", "web-5", protocol.NamespaceMedia)

func TestSendStampsAddressAndNotifiesObserver(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	impl := &probeImpl{}
	var ch *Channel
	conn.On(t, func() {
		var err error
		ch, err = New(conn, mediaAddr, impl)
		if err != nil {
			t.Errorf("new channel: %v", err)
			return
		}
		if err := ch.SendText(`{"type":"GET_STATUS"}`); err != nil {
			t.Errorf("send: %v", err)
			return
		}
	})

	if len(impl.sending) != 1 || impl.sending[0].Address != mediaAddr {
		t.Fatalf("observer not called with stamped envelope: %+v", impl.sending)
	}
	if len(conn.Sent()) != 1 || conn.Sent()[0].Address != mediaAddr {
		t.Fatalf("unexpected sent envelopes: %+v", conn.Sent())
	}
}

func TestHandleEnvelopeDispatchesOnPayloadKind(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	impl := &probeImpl{claim: true}
	conn.On(t, func() {
		if _, err := New(conn, mediaAddr, impl); err != nil {
			t.Errorf("new channel: %v", err)
			return
		}
	})

	if err := conn.Deliver(t, envelope.New(mediaAddr.Inbound(), envelope.TextPayload(`{"type":"X"}`))); err != nil {
		t.Fatalf("deliver text: %v", err)
	}
	if err := conn.Deliver(t, envelope.New(mediaAddr.Inbound(), envelope.BinaryPayload([]byte{1, 2}))); err != nil {
		t.Fatalf("deliver binary: %v", err)
	}
	if len(impl.texts) != 1 || len(impl.binaries) != 1 {
		t.Fatalf("unexpected dispatch texts=%d binaries=%d", len(impl.texts), len(impl.binaries))
	}
}

func TestUnhandledPolicy(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	conn.On(t, func() {
		if _, err := New(conn, mediaAddr, &probeImpl{}); err != nil {
			t.Errorf("new channel: %v", err)
			return
		}
	})

	err := conn.Deliver(t, envelope.New(mediaAddr.Inbound(), envelope.TextPayload(`{"type":"X"}`)))
	if !errors.Is(err, protocol.ErrUnhandledMessage) {
		t.Fatalf("expected ErrUnhandledMessage, got %v", err)
	}

	broadcast := envelope.NewAddress(mediaAddr.Destination, envelope.Broadcast, mediaAddr.Namespace)
	if err := conn.Deliver(t, envelope.New(broadcast, envelope.TextPayload(`{"type":"X"}`))); err != nil {
		t.Fatalf("unhandled broadcast should be ignored: %v", err)
	}
}

func TestCloseUnregistersAndRejectsSend(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	conn.On(t, func() {
		ch, err := New(conn, mediaAddr, nil)
		if err != nil {
			t.Errorf("new channel: %v", err)
			return
		}
		if _, err := New(conn, mediaAddr, nil); !errors.Is(err, protocol.ErrDuplicateAddress) {
			t.Errorf("expected ErrDuplicateAddress, got %v", err)
			return
		}
		if err := ch.Close(); err != nil {
			t.Errorf("close: %v", err)
			return
		}
		if err := ch.Close(); err != nil {
			t.Errorf("second close: %v", err)
			return
		}
		if conn.Router().Len() != 0 {
			t.Errorf("router still holds %d channels", conn.Router().Len())
			return
		}
		if err := ch.SendText("{}"); !errors.Is(err, protocol.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
			return
		}
	})
}

func TestConnectionChannelHandshake(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	remoteClosed := false
	conn.On(t, func() {
		cc, err := NewConnectionChannel(conn, protocol.DefaultSenderID, protocol.DefaultReceiverID)
		if err != nil {
			t.Errorf("new connection channel: %v", err)
			return
		}
		cc.OnRemoteClose(func() { remoteClosed = true })
		if err := cc.Connect(); err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		if err := cc.CloseVirtual(); err != nil {
			t.Errorf("close virtual: %v", err)
			return
		}
	})

	bodies := conn.SentBodies(t)
	if len(bodies) != 2 || bodies[0].Type() != protocol.TypeConnect || bodies[1].Type() != protocol.TypeClose {
		t.Fatalf("unexpected handshake bodies: %v", bodies)
	}
	if conn.Sent()[0].Address.Namespace != protocol.NamespaceConnection {
		t.Fatalf("unexpected namespace: %s", conn.Sent()[0].Address.Namespace)
	}

	inbound := envelope.NewAddress(protocol.DefaultReceiverID, protocol.DefaultSenderID, protocol.NamespaceConnection)
	if err := conn.Deliver(t, envelope.New(inbound, envelope.TextPayload(`{"type":"CLOSE"}`))); err != nil {
		t.Fatalf("deliver close: %v", err)
	}
	if !remoteClosed {
		t.Fatalf("remote close hook not called")
	}
}
