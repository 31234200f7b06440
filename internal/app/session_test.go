package app

import (
	"strings"
	"testing"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/receiver"
	"github.com/danmuck/castctl/internal/testutil/chantest"
	"github.com/danmuck/castctl/internal/testutil/testlog"
)

func TestSessionInitializeConnectsToTransport(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	s := NewSession("CC1AD845")
	if !strings.HasPrefix(s.SenderID(), "sender-") {
		t.Fatalf("unexpected sender id: %q", s.SenderID())
	}

	var done []bool
	conn.On(t, func() {
		err := s.Initialize(conn, receiver.ApplicationInfo{AppID: "CC1AD845", SessionID: "s-1", TransportID: "web-4"}, func(ok bool) {
			done = append(done, ok)
		})
		if err != nil {
			t.Errorf("initialize: %v", err)
		}
	})

	if len(done) != 1 || !done[0] {
		t.Fatalf("expected initialization success, got %v", done)
	}
	sent := conn.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected CONNECT, got %d envelopes", len(sent))
	}
	if sent[0].Address.Source != s.SenderID() || sent[0].Address.Destination != "web-4" || sent[0].Address.Namespace != protocol.NamespaceConnection {
		t.Fatalf("unexpected CONNECT address: %s", sent[0].Address)
	}
	if s.SessionID() != "s-1" || s.TransportID() != "web-4" || !s.Attached() {
		t.Fatalf("session not recorded: %+v", s)
	}
}

func TestSessionStoppedClosesVirtualConnection(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	s := NewSession("CC1AD845")
	conn.On(t, func() {
		if _, err := s.Attach(conn, receiver.ApplicationInfo{SessionID: "s-1", TransportID: "web-4"}); err != nil {
			t.Errorf("attach: %v", err)
			return
		}
		s.Stopped()
		s.Stopped()
	})

	bodies := conn.SentBodies(t)
	if len(bodies) != 2 || bodies[1].Type() != protocol.TypeClose {
		t.Fatalf("expected CONNECT then CLOSE, got %v", bodies)
	}
	if conn.Router().Len() != 0 {
		t.Fatalf("connection channel still registered")
	}
	if s.Attached() {
		t.Fatalf("session still attached")
	}
}

func TestSessionWithoutTransportReportsFailure(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	s := NewSession("CC1AD845")
	var done []bool
	conn.On(t, func() {
		if err := s.Initialize(conn, receiver.ApplicationInfo{SessionID: "s-1"}, func(ok bool) { done = append(done, ok) }); err != nil {
			t.Errorf("initialize: %v", err)
		}
	})
	if len(done) != 1 || done[0] {
		t.Fatalf("expected failure, got %v", done)
	}
	if len(conn.Sent()) != 0 {
		t.Fatalf("sent without a transport id")
	}
}
