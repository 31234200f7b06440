package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/testutil/chantest"
	"github.com/danmuck/castctl/internal/testutil/testlog"
)

func newRunningHeartbeat(t *testing.T, conn *chantest.Conn) *Heartbeat {
	t.Helper()
	var hb *Heartbeat
	conn.On(t, func() {
		var err error
		hb, err = NewHeartbeat(conn, protocol.DefaultSenderID, protocol.DefaultReceiverID, DefaultHeartbeatConfig())
		if err != nil {
			t.Errorf("new heartbeat: %v", err)
			return
		}
		hb.Start()
	})
	if hb == nil {
		t.FailNow()
	}
	return hb
}

func countType(t *testing.T, conn *chantest.Conn, msgType string) int {
	t.Helper()
	n := 0
	for _, body := range conn.SentBodies(t) {
		if body.Type() == msgType {
			n++
		}
	}
	return n
}

var heartbeatInbound = envelope.NewAddress(protocol.DefaultReceiverID, protocol.DefaultSenderID, protocol.NamespaceHeartbeat)

func TestHeartbeatSendsPingEachInterval(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	newRunningHeartbeat(t, conn)

	conn.Advance(t, 5*time.Second, 3)
	if got := countType(t, conn, protocol.TypePing); got != 3 {
		t.Fatalf("expected 3 pings after 15s, got %d", got)
	}
	if len(conn.Failures()) != 0 {
		t.Fatalf("unexpected failure: %v", conn.Failures())
	}
}

func TestHeartbeatLivenessTimeout(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	hb := newRunningHeartbeat(t, conn)

	conn.Advance(t, 5*time.Second, 5)
	if len(conn.Failures()) != 0 {
		t.Fatalf("failed before timeout: %v", conn.Failures())
	}
	conn.Advance(t, 5*time.Second, 1)

	failures := conn.Failures()
	if len(failures) != 1 || !errors.Is(failures[0], protocol.ErrLivenessTimeout) {
		t.Fatalf("expected one liveness failure, got %v", failures)
	}
	var state HeartbeatState
	conn.On(t, func() { state = hb.State() })
	if state != HeartbeatClosed {
		t.Fatalf("expected closed state, got %s", state)
	}
}

func TestHeartbeatPingRepliesPongAndResetsTimeout(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	newRunningHeartbeat(t, conn)

	conn.Advance(t, 5*time.Second, 5)
	if err := conn.Deliver(t, envelope.New(heartbeatInbound, envelope.TextPayload(`{"type":"PING"}`))); err != nil {
		t.Fatalf("deliver ping: %v", err)
	}
	if got := countType(t, conn, protocol.TypePong); got != 1 {
		t.Fatalf("expected exactly one pong, got %d", got)
	}

	conn.Advance(t, 5*time.Second, 5)
	if len(conn.Failures()) != 0 {
		t.Fatalf("timeout not reset by ping: %v", conn.Failures())
	}
	conn.Advance(t, 5*time.Second, 1)
	if len(conn.Failures()) != 1 {
		t.Fatalf("expected liveness failure 30s after last ping, got %v", conn.Failures())
	}
}

func TestHeartbeatPongIsHandledWithoutReset(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	newRunningHeartbeat(t, conn)

	conn.Advance(t, 5*time.Second, 5)
	if err := conn.Deliver(t, envelope.New(heartbeatInbound, envelope.TextPayload(`{"type":"PONG"}`))); err != nil {
		t.Fatalf("deliver pong: %v", err)
	}
	conn.Advance(t, 5*time.Second, 1)
	if len(conn.Failures()) != 1 {
		t.Fatalf("pong should not reset the timeout, failures=%v", conn.Failures())
	}
}

func TestHeartbeatStopCancelsTimers(t *testing.T) {
	testlog.Start(t)

	conn := chantest.New(t)
	hb := newRunningHeartbeat(t, conn)
	conn.On(t, func() {
		hb.Stop()
		hb.Stop()
	})

	conn.Advance(t, 5*time.Second, 10)
	if got := countType(t, conn, protocol.TypePing); got != 0 {
		t.Fatalf("stopped heartbeat sent %d pings", got)
	}
	if len(conn.Failures()) != 0 {
		t.Fatalf("stopped heartbeat failed the connection: %v", conn.Failures())
	}
}
