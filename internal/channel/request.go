package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/loop"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

// ResponseHandler receives the correlated response exactly once. A
// non-nil error is fatal to the connection.
type ResponseHandler func(msg jsonmsg.Message) error

// PushHandler handles unsolicited messages carrying request id 0.
type PushHandler func(msg jsonmsg.Message) error

// ObserveFunc sees every response-shaped message before correlation.
type ObserveFunc func(msg jsonmsg.Message) error

// RetryPolicy controls resends of unanswered requests. MaxAttempts 0
// resends until a response arrives or the channel closes.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: 5 * time.Second}
}

type RequestOption func(*pendingRequest)

func WithRetryInterval(d time.Duration) RequestOption {
	return func(p *pendingRequest) {
		if d > 0 {
			p.policy.Interval = d
		}
	}
}

func WithMaxAttempts(n int) RequestOption {
	return func(p *pendingRequest) { p.policy.MaxAttempts = n }
}

// WithOnExpired is called when MaxAttempts sends went unanswered.
func WithOnExpired(f func()) RequestOption {
	return func(p *pendingRequest) { p.onExpired = f }
}

type pendingRequest struct {
	id        uint64
	body      jsonmsg.Message
	handler   ResponseHandler
	policy    RetryPolicy
	attempts  int
	timer     *loop.Timer
	onExpired func()
}

// RequestChannel correlates outbound requests with inbound responses by
// requestId and resends requests that go unanswered.
type RequestChannel struct {
	*Channel
	policy  RetryPolicy
	pending map[uint64]*pendingRequest
	push    PushHandler
	observe ObserveFunc
	logger  zerolog.Logger

	// answered ids, so a duplicate reply to a resent request is dropped
	// instead of treated as unknown
	answered [answeredWindow]uint64
	next     int
}

const answeredWindow = 32

const fieldResponseType = "responseType"

func NewRequestChannel(conn Conn, addr envelope.Address, policy RetryPolicy, opts ...Option) (*RequestChannel, error) {
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetryPolicy().Interval
	}
	rc := &RequestChannel{
		policy:  policy,
		pending: make(map[uint64]*pendingRequest),
		logger:  observability.Component("request").With().Str("namespace", addr.Namespace).Logger(),
	}
	ch, err := New(conn, addr, rc, opts...)
	if err != nil {
		return nil, err
	}
	rc.Channel = ch
	return rc, nil
}

// SetPushHandler installs the handler for request id 0. Without one,
// pushes are unhandled.
func (rc *RequestChannel) SetPushHandler(f PushHandler) {
	rc.push = f
}

// SetObserver installs a hook that sees every response and push.
func (rc *RequestChannel) SetObserver(f ObserveFunc) {
	rc.observe = f
}

// Request stamps the next request id into body, sends it, and arms the
// retry timer. handler may be nil.
func (rc *RequestChannel) Request(body jsonmsg.Message, handler ResponseHandler, opts ...RequestOption) (uint64, error) {
	if rc.Closed() {
		return 0, fmt.Errorf("%w: channel %s", protocol.ErrClosed, rc.Address())
	}
	id := rc.Conn().NextRequestID()
	body = body.Clone()
	if err := body.Set(jsonmsg.FieldRequestID, id); err != nil {
		return 0, err
	}
	p := &pendingRequest{id: id, body: body, handler: handler, policy: rc.policy}
	for _, opt := range opts {
		opt(p)
	}
	rc.pending[id] = p
	observability.RecordRequest(rc.Address().Namespace, body.Type())
	if err := rc.transmit(p); err != nil {
		delete(rc.pending, id)
		return 0, err
	}
	return id, nil
}

func (rc *RequestChannel) transmit(p *pendingRequest) error {
	p.attempts++
	if err := rc.SendJSON(p.body); err != nil {
		return err
	}
	p.timer = rc.Conn().Loop().AfterFunc(p.policy.Interval, func() { rc.retry(p) })
	return nil
}

func (rc *RequestChannel) retry(p *pendingRequest) {
	if rc.pending[p.id] != p {
		return
	}
	if p.policy.MaxAttempts > 0 && p.attempts >= p.policy.MaxAttempts {
		delete(rc.pending, p.id)
		rc.logger.Warn().Uint64("request_id", p.id).Int("attempts", p.attempts).Str("type", p.body.Type()).Msg("request expired")
		if p.onExpired != nil {
			p.onExpired()
		}
		return
	}
	observability.RecordRequestRetry(rc.Address().Namespace)
	rc.logger.Debug().Uint64("request_id", p.id).Int("attempt", p.attempts+1).Str("type", p.body.Type()).Msg("request resend")
	if err := rc.transmit(p); err != nil {
		delete(rc.pending, p.id)
		rc.Conn().Fail(err)
	}
}

// Pending returns the number of unanswered requests.
func (rc *RequestChannel) Pending() int { return len(rc.pending) }

func (rc *RequestChannel) OnText(text string) (bool, error) {
	msg, err := jsonmsg.Parse(text)
	if err != nil {
		return false, err
	}
	id, ok := msg.RequestID()
	msgType := msg.Type()
	if msgType == "" {
		// availability replies carry responseType instead of type
		msgType = msg.Get(fieldResponseType).String()
	}
	if !ok || msgType == "" {
		return false, nil
	}
	if msgType == protocol.TypeInvalidRequest {
		return false, fmt.Errorf("%w: request %d: %s", protocol.ErrInvalidRequest, id, msg.Get(jsonmsg.FieldReason).String())
	}
	if rc.observe != nil {
		if err := rc.observe(msg); err != nil {
			return false, err
		}
	}
	if id == 0 {
		if rc.push == nil {
			return false, nil
		}
		return true, rc.push(msg)
	}
	return rc.complete(id, msg)
}

func (rc *RequestChannel) complete(id uint64, msg jsonmsg.Message) (bool, error) {
	p, ok := rc.pending[id]
	if !ok {
		if rc.wasAnswered(id) {
			rc.logger.Debug().Uint64("request_id", id).Msg("duplicate response dropped")
			return true, nil
		}
		return false, nil
	}
	p.timer.Stop()
	delete(rc.pending, id)
	if p.attempts > 1 {
		rc.answered[rc.next] = id
		rc.next = (rc.next + 1) % answeredWindow
	}
	if p.handler == nil {
		return true, nil
	}
	return true, p.handler(msg)
}

func (rc *RequestChannel) wasAnswered(id uint64) bool {
	for _, got := range rc.answered {
		if got == id {
			return true
		}
	}
	return false
}

// Close cancels every pending retry and unregisters the channel.
func (rc *RequestChannel) Close() error {
	for id, p := range rc.pending {
		p.timer.Stop()
		delete(rc.pending, id)
	}
	return rc.Channel.Close()
}
