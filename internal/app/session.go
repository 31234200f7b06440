// Package app is the sender side of a launched or joined receiver
// application: a per-session sender id and the virtual connection to
// the transport id the device assigned.
package app

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/observability"
	"github.com/danmuck/castctl/internal/receiver"
)

// Application is what the receiver channel launches and joins.
type Application = receiver.Application

// Session is the base Application. Embed it to add app channels.
type Session struct {
	appID       string
	senderID    string
	sessionID   string
	transportID string
	conn        channel.Conn
	connection  *channel.ConnectionChannel
	opts        []channel.Option
	logger      zerolog.Logger
}

var _ Application = (*Session)(nil)

// NewSession returns a detached session for appID. opts apply to every
// channel the session opens.
func NewSession(appID string, opts ...channel.Option) *Session {
	return &Session{
		appID:    appID,
		senderID: "sender-" + uuid.NewString(),
		opts:     opts,
		logger:   observability.Component("app").With().Str("app_id", appID).Logger(),
	}
}

func (s *Session) ID() string          { return s.appID }
func (s *Session) SenderID() string    { return s.senderID }
func (s *Session) SessionID() string   { return s.sessionID }
func (s *Session) TransportID() string { return s.transportID }

// Conn is the connection the session is attached to, or nil.
func (s *Session) Conn() channel.Conn { return s.conn }

func (s *Session) ChannelOptions() []channel.Option { return s.opts }

// Attached reports whether the virtual connection is open.
func (s *Session) Attached() bool { return s.connection != nil }

// Initialize attaches and reports success immediately.
func (s *Session) Initialize(conn channel.Conn, info receiver.ApplicationInfo, done func(bool)) error {
	ok, err := s.Attach(conn, info)
	if err != nil {
		return err
	}
	done(ok)
	return nil
}

// Attach opens the virtual connection to info.TransportID and sends
// CONNECT. It reports false when the app has no transport id yet.
func (s *Session) Attach(conn channel.Conn, info receiver.ApplicationInfo) (bool, error) {
	if info.TransportID == "" {
		s.logger.Warn().Str("session_id", info.SessionID).Msg("application has no transport id")
		return false, nil
	}
	if s.connection != nil {
		s.Stopped()
	}
	cc, err := channel.NewConnectionChannel(conn, s.senderID, info.TransportID, s.opts...)
	if err != nil {
		return false, err
	}
	cc.OnRemoteClose(func() {
		s.logger.Debug().Str("session_id", s.sessionID).Msg("receiver closed application connection")
	})
	if err := cc.Connect(); err != nil {
		_ = cc.Close()
		return false, err
	}
	s.conn = conn
	s.connection = cc
	s.sessionID = info.SessionID
	s.transportID = info.TransportID
	s.logger.Debug().Str("session_id", s.sessionID).Str("transport_id", s.transportID).Str("sender_id", s.senderID).Msg("application attached")
	return true, nil
}

// Stopped sends CLOSE and releases the virtual connection. Idempotent.
func (s *Session) Stopped() {
	if s.connection == nil {
		return
	}
	if err := s.connection.CloseVirtual(); err != nil {
		s.logger.Debug().Err(err).Msg("close virtual connection")
	}
	if err := s.connection.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("unregister connection channel")
	}
	s.connection = nil
	s.sessionID = ""
	s.transportID = ""
}
