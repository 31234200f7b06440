package protocol

import "errors"

// Connect failures are reported to the caller of Connect and never close
// an established session.
var (
	ErrConnect        = errors.New("protocol: connect failed")
	ErrInvalidAddress = errors.New("protocol: invalid device address")
)

// IO failures are fatal to the connection.
var (
	ErrShortWrite     = errors.New("protocol: short write")
	ErrConnectionDead = errors.New("protocol: connection dead")
	ErrClosed         = errors.New("protocol: connection closed")
)

// Wire and peer violations are fatal to the connection.
var (
	ErrMalformedEnvelope   = errors.New("protocol: malformed envelope")
	ErrEmptyBinaryPayload  = errors.New("protocol: empty binary payload")
	ErrProtocolViolation   = errors.New("protocol: protocol violation")
	ErrInvalidRequest      = errors.New("protocol: peer rejected request")
	ErrUnrecognizedAddress = errors.New("protocol: unrecognized address")
	ErrUnhandledMessage    = errors.New("protocol: unhandled message")
	ErrLivenessTimeout     = errors.New("protocol: heartbeat liveness timeout")
)

// Local precondition failures are returned synchronously before any I/O.
var (
	ErrInvalidParameter = errors.New("protocol: invalid parameter")
	ErrInvalidArgument  = errors.New("protocol: invalid argument")
)

// Registry lifetime errors indicate a logic error in channel ownership.
var (
	ErrDuplicateAddress = errors.New("protocol: address already registered")
	ErrNotRegistered    = errors.New("protocol: address not registered")
)

// IsFatal reports whether err must tear down the connection.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrInvalidArgument):
		return false
	default:
		return true
	}
}
