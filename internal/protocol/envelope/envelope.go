package envelope

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/castctl/internal/protocol"
)

// Broadcast is the wildcard destination id.
const Broadcast = protocol.BroadcastID

// ProtocolVersion is the envelope protocol version enum.
type ProtocolVersion int32

const (
	VersionCastV2_1_0 ProtocolVersion = 0
)

// PayloadKind tags the payload union.
type PayloadKind int32

const (
	KindText   PayloadKind = 0
	KindBinary PayloadKind = 1
)

func (k PayloadKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// Address is the (source, destination, namespace) routing triple.
type Address struct {
	Source      string
	Destination string
	Namespace   string
}

func NewAddress(source, destination, namespace string) Address {
	return Address{Source: source, Destination: destination, Namespace: namespace}
}

// Inbound returns the address a peer uses when replying to a channel
// declared with a.
func (a Address) Inbound() Address {
	return Address{Source: a.Destination, Destination: a.Source, Namespace: a.Namespace}
}

// IsBroadcast reports whether the destination is the wildcard.
func (a Address) IsBroadcast() bool {
	return a.Destination == Broadcast
}

// Less orders addresses by source, namespace, destination with the
// wildcard destination sorted last.
func (a Address) Less(b Address) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	if a.IsBroadcast() || b.IsBroadcast() {
		return !a.IsBroadcast() && b.IsBroadcast()
	}
	return a.Destination < b.Destination
}

func (a Address) String() string {
	return fmt.Sprintf("%s -> %s [%s]", a.Source, a.Destination, a.Namespace)
}

// Payload is the text-or-binary body of an envelope.
type Payload struct {
	Kind   PayloadKind
	Text   string
	Binary []byte
}

func TextPayload(s string) Payload {
	return Payload{Kind: KindText, Text: s}
}

func BinaryPayload(b []byte) Payload {
	return Payload{Kind: KindBinary, Binary: b}
}

// Envelope is one framed protocol message.
type Envelope struct {
	Version ProtocolVersion
	Address Address
	Payload Payload
}

// New builds an envelope at the current protocol version.
func New(addr Address, payload Payload) Envelope {
	return Envelope{Version: VersionCastV2_1_0, Address: addr, Payload: payload}
}

// Validate checks the invariants enforced on both encode and decode.
func (e Envelope) Validate() error {
	if e.Version != VersionCastV2_1_0 {
		return fmt.Errorf("%w: unsupported protocol version %d", protocol.ErrMalformedEnvelope, e.Version)
	}
	switch e.Payload.Kind {
	case KindText:
		if !utf8.ValidString(e.Payload.Text) {
			return fmt.Errorf("%w: text payload is not utf-8", protocol.ErrMalformedEnvelope)
		}
	case KindBinary:
		if len(e.Payload.Binary) == 0 {
			return fmt.Errorf("%w: %w", protocol.ErrMalformedEnvelope, protocol.ErrEmptyBinaryPayload)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %d", protocol.ErrMalformedEnvelope, e.Payload.Kind)
	}
	return nil
}

// String renders the envelope for tracing.
func (e Envelope) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "source=%s destination=%s namespace=%s payload=", e.Address.Source, e.Address.Destination, e.Address.Namespace)
	if e.Payload.Kind == KindText {
		b.WriteString(e.Payload.Text)
	} else {
		fmt.Fprintf(&b, "<%d bytes>", len(e.Payload.Binary))
	}
	return b.String()
}
