package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/danmuck/castctl/internal/protocol"
)

// CastMessage protobuf field numbers.
const (
	fieldProtocolVersion protowire.Number = 1
	fieldSourceID        protowire.Number = 2
	fieldDestinationID   protowire.Number = 3
	fieldNamespace       protowire.Number = 4
	fieldPayloadType     protowire.Number = 5
	fieldPayloadUTF8     protowire.Number = 6
	fieldPayloadBinary   protowire.Number = 7
)

// Encode serializes e as a CastMessage.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	size := len(e.Address.Source) + len(e.Address.Destination) + len(e.Address.Namespace) +
		len(e.Payload.Text) + len(e.Payload.Binary) + 32
	b := make([]byte, 0, size)

	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Version))
	b = appendString(b, fieldSourceID, e.Address.Source)
	b = appendString(b, fieldDestinationID, e.Address.Destination)
	b = appendString(b, fieldNamespace, e.Address.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Payload.Kind))
	if e.Payload.Kind == KindText {
		b = appendString(b, fieldPayloadUTF8, e.Payload.Text)
	} else {
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload.Binary)
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Decode parses a CastMessage. Unknown fields are skipped; a known field
// with the wrong wire type is malformed.
func Decode(b []byte) (Envelope, error) {
	var (
		e    Envelope
		seen = map[protowire.Number]bool{}
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, malformed("tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == fieldProtocolVersion || num == fieldPayloadType) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, malformed("varint", protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldProtocolVersion {
				e.Version = ProtocolVersion(v)
			} else {
				e.Payload.Kind = PayloadKind(v)
			}
		case num >= fieldSourceID && num <= fieldPayloadBinary && num != fieldPayloadType && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed("bytes", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSourceID:
				e.Address.Source = string(v)
			case fieldDestinationID:
				e.Address.Destination = string(v)
			case fieldNamespace:
				e.Address.Namespace = string(v)
			case fieldPayloadUTF8:
				e.Payload.Text = string(v)
			case fieldPayloadBinary:
				e.Payload.Binary = append([]byte(nil), v...)
			}
		case num >= fieldProtocolVersion && num <= fieldPayloadBinary:
			return Envelope{}, fmt.Errorf("%w: field %d has wire type %d", protocol.ErrMalformedEnvelope, num, typ)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, malformed("field", protowire.ParseError(n))
			}
			b = b[n:]
		}
		seen[num] = true
	}

	for _, required := range []protowire.Number{fieldProtocolVersion, fieldSourceID, fieldDestinationID, fieldNamespace, fieldPayloadType} {
		if !seen[required] {
			return Envelope{}, fmt.Errorf("%w: missing required field %d", protocol.ErrMalformedEnvelope, required)
		}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", protocol.ErrMalformedEnvelope, what, err)
}
