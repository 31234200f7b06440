// Package jsonmsg is the JSON body capability for text sub-protocols:
// parse a received body, read fields by path, and build outbound bodies
// incrementally.
package jsonmsg

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/danmuck/castctl/internal/protocol"
)

// Field names shared by every request/response body.
const (
	FieldType      = "type"
	FieldRequestID = "requestId"
	FieldReason    = "reason"
)

// Message is a JSON object body. The zero value is an empty object.
type Message struct {
	raw string
}

// New returns an empty body with the type field set.
func New(msgType string) Message {
	m := Message{}
	m.MustSet(FieldType, msgType)
	return m
}

// Parse validates s as a JSON object.
func Parse(s string) (Message, error) {
	if !gjson.Valid(s) {
		return Message{}, fmt.Errorf("%w: invalid json body", protocol.ErrProtocolViolation)
	}
	if !gjson.Parse(s).IsObject() {
		return Message{}, fmt.Errorf("%w: json body is not an object", protocol.ErrProtocolViolation)
	}
	return Message{raw: s}, nil
}

// Get reads a value by gjson path.
func (m Message) Get(path string) gjson.Result {
	return gjson.Get(m.String(), path)
}

// Has reports whether path exists.
func (m Message) Has(path string) bool {
	return m.Get(path).Exists()
}

// Type returns the type field, or "" when absent.
func (m Message) Type() string {
	return m.Get(FieldType).String()
}

// RequestID returns the requestId field and whether it was present.
func (m Message) RequestID() (uint64, bool) {
	r := m.Get(FieldRequestID)
	if !r.Exists() || r.Type != gjson.Number {
		return 0, false
	}
	return r.Uint(), true
}

// Set writes value at path.
func (m *Message) Set(path string, value any) error {
	out, err := sjson.Set(m.String(), path, value)
	if err != nil {
		return fmt.Errorf("jsonmsg: set %s: %w", path, err)
	}
	m.raw = out
	return nil
}

// MustSet is Set for statically known paths and values.
func (m *Message) MustSet(path string, value any) {
	if err := m.Set(path, value); err != nil {
		panic(err)
	}
}

// SetRaw embeds pre-encoded JSON at path.
func (m *Message) SetRaw(path string, raw []byte) error {
	out, err := sjson.SetRawBytes([]byte(m.String()), path, raw)
	if err != nil {
		return fmt.Errorf("jsonmsg: set raw %s: %w", path, err)
	}
	m.raw = string(out)
	return nil
}

// SetJSON marshals v with encoding/json and embeds it at path.
func (m *Message) SetJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonmsg: marshal %s: %w", path, err)
	}
	return m.SetRaw(path, raw)
}

// Decode unmarshals the whole body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal([]byte(m.String()), v); err != nil {
		return fmt.Errorf("%w: decode %s body: %v", protocol.ErrProtocolViolation, m.Type(), err)
	}
	return nil
}

// Clone returns an independent copy.
func (m Message) Clone() Message {
	return Message{raw: m.raw}
}

func (m Message) String() string {
	if m.raw == "" {
		return "{}"
	}
	return m.raw
}
