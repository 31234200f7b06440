package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the big-endian length prefix.
const HeaderLen = 4

var (
	ErrShortHeader     = errors.New("frame: short length prefix")
	ErrEmptyFrame      = errors.New("frame: zero length frame")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits matches the 64 KiB message ceiling enforced by receivers.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

// ExactReader fills a buffer completely or fails. Transports implement it
// with their own partial-read policy.
type ExactReader interface {
	ReadExact(buf []byte) error
}

type fullReader struct{ r io.Reader }

func (f fullReader) ReadExact(buf []byte) error {
	_, err := io.ReadFull(f.r, buf)
	return err
}

// Reader adapts a plain io.Reader to ExactReader using io.ReadFull.
func Reader(r io.Reader) ExactReader {
	if er, ok := r.(ExactReader); ok {
		return er
	}
	return fullReader{r: r}
}

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r ExactReader, limits Limits) ([]byte, error) {
	var prefix [HeaderLen]byte
	if err := r.ReadExact(prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if limits.MaxPayloadBytes > 0 && n > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
	}
	payload := make([]byte, n)
	if err := r.ReadExact(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst []byte, payload []byte, limits Limits) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}
	if limits.MaxPayloadBytes > 0 && uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes one length-prefixed payload in a single Write call so
// concurrent framing can never interleave a prefix with another payload.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload, limits)
	if err != nil {
		return err
	}
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
