// Package transport is the secure byte stream under the framed
// connection: TCP connect, TLS handshake, read-exact with a liveness
// probe on partial reads, and all-or-nothing writes.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/castctl/internal/protocol"
)

// Transport owns one connected stream.
type Transport struct {
	conn         net.Conn
	writeTimeout time.Duration
	probe        func() error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type Option func(*Transport)

// WithProbe replaces the liveness probe issued after a partial read.
func WithProbe(probe func() error) Option {
	return func(t *Transport) { t.probe = probe }
}

// WithWriteTimeout bounds every WriteAll call.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Transport {
	t := &Transport{conn: conn}
	t.probe = t.zeroWriteProbe
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to an IP literal and completes the TLS handshake.
func Dial(ctx context.Context, host string, port int, cfg Config) (*Transport, error) {
	cfg = cfg.WithDefaults()
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%w: %w: %q", protocol.ErrConnect, protocol.ErrInvalidAddress, host)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %w: port %d", protocol.ErrConnect, protocol.ErrInvalidAddress, port)
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrConnect, addr, err)
	}

	tlsCfg, err := cfg.clientTLSConfig(ip.String())
	if err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("%w: %v", protocol.ErrConnect, err)
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("%w: tls handshake %s: %v", protocol.ErrConnect, addr, err)
	}
	return New(conn, WithWriteTimeout(cfg.WriteTimeout)), nil
}

// ReadExact fills buf. A read that returns fewer bytes than requested
// triggers a liveness probe; reading resumes at the current offset only
// if the probe succeeds.
func (t *Transport) ReadExact(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := t.conn.Read(buf[off:])
		off += n
		if off == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if off == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				return err
			}
		}
		if perr := t.probe(); perr != nil {
			return fmt.Errorf("%w: probe after %d/%d bytes: %v", protocol.ErrConnectionDead, off, len(buf), perr)
		}
	}
	return nil
}

// WriteAll writes b in one call. A short write is fatal and never retried.
func (t *Transport) WriteAll(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	n, err := t.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d of %d bytes", protocol.ErrShortWrite, n, len(b))
	}
	return nil
}

// zeroWriteProbe reports a locally closed stream or an earlier write
// failure. It never reaches the socket, so a peer that hung up is not
// seen here; the next blocking Read returns EOF or a reset instead.
func (t *Transport) zeroWriteProbe() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(nil)
	return err
}

// Close shuts the stream down. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if tc, ok := t.conn.(*tls.Conn); ok {
			_ = tc.SetWriteDeadline(time.Now().Add(time.Second))
			t.closeErr = tc.Close()
			return
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
