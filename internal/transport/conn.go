package transport

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Role tells which side of the exchange a Conn is on.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// DefaultBufferSize is used when a Conn is created with BufferSize 0.
const DefaultBufferSize = 8192

// Conn is one framed connection owned by the transport layer. It implements
// net.Conn. Read and Write refresh the configured deadlines on every call and
// report failures as *Error.
type Conn struct {
	id         string
	role       Role
	raw        net.Conn
	tlsConn    *tls.Conn
	remoteAddr string

	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int
	attempts     int

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// connOptions carries the framing settings shared by both roles.
type connOptions struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int
}

func newConn(raw net.Conn, role Role, opts connOptions) *Conn {
	if opts.bufferSize <= 0 {
		opts.bufferSize = DefaultBufferSize
	}
	c := &Conn{
		id:           uuid.NewString(),
		role:         role,
		raw:          raw,
		readTimeout:  opts.readTimeout,
		writeTimeout: opts.writeTimeout,
		bufferSize:   opts.bufferSize,
	}
	if raw.RemoteAddr() != nil {
		c.remoteAddr = raw.RemoteAddr().String()
	}
	if tc, ok := raw.(*tls.Conn); ok {
		c.tlsConn = tc
	}
	return c
}

// NewConn wraps an already established connection, for example one end of a
// net.Pipe in tests.
func NewConn(raw net.Conn, role Role, readTimeout, writeTimeout time.Duration, bufferSize int) *Conn {
	return newConn(raw, role, connOptions{readTimeout: readTimeout, writeTimeout: writeTimeout, bufferSize: bufferSize})
}

// ID returns the connection identifier used in log lines.
func (c *Conn) ID() string { return c.id }

// Role returns RoleServer or RoleClient.
func (c *Conn) Role() Role { return c.role }

// BufferSize returns the chunk size used for writes.
func (c *Conn) BufferSize() int { return c.bufferSize }

// Attempts returns how many dial attempts a client connection needed.
func (c *Conn) Attempts() int { return c.attempts }

// TLS reports whether the connection is encrypted.
func (c *Conn) TLS() bool { return c.tlsConn != nil }

// TLSState returns the negotiated TLS state, if any.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	if c.tlsConn == nil {
		return tls.ConnectionState{}, false
	}
	return c.tlsConn.ConnectionState(), true
}

// SetReadTimeout changes the idle timeout applied to subsequent reads.
func (c *Conn) SetReadTimeout(d time.Duration) { c.readTimeout = d }

// SetWriteTimeout changes the timeout applied to subsequent writes.
func (c *Conn) SetWriteTimeout(d time.Duration) { c.writeTimeout = d }

// Read reads into p. io.EOF is returned as is so buffered readers see a clean
// end of stream.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, newError(ErrTypeClosed, "read", c.remoteAddr, net.ErrClosed)
	}
	if c.readTimeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, ClassifyNetworkError("read", c.remoteAddr, err)
		}
	}
	n, err := c.raw.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, ClassifyNetworkError("read", c.remoteAddr, err)
	}
	return n, err
}

// Write writes p in chunks of at most BufferSize bytes, refreshing the write
// deadline before each chunk.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, newError(ErrTypeClosed, "write", c.remoteAddr, net.ErrClosed)
	}
	written := 0
	for written < len(p) {
		end := written + c.bufferSize
		if end > len(p) {
			end = len(p)
		}
		if c.writeTimeout > 0 {
			if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return written, ClassifyNetworkError("write", c.remoteAddr, err)
			}
		}
		n, err := c.raw.Write(p[written:end])
		written += n
		if err != nil {
			return written, ClassifyNetworkError("write", c.remoteAddr, err)
		}
	}
	return written, nil
}

// ReadAmount reads exactly n bytes.
func (c *Conn) ReadAmount(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(ErrTypeClosed, "read", c.remoteAddr, err)
		}
		return nil, err
	}
	return buf, nil
}

// ReadLimited reads until the peer closes its side and fails with
// ErrTypeFrameTooLarge once more than max bytes arrive.
func (c *Conn) ReadLimited(max int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(c, max+1))
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, newError(ErrTypeFrameTooLarge, "read", c.remoteAddr,
			fmt.Errorf("frame exceeds %d bytes", max))
	}
	return buf.Bytes(), nil
}

// Close closes the connection. It is safe to call more than once; later calls
// return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// CloseWrite shuts down the writing side where the underlying connection
// supports it.
func (c *Conn) CloseWrite() error {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := c.raw.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *Conn) LocalAddr() net.Addr  { return c.raw.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }
