package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultTimeout        = 5 * time.Second
)

var (
	ErrShortRead  = errors.New("transport: short read")
	ErrShortWrite = errors.New("transport: short write")
)

// Dialer opens TCP connections to a device. ConnectTimeout bounds the
// connect attempt; Timeout is applied as a deadline to every read and write
// on the returned connection.
type Dialer struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

func NewDialer(connectTimeout, timeout time.Duration) *Dialer {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dialer{ConnectTimeout: connectTimeout, Timeout: timeout}
}

// Address joins host and port into a dialable address.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial connects to address.
func (d *Dialer) Dial(address string) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", address, d.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewConn(conn, d.Timeout), nil
}

// Conn is a blocking request/response stream with a per-operation deadline.
// It is not safe for concurrent use.
type Conn struct {
	conn    net.Conn
	timeout time.Duration
}

// NewConn wraps an established connection. A zero timeout disables deadlines.
func NewConn(conn net.Conn, timeout time.Duration) *Conn {
	return &Conn{conn: conn, timeout: timeout}
}

func (c *Conn) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// Write sends p in full or fails.
func (c *Conn) Write(p []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(p), err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return nil
}

// ReadExact reads exactly n bytes. Anything less before the deadline or EOF
// is reported as ErrShortRead.
func (c *Conn) ReadExact(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(c.conn, buf)
	if err != nil {
		return buf[:got], fmt.Errorf("%w: read %d of %d bytes: %v", ErrShortRead, got, n, err)
	}
	return buf, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
