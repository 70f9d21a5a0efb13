// Package transport owns the raw TCP stream to the gateway. It offers
// best-effort chunk reads, all-or-nothing writes, and idempotent close, and
// turns context cancellation into prompt socket shutdown.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	// ErrConnectFailed is returned by Open when the socket cannot be established.
	ErrConnectFailed = errors.New("connect failed")
	// ErrNotConnected is returned by reads and writes without a live socket.
	ErrNotConnected = errors.New("not connected")
	// ErrWriteFailed wraps socket errors raised while writing.
	ErrWriteFailed = errors.New("write failed")
	// ErrCancelled is returned when a read or write is interrupted by its context.
	ErrCancelled = errors.New("cancelled")
	// ErrClosed is returned by Open on a transport that was already used and closed.
	ErrClosed = errors.New("transport is closed")
)

// Config holds configuration for the transport.
type Config struct {
	// Address is the "host:port" to connect to (e.g. "127.0.0.1:7497").
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for a single WriteAll; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadBufferSize is the maximum number of bytes returned by one ReadChunk.
	ReadBufferSize int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s, ReadBufferSize 4096
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadBufferSize:    4096,
	}
}

// Transport is one TCP connection to the gateway. A Transport is opened at
// most once; reconnecting requires a new Transport. Reads are expected from a
// single goroutine; writes may come from any goroutine and are serialized.
type Transport struct {
	config Config

	mu     sync.RWMutex
	conn   net.Conn
	used   bool
	closed bool

	writeMu sync.Mutex
	readBuf []byte
}

// New creates a Transport for the given config. No connection is made until
// Open is called.
func New(config Config) *Transport {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	return &Transport{config: config}
}

// Address returns the configured remote address.
func (t *Transport) Address() string {
	return t.config.Address
}

// Open dials the configured address.
//
// Parameters:
//   - ctx: Bounds the dial together with ConnectionTimeout
//
// Returns:
//   - nil on success; ErrConnectFailed wrapping the dial error otherwise
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.used {
		t.mu.Unlock()
		return ErrClosed
	}
	t.used = true
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.config.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, t.config.Address, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.readBuf = make([]byte, t.config.ReadBufferSize)

	return nil
}

// ReadChunk returns whatever bytes are available next, blocking until at
// least one byte arrives.
//
// Parameters:
//   - ctx: Cancelling it interrupts the read and closes the connection
//
// Returns:
//   - A freshly allocated chunk of received bytes
//   - io.EOF when the peer closed the stream, ErrCancelled on cancellation,
//     ErrNotConnected without a live socket, or the socket error
func (t *Transport) ReadChunk(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	conn := t.conn
	buf := t.readBuf
	t.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	n, err := conn.Read(buf)
	stop()

	if ctx.Err() != nil {
		_ = t.Close()
		return nil, ErrCancelled
	}

	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		return chunk, nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if errors.Is(err, net.ErrClosed) {
		return nil, ErrNotConnected
	}

	return nil, err
}

// WriteAll writes every byte of data or fails.
//
// Parameters:
//   - ctx: Cancelling it aborts the write
//   - data: Bytes to send; not modified
//
// Returns:
//   - nil on success; ErrNotConnected, ErrCancelled, or ErrWriteFailed
func (t *Transport) WriteAll(ctx context.Context, data []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrNotConnected
			}
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		data = data[n:]
	}

	return nil
}

// IsConnected reports whether a live socket exists. It does not distinguish
// "never opened" from "closed".
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// Close shuts the connection down. It is idempotent and safe to call in any
// state, including before Open.
//
// Returns:
//   - The error from closing the socket on the first effective call, nil otherwise
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.used = true
	if t.conn == nil {
		return nil
	}

	conn := t.conn
	t.conn = nil
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	return conn.Close()
}
