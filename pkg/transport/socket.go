package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// SocketTransport frames messages directly on a net.Conn.
type SocketTransport struct {
	conn   net.Conn
	opts   Options
	closed atomic.Bool
}

// NewSocketTransport wraps conn.
func NewSocketTransport(conn net.Conn, opts Options) *SocketTransport {
	return &SocketTransport{conn: conn, opts: opts}
}

// ReadMessage implements Transport.
func (t *SocketTransport) ReadMessage() ([]byte, error) {
	if t.opts.IdleTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.IdleTimeout)); err != nil {
			return nil, err
		}
	}
	return ReadRecord(t.conn, t.opts.MaxMessageSize)
}

// WriteMessage implements Transport.
func (t *SocketTransport) WriteMessage(msg []byte) error {
	if t.opts.WriteTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return WriteRecord(t.conn, msg)
}

// Close closes the underlying connection. Repeated calls return nil.
func (t *SocketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// Closed reports whether Close has been called.
func (t *SocketTransport) Closed() bool {
	return t.closed.Load()
}

// RemoteAddr implements SocketBacked.
func (t *SocketTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// LocalAddr returns the local socket address.
func (t *SocketTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// SocketFactory produces plain SocketTransports. It is used when
// authentication is disabled.
type SocketFactory struct {
	opts Options
}

// NewSocketFactory returns a factory applying opts to every transport.
func NewSocketFactory(opts Options) *SocketFactory {
	return &SocketFactory{opts: opts}
}

// GetTransport implements Factory.
func (f *SocketFactory) GetTransport(_ context.Context, conn net.Conn) (Transport, error) {
	return NewSocketTransport(conn, f.opts), nil
}

var (
	_ Transport    = (*SocketTransport)(nil)
	_ SocketBacked = (*SocketTransport)(nil)
	_ Factory      = (*SocketFactory)(nil)
)
