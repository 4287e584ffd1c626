// Package transport carries framed RPC messages over a connection.
//
// A Factory turns an accepted net.Conn into a Transport. The plain
// SocketFactory only adds record marking; the NegotiatingFactory first runs
// an authentication handshake and yields a transport that remembers the
// authenticated peer.
//
// Handlers discover what a transport knows through optional capability
// interfaces rather than concrete types:
//
//	if n, ok := t.(transport.Negotiated); ok { ... }
//	if s, ok := t.(transport.SocketBacked); ok { ... }
package transport

import (
	"context"
	"net"
	"time"
)

// Transport exchanges whole RPC messages with one peer.
type Transport interface {
	// ReadMessage blocks until a complete record arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one record. Callers serialize concurrent writes.
	WriteMessage(msg []byte) error

	Close() error
}

// SocketBacked is implemented by transports running over a network socket.
type SocketBacked interface {
	RemoteAddr() net.Addr
}

// Negotiated is implemented by transports that completed an authentication
// handshake.
type Negotiated interface {
	// AuthorizationID returns the authenticated principal. It fails with an
	// error wrapping auth.ErrAuthFailed once the negotiated context is gone.
	AuthorizationID() (string, error)

	// Mechanism names the provider that authenticated the peer.
	Mechanism() string
}

// Factory wraps accepted connections into transports.
type Factory interface {
	GetTransport(ctx context.Context, conn net.Conn) (Transport, error)
}

// Options apply to every transport a factory creates.
type Options struct {
	// MaxMessageSize caps a reassembled record. 0 means unlimited.
	MaxMessageSize uint32

	// IdleTimeout is the read deadline applied before each ReadMessage.
	IdleTimeout time.Duration

	// WriteTimeout is the write deadline applied before each WriteMessage.
	WriteTimeout time.Duration
}
