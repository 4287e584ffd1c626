package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/marmos91/tablerpc/pkg/metrics"
	"github.com/marmos91/tablerpc/pkg/rpc"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// connection serves the calls of one accepted socket.
type connection struct {
	id     string
	server *Server
	conn   net.Conn

	transport transport.Transport

	// requestSem bounds the calls in flight on this connection.
	requestSem chan struct{}
	wg         sync.WaitGroup

	// writeMu serializes replies written by concurrent workers.
	writeMu sync.Mutex
}

func newConnection(s *Server, conn net.Conn) *connection {
	return &connection{
		id:         uuid.NewString(),
		server:     s,
		conn:       conn,
		requestSem: make(chan struct{}, s.config.MaxRequestsPerConnection),
	}
}

// serve runs the handshake, then reads calls until the peer disconnects or
// the server shuts down. In-flight calls finish before the socket closes.
func (c *connection) serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()
	lc := logger.NewLogContext(c.id, hostOf(c.conn.RemoteAddr()))
	ctx = logger.WithContext(ctx, lc)

	defer c.close(clientAddr)

	t, err := c.server.factory.GetTransport(ctx, c.conn)
	if err != nil {
		metrics.ObserveHandshake(c.server.metrics, mechanismOf(c.server.factory), "rejected")
		logger.WarnCtx(ctx, "Handshake failed, closing connection",
			logger.ClientAddr(clientAddr), logger.Err(err))
		return
	}
	c.transport = t

	if n, ok := t.(transport.Negotiated); ok {
		metrics.ObserveHandshake(c.server.metrics, n.Mechanism(), "accepted")
		if principal, err := n.AuthorizationID(); err == nil {
			lc.Username = principal
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.DebugCtx(ctx, "Connection closed due to server shutdown")
			return
		default:
		}

		msg, err := t.ReadMessage()
		if err != nil {
			c.logReadError(ctx, err)
			return
		}

		call, err := rpc.DecodeCall(msg)
		if err != nil {
			// Without an XID there is nothing to reply to.
			logger.WarnCtx(ctx, "Malformed call, closing connection", logger.Err(err))
			return
		}

		c.requestSem <- struct{}{}
		c.wg.Add(1)
		c.server.pool.submit(&job{ctx: ctx, conn: c, call: call})
	}
}

func (c *connection) logReadError(ctx context.Context, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "Connection closed by client")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.DebugCtx(ctx, "Connection timed out", logger.Err(err))
	case errors.Is(err, net.ErrClosed):
		logger.DebugCtx(ctx, "Connection closed", logger.Err(err))
	default:
		logger.DebugCtx(ctx, "Error reading call", logger.Err(err))
	}
}

// done releases the slot taken by a submitted call.
func (c *connection) done() {
	<-c.requestSem
	c.wg.Done()
}

// writeReply encodes and sends reply under the write lock.
func (c *connection) writeReply(reply *rpc.ReplyMessage) error {
	data, err := rpc.EncodeReply(reply)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteMessage(data)
}

func (c *connection) close(clientAddr string) {
	if r := recover(); r != nil {
		logger.Error("Panic in connection handler",
			logger.ConnectionID(c.id),
			logger.ClientAddr(clientAddr),
			"error", r,
			"stack", string(debug.Stack()))
	}

	c.wg.Wait()

	if c.transport != nil {
		_ = c.transport.Close()
		return
	}
	_ = c.conn.Close()
}

// mechanismOf labels handshake metrics for factories that negotiate.
func mechanismOf(f transport.Factory) string {
	if nf, ok := f.(interface{ Authenticator() *auth.Authenticator }); ok {
		if mechs := nf.Authenticator().Mechanisms(); len(mechs) > 0 {
			return mechs[0]
		}
	}
	return "none"
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
