// Package client is a small tablerpc client used by the CLI and by tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/tablerpc/pkg/catalog"
	"github.com/marmos91/tablerpc/pkg/fileio"
	"github.com/marmos91/tablerpc/pkg/rpc"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// DefaultMaxMessageSize caps replies when no limit is configured.
const DefaultMaxMessageSize = 4 << 20

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client: closed")

// TokenSource produces the initial handshake token.
type TokenSource interface {
	// Token returns the mechanism hint and the token to send.
	Token(ctx context.Context) (mechanism string, token []byte, err error)
}

type options struct {
	program        uint32
	version        uint32
	dialTimeout    time.Duration
	maxMessageSize uint32
	tokens         TokenSource
}

// Option configures Dial.
type Option func(*options)

// WithProgram selects the program calls are addressed to. The default is the
// catalog program.
func WithProgram(program, version uint32) Option {
	return func(o *options) {
		o.program, o.version = program, version
	}
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithMaxMessageSize caps the size of a reply record.
func WithMaxMessageSize(n uint32) Option {
	return func(o *options) {
		o.maxMessageSize = n
	}
}

// WithHandshake performs the authentication handshake with tokens from src
// right after connecting.
func WithHandshake(src TokenSource) Option {
	return func(o *options) {
		o.tokens = src
	}
}

// Client issues calls over one connection. Calls are serialized.
type Client struct {
	conn      net.Conn
	transport *transport.SocketTransport
	opts      options

	// ResponseToken is the token the server returned on handshake, if any.
	ResponseToken []byte

	mu     sync.Mutex
	xid    uint32
	closed bool
}

// Dial connects to addr and, when configured, authenticates.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := options{
		program:        catalog.Program,
		version:        catalog.Version,
		dialTimeout:    10 * time.Second,
		maxMessageSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		conn:      conn,
		transport: transport.NewSocketTransport(conn, transport.Options{MaxMessageSize: o.maxMessageSize}),
		opts:      o,
		xid:       uint32(time.Now().UnixNano()),
	}

	if o.tokens != nil {
		if err := c.handshake(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	mechanism, token, err := c.opts.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain handshake token: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	resp, err := transport.ClientHandshake(c.conn, &transport.HandshakeRequest{
		Mechanism: mechanism,
		Token:     token,
	}, c.opts.maxMessageSize)
	if err != nil {
		return err
	}
	c.ResponseToken = resp.Token
	return nil
}

// Call invokes proc with args and decodes the results into result. Either
// may be nil. A non-success reply is returned as *rpc.Error.
func (c *Client) Call(ctx context.Context, proc uint32, args, result any) error {
	var raw []byte
	if args != nil {
		var err error
		if raw, err = rpc.Marshal(args); err != nil {
			return fmt.Errorf("encode arguments: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.xid++
	xid := c.xid
	data, err := rpc.EncodeCall(&rpc.CallMessage{
		XID:       xid,
		Program:   c.opts.program,
		Version:   c.opts.version,
		Procedure: proc,
		Args:      raw,
	})
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	if err := c.transport.WriteMessage(data); err != nil {
		return fmt.Errorf("send call: %w", err)
	}

	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		reply, err := rpc.DecodeReply(msg)
		if err != nil {
			return err
		}
		if reply.XID != xid {
			// Stale reply from an earlier call that timed out.
			continue
		}
		if reply.Stat != rpc.Success {
			return &rpc.Error{Stat: reply.Stat, Err: errors.New(reply.Message)}
		}
		if result == nil {
			return nil
		}
		if err := rpc.Unmarshal(reply.Results, result); err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
		return nil
	}
}

// Close closes the connection. Repeated calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.transport.Close()
}

// Ping calls NULL.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, catalog.ProcNull, nil, nil)
}

// WhoAmI returns the identity the server attributes to this connection.
func (c *Client) WhoAmI(ctx context.Context) (*catalog.WhoAmIResult, error) {
	var res catalog.WhoAmIResult
	if err := c.Call(ctx, catalog.ProcWhoAmI, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListTables returns the catalog listing.
func (c *Client) ListTables(ctx context.Context) ([]catalog.TableEntry, error) {
	var res catalog.ListTablesResult
	if err := c.Call(ctx, catalog.ProcListTables, nil, &res); err != nil {
		return nil, err
	}
	return res.Tables, nil
}

// LoadTable fetches the location and metadata of id.
func (c *Client) LoadTable(ctx context.Context, id fileio.TableIdentifier) (*catalog.LoadTableResult, error) {
	var res catalog.LoadTableResult
	if err := c.Call(ctx, catalog.ProcLoadTable, &id, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
