package transport

import (
	"context"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/auth"
)

// NegotiatingFactory authenticates every connection before handing it to the
// server. The first record on the connection must be a HandshakeRequest; the
// server answers with exactly one HandshakeResponse.
type NegotiatingFactory struct {
	authn            *auth.Authenticator
	opts             Options
	handshakeTimeout time.Duration
}

// NewNegotiatingFactory returns a factory that runs the handshake through
// authn. A zero handshakeTimeout disables the handshake deadline.
func NewNegotiatingFactory(authn *auth.Authenticator, opts Options, handshakeTimeout time.Duration) *NegotiatingFactory {
	return &NegotiatingFactory{
		authn:            authn,
		opts:             opts,
		handshakeTimeout: handshakeTimeout,
	}
}

// Authenticator returns the authenticator handshakes are verified with.
func (f *NegotiatingFactory) Authenticator() *auth.Authenticator {
	return f.authn
}

// GetTransport implements Factory. On failure the peer has already been sent
// a rejection; closing conn is left to the caller.
func (f *NegotiatingFactory) GetTransport(ctx context.Context, conn net.Conn) (Transport, error) {
	remote := conn.RemoteAddr().String()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHandshake)
	defer span.End()
	span.SetAttributes(telemetry.ClientAddr(remote))

	if f.handshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(f.handshakeTimeout)); err != nil {
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	rec, err := ReadRecord(conn, f.opts.MaxMessageSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read handshake from %s: %w", remote, err)
	}

	req, err := DecodeHandshakeRequest(rec)
	if err != nil {
		f.reject(conn, "malformed handshake")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidCredentials, err)
	}

	if req.Mechanism != "" && !slices.Contains(f.authn.Mechanisms(), req.Mechanism) {
		f.reject(conn, "unsupported mechanism "+req.Mechanism)
		span.RecordError(auth.ErrUnsupportedMechanism)
		return nil, fmt.Errorf("%w: %q", auth.ErrUnsupportedMechanism, req.Mechanism)
	}

	res, err := f.authn.Authenticate(ctx, req.Token)
	if err != nil {
		f.reject(conn, "authentication failed")
		span.RecordError(err)
		span.SetAttributes(telemetry.AuthOutcome("rejected"))
		return nil, err
	}

	resp := &HandshakeResponse{
		Status: uint32(HandshakeAccepted),
		Token:  res.ResponseToken,
	}
	if err := f.respond(conn, resp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("send handshake response to %s: %w", remote, err)
	}

	principal := res.Identity.AuthorizationID()
	span.SetAttributes(
		telemetry.AuthOutcome("accepted"),
		telemetry.AuthMechanism(res.Provider),
		telemetry.Username(principal),
	)
	logger.DebugCtx(ctx, "Handshake accepted",
		logger.ClientAddr(remote),
		logger.Principal(principal),
		logger.Mechanism(res.Provider))

	return &NegotiatedTransport{
		SocketTransport: NewSocketTransport(conn, f.opts),
		identity:        res.Identity,
		mechanism:       res.Provider,
	}, nil
}

func (f *NegotiatingFactory) reject(conn net.Conn, msg string) {
	if err := f.respond(conn, &HandshakeResponse{Status: uint32(HandshakeRejected), Message: msg}); err != nil {
		logger.Debug("Failed to send handshake rejection",
			logger.ClientAddr(conn.RemoteAddr().String()), logger.Err(err))
	}
}

func (f *NegotiatingFactory) respond(conn net.Conn, resp *HandshakeResponse) error {
	data, err := EncodeHandshakeResponse(resp)
	if err != nil {
		return err
	}
	return WriteRecord(conn, data)
}

// NegotiatedTransport is a SocketTransport whose peer completed the
// handshake. The identity is fixed for the life of the connection.
type NegotiatedTransport struct {
	*SocketTransport

	identity  auth.Identity
	mechanism string
}

// NewNegotiatedTransport wraps an already authenticated socket transport.
func NewNegotiatedTransport(st *SocketTransport, id auth.Identity, mechanism string) *NegotiatedTransport {
	return &NegotiatedTransport{SocketTransport: st, identity: id, mechanism: mechanism}
}

// AuthorizationID implements Negotiated.
func (t *NegotiatedTransport) AuthorizationID() (string, error) {
	if t.Closed() {
		return "", fmt.Errorf("%w: negotiated context closed", auth.ErrAuthFailed)
	}
	id := t.identity.AuthorizationID()
	if id == "" {
		return "", fmt.Errorf("%w: no authorization id negotiated", auth.ErrAuthFailed)
	}
	return id, nil
}

// Identity returns the full authenticated identity.
func (t *NegotiatedTransport) Identity() auth.Identity {
	return t.identity
}

// Mechanism implements Negotiated.
func (t *NegotiatedTransport) Mechanism() string {
	return t.mechanism
}

var (
	_ Transport    = (*NegotiatedTransport)(nil)
	_ Negotiated   = (*NegotiatedTransport)(nil)
	_ SocketBacked = (*NegotiatedTransport)(nil)
	_ Factory      = (*NegotiatingFactory)(nil)
)
