package server

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/marmos91/tablerpc/pkg/identity"
	"github.com/marmos91/tablerpc/pkg/metrics"
	"github.com/marmos91/tablerpc/pkg/rpc"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// AuthOption configures an AuthProcessor.
type AuthOption func(*AuthProcessor)

// WithAuthMetrics counts identity extraction failures on m.
func WithAuthMetrics(m metrics.RPCMetrics) AuthOption {
	return func(p *AuthProcessor) {
		p.metrics = m
	}
}

// AuthProcessor decorates a processor so that, for the duration of each
// exchange, the identity slots in the request context hold the caller's
// authorization ID and peer IP address.
//
// The slots are cleared when Process returns, whether the inner processor
// succeeded, failed or panicked.
type AuthProcessor struct {
	inner   rpc.Processor
	metrics metrics.RPCMetrics
}

// WrapWithAuthentication decorates inner.
func WrapWithAuthentication(inner rpc.Processor, opts ...AuthOption) *AuthProcessor {
	p := &AuthProcessor{inner: inner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Inner returns the decorated processor.
func (p *AuthProcessor) Inner() rpc.Processor {
	return p.inner
}

// Process implements rpc.Processor.
//
// The inner processor's result is returned unchanged. Failures while reading
// the identity are returned as *rpc.Error: AuthError for authentication
// failures, SystemError for anything else. The inner processor is not called
// in that case.
func (p *AuthProcessor) Process(ctx context.Context, ex *rpc.Exchange) error {
	slots := identity.FromContext(ctx)
	if slots == nil {
		slots = identity.NewSlots()
		ctx = identity.NewContext(ctx, slots)
	}
	defer slots.Clear()

	if err := p.establish(ctx, ex, slots); err != nil {
		return err
	}

	return p.inner.Process(ctx, ex)
}

// ProcedureName forwards to the inner processor when it can name procedures.
func (p *AuthProcessor) ProcedureName(proc uint32) string {
	if n, ok := p.inner.(ProcedureNamer); ok {
		return n.ProcedureName(proc)
	}
	return fmt.Sprintf("PROC_%d", proc)
}

func (p *AuthProcessor) establish(ctx context.Context, ex *rpc.Exchange, slots *identity.Slots) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanAuthenticate)
	defer span.End()

	err := extractIdentity(ctx, ex, slots)
	if err == nil {
		if name, ok := slots.Username(); ok {
			span.SetAttributes(telemetry.Username(name))
		}
		if peer, ok := slots.PeerAddress(); ok {
			span.SetAttributes(telemetry.ClientIP(peer))
		}
		return nil
	}

	var rerr *rpc.Error
	if auth.IsAuthError(err) {
		rerr = &rpc.Error{Stat: rpc.AuthError, Err: fmt.Errorf("authentication failed: %w", err)}
		logger.ErrorCtx(ctx, "Authentication failed", logger.Err(err))
	} else {
		rerr = &rpc.Error{Stat: rpc.SystemError, Err: fmt.Errorf("error processing request: %w", err)}
		logger.ErrorCtx(ctx, "Error establishing request identity", logger.Err(err))
	}

	span.SetAttributes(telemetry.AuthOutcome("failed"), telemetry.RPCStatus(rerr.Stat.String()))
	telemetry.RecordError(ctx, err)
	metrics.ObserveAuthFailure(p.metrics, rerr.Stat.String())

	return rerr
}

// extractIdentity fills slots from the transport's capabilities. A transport
// without a negotiated layer or socket leaves the matching slot unset.
func extractIdentity(ctx context.Context, ex *rpc.Exchange, slots *identity.Slots) error {
	if ex == nil || ex.Transport == nil {
		return nil
	}

	if n, ok := ex.Transport.(transport.Negotiated); ok {
		id, err := n.AuthorizationID()
		if err != nil {
			return err
		}
		slots.SetUsername(id)
	}

	if sb, ok := ex.Transport.(transport.SocketBacked); ok {
		addr := sb.RemoteAddr()
		ip, err := peerIP(addr)
		if err != nil {
			logger.WarnCtx(ctx, "Unable to determine peer address", logger.Err(err))
		} else {
			slots.SetPeerAddress(ip)
		}
	}

	return nil
}

// peerIP returns the textual IP of addr without port or zone brackets.
func peerIP(addr net.Addr) (string, error) {
	if addr == nil {
		return "", fmt.Errorf("no remote address")
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		if a.IP == nil {
			return "", fmt.Errorf("remote address %q has no IP", a.String())
		}
		return a.IP.String(), nil
	case *net.UDPAddr:
		if a.IP == nil {
			return "", fmt.Errorf("remote address %q has no IP", a.String())
		}
		return a.IP.String(), nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("remote address %q is not an IP address", addr.String())
	}
	return ip.String(), nil
}
