package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/marmos91/tablerpc/pkg/identity"
	"github.com/marmos91/tablerpc/pkg/rpc"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// observed is what the inner processor saw in its context.
type observed struct {
	username    string
	hasUsername bool
	peer        string
	hasPeer     bool
	called      bool
}

func observer(out *observed, result error) rpc.Processor {
	return rpc.ProcessorFunc(func(ctx context.Context, _ *rpc.Exchange) error {
		out.called = true
		out.username, out.hasUsername = identity.Username(ctx)
		out.peer, out.hasPeer = identity.PeerAddress(ctx)
		return result
	})
}

func exchangeOn(t transport.Transport) *rpc.Exchange {
	return rpc.NewExchange(&rpc.CallMessage{XID: 1, Program: 1, Version: 1}, t)
}

func TestAuthProcessorPopulatesAndClearsSlots(t *testing.T) {
	var seen observed
	p := WrapWithAuthentication(observer(&seen, nil))

	slots := identity.NewSlots()
	ctx := identity.NewContext(context.Background(), slots)
	tr := negotiatedStub{
		socketStub: socketStub{addr: tcpAddr("10.1.2.3", 40000)},
		principal:  "alice@EXAMPLE.COM",
	}

	require.NoError(t, p.Process(ctx, exchangeOn(tr)))

	assert.True(t, seen.called)
	assert.True(t, seen.hasUsername)
	assert.Equal(t, "alice@EXAMPLE.COM", seen.username)
	assert.True(t, seen.hasPeer)
	assert.Equal(t, "10.1.2.3", seen.peer)
	assert.True(t, slots.IsEmpty(), "slots must be cleared after the exchange")
}

func TestAuthProcessorReturnsInnerErrorUnchanged(t *testing.T) {
	innerErr := rpc.NewError(rpc.GarbageArgs, "bad args")
	var seen observed
	p := WrapWithAuthentication(observer(&seen, innerErr))

	slots := identity.NewSlots()
	ctx := identity.NewContext(context.Background(), slots)

	err := p.Process(ctx, exchangeOn(socketStub{addr: tcpAddr("127.0.0.1", 1)}))
	assert.Same(t, innerErr, err)
	assert.True(t, slots.IsEmpty())
}

func TestAuthProcessorClearsSlotsOnPanic(t *testing.T) {
	inner := rpc.ProcessorFunc(func(ctx context.Context, _ *rpc.Exchange) error {
		_, ok := identity.Username(ctx)
		require.True(t, ok)
		panic("handler exploded")
	})
	p := WrapWithAuthentication(inner)

	slots := identity.NewSlots()
	ctx := identity.NewContext(context.Background(), slots)
	tr := negotiatedStub{socketStub: socketStub{addr: tcpAddr("127.0.0.1", 1)}, principal: "bob@EXAMPLE.COM"}

	assert.Panics(t, func() { _ = p.Process(ctx, exchangeOn(tr)) })
	assert.True(t, slots.IsEmpty())
}

func TestAuthProcessorTranslatesExtractionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStat   rpc.ReplyStat
		wantPrefix string
	}{
		{
			name:       "auth failure",
			err:        fmt.Errorf("%w: negotiated context closed", auth.ErrAuthFailed),
			wantStat:   rpc.AuthError,
			wantPrefix: "authentication failed: ",
		},
		{
			name:       "invalid credentials",
			err:        auth.ErrInvalidCredentials,
			wantStat:   rpc.AuthError,
			wantPrefix: "authentication failed: ",
		},
		{
			name:       "unexpected failure",
			err:        errors.New("sasl layer broken"),
			wantStat:   rpc.SystemError,
			wantPrefix: "error processing request: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen observed
			m := newRecordingMetrics()
			p := WrapWithAuthentication(observer(&seen, nil), WithAuthMetrics(m))

			slots := identity.NewSlots()
			ctx := identity.NewContext(context.Background(), slots)
			tr := negotiatedStub{socketStub: socketStub{addr: tcpAddr("127.0.0.1", 1)}, err: tt.err}

			err := p.Process(ctx, exchangeOn(tr))
			require.Error(t, err)

			var rerr *rpc.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.wantStat, rerr.Stat)
			assert.Contains(t, err.Error(), tt.wantPrefix)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantStat, rpc.StatFromError(err))

			assert.False(t, seen.called, "inner processor must not run")
			assert.True(t, slots.IsEmpty())
			assert.Equal(t, 1, m.count(m.authFailures, tt.wantStat.String()))
		})
	}
}

func TestAuthProcessorWithoutNegotiatedLayer(t *testing.T) {
	var seen observed
	p := WrapWithAuthentication(observer(&seen, nil))

	require.NoError(t, p.Process(context.Background(), exchangeOn(socketStub{addr: tcpAddr("192.168.0.7", 5555)})))

	assert.False(t, seen.hasUsername)
	assert.True(t, seen.hasPeer)
	assert.Equal(t, "192.168.0.7", seen.peer)
}

func TestAuthProcessorWithoutCapabilities(t *testing.T) {
	var seen observed
	p := WrapWithAuthentication(observer(&seen, nil))

	require.NoError(t, p.Process(context.Background(), exchangeOn(stubTransport{})))
	assert.True(t, seen.called)
	assert.False(t, seen.hasUsername)
	assert.False(t, seen.hasPeer)

	seen = observed{}
	require.NoError(t, p.Process(context.Background(), exchangeOn(nil)))
	assert.True(t, seen.called)
	assert.False(t, seen.hasPeer)
}

func TestAuthProcessorUnparsablePeerIsLeftUnset(t *testing.T) {
	var seen observed
	p := WrapWithAuthentication(observer(&seen, nil))

	tr := negotiatedStub{socketStub: socketStub{addr: pipeAddr{}}, principal: "carol@EXAMPLE.COM"}
	require.NoError(t, p.Process(context.Background(), exchangeOn(tr)))

	assert.Equal(t, "carol@EXAMPLE.COM", seen.username)
	assert.False(t, seen.hasPeer)
}

func TestAuthProcessorAttachesPrivateSlots(t *testing.T) {
	var seen observed
	p := WrapWithAuthentication(observer(&seen, nil))

	tr := negotiatedStub{socketStub: socketStub{addr: tcpAddr("::1", 9)}, principal: "dave@EXAMPLE.COM"}
	require.NoError(t, p.Process(context.Background(), exchangeOn(tr)))

	assert.Equal(t, "dave@EXAMPLE.COM", seen.username)
	assert.Equal(t, "::1", seen.peer)
}

func TestAuthProcessorForwardsProcedureNames(t *testing.T) {
	mux := rpc.NewMux(7, 1)
	mux.HandleFunc(3, "PING", func(context.Context, *rpc.Exchange) error { return nil })

	p := WrapWithAuthentication(mux)
	assert.Equal(t, "PING", p.ProcedureName(3))
	assert.Same(t, mux, p.Inner())

	plain := WrapWithAuthentication(rpc.ProcessorFunc(func(context.Context, *rpc.Exchange) error { return nil }))
	assert.Equal(t, "PROC_4", plain.ProcedureName(4))
}

func TestPeerIP(t *testing.T) {
	tests := []struct {
		name    string
		addr    net.Addr
		want    string
		wantErr bool
	}{
		{"tcp v4", tcpAddr("10.0.0.1", 80), "10.0.0.1", false},
		{"tcp v6", tcpAddr("fe80::1", 80), "fe80::1", false},
		{"udp", &net.UDPAddr{IP: net.ParseIP("172.16.0.9"), Port: 53}, "172.16.0.9", false},
		{"pipe", pipeAddr{}, "", true},
		{"nil", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := peerIP(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
