package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. OpenTelemetry semantic conventions where one exists.
const (
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	AttrRPCSystem    = "rpc.system"
	AttrRPCXID       = "rpc.xid"
	AttrRPCProgram   = "rpc.program"
	AttrRPCVersion   = "rpc.version"
	AttrRPCProcedure = "rpc.method"
	AttrRPCStatus    = "rpc.status"

	AttrUsername      = "user.name"
	AttrAuthMechanism = "auth.mechanism"
	AttrAuthOutcome   = "auth.outcome"

	AttrTable    = "table.identifier"
	AttrLocation = "table.location"
	AttrCacheHit = "cache.hit"
	AttrBucket   = "storage.bucket"
)

// Span names.
const (
	SpanAuthenticate = "rpc.authenticate"
	SpanHandshake    = "rpc.handshake"
	SpanFileIOLoad   = "fileio.load"
)

func ClientIP(ip string) attribute.KeyValue { return attribute.String(AttrClientIP, ip) }
func ClientAddr(addr string) attribute.KeyValue { return attribute.String(AttrClientAddr, addr) }
func RPCXID(xid uint32) attribute.KeyValue { return attribute.Int64(AttrRPCXID, int64(xid)) }
func RPCStatus(status string) attribute.KeyValue { return attribute.String(AttrRPCStatus, status) }
func Username(name string) attribute.KeyValue { return attribute.String(AttrUsername, name) }
func AuthMechanism(m string) attribute.KeyValue { return attribute.String(AttrAuthMechanism, m) }
func AuthOutcome(o string) attribute.KeyValue { return attribute.String(AttrAuthOutcome, o) }
func Table(id string) attribute.KeyValue { return attribute.String(AttrTable, id) }
func Location(loc string) attribute.KeyValue { return attribute.String(AttrLocation, loc) }
func CacheHit(hit bool) attribute.KeyValue { return attribute.Bool(AttrCacheHit, hit) }
func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }

// StartRPCSpan starts a server span for one call.
func StartRPCSpan(ctx context.Context, program, version uint32, procedure string, xid uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{
		attribute.String(AttrRPCSystem, "onc_rpc"),
		attribute.String(AttrRPCProgram, fmt.Sprintf("%#x", program)),
		attribute.Int64(AttrRPCVersion, int64(version)),
		attribute.String(AttrRPCProcedure, procedure),
		RPCXID(xid),
	}
	return StartSpan(ctx, "rpc."+procedure,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(append(base, attrs...)...),
	)
}
