package logger

import "log/slog"

// Standard field keys. Use them consistently so logs can be queried by key.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// RPC
	KeyProcedure = "procedure"
	KeyXID       = "xid"
	KeyProgram   = "program"
	KeyVersion   = "version"
	KeyStatus    = "status"

	// Client identification
	KeyClientIP     = "client_ip"
	KeyClientAddr   = "client_addr"
	KeyUsername     = "username"
	KeyPrincipal    = "principal"
	KeyMechanism    = "mechanism"
	KeyConnectionID = "connection_id"
	KeyWorker       = "worker"

	// Tables and storage
	KeyTable    = "table"
	KeyLocation = "location"
	KeyPath     = "path"
	KeyBucket   = "bucket"
	KeyCacheHit = "cache_hit"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyBytes      = "bytes"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }
func Procedure(name string) slog.Attr { return slog.String(KeyProcedure, name) }
func XID(xid uint32) slog.Attr { return slog.Any(KeyXID, xid) }
func Status(status string) slog.Attr { return slog.String(KeyStatus, status) }
func ClientIP(ip string) slog.Attr { return slog.String(KeyClientIP, ip) }
func ClientAddr(addr string) slog.Attr { return slog.String(KeyClientAddr, addr) }
func Username(name string) slog.Attr { return slog.String(KeyUsername, name) }
func Principal(name string) slog.Attr { return slog.String(KeyPrincipal, name) }
func Mechanism(name string) slog.Attr { return slog.String(KeyMechanism, name) }
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }
func Table(name string) slog.Attr { return slog.String(KeyTable, name) }
func Location(loc string) slog.Attr { return slog.String(KeyLocation, loc) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }
func Bytes(n int) slog.Attr { return slog.Int(KeyBytes, n) }

// Err returns an error attribute; a nil error yields an empty attribute,
// which the handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
