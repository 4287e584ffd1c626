package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext holds request-scoped logging fields.
type LogContext struct {
	TraceID      string
	SpanID       string
	ConnectionID string
	Procedure    string
	XID          uint32
	ClientIP     string // without port
	Username     string // authenticated principal, empty when anonymous
	StartTime    time.Time
}

// WithContext returns a copy of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext carried by ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for a connection.
func NewLogContext(connectionID, clientIP string) *LogContext {
	return &LogContext{
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		StartTime:    time.Now(),
	}
}

// Clone returns a shallow copy. Cloning nil yields nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// ForCall returns a copy describing one call on the connection.
func (lc *LogContext) ForCall(procedure string, xid uint32) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.Procedure = procedure
	c.XID = xid
	c.StartTime = time.Now()
	return c
}

// WithUsername returns a copy with the authenticated principal set.
func (lc *LogContext) WithUsername(username string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Username = username
	}
	return c
}

// WithTrace returns a copy with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
