package rpc

import (
	"context"

	"github.com/marmos91/tablerpc/pkg/transport"
)

// Processor handles one exchange. A non-nil error becomes an error reply;
// on success the results recorded with Exchange.Reply are sent.
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ex *Exchange) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// Exchange is one call travelling through the processor chain together with
// the transport it arrived on.
type Exchange struct {
	Call      *CallMessage
	Transport transport.Transport

	results []byte
}

// NewExchange pairs a decoded call with its transport.
func NewExchange(call *CallMessage, t transport.Transport) *Exchange {
	return &Exchange{Call: call, Transport: t}
}

// Reply records the encoded results. The last call wins.
func (ex *Exchange) Reply(results []byte) {
	ex.results = results
}

// ReplyXDR XDR-encodes v and records it as the results.
func (ex *Exchange) ReplyXDR(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return NewError(SystemError, "encode results: %w", err)
	}
	ex.results = data
	return nil
}

// Results returns what Reply recorded, or nil.
func (ex *Exchange) Results() []byte {
	return ex.results
}

// DecodeArgs XDR-decodes the call arguments into v. Failures are reported as
// GarbageArgs.
func (ex *Exchange) DecodeArgs(v any) error {
	if err := Unmarshal(ex.Call.Args, v); err != nil {
		return NewError(GarbageArgs, "decode arguments: %w", err)
	}
	return nil
}
