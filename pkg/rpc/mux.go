package rpc

import (
	"context"
	"fmt"
	"sort"
)

type procedure struct {
	name    string
	handler Processor
}

// Mux dispatches calls for one program version to per-procedure processors.
// Register procedures before serving; the table is read-only afterwards.
type Mux struct {
	program uint32
	version uint32
	procs   map[uint32]procedure
}

// NewMux returns an empty dispatcher for program/version.
func NewMux(program, version uint32) *Mux {
	return &Mux{
		program: program,
		version: version,
		procs:   make(map[uint32]procedure),
	}
}

// Handle registers p for procedure number proc.
func (m *Mux) Handle(proc uint32, name string, p Processor) {
	if _, dup := m.procs[proc]; dup {
		panic(fmt.Sprintf("rpc: procedure %d registered twice", proc))
	}
	m.procs[proc] = procedure{name: name, handler: p}
}

// HandleFunc registers fn for procedure number proc.
func (m *Mux) HandleFunc(proc uint32, name string, fn func(ctx context.Context, ex *Exchange) error) {
	m.Handle(proc, name, ProcessorFunc(fn))
}

// Program returns the program number served.
func (m *Mux) Program() uint32 { return m.program }

// Version returns the program version served.
func (m *Mux) Version() uint32 { return m.version }

// ProcedureName returns the registered name of proc, or "PROC_<n>".
func (m *Mux) ProcedureName(proc uint32) string {
	if p, ok := m.procs[proc]; ok {
		return p.name
	}
	return fmt.Sprintf("PROC_%d", proc)
}

// Procedures returns the registered procedure numbers in ascending order.
func (m *Mux) Procedures() []uint32 {
	out := make([]uint32, 0, len(m.procs))
	for n := range m.procs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Process implements Processor.
func (m *Mux) Process(ctx context.Context, ex *Exchange) error {
	call := ex.Call
	if call.Program != m.program {
		return NewError(ProgUnavail, "program %#x unavailable", call.Program)
	}
	if call.Version != m.version {
		return NewError(ProgUnavail, "program %#x version %d unavailable (supported: %d)",
			call.Program, call.Version, m.version)
	}
	p, ok := m.procs[call.Procedure]
	if !ok {
		return NewError(ProcUnavail, "procedure %d unavailable", call.Procedure)
	}
	return p.handler.Process(ctx, ex)
}
