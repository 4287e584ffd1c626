package server

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/identity"
	"github.com/marmos91/tablerpc/pkg/rpc"
)

// job is one decoded call waiting for a worker.
type job struct {
	ctx  context.Context
	conn *connection
	call *rpc.CallMessage
}

// workerPool runs calls on a fixed set of goroutines. Each worker owns one
// identity.Slots for its whole life; slot sets are never shared.
type workerPool struct {
	size   int
	server *Server
	jobs   chan *job

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func newWorkerPool(size int, s *Server) *workerPool {
	return &workerPool{
		size:   size,
		server: s,
		jobs:   make(chan *job, size),
	}
}

func (p *workerPool) start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// stop closes the queue and waits for workers to exit. Callers must ensure
// no further submit happens.
func (p *workerPool) stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *workerPool) submit(j *job) {
	p.jobs <- j
}

func (p *workerPool) run(id int) {
	defer p.wg.Done()

	slots := identity.NewSlots()
	for j := range p.jobs {
		if !slots.IsEmpty() {
			snap := slots.Snapshot()
			logger.Warn("Worker identity slots not cleared by previous exchange",
				"worker", id,
				"stale_username", snap.Username,
				"stale_peer", snap.PeerAddress)
			slots.Clear()
		}
		p.handle(identity.NewContext(j.ctx, slots), j)
	}
}

// handle runs one call through the processor and writes its reply.
func (p *workerPool) handle(ctx context.Context, j *job) {
	defer j.conn.done()

	s := p.server
	call := j.call
	name := s.procedureName(call.Procedure)

	ctx, span := telemetry.StartRPCSpan(ctx, call.Program, call.Version, name, call.XID)
	defer span.End()

	lc := logger.FromContext(ctx).ForCall(name, call.XID)
	lc.TraceID = telemetry.TraceID(ctx)
	lc.SpanID = telemetry.SpanID(ctx)
	ctx = logger.WithContext(ctx, lc)

	if s.metrics != nil {
		s.metrics.RecordRequestStart(name)
		defer s.metrics.RecordRequestEnd(name)
	}

	start := time.Now()
	ex := rpc.NewExchange(call, j.conn.transport)
	err := p.process(ctx, ex)

	var reply *rpc.ReplyMessage
	if err != nil {
		reply = rpc.ErrorReply(call.XID, err)
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Call failed", logger.Status(reply.Stat.String()), logger.Err(err))
	} else {
		reply = rpc.SuccessReply(call.XID, ex.Results())
	}
	span.SetAttributes(telemetry.RPCStatus(reply.Stat.String()))

	if s.metrics != nil {
		s.metrics.RecordRequest(name, time.Since(start), reply.Stat.String())
	}

	if werr := j.conn.writeReply(reply); werr != nil {
		logger.DebugCtx(ctx, "Error writing reply", logger.Err(werr))
	}
}

// process calls the processor, turning a panic into a SystemError.
func (p *workerPool) process(ctx context.Context, ex *rpc.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Panic in request handler",
				"error", r,
				"stack", string(debug.Stack()))
			err = rpc.NewError(rpc.SystemError, "internal error: %v", r)
		}
	}()

	if p.server.processor == nil {
		return rpc.NewError(rpc.ProgUnavail, "no processor registered")
	}
	if err := ctx.Err(); err != nil {
		return rpc.NewError(rpc.SystemError, "request cancelled: %w", err)
	}
	return p.server.processor.Process(ctx, ex)
}
