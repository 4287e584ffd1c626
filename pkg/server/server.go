// Package server runs the tablerpc listener: it accepts connections, wraps
// them in transports, reads calls and hands them to a fixed pool of workers
// that run the processor chain and write replies.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/metrics"
	"github.com/marmos91/tablerpc/pkg/rpc"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// ProcedureNamer is implemented by processors that can name a procedure
// number for logs, spans and metrics.
type ProcedureNamer interface {
	ProcedureName(proc uint32) string
}

// Option configures a Server.
type Option func(*Server)

// WithTransportFactory sets the factory accepted connections are wrapped
// with. The default is a plain socket factory.
func WithTransportFactory(f transport.Factory) Option {
	return func(s *Server) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithMetrics sets the RPC metrics recorder. nil disables collection.
func WithMetrics(m metrics.RPCMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts connections and dispatches their calls to a processor.
//
// All exported methods are safe for concurrent use. Shutdown is idempotent.
type Server struct {
	config    Config
	processor rpc.Processor
	factory   transport.Factory
	metrics   metrics.RPCMetrics

	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed once the listener is bound.
	ListenerReady chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	serveOnce    sync.Once

	// shutdownCtx is cancelled during shutdown to abort in-flight requests.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connections maps connection IDs to their net.Conn for forced closure.
	connections   sync.Map
	connSemaphore chan struct{}

	pool *workerPool
}

// New creates a stopped Server. Call Serve to start it.
func New(cfg Config, processor rpc.Processor, opts ...Option) *Server {
	cfg.applyDefaults()

	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:         cfg,
		processor:      processor,
		factory:        transport.NewSocketFactory(cfg.TransportOptions()),
		ListenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancel,
		connSemaphore:  connSemaphore,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = newWorkerPool(cfg.Workers, s)

	return s
}

// Serve listens and accepts connections until ctx is cancelled or Stop is
// called.
//
// Returns nil on graceful shutdown, or an error if the listener cannot be
// created or connections had to be force-closed.
func (s *Server) Serve(ctx context.Context) error {
	started := false
	s.serveOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("server already started")
	}

	listenAddr := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.Port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	s.pool.start()
	defer func() {
		// Workers outlive the accept loop until every connection has drained.
		go func() {
			s.activeConns.Wait()
			s.pool.stop()
		}()
	}()

	logger.Info("Server listening",
		"address", listener.Addr().String(),
		"workers", s.config.Workers,
		"max_connections", s.config.MaxConnections)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Server shutdown signal received", logger.Err(ctx.Err()))
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection", logger.Err(err))
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		s.track(conn)
	}
}

func (s *Server) track(conn net.Conn) {
	c := newConnection(s, conn)

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.connections.Store(c.id, conn)

	if s.metrics != nil {
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
	}
	logger.Debug("Connection accepted",
		logger.ConnectionID(c.id),
		logger.ClientAddr(conn.RemoteAddr().String()),
		"active", current)

	go func() {
		defer func() {
			s.connections.Delete(c.id)
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			if s.metrics != nil {
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
			}
			logger.Debug("Connection closed", logger.ConnectionID(c.id), "active", remaining)
		}()

		c.serve(s.shutdownCtx)
	}()
}

// initiateShutdown closes the listener, interrupts blocked reads and cancels
// in-flight requests. Safe to call more than once.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener", logger.Err(err))
			}
		}
		s.listenerMu.Unlock()

		s.interruptBlockingReads()
		s.cancelRequests()
	})
}

func (s *Server) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	s.connections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline", "connection_id", key, logger.Err(err))
			}
		}
		return true
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish,
// then force-closes the rest.
func (s *Server) gracefulShutdown() error {
	logger.Info("Graceful shutdown: waiting for active connections",
		"active", s.connCount.Load(), "timeout", s.config.ShutdownTimeout)

	select {
	case <-s.drained():
		logger.Info("Graceful shutdown complete")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Shutdown timeout exceeded, forcing closure",
			"active", remaining, "timeout", s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Server) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.connections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "connection_id", key, logger.Err(err))
			return true
		}
		closed++
		if s.metrics != nil {
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed connections", "count", closed)
	}
}

// Stop initiates shutdown and waits for connections to drain or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.drained():
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown context cancelled",
			"active", s.connCount.Load(), logger.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Addr returns the bound listener address, or "" before the listener is
// ready.
func (s *Server) Addr() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveConnections returns the current number of open connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

func (s *Server) procedureName(proc uint32) string {
	if n, ok := s.processor.(ProcedureNamer); ok {
		return n.ProcedureName(proc)
	}
	return fmt.Sprintf("PROC_%d", proc)
}
