package server

import (
	"runtime"
	"time"

	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/marmos91/tablerpc/pkg/transport"
)

// Config holds the listener, worker pool and per-connection limits.
type Config struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. 0 picks an ephemeral port.
	Port int

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int

	// Workers is the size of the worker pool. Each worker owns one identity
	// slot set for its lifetime.
	Workers int

	// MaxRequestsPerConnection bounds the calls one connection may have in
	// flight before its read loop blocks.
	MaxRequestsPerConnection int

	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxMessageSize caps a reassembled record. 0 means unlimited.
	MaxMessageSize uint32

	// ShutdownTimeout is how long Serve waits for connections to drain
	// before force-closing them.
	ShutdownTimeout time.Duration
}

// FromConfig derives a server Config from the loaded configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		BindAddress:              cfg.Server.BindAddress,
		Port:                     cfg.Server.Port,
		MaxConnections:           cfg.Server.MaxConnections,
		Workers:                  cfg.Server.Workers,
		MaxRequestsPerConnection: cfg.Server.MaxRequestsPerConnection,
		IdleTimeout:              cfg.Server.IdleTimeout,
		WriteTimeout:             cfg.Server.WriteTimeout,
		MaxMessageSize:           cfg.Server.MaxMessageSize.Uint32(),
		ShutdownTimeout:          cfg.ShutdownTimeout,
	}
}

// TransportOptions returns the framing options transports should use.
func (c Config) TransportOptions() transport.Options {
	return transport.Options{
		MaxMessageSize: c.MaxMessageSize,
		IdleTimeout:    c.IdleTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() * 4
	}
	if c.MaxRequestsPerConnection <= 0 {
		c.MaxRequestsPerConnection = 64
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}
