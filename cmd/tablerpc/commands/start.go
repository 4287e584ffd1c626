package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/auth/kerberos"
	"github.com/marmos91/tablerpc/pkg/catalog"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/marmos91/tablerpc/pkg/fileio"
	"github.com/marmos91/tablerpc/pkg/metrics"
	"github.com/marmos91/tablerpc/pkg/server"
	"github.com/spf13/cobra"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/tablerpc/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tablerpc server",
	Long: `Start the tablerpc server in the foreground.

Use --config to specify a configuration file, or the default location
$XDG_CONFIG_HOME/tablerpc/config.yaml is used.

Examples:
  # Start with the default config
  tablerpc start

  # Start with a custom config file
  tablerpc start --config /etc/tablerpc/config.yaml

  # Override settings through the environment
  TABLERPC_LOGGING_LEVEL=DEBUG tablerpc start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "tablerpc",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "tablerpc",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- app.serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}

// app is the assembled server process.
type app struct {
	server  *server.Server
	metrics *metrics.Server
	cache   *fileio.Cache
	krb     *kerberos.TransportFactory
}

// newApp builds every component from cfg. Metrics must be initialised before
// the first New*Metrics call, so the registry is created first.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}

	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		a.metrics = metrics.NewServer(cfg.Metrics.Port, reg)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	srvCfg := server.FromConfig(cfg)
	krb, err := kerberos.BuildTransportFactory(&cfg.Authentication, kerberos.SystemHostResolver{},
		kerberos.WithTransportOptions(srvCfg.TransportOptions()))
	if err != nil {
		return nil, err
	}
	a.krb = krb

	a.cache = fileio.NewCache(cfg.FileIO.CacheShards, metrics.NewFileIOMetrics())
	cat := catalog.New(cfg.Catalog, a.cache, fileio.Options{
		S3: fileio.S3Options{
			Region:         cfg.FileIO.S3.Region,
			Endpoint:       cfg.FileIO.S3.Endpoint,
			ForcePathStyle: cfg.FileIO.S3.ForcePathStyle,
		},
	})
	logger.Info("Catalog configured", "name", cat.Name(), "tables", len(cat.Tables()))

	svc := catalog.NewService(cat, catalog.WithRequireAuthentication(cfg.Authentication.Enabled))

	rpcMetrics := metrics.NewRPCMetrics()
	processor := server.WrapWithAuthentication(svc.Mux(), server.WithAuthMetrics(rpcMetrics))

	opts := []server.Option{server.WithMetrics(rpcMetrics)}
	if krb != nil {
		opts = append(opts, server.WithTransportFactory(krb))
	}
	a.server = server.New(srvCfg, processor, opts...)
	return a, nil
}

// serve runs the RPC server, and the metrics endpoint when enabled, until ctx
// is cancelled.
func (a *app) serve(ctx context.Context) error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Start(ctx); err != nil {
				logger.Error("Metrics server error", logger.Err(err))
			}
		}()
	}

	err := a.server.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close() {
	if err := a.cache.Close(); err != nil {
		logger.Warn("FileIO cache close error", logger.Err(err))
	}
	if a.krb != nil {
		if err := a.krb.Close(); err != nil {
			logger.Warn("Kerberos provider close error", logger.Err(err))
		}
	}
}
