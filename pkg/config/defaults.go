package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/marmos91/tablerpc/internal/bytesize"
)

// DefaultPrincipal is the service principal used when none is configured.
const DefaultPrincipal = "tablerpc/_HOST@REALM"

// DefaultKrb5Conf is the system Kerberos configuration path.
const DefaultKrb5Conf = "/etc/krb5.conf"

// DefaultMetadataFile is the table metadata document read by LOAD_TABLE.
const DefaultMetadataFile = "metadata/current.json"

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyAuthenticationDefaults(&cfg.Authentication)
	applyFileIODefaults(&cfg.FileIO)
	applyCatalogDefaults(&cfg.Catalog)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Standard OTLP gRPC port
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 10051
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU() * 4
	}
	if cfg.MaxRequestsPerConnection == 0 {
		cfg.MaxRequestsPerConnection = 64
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 4 * bytesize.MiB
	}
}

func applyAuthenticationDefaults(cfg *AuthenticationConfig) {
	if cfg.Principal == "" {
		cfg.Principal = DefaultPrincipal
	}
	if cfg.Krb5Conf == "" {
		cfg.Krb5Conf = DefaultKrb5Conf
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.KeytabPollInterval == 0 {
		cfg.KeytabPollInterval = 60 * time.Second
	}
}

func applyFileIODefaults(cfg *FileIOConfig) {
	if cfg.CacheShards == 0 {
		cfg.CacheShards = 16
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = DefaultMetadataFile
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
