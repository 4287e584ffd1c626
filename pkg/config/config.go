// Package config loads the tablerpc server configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (TABLERPC_*, e.g. TABLERPC_LOGGING_LEVEL)
//  3. The YAML configuration file
//  4. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/tablerpc/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TABLERPC"

// Config is the complete server configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// Server holds listener, worker pool and connection limits.
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Authentication controls the Kerberos handshake performed on every new
	// connection. Disabled by default.
	Authentication AuthenticationConfig `mapstructure:"authentication" yaml:"authentication" json:"authentication"`

	// FileIO configures how table locations are opened.
	FileIO FileIOConfig `mapstructure:"fileio" yaml:"fileio" json:"fileio"`

	// Catalog lists the tables served by this instance.
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog" json:"catalog"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (normalised to upper case).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level" json:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output" json:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint" json:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate" json:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling" json:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint" json:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types" json:"profile_types"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port" json:"port"`
}

// ServerConfig configures the RPC listener.
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip|hostname" yaml:"bind_address" json:"bind_address"`
	Port        int    `mapstructure:"port" validate:"min=0,max=65535" yaml:"port" json:"port"`

	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections" json:"max_connections"`

	// Workers is the number of processing goroutines. Each owns one
	// identity slot set.
	Workers int `mapstructure:"workers" validate:"min=1" yaml:"workers" json:"workers"`

	// MaxRequestsPerConnection bounds in-flight calls per connection.
	MaxRequestsPerConnection int `mapstructure:"max_requests_per_connection" validate:"min=1" yaml:"max_requests_per_connection" json:"max_requests_per_connection"`

	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gte=0" yaml:"idle_timeout" json:"idle_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0" yaml:"write_timeout" json:"write_timeout"`

	// MaxMessageSize caps a reassembled RPC record, e.g. "4Mi".
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" validate:"min=1024,max=2147483647" yaml:"max_message_size" json:"max_message_size"`
}

// AuthenticationConfig configures Kerberos authentication of connections.
//
// Environment overrides besides the generic TABLERPC_AUTHENTICATION_* ones:
//
//	TABLERPC_KERBEROS_KEYTAB    overrides CredentialPath
//	TABLERPC_KERBEROS_PRINCIPAL overrides Principal
//	TABLERPC_KERBEROS_KRB5CONF  overrides Krb5Conf
type AuthenticationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Principal is the service principal. "_HOST" is replaced by the
	// canonical local hostname when the server starts.
	Principal string `mapstructure:"principal" yaml:"principal" json:"principal"`

	// CredentialPath is the keytab holding the service key.
	CredentialPath string `mapstructure:"credential_path" yaml:"credential_path" json:"credential_path"`

	// Krb5Conf is the Kerberos configuration file.
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf" json:"krb5_conf"`

	MaxClockSkew       time.Duration `mapstructure:"max_clock_skew" validate:"gte=0" yaml:"max_clock_skew" json:"max_clock_skew"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout" validate:"gte=0" yaml:"handshake_timeout" json:"handshake_timeout"`
	KeytabPollInterval time.Duration `mapstructure:"keytab_poll_interval" validate:"gte=0" yaml:"keytab_poll_interval" json:"keytab_poll_interval"`
}

// FileIOConfig configures table storage access.
type FileIOConfig struct {
	// CacheShards is the number of shards of the FileIO cache.
	CacheShards int `mapstructure:"cache_shards" validate:"min=1,max=1024" yaml:"cache_shards" json:"cache_shards"`

	S3 S3Config `mapstructure:"s3" yaml:"s3" json:"s3"`
}

// S3Config configures access to s3:// table locations.
type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region" json:"region"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint" json:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style" json:"force_path_style"`
}

// CatalogConfig lists the tables this server knows about.
type CatalogConfig struct {
	Name string `mapstructure:"name" validate:"required" yaml:"name" json:"name"`

	// MetadataFile is read by LOAD_TABLE relative to the table location.
	MetadataFile string `mapstructure:"metadata_file" validate:"required" yaml:"metadata_file" json:"metadata_file"`

	Tables []TableConfig `mapstructure:"tables" validate:"dive" yaml:"tables" json:"tables"`
}

// TableConfig is one catalog entry.
type TableConfig struct {
	Database string `mapstructure:"database" validate:"required" yaml:"database" json:"database"`
	Table    string `mapstructure:"table" validate:"required" yaml:"table" json:"table"`
	Location string `mapstructure:"location" validate:"required" yaml:"location" json:"location"`
	Owner    string `mapstructure:"owner" yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Load reads configuration from configPath, or from the default location when
// configPath is empty. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if found {
		cfg = &Config{}
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	}

	applyEnvOverrides(v, cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for commands that need an existing configuration file.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize one first:\n"+
				"  tablerpc config init\n\n"+
				"Or point at an existing file:\n"+
				"  tablerpc <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it with:\n"+
			"  tablerpc config init --config %s", configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// envOverrides maps config keys that may not appear in the file to the
// field they set. AutomaticEnv only covers keys viper already knows about.
var envOverrides = map[string]func(*Config, string){
	"logging.level":                  func(c *Config, s string) { c.Logging.Level = strings.ToUpper(s) },
	"logging.format":                 func(c *Config, s string) { c.Logging.Format = s },
	"logging.output":                 func(c *Config, s string) { c.Logging.Output = s },
	"server.bind_address":            func(c *Config, s string) { c.Server.BindAddress = s },
	"authentication.principal":       func(c *Config, s string) { c.Authentication.Principal = s },
	"authentication.credential_path": func(c *Config, s string) { c.Authentication.CredentialPath = s },
	"authentication.krb5_conf":       func(c *Config, s string) { c.Authentication.Krb5Conf = s },
}

var envBoolOverrides = map[string]func(*Config, bool){
	"authentication.enabled": func(c *Config, b bool) { c.Authentication.Enabled = b },
	"metrics.enabled":        func(c *Config, b bool) { c.Metrics.Enabled = b },
	"telemetry.enabled":      func(c *Config, b bool) { c.Telemetry.Enabled = b },
}

var envIntOverrides = map[string]func(*Config, int){
	"server.port":    func(c *Config, n int) { c.Server.Port = n },
	"server.workers": func(c *Config, n int) { c.Server.Workers = n },
	"metrics.port":   func(c *Config, n int) { c.Metrics.Port = n },
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	for key, set := range envOverrides {
		if v.IsSet(key) && envSet(key) {
			set(cfg, v.GetString(key))
		}
	}
	for key, set := range envBoolOverrides {
		if envSet(key) {
			set(cfg, v.GetBool(key))
		}
	}
	for key, set := range envIntOverrides {
		if envSet(key) {
			set(cfg, v.GetInt(key))
		}
	}
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return ok
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tablerpc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tablerpc")
}

// GetDefaultConfigPath returns $XDG_CONFIG_HOME/tablerpc/config.yaml.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}
