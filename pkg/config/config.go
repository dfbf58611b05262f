package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "VXI11"

// Config represents the vxi11ctl configuration.
//
// This structure captures:
//   - Logging configuration
//   - Telemetry/tracing and profiling configuration
//   - Metrics collection
//   - The instrument to connect to and its session settings
//   - The monitor poll loop and its HTTP API
//
// Configuration sources (in order of precedence):
//  1. --set key=value overrides (highest priority)
//  2. Environment variables (VXI11_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Instrument describes the VXI-11 device and how to talk to it
	Instrument InstrumentConfig `mapstructure:"instrument" yaml:"instrument"`

	// Monitor configures the periodic poll loop
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`

	// API configures the HTTP server exposing monitor readings
	API APIConfig `mapstructure:"api" yaml:"api"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, one span per VXI-11 procedure is exported to an OTLP
// collector (Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration,
	//               io_wait (goroutines plus block and mutex wait)
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics collection. Metrics are served
// by the API server under /metrics.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// InstrumentConfig describes one VXI-11 device.
type InstrumentConfig struct {
	// Host is the instrument's hostname or IP address
	Host string `mapstructure:"host" yaml:"host"`

	// Device is the logical device name sent in create_link
	// Examples: inst0, gpib0,5, usb0[2391::1031::MY44003012::0]
	// Default: inst0
	Device string `mapstructure:"device" validate:"required" yaml:"device"`

	// ClientID is an informational identifier sent in create_link
	ClientID int32 `mapstructure:"client_id" yaml:"client_id"`

	// LockDevice requests an exclusive lock when the link is created
	LockDevice bool `mapstructure:"lock_device" yaml:"lock_device"`

	// IOTimeout bounds each read and write on the instrument
	// Default: 5s
	IOTimeout time.Duration `mapstructure:"io_timeout" validate:"gte=0" yaml:"io_timeout"`

	// LockTimeout is how long an operation waits for a lock held by another link
	// Default: 5s
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"gte=0" yaml:"lock_timeout"`

	// MaxRecvSize caps the size of each write chunk. The instrument's own
	// limit wins when smaller. 0 uses the instrument's limit.
	MaxRecvSize uint32 `mapstructure:"max_recv_size" yaml:"max_recv_size"`

	// TermChar is the read termination character, a single byte.
	// Escapes such as "\n" are accepted from the command line.
	// Default: "\n"
	TermChar string `mapstructure:"term_char" validate:"termchar" yaml:"term_char"`

	// TermCharEnabled stops reads at TermChar
	TermCharEnabled bool `mapstructure:"term_char_enabled" yaml:"term_char_enabled"`

	// SendEnd sets the END flag on the last chunk of every write
	// Default: true
	SendEnd bool `mapstructure:"send_end" yaml:"send_end"`

	// PortmapPort is the port mapper's TCP port
	// Default: 111
	PortmapPort int `mapstructure:"portmap_port" validate:"omitempty,min=1,max=65535" yaml:"portmap_port"`

	// CorePort connects to the core channel directly, skipping the port mapper
	// Default: 0 (resolve through the port mapper)
	CorePort int `mapstructure:"core_port" validate:"omitempty,min=1,max=65535" yaml:"core_port"`

	// TimeoutSlack is added to instrument timeouts to form socket deadlines
	// Default: 1s
	TimeoutSlack time.Duration `mapstructure:"timeout_slack" validate:"gte=0" yaml:"timeout_slack"`

	// DialTimeout bounds TCP connection setup and port mapper lookups
	// Default: 10s
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0" yaml:"dial_timeout"`
}

// MonitorConfig configures the periodic poll loop.
type MonitorConfig struct {
	// Interval between polls
	// Default: 10s
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0" yaml:"interval"`

	// Mode selects what each poll does
	// Valid values: query (write Command, read the response), stb (read the status byte)
	// Default: query
	Mode string `mapstructure:"mode" validate:"required,oneof=query stb" yaml:"mode"`

	// Command is written in query mode
	// Default: "*IDN?"
	Command string `mapstructure:"command" validate:"required_if=Mode query" yaml:"command"`

	// MaxBytes caps each response
	// Default: 4096
	MaxBytes int `mapstructure:"max_bytes" validate:"gt=0" yaml:"max_bytes"`
}

// APIConfig configures the monitor's HTTP server.
type APIConfig struct {
	// Enabled starts the HTTP server alongside the monitor
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP listen port
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VXI11_*)
//  2. Configuration file
//  3. Default values
//
// A missing configuration file is not an error: defaults and environment
// variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	return decode(v)
}

// MustLoad loads configuration and requires the file to exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  vxi11ctl config init\n\n"+
				"Or specify a custom config file:\n"+
				"  vxi11ctl <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  vxi11ctl config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// decode unmarshals the merged viper state, fills defaults and validates.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use VXI11_ prefix and underscores
	// Example: VXI11_INSTRUMENT_HOST=192.168.1.50
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so register every key for
	// environment lookup even when no file mentions it.
	bindEnvs(v, "", reflect.TypeOf(Config{}))
	setViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/vxi11/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvs walks the mapstructure tags of t and binds every leaf key.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, key, field.Type)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "500ms", "5s", "1m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "vxi11")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "vxi11")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
