package config

import (
	"strings"
	"time"

	"github.com/marmos91/govxi11/pkg/instrument"
	"github.com/spf13/viper"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "") are replaced with defaults
//   - Explicit values are preserved
//   - Booleans that default to true (instrument.send_end, telemetry.insecure)
//     are handled by setViperDefaults, since false is indistinguishable
//     from unset here
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyInstrumentDefaults(&cfg.Instrument)
	applyMonitorDefaults(&cfg.Monitor)
	applyAPIDefaults(&cfg.API)
}

// setViperDefaults registers defaults whose zero value is meaningful.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("instrument.send_end", true)
	v.SetDefault("telemetry.insecure", true)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"inuse_space",
			"io_wait",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyInstrumentDefaults mirrors instrument.DefaultConfig.
func applyInstrumentDefaults(cfg *InstrumentConfig) {
	def := instrument.DefaultConfig("")

	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.TermChar == "" {
		cfg.TermChar = string(rune(def.TermChar))
	}
	if cfg.PortmapPort == 0 {
		cfg.PortmapPort = def.PortmapPort
	}
	if cfg.TimeoutSlack == 0 {
		cfg.TimeoutSlack = def.TimeoutSlack
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
}

func applyMonitorDefaults(cfg *MonitorConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = "query"
	}
	if cfg.Command == "" {
		cfg.Command = "*IDN?"
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 4096
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
		Instrument: InstrumentConfig{
			SendEnd: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
