package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Instrument(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	in := cfg.Instrument
	if in.Device != "inst0" {
		t.Errorf("Expected default device 'inst0', got %q", in.Device)
	}
	if in.IOTimeout != 5*time.Second || in.LockTimeout != 5*time.Second {
		t.Errorf("Expected 5s timeouts, got io=%v lock=%v", in.IOTimeout, in.LockTimeout)
	}
	if in.TermChar != "\n" {
		t.Errorf("Expected default term char newline, got %q", in.TermChar)
	}
	if in.PortmapPort != 111 {
		t.Errorf("Expected default port mapper port 111, got %d", in.PortmapPort)
	}
	if in.CorePort != 0 {
		t.Errorf("Expected core port to stay 0, got %d", in.CorePort)
	}
	if in.TimeoutSlack != time.Second {
		t.Errorf("Expected default timeout slack 1s, got %v", in.TimeoutSlack)
	}
}

func TestApplyDefaults_MonitorAndAPI(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Monitor.Interval != 10*time.Second {
		t.Errorf("Expected default interval 10s, got %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.Mode != "query" {
		t.Errorf("Expected default mode 'query', got %q", cfg.Monitor.Mode)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/vxi11.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Instrument: InstrumentConfig{
			Device:    "gpib0,12",
			IOTimeout: 30 * time.Second,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/vxi11.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Instrument.Device != "gpib0,12" {
		t.Errorf("Expected explicit device to be preserved, got %q", cfg.Instrument.Device)
	}
	if cfg.Instrument.IOTimeout != 30*time.Second {
		t.Errorf("Expected explicit io_timeout to be preserved, got %v", cfg.Instrument.IOTimeout)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_TrueBooleans(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Instrument.SendEnd {
		t.Error("Default config should send END")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Default config should use an insecure OTLP connection")
	}
}
