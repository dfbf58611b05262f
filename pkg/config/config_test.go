package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

instrument:
  host: "192.168.1.50"
  io_timeout: 2s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown_timeout 10s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Instrument.Host != "192.168.1.50" {
		t.Errorf("Expected host from file, got %q", cfg.Instrument.Host)
	}
	if cfg.Instrument.IOTimeout != 2*time.Second {
		t.Errorf("Expected io_timeout 2s, got %v", cfg.Instrument.IOTimeout)
	}
	if cfg.Instrument.Device != "inst0" {
		t.Errorf("Expected default device 'inst0', got %q", cfg.Instrument.Device)
	}
	if !cfg.Instrument.SendEnd {
		t.Error("Expected send_end to default to true when absent from the file")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Expected telemetry.insecure to default to true")
	}
}

func TestLoad_ExplicitFalseBoolean(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
instrument:
  send_end: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Instrument.SendEnd {
		t.Error("Expected explicit send_end: false to be preserved")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config, so the
	// CLI works with flags and environment variables alone.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Instrument.PortmapPort != 111 {
		t.Errorf("Expected default port mapper port 111, got %d", cfg.Instrument.PortmapPort)
	}
	if cfg.Monitor.Command != "*IDN?" {
		t.Errorf("Expected default monitor command '*IDN?', got %q", cfg.Monitor.Command)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
monitor:
  mode: sweep
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for unknown monitor mode")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[instrument]
host = "scope.lab"
device = "gpib0,5"
io_timeout = "750ms"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Instrument.Device != "gpib0,5" {
		t.Errorf("Expected device 'gpib0,5', got %q", cfg.Instrument.Device)
	}
	if cfg.Instrument.IOTimeout != 750*time.Millisecond {
		t.Errorf("Expected io_timeout 750ms, got %v", cfg.Instrument.IOTimeout)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("VXI11_LOGGING_LEVEL", "ERROR")
	t.Setenv("VXI11_INSTRUMENT_HOST", "10.0.0.7")
	t.Setenv("VXI11_INSTRUMENT_LOCK_TIMEOUT", "250ms")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

instrument:
  host: "192.168.1.50"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Instrument.Host != "10.0.0.7" {
		t.Errorf("Expected host from env var, got %q", cfg.Instrument.Host)
	}
	// lock_timeout is not in the file at all
	if cfg.Instrument.LockTimeout != 250*time.Millisecond {
		t.Errorf("Expected lock_timeout 250ms from env var, got %v", cfg.Instrument.LockTimeout)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if filepath.Base(GetConfigDir()) != "vxi11" {
		t.Errorf("Expected directory name 'vxi11', got %q", filepath.Base(GetConfigDir()))
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Instrument.Host = "10.0.0.7"
	cfg.Instrument.TermChar = `\r`
	cfg.Instrument.TermCharEnabled = true
	cfg.Instrument.CorePort = 1024

	sc, err := cfg.Instrument.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig failed: %v", err)
	}
	if sc.Host != "10.0.0.7" || sc.Device != "inst0" {
		t.Errorf("Unexpected address %q/%q", sc.Host, sc.Device)
	}
	if sc.TermChar != '\r' || !sc.TermCharEnabled {
		t.Errorf("Expected term char CR enabled, got %q/%v", sc.TermChar, sc.TermCharEnabled)
	}
	if !sc.SendEnd {
		t.Error("Expected SendEnd to carry over")
	}
	if sc.CorePort != 1024 || sc.PortmapPort != 111 {
		t.Errorf("Unexpected ports core=%d portmap=%d", sc.CorePort, sc.PortmapPort)
	}
	if sc.IOTimeout != 5*time.Second || sc.DialTimeout != 10*time.Second {
		t.Errorf("Unexpected timeouts io=%v dial=%v", sc.IOTimeout, sc.DialTimeout)
	}
}

func TestParseTermChar(t *testing.T) {
	tests := []struct {
		in      string
		want    byte
		wantErr bool
	}{
		{"\n", '\n', false},
		{";", ';', false},
		{`\n`, '\n', false},
		{`\r`, '\r', false},
		{`\x00`, 0, false},
		{"", 0, true},
		{"ab", 0, true},
		{`é`, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTermChar(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTermChar(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTermChar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
