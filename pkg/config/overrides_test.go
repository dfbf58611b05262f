package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides([]string{
		"Instrument.Host=10.0.0.7",
		"monitor.command=MEAS:VOLT:DC?",
		"instrument.device=gpib0,5",
		"logging.output=",
	})
	if err != nil {
		t.Fatalf("ParseOverrides failed: %v", err)
	}

	want := map[string]string{
		"instrument.host":   "10.0.0.7",
		"monitor.command":   "MEAS:VOLT:DC?",
		"instrument.device": "gpib0,5",
		"logging.output":    "",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d overrides, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("override %q = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"instrument.host", "=value", " =x"} {
		if _, err := ParseOverrides([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestApplyOverrides_TypedValues(t *testing.T) {
	cfg := GetDefaultConfig()

	err := ApplyOverrides(cfg, map[string]string{
		"instrument.host":          "10.0.0.7",
		"instrument.io_timeout":    "2500ms",
		"instrument.send_end":      "false",
		"instrument.max_recv_size": "512",
		"instrument.term_char":     `\r`,
		"telemetry.sample_rate":    "0.25",
	})
	if err != nil {
		t.Fatalf("ApplyOverrides failed: %v", err)
	}

	if cfg.Instrument.Host != "10.0.0.7" {
		t.Errorf("Expected host override, got %q", cfg.Instrument.Host)
	}
	if cfg.Instrument.IOTimeout != 2500*time.Millisecond {
		t.Errorf("Expected io_timeout 2.5s, got %v", cfg.Instrument.IOTimeout)
	}
	if cfg.Instrument.SendEnd {
		t.Error("Expected send_end override to false")
	}
	if cfg.Instrument.MaxRecvSize != 512 {
		t.Errorf("Expected max_recv_size 512, got %d", cfg.Instrument.MaxRecvSize)
	}
	if cfg.Instrument.TermChar != `\r` {
		t.Errorf("Expected term_char override, got %q", cfg.Instrument.TermChar)
	}
	if cfg.Telemetry.SampleRate != 0.25 {
		t.Errorf("Expected sample_rate 0.25, got %v", cfg.Telemetry.SampleRate)
	}

	// Untouched values survive
	if cfg.Instrument.Device != "inst0" || cfg.Logging.Level != "INFO" {
		t.Errorf("Unexpected change to untouched keys: %q %q", cfg.Instrument.Device, cfg.Logging.Level)
	}
}

func TestApplyOverrides_Empty(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := ApplyOverrides(cfg, nil); err != nil {
		t.Fatalf("ApplyOverrides with no overrides failed: %v", err)
	}
}

func TestApplyOverrides_UnknownKey(t *testing.T) {
	cfg := GetDefaultConfig()

	err := ApplyOverrides(cfg, map[string]string{"instrument.baud_rate": "9600"})
	if err == nil {
		t.Fatal("Expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "baud_rate") {
		t.Errorf("Expected error to name the key, got: %v", err)
	}
}

func TestApplyOverrides_InvalidValue(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := ApplyOverrides(cfg, map[string]string{"instrument.io_timeout": "soon"}); err == nil {
		t.Fatal("Expected error for unparsable duration")
	}

	cfg = GetDefaultConfig()
	if err := ApplyOverrides(cfg, map[string]string{"monitor.mode": "sweep"}); err == nil {
		t.Fatal("Expected validation error for unknown monitor mode")
	}
}

func TestApplyOverrides_Conflict(t *testing.T) {
	cfg := GetDefaultConfig()

	// "instrument" cannot be both a value and a section
	err := ApplyOverrides(cfg, map[string]string{
		"instrument":      "x",
		"instrument.host": "h",
	})
	if err == nil {
		t.Fatal("Expected error for conflicting overrides")
	}
}
