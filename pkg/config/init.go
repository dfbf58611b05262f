package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
)

// sampleTemplate renders a commented configuration file. Rendering from a
// template rather than yaml.Marshal keeps the comments and prints durations
// as "5s" instead of nanoseconds.
var sampleTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"quote": strconv.Quote,
}).Parse(`# vxi11ctl Configuration File
#
# Every key can be overridden with an environment variable:
#   VXI11_<SECTION>_<KEY>, e.g. VXI11_INSTRUMENT_HOST=192.168.1.50
# or on the command line:
#   vxi11ctl --set instrument.io_timeout=2s ...

logging:
  # DEBUG, INFO, WARN or ERROR
  level: {{ .Logging.Level }}
  # text or json
  format: {{ .Logging.Format }}
  # stdout, stderr or a file path
  output: {{ .Logging.Output }}

telemetry:
  enabled: {{ .Telemetry.Enabled }}
  endpoint: {{ quote .Telemetry.Endpoint }}
  insecure: {{ .Telemetry.Insecure }}
  sample_rate: {{ .Telemetry.SampleRate }}
  profiling:
    enabled: {{ .Telemetry.Profiling.Enabled }}
    endpoint: {{ quote .Telemetry.Profiling.Endpoint }}
    profile_types:
{{- range .Telemetry.Profiling.ProfileTypes }}
      - {{ . }}
{{- end }}

metrics:
  # Served on the API port under /metrics
  enabled: {{ .Metrics.Enabled }}

instrument:
  host: {{ quote .Instrument.Host }}
  # inst0 for LAN instruments, gpib0,<addr> behind a gateway
  device: {{ quote .Instrument.Device }}
  client_id: {{ .Instrument.ClientID }}
  lock_device: {{ .Instrument.LockDevice }}
  io_timeout: {{ .Instrument.IOTimeout }}
  lock_timeout: {{ .Instrument.LockTimeout }}
  # 0 uses the instrument's limit
  max_recv_size: {{ .Instrument.MaxRecvSize }}
  term_char: {{ quote .Instrument.TermChar }}
  term_char_enabled: {{ .Instrument.TermCharEnabled }}
  send_end: {{ .Instrument.SendEnd }}
  portmap_port: {{ .Instrument.PortmapPort }}
  # Set to skip the port mapper
  core_port: {{ .Instrument.CorePort }}
  timeout_slack: {{ .Instrument.TimeoutSlack }}
  dial_timeout: {{ .Instrument.DialTimeout }}

monitor:
  interval: {{ .Monitor.Interval }}
  # query or stb
  mode: {{ .Monitor.Mode }}
  command: {{ quote .Monitor.Command }}
  max_bytes: {{ .Monitor.MaxBytes }}

api:
  enabled: {{ .API.Enabled }}
  port: {{ .API.Port }}
  read_timeout: {{ .API.ReadTimeout }}
  write_timeout: {{ .API.WriteTimeout }}
  idle_timeout: {{ .API.IdleTimeout }}

shutdown_timeout: {{ .ShutdownTimeout }}
`))

// Render writes cfg in the configuration file format.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := sampleTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return buf.Bytes(), nil
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	data, err := Render(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
