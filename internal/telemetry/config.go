package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Config holds OpenTelemetry configuration
type Config struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ServiceName is the name of the service reported to the trace backend
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64

	// InstrumentHost and InstrumentDevice are recorded on the resource so
	// traces from several instruments can be told apart in the backend.
	InstrumentHost   string
	InstrumentDevice string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "vxi11ctl",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// Validate checks the fields Init depends on when tracing is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when tracing is enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry: sample rate %v is outside [0, 1]", c.SampleRate)
	}
	return nil
}

// instrumentAttributes returns the resource attributes naming the
// instrument; unset fields are left out.
func (c Config) instrumentAttributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if c.InstrumentHost != "" {
		attrs = append(attrs, attribute.String(AttrInstrumentHost, c.InstrumentHost))
	}
	if c.InstrumentDevice != "" {
		attrs = append(attrs, attribute.String(AttrInstrumentDevice, c.InstrumentDevice))
	}
	return attrs
}
