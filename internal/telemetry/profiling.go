package telemetry

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig contains configuration for Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is enabled
	Enabled bool

	// ServiceName is the application name shown in Pyroscope
	ServiceName string

	// ServiceVersion is the application version
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g., "http://localhost:4040")
	Endpoint string

	// ProfileTypes lists profile names from profileTypeNames, or the
	// "io_wait" preset.
	ProfileTypes []string

	// Tags are extra labels attached to every profile, see InstrumentTags.
	Tags map[string]string
}

var (
	profiler         *pyroscope.Profiler
	profilingEnabled bool
)

var profileTypeNames = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// ioWaitPreset covers where an instrument client spends its time: parked
// on the link socket, or queued behind the per-link call mutex.
var ioWaitPreset = []pyroscope.ProfileType{
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
	pyroscope.ProfileMutexDuration,
}

// InitProfiling initializes Pyroscope continuous profiling.
// Returns a shutdown function that should be called to stop profiling.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}

	profileTypes, err := ParseProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}
	enableRuntimeProfiles(profileTypes)

	tags := map[string]string{"version": cfg.ServiceVersion}
	for k, v := range cfg.Tags {
		tags[k] = v
	}

	profiler, err = pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            tags,
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled = true

	return func() error {
		if profiler != nil {
			return profiler.Stop()
		}
		return nil
	}, nil
}

// enableRuntimeProfiles turns on the runtime sampling that mutex and block
// profiles need; both are off by default.
func enableRuntimeProfiles(types []pyroscope.ProfileType) {
	for _, pt := range types {
		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}
}

// IsProfilingEnabled returns whether profiling is enabled
func IsProfilingEnabled() bool {
	return profilingEnabled
}

// ParseProfileTypes converts configured names into Pyroscope profile types,
// expanding "io_wait" and dropping duplicates.
func ParseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	seen := make(map[pyroscope.ProfileType]bool, len(names))
	out := make([]pyroscope.ProfileType, 0, len(names))
	add := func(pt pyroscope.ProfileType) {
		if !seen[pt] {
			seen[pt] = true
			out = append(out, pt)
		}
	}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "io_wait" {
			for _, pt := range ioWaitPreset {
				add(pt)
			}
			continue
		}
		pt, ok := profileTypeNames[key]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q", name)
		}
		add(pt)
	}
	return out, nil
}

// InstrumentTags labels profiles with the instrument they were taken
// against. Pyroscope encodes tags as app{k=v,...}, so separators in the
// values are replaced.
func InstrumentTags(host, device string) map[string]string {
	tags := make(map[string]string, 2)
	if host != "" {
		tags["instrument"] = tagValue(host)
	}
	if device != "" {
		tags["device"] = tagValue(device)
	}
	return tags
}

var tagReplacer = strings.NewReplacer(",", "_", "=", "_", "{", "_", "}", "_", " ", "_")

func tagValue(s string) string {
	return tagReplacer.Replace(s)
}
