package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/telemetry"
	"github.com/marmos91/govxi11/pkg/config"
	"github.com/marmos91/govxi11/pkg/instrument"
	"github.com/marmos91/govxi11/pkg/metrics"
	"github.com/marmos91/govxi11/pkg/metrics/prometheus"
)

var (
	// appConfig is loaded by setup before any command that needs it runs.
	appConfig *config.Config

	// rpcMetrics is nil unless metrics.enabled is set.
	rpcMetrics metrics.RPCMetrics

	shutdownFuncs []func(context.Context) error
)

func skipsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[cmdutil.SkipSetup] == "true" {
			return true
		}
	}
	return false
}

// setup loads configuration and starts logging, tracing, profiling and
// metrics for commands that talk to an instrument.
func setup(cmd *cobra.Command, args []string) error {
	if skipsSetup(cmd) {
		return nil
	}

	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}
	appConfig = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	traceShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ServiceName:      "vxi11ctl",
		ServiceVersion:   Version,
		Endpoint:         cfg.Telemetry.Endpoint,
		Insecure:         cfg.Telemetry.Insecure,
		SampleRate:       cfg.Telemetry.SampleRate,
		InstrumentHost:   cfg.Instrument.Host,
		InstrumentDevice: cfg.Instrument.Device,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, traceShutdown)

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "vxi11ctl",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		Tags:           telemetry.InstrumentTags(cfg.Instrument.Host, cfg.Instrument.Device),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return profilingShutdown() })

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		rpcMetrics = prometheus.NewRPCMetrics()
	}

	logger.Debug("Configuration loaded",
		"source", configSource(),
		"level", cfg.Logging.Level,
		"telemetry", telemetry.IsEnabled(),
		"profiling", telemetry.IsProfilingEnabled(),
		"metrics", metrics.IsEnabled())
	return nil
}

// teardown flushes telemetry. It runs after successful commands only;
// failing commands exit without waiting on the collector.
func teardown(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
	defer cancel()

	var errs []error
	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownFuncs = nil
	if err := errors.Join(errs...); err != nil {
		logger.Warn("telemetry shutdown error", logger.KeyError, err)
	}
	return nil
}

func configSource() string {
	if cmdutil.Flags.ConfigFile != "" {
		return cmdutil.Flags.ConfigFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

func shutdownTimeout() time.Duration {
	if appConfig == nil {
		return 10 * time.Second
	}
	return appConfig.ShutdownTimeout
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// sessionConfig converts the loaded configuration and requires a host.
func sessionConfig() (instrument.Config, error) {
	sc, err := appConfig.Instrument.SessionConfig()
	if err != nil {
		return instrument.Config{}, err
	}
	if sc.Host == "" {
		return instrument.Config{}, fmt.Errorf("no instrument host: use --host, --set instrument.host=... or VXI11_INSTRUMENT_HOST")
	}
	return sc, nil
}

// withSession opens a link, runs fn and destroys the link.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *instrument.Session) error) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	sc, err := sessionConfig()
	if err != nil {
		return err
	}

	s, err := instrument.Open(ctx, sc, instrument.WithMetrics(rpcMetrics))
	if err != nil {
		return err
	}

	runErr := fn(ctx, s)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout())
	defer closeCancel()
	if err := s.Close(closeCtx); err != nil {
		logger.Warn("failed to close instrument link", logger.KeyError, err)
	}
	return runErr
}

// rpcOptions returns transport options shared by commands that dial directly.
func rpcOptions() []rpc.Option {
	opts := []rpc.Option{rpc.WithDialTimeout(appConfig.Instrument.DialTimeout)}
	if rpcMetrics != nil {
		opts = append(opts, rpc.WithMetrics(rpcMetrics))
	}
	return opts
}
