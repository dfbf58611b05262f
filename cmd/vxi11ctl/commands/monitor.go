package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/pkg/api"
	"github.com/marmos91/govxi11/pkg/config"
	"github.com/marmos91/govxi11/pkg/instrument"
	"github.com/marmos91/govxi11/pkg/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the instrument and serve readings over HTTP",
	Long: `Poll the instrument on a fixed interval, in query mode (write
monitor.command and read the reply) or stb mode (read the status byte).
With api.enabled the latest reading, health probes and Prometheus metrics
are served over HTTP.

When a configuration file is in use it is watched: changes to the log
level and to the monitor section apply without a restart.

Examples:
  vxi11ctl monitor -H 192.168.1.50
  vxi11ctl monitor -H 192.168.1.50 --set monitor.command='MEAS:VOLT:DC?' --set monitor.interval=1s
  vxi11ctl monitor --config /etc/vxi11/config.yaml --set api.enabled=true`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func monitorConfig(c config.MonitorConfig) monitor.Config {
	return monitor.Config{
		Interval: c.Interval,
		Mode:     monitor.Mode(c.Mode),
		Command:  c.Command,
		MaxBytes: c.MaxBytes,
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		poller, err := monitor.New(s, monitorConfig(cfg.Monitor))
		if err != nil {
			return err
		}

		if err := watchConfig(poller); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return poller.Start(ctx) })

		if cfg.API.Enabled {
			srv := api.NewServer(api.Config{
				Port:         cfg.API.Port,
				ReadTimeout:  cfg.API.ReadTimeout,
				WriteTimeout: cfg.API.WriteTimeout,
				IdleTimeout:  cfg.API.IdleTimeout,
			}, poller, s)
			g.Go(func() error { return srv.Start(ctx) })
		} else {
			logger.Info("API server disabled")
		}

		logger.Info("Monitor is running. Press Ctrl+C to stop.",
			logger.Host(s.Host()), logger.Device(s.Device()))
		return g.Wait()
	})
}

// watchConfig applies file changes to the running monitor. Only the log
// level and the monitor section are reloaded; instrument and API settings
// need a restart.
func watchConfig(poller *monitor.Poller) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		if !config.DefaultConfigExists() {
			return nil
		}
		path = config.GetDefaultConfigPath()
	}

	_, err := config.WatchConfig(path, func(next *config.Config) {
		overrides, err := cmdutil.Flags.Overrides()
		if err == nil {
			err = config.ApplyOverrides(next, overrides)
		}
		if err != nil {
			logger.Warn("ignoring configuration change", logger.KeyError, err)
			return
		}

		logger.SetLevel(next.Logging.Level)
		if err := poller.Update(monitorConfig(next.Monitor)); err != nil {
			logger.Warn("ignoring monitor configuration change", logger.KeyError, err)
			return
		}
		logger.Info("Monitor configuration updated",
			"interval", next.Monitor.Interval.String(),
			"mode", next.Monitor.Mode,
			"command", next.Monitor.Command)
	})
	if err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}
	return nil
}
