// Package commands implements the vxi11ctl command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/cmd/vxi11ctl/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vxi11ctl",
	Short: "vxi11ctl - VXI-11 instrument control",
	Long: `vxi11ctl talks to LAN instruments and GPIB gateways over VXI-11
(ONC RPC on TCP). It resolves the core channel through the port mapper,
creates a device link and runs reads, writes and control operations on it.

Every configuration key can be set in the config file, through VXI11_*
environment variables, or with --set section.key=value.

Use "vxi11ctl [command] --help" for more information about a command.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cmdutil.Flags.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/vxi11/config.yaml)")
	pf.StringVar(&cmdutil.Flags.LogLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
	pf.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "output format (table|json|yaml|raw)")
	pf.StringArrayVar(&cmdutil.Flags.Set, "set", nil, "override a config key, e.g. --set instrument.io_timeout=2s (repeatable)")
	pf.StringVarP(&cmdutil.Flags.Host, "host", "H", "", "instrument host (overrides instrument.host)")
	pf.StringVarP(&cmdutil.Flags.Device, "device", "d", "", "device name (overrides instrument.device)")
	pf.BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(portmapCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(stbCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(docmdCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version information",
	Annotations: map[string]string{cmdutil.SkipSetup: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vxi11ctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
