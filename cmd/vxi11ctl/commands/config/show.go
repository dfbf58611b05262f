package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/cli/output"
	cfgpkg "github.com/marmos91/govxi11/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration vxi11ctl would run with: the config file,
environment variables and --set overrides merged over the defaults.

By default outputs YAML. Use --output json for JSON.

Examples:
  # Show the effective configuration
  vxi11ctl config show

  # Show as JSON
  vxi11ctl config show -o json

  # See what an override does
  vxi11ctl config show --set instrument.io_timeout=30s`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(cmdutil.Flags.Output)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == output.FormatJSON {
		return output.PrintJSON(out, cfg)
	}

	data, err := cfgpkg.Render(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
