package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	cfgpkg "github.com/marmos91/govxi11/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file. Unlike other commands, a
missing file is an error.

Examples:
  vxi11ctl config validate
  vxi11ctl config validate --config /etc/vxi11/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		path = cfgpkg.GetDefaultConfigPath()
	}

	if _, err := cfgpkg.MustLoad(path); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %s\n", path)
	return err
}
