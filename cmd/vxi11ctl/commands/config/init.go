package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/cli/prompt"
	cfgpkg "github.com/marmos91/govxi11/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample vxi11ctl configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/vxi11/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  vxi11ctl config init

  # Initialize with custom path
  vxi11ctl config init --config /etc/vxi11/config.yaml

  # Overwrite an existing file without asking
  vxi11ctl config init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		path = cfgpkg.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Overwrite %s", path), initForce)
		if err != nil {
			return err
		}
		if !ok {
			return prompt.ErrAborted
		}
	}

	if err := cfgpkg.InitConfigToPath(path, true); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set instrument.host to the address of your instrument")
	_, _ = fmt.Fprintln(out, "  2. Try it with: vxi11ctl query '*IDN?'")
	_, _ = fmt.Fprintf(out, "  3. Or with a custom config: vxi11ctl --config %s monitor\n", path)
	return nil
}
