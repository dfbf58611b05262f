package config

import (
	"github.com/spf13/cobra"

	cfgpkg "github.com/marmos91/govxi11/pkg/config"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for IDE/validation",
	Long: `Print the JSON schema of the configuration file.

Examples:
  vxi11ctl config schema > vxi11-config.schema.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfgpkg.Schema()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := out.Write(data); err != nil {
			return err
		}
		_, err = out.Write([]byte("\n"))
		return err
	},
}
