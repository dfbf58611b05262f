package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for vxi11ctl.

To load completions:

Bash:
  # Linux:
  $ vxi11ctl completion bash > /etc/bash_completion.d/vxi11ctl
  # macOS:
  $ vxi11ctl completion bash > $(brew --prefix)/etc/bash_completion.d/vxi11ctl

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ vxi11ctl completion zsh > "${fpath[1]}/_vxi11ctl"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ vxi11ctl completion fish > ~/.config/fish/completions/vxi11ctl.fish

PowerShell:
  PS> vxi11ctl completion powershell | Out-String | Invoke-Expression
`,
	Annotations:           map[string]string{cmdutil.SkipSetup: "true"},
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}
