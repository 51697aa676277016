package cli

import (
	"github.com/spf13/cobra"
)

// completionCmd generates shell completion scripts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var completionCmd = &cobra.Command{
	Use:     "completion [bash|zsh|fish|powershell]",
	GroupID: groupConfig,
	Short:   "Generate shell completion script",
	Long: `Generate shell completion scripts for sybilscan.

Bash:
  $ source <(sybilscan completion bash)

Zsh:
  $ sybilscan completion zsh > "${fpath[1]}/_sybilscan"

Fish:
  $ sybilscan completion fish | source

PowerShell:
  PS> sybilscan completion powershell | Out-String | Invoke-Expression`,
	Example: `  sybilscan completion bash
  sybilscan completion zsh`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(w)
		case "zsh":
			return cmd.Root().GenZshCompletion(w)
		case "fish":
			return cmd.Root().GenFishCompletion(w, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(w)
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(completionCmd)
}
