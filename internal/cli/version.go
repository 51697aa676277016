package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sybilscan/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: groupConfig,
	Short:   "Print version information",
	Long:    `Print the sybilscan version, commit and build date.`,
	Example: `  sybilscan version`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := cmd.OutOrStdout()
		if formatter != nil && formatter.IsJSON() {
			return writeVersionJSON(w)
		}
		outln(w, "sybilscan "+formatVersion(buildInfo))
		return nil
	},
}

// writeVersionJSON prints the build metadata as JSON.
func writeVersionJSON(w io.Writer) error {
	v := buildInfo.Version
	if v == "" {
		v = "dev"
	}
	return output.WriteJSON(w, map[string]string{
		"version": v,
		"commit":  buildInfo.Commit,
		"date":    buildInfo.Date,
	})
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
}
