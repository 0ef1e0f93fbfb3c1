package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kgrsutos/botsentry/internal/analyzer"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "botsentry version %s\n", analyzer.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
