package cli

import (
	"github.com/spf13/cobra"

	"github.com/kgrsutos/botsentry/internal/analyzer"
)

var sampleSize int

var detectCmd = &cobra.Command{
	Use:   "detect-format FILE",
	Short: "Detect the access log format of a file",
	Long: `Parse the first lines of a log file with every supported grammar (custom, combined,
common) and report the most likely format together with the parse success rate.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().IntVar(&sampleSize, "sample-size", analyzer.DefaultSampleSize, "Number of lines to sample")
}

func runDetect(cmd *cobra.Command, args []string) error {
	report, err := analyzer.NewParser().DetectFileFormat(args[0], sampleSize)
	if err != nil {
		return err
	}

	newConsoleRenderer(cmd.OutOrStdout(), !noColor).renderFormatReport(args[0], report)
	return nil
}
