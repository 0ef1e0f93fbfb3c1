package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kgrsutos/botsentry/internal/analyzer"
	"github.com/kgrsutos/botsentry/internal/models"
)

var (
	minRisk          string
	blocklistWorkers int
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist FILE...",
	Short: "Print the IPs at or above a risk level, one per line",
	Long: `Analyze access log files and print every IP whose risk level is at least --min-risk,
highest risk first. The output is meant for firewall and ACL tooling.`,
	Example: `  botsentry blocklist --min-risk CRITICAL access.log | xargs -n1 iptables -A INPUT -j DROP -s`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runBlocklist,
}

func init() {
	rootCmd.AddCommand(blocklistCmd)

	blocklistCmd.Flags().StringVar(&minRisk, "min-risk", string(models.RiskHigh), "Minimum risk level (LOW, MEDIUM, HIGH or CRITICAL)")
	blocklistCmd.Flags().IntVar(&blocklistWorkers, "workers", 4, "Number of files analyzed in parallel")
}

func runBlocklist(cmd *cobra.Command, args []string) error {
	if _, err := models.ParseRiskLevel(minRisk); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := analyzer.NewAnalyzer(cfg)
	if err != nil {
		return err
	}

	outcomes := a.AnalyzeFiles(cmd.Context(), args, blocklistWorkers)
	ips, err := mergeBlocklists(resultsOf(outcomes), minRisk)
	if err != nil {
		return err
	}

	for _, ip := range ips {
		fmt.Fprintln(cmd.OutOrStdout(), ip)
	}

	return outcomesError(outcomes)
}

// mergeBlocklists concatenates the blocklists of several results, keeping the first occurrence of each IP
func mergeBlocklists(results []*models.AnalysisResult, minRiskLevel string) ([]string, error) {
	seen := make(map[string]struct{})
	var merged []string
	for _, result := range results {
		ips, err := result.ExportBlocklist(minRiskLevel)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			if _, ok := seen[ip]; ok {
				continue
			}
			seen[ip] = struct{}{}
			merged = append(merged, ip)
		}
	}
	return merged, nil
}
