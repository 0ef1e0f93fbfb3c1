package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgrsutos/botsentry/internal/analyzer"
	"github.com/kgrsutos/botsentry/internal/cloudwatch"
	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/geo"
	"github.com/kgrsutos/botsentry/internal/metrics"
	"github.com/kgrsutos/botsentry/internal/models"
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
)

const jstLayout = "2006-01-02T15:04:05"

var (
	startTime       string
	endTime         string
	logGroup        string
	profile         string
	filterPattern   string
	outputFormat    string
	outputPath      string
	workers         int
	geoIPPath       string
	metricsTextfile string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [FILE...]",
	Short: "Analyze access logs for bots and DDoS activity",
	Long: `Analyze one or more access log files, or access log lines stored in a CloudWatch Logs
log group, and report per-IP bot verdicts, DDoS windows and recommended actions.

Files are analyzed independently and in parallel; a file that cannot be read or
contains no valid entry is reported without stopping the others.`,
	Example: `  botsentry analyze /var/log/nginx/access.log
  botsentry analyze --format json --output report.json access.log access.log.1
  botsentry analyze --log-group /nginx/access --start 2024-03-01T00:00:00 --end 2024-03-02T00:00:00 --profile prod`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&startTime, "start", "", "Start time in JST (format: 2006-01-02T15:04:05)")
	analyzeCmd.Flags().StringVar(&endTime, "end", "", "End time in JST (format: 2006-01-02T15:04:05)")
	analyzeCmd.Flags().StringVar(&logGroup, "log-group", "", "CloudWatch Logs log group name")
	analyzeCmd.Flags().StringVar(&profile, "profile", "", "AWS profile name")
	analyzeCmd.Flags().StringVar(&filterPattern, "filter-pattern", "", "CloudWatch Logs filter pattern")
	analyzeCmd.Flags().StringVar(&outputFormat, "format", formatText, "Output format (text or json)")
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to a file instead of stdout")
	analyzeCmd.Flags().IntVar(&workers, "workers", 4, "Number of files analyzed in parallel")
	analyzeCmd.Flags().StringVar(&geoIPPath, "geoip-db", "", "MaxMind GeoIP2/GeoLite2 country database (overrides geoip_database)")
	analyzeCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write run metrics in Prometheus text format to this file")

	analyzeCmd.MarkFlagsRequiredTogether("log-group", "start", "end")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if err := validateAnalyzeInput(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if metricsTextfile != "" {
		recorder = metrics.NewRecorder()
	}

	opts := []analyzer.Option{analyzer.WithMetrics(recorder)}
	lookup, err := openCountryLookup(cfg)
	if err != nil {
		return err
	}
	if lookup != nil {
		defer lookup.Close()
		opts = append(opts, analyzer.WithCountryLookup(lookup))
	}

	a, err := analyzer.NewAnalyzer(cfg, opts...)
	if err != nil {
		return err
	}

	var outcomes []analyzer.FileOutcome
	if logGroup != "" {
		outcomes = []analyzer.FileOutcome{analyzeLogGroup(cmd.Context(), a)}
	} else {
		slog.Info("Starting analysis", "files", len(args), "workers", workers)
		outcomes = a.AnalyzeFiles(cmd.Context(), args, workers)
	}

	if err := writeOutcomes(cmd.OutOrStdout(), a, outcomes); err != nil {
		return err
	}

	if err := recorder.WriteTextfile(metricsTextfile); err != nil {
		return err
	}

	return outcomesError(outcomes)
}

func validateAnalyzeInput(args []string) error {
	if outputFormat != formatText && outputFormat != formatJSON {
		return fmt.Errorf("unsupported output format %q (expected %s or %s)", outputFormat, formatText, formatJSON)
	}
	if len(args) == 0 && logGroup == "" {
		return errors.New("either log files or --log-group is required")
	}
	if len(args) > 0 && logGroup != "" {
		return errors.New("log files and --log-group cannot be combined")
	}
	return nil
}

// openCountryLookup opens the GeoIP database named by --geoip-db or the configuration, if any
func openCountryLookup(cfg *config.Config) (*geo.GeoIPLookup, error) {
	path := geoIPPath
	if path == "" {
		path = cfg.GeoIPDatabase
	}
	if path == "" {
		return nil, nil
	}
	return geo.OpenGeoIP(path)
}

func analyzeLogGroup(ctx context.Context, a *analyzer.Analyzer) analyzer.FileOutcome {
	outcome := analyzer.FileOutcome{Path: logGroup}

	start, err := parseJSTTime(startTime)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to parse start time: %w", err)
		return outcome
	}
	end, err := parseJSTTime(endTime)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to parse end time: %w", err)
		return outcome
	}
	if !end.After(start) {
		outcome.Err = fmt.Errorf("end time %s must be after start time %s", endTime, startTime)
		return outcome
	}

	slog.Info("Starting analysis",
		"logGroup", logGroup,
		"startUTC", start.UTC(),
		"endUTC", end.UTC(),
		"profile", profile,
	)

	client, err := cloudwatch.NewClient(ctx, profile)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	events, err := client.FetchLogEvents(ctx, cloudwatch.Query{
		LogGroupName:  logGroup,
		StartTime:     start,
		EndTime:       end,
		FilterPattern: filterPattern,
	})
	if err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Result, outcome.Err = a.AnalyzeLogEvents(logGroup, events)
	return outcome
}

// parseJSTTime parses a wall clock time in Asia/Tokyo
func parseJSTTime(value string) (time.Time, error) {
	jst, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load JST location: %w", err)
	}
	return time.ParseInLocation(jstLayout, value, jst)
}

// writeOutcomes renders every successful result to --output or w
func writeOutcomes(w io.Writer, a *analyzer.Analyzer, outcomes []analyzer.FileOutcome) error {
	if outputPath == "" {
		return renderOutcomes(w, a, outcomes, !noColor)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	buffered := bufio.NewWriter(file)
	if err := renderOutcomes(buffered, a, outcomes, false); err != nil {
		file.Close()
		return err
	}
	if err := buffered.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	slog.Info("Report written", "path", outputPath)
	return nil
}

func renderOutcomes(w io.Writer, a *analyzer.Analyzer, outcomes []analyzer.FileOutcome, colors bool) error {
	renderer := newConsoleRenderer(w, colors)
	for _, outcome := range outcomes {
		if outcome.Result == nil {
			continue
		}
		switch outputFormat {
		case formatJSON:
			if err := a.OutputJSON(outcome.Result, w); err != nil {
				return fmt.Errorf("failed to write JSON output: %w", err)
			}
		default:
			renderer.renderResult(outcome.Result)
		}
	}
	return nil
}

// outcomesError joins the per-file failures of a batch
func outcomesError(outcomes []analyzer.FileOutcome) error {
	var errs []error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d inputs failed: %w", len(errs), len(outcomes), errors.Join(errs...))
}

// resultsOf returns the successful results of a batch
func resultsOf(outcomes []analyzer.FileOutcome) []*models.AnalysisResult {
	results := make([]*models.AnalysisResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Result != nil {
			results = append(results, outcome.Result)
		}
	}
	return results
}
