package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/geo"
	"github.com/kgrsutos/botsentry/internal/metrics"
	"github.com/kgrsutos/botsentry/internal/models"
)

// Analyzer coordinates the analysis of access logs. It holds no per-log
// state, so one Analyzer may serve several files concurrently.
type Analyzer struct {
	cfg        *config.Config
	parser     *Parser
	excluder   *config.PathExcluder
	aggregator *Aggregator
	detector   *BotDetector
	ddos       *DDoSAnalyzer
	assembler  *ReportAssembler
	recorder   *metrics.Recorder
	now        func() time.Time
}

// Option customizes an Analyzer
type Option func(*Analyzer)

// WithCountryLookup resolves the country of entries logged without one
func WithCountryLookup(lookup geo.CountryLookup) Option {
	return func(a *Analyzer) {
		a.assembler.lookup = lookup
	}
}

// WithMetrics records run metrics into r
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Analyzer) {
		a.recorder = r
	}
}

// WithClock replaces time.Now for processing time measurements
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer creates a new Analyzer. A nil cfg uses config.Default().
func NewAnalyzer(cfg *config.Config, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	excluder, err := config.NewPathExcluder(cfg.ExcludedPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}

	detector, err := NewBotDetector(cfg)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:        cfg,
		parser:     NewParser(),
		excluder:   excluder,
		aggregator: NewAggregator(cfg.SuspiciousPaths),
		detector:   detector,
		ddos:       NewDDoSAnalyzer(cfg.DDoS),
		assembler:  NewReportAssembler(cfg.Output, nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.assembler.lookup == nil {
		a.assembler.lookup = geo.NoopLookup{}
	}

	if excluder.Len() > 0 {
		slog.Debug("Path exclusions enabled", "rules", excluder.Len())
	}
	return a, nil
}

// Config returns the configuration the analyzer was built with
func (a *Analyzer) Config() *config.Config {
	return a.cfg
}

// AnalyzeFile analyzes one access log file
func (a *Analyzer) AnalyzeFile(path string) (*models.AnalysisResult, error) {
	return a.analyze(path, func(fn func(*models.LogEntry) error) (ParseStats, error) {
		return a.parser.ParseFile(path, fn)
	})
}

// AnalyzeReader analyzes access log lines read from r; name is reported as the log file
func (a *Analyzer) AnalyzeReader(name string, r io.Reader) (*models.AnalysisResult, error) {
	return a.analyze(name, func(fn func(*models.LogEntry) error) (ParseStats, error) {
		return a.parser.ParseReader(r, fn)
	})
}

// AnalyzeLogEvents analyzes access log lines fetched from CloudWatch Logs
func (a *Analyzer) AnalyzeLogEvents(source string, events []*models.LogEvent) (*models.AnalysisResult, error) {
	return a.analyze(source, func(fn func(*models.LogEntry) error) (ParseStats, error) {
		var total ParseStats
		for _, event := range events {
			stats, err := a.parser.ParseReader(strings.NewReader(event.Message), fn)
			total.TotalLines += stats.TotalLines
			total.Parsed += stats.Parsed
			total.Skipped += stats.Skipped
			total.Failed += stats.Failed
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (a *Analyzer) analyze(name string, parse func(func(*models.LogEntry) error) (ParseStats, error)) (*models.AnalysisResult, error) {
	startedAt := a.now()
	c := newCollector(a.excluder)

	stats, err := parse(c.add)
	if err != nil {
		a.recorder.ObserveFile(err, a.now().Sub(startedAt))
		return nil, err
	}
	a.recorder.ObserveLines(stats.Parsed, stats.Skipped, stats.Failed)

	if len(c.entries) == 0 {
		err := fmt.Errorf("%s: %w", name, ErrNoEntries)
		a.recorder.ObserveFile(err, a.now().Sub(startedAt))
		return nil, err
	}

	patterns := a.aggregator.Aggregate(c.entries)
	verdicts := a.detector.Detect(patterns)
	alerts := a.ddos.Analyze(c.entries)

	result := a.assembler.Assemble(ReportInput{
		LogFile:    name,
		Entries:    c.entries,
		Stats:      stats,
		Excluded:   c.excluded,
		Format:     c.format(),
		Patterns:   patterns,
		Verdicts:   verdicts,
		Alerts:     alerts,
		StartedAt:  startedAt,
		FinishedAt: a.now(),
	})

	for _, v := range verdicts {
		a.recorder.ObserveSource(string(v.RiskLevel))
	}
	for _, alert := range alerts {
		a.recorder.ObserveDDoSAlert(string(alert.Severity))
	}
	a.recorder.ObserveFile(nil, result.Metadata.AnalysisTimestamp.Sub(startedAt))

	slog.Info("Analyzed access log",
		"source", name,
		"entries", len(c.entries),
		"excluded", c.excluded,
		"failedLines", stats.Failed,
		"ips", len(patterns),
		"bots", result.BotAnalysis.DetectedBots,
		"ddosAlerts", len(alerts),
	)
	return result, nil
}

// collector gathers parsed entries, dropping excluded paths
type collector struct {
	excluder *config.PathExcluder
	entries  []*models.LogEntry
	excluded int
	formats  map[models.LogFormat]int
}

func newCollector(excluder *config.PathExcluder) *collector {
	return &collector{
		excluder: excluder,
		formats:  make(map[models.LogFormat]int),
	}
}

func (c *collector) add(entry *models.LogEntry) error {
	if c.excluder.ShouldExclude(entry.Path) {
		c.excluded++
		return nil
	}
	c.entries = append(c.entries, entry)
	c.formats[entry.Format]++
	return nil
}

// format returns the grammar most entries matched, the first in grammar order on ties
func (c *collector) format() models.LogFormat {
	best, bestCount := models.LogFormatUnknown, 0
	for _, g := range grammars {
		if n := c.formats[g.format]; n > bestCount {
			best, bestCount = g.format, n
		}
	}
	return best
}

// FileOutcome is the result of one file in a batch
type FileOutcome struct {
	Path   string
	Result *models.AnalysisResult
	Err    error
}

// AnalyzeFiles analyzes each path as an isolated unit with at most workers
// files in flight. Outcomes keep the order of paths. A failed file never
// stops the others; ctx only prevents files not yet started from starting.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, paths []string, workers int) []FileOutcome {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]FileOutcome, len(paths))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, path := range paths {
		outcomes[i].Path = path
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		i, path := i, path // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			result, err := a.AnalyzeFile(path)
			if err != nil {
				slog.Error("Failed to analyze log file", "path", path, "error", err)
			}
			outcomes[i].Result = result
			outcomes[i].Err = err
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

// OutputJSON writes the analysis result as JSON to the provided writer
func (a *Analyzer) OutputJSON(result *models.AnalysisResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "    ")
	return encoder.Encode(result)
}
