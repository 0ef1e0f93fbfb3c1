package analyzer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kgrsutos/botsentry/internal/models"
)

const (
	// DefaultSampleSize is the number of lines inspected by format detection
	DefaultSampleSize = 100

	maxFailureSamples = 5
	maxSampleLength   = 200
)

// FormatReport describes the dialect found in a sample of log lines
type FormatReport struct {
	Format         models.LogFormat `json:"format"`
	Confidence     float64          `json:"confidence"`
	TotalLines     int              `json:"total_lines"`
	Parsed         int              `json:"parsed"`
	Failed         int              `json:"failed"`
	SuccessRate    float64          `json:"success_rate"`
	FailureSamples []string         `json:"failure_samples"`
}

// DetectFormat parses at most sampleSize non-blank lines and reports the most
// common grammar with the share of sampled lines it matched.
func (p *Parser) DetectFormat(lines []string, sampleSize int) FormatReport {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	report := FormatReport{
		Format:         models.LogFormatUnknown,
		FailureSamples: []string{},
	}
	counts := make(map[models.LogFormat]int)

	for _, line := range lines {
		if report.TotalLines >= sampleSize {
			break
		}
		entry, err := p.ParseLine(line)
		if err == nil && entry == nil {
			continue
		}

		report.TotalLines++
		if err != nil {
			report.Failed++
			if len(report.FailureSamples) < maxFailureSamples {
				report.FailureSamples = append(report.FailureSamples, truncate(strings.TrimSpace(line), maxSampleLength))
			}
			continue
		}
		report.Parsed++
		counts[entry.Format]++
	}

	if report.TotalLines == 0 {
		return report
	}

	best := 0
	// grammar order breaks ties
	for _, g := range grammars {
		if counts[g.format] > best {
			best = counts[g.format]
			report.Format = g.format
		}
	}
	report.Confidence = float64(best) / float64(report.TotalLines)
	report.SuccessRate = float64(report.Parsed) / float64(report.TotalLines)
	return report
}

// DetectFileFormat reads only the first sampleSize lines of path and runs DetectFormat on them
func (p *Parser) DetectFileFormat(path string, sampleSize int) (FormatReport, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	file, err := os.Open(path)
	if err != nil {
		return FormatReport{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	lines := make([]string, 0, sampleSize)
	for len(lines) < sampleSize {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.ToValidUTF8(line, ""))
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return FormatReport{}, fmt.Errorf("%w: %v", ErrUnreadableFile, readErr)
		}
	}

	return p.DetectFormat(lines, sampleSize), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
