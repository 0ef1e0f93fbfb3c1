package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrsutos/botsentry/internal/analyzer"
	"github.com/kgrsutos/botsentry/internal/models"
)

// executeCommand runs the root command with args after resetting every flag to its default
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	reset := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			require.NoError(t, f.Value.Set(f.DefValue))
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, cmd := range rootCmd.Commands() {
		reset(cmd.Flags())
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeFixtures writes an empty config file and an access log with one obvious attacker
func writeFixtures(t *testing.T) (configFile, logFile string) {
	t.Helper()
	dir := t.TempDir()

	configFile = filepath.Join(dir, "botsentry.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("output:\n  max_top_threats: 5\n"), 0o644))

	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `203.0.113.9 - - [01/Mar/2024:12:00:%02d +0000] "GET /wp-admin/setup.php HTTP/1.1" 404 0 "-" "curl/7.68.0"`+"\n", i)
	}
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, `198.51.100.20 - - [01/Mar/2024:12:%02d:00 +0000] "GET /blog/%d HTTP/1.1" 200 4096 "-" "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"`+"\n", i*15, i)
	}
	logFile = filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logFile, []byte(b.String()), 0o644))
	return configFile, logFile
}

func TestParseJSTTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		hasError bool
	}{
		{
			name:     "valid JST time",
			input:    "2023-01-01T12:00:00",
			expected: time.Date(2023, 1, 1, 3, 0, 0, 0, time.UTC),
			hasError: false,
		},
		{
			name:     "invalid format",
			input:    "2023-01-01 12:00:00",
			hasError: true,
		},
		{
			name:     "invalid date",
			input:    "2023-13-01T12:00:00",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseJSTTime(tt.input)

			if tt.hasError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, parsed.UTC())
			}
		})
	}
}

func TestAnalyzeCommand(t *testing.T) {
	// Test that the analyze command is properly registered
	assert.NotNil(t, analyzeCmd)
	assert.Equal(t, "analyze [FILE...]", analyzeCmd.Use)

	// Test that flags exist
	for _, name := range []string{"start", "end", "log-group", "profile", "filter-pattern", "format", "output", "workers", "geoip-db", "metrics-textfile"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("debug"))

	registered := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range []string{"analyze", "blocklist", "detect-format", "config", "version"} {
		assert.True(t, registered[name], name)
	}
}

func TestAnalyzeCommand_InvalidInput(t *testing.T) {
	configFile, logFile := writeFixtures(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no input",
			args:    []string{"analyze", "--config", configFile},
			wantErr: "either log files or --log-group is required",
		},
		{
			name:    "files and log group",
			args:    []string{"analyze", "--config", configFile, "--log-group", "g", "--start", "2024-03-01T00:00:00", "--end", "2024-03-01T01:00:00", logFile},
			wantErr: "cannot be combined",
		},
		{
			name:    "unsupported format",
			args:    []string{"analyze", "--config", configFile, "--format", "xml", logFile},
			wantErr: `unsupported output format "xml"`,
		},
		{
			name:    "log group without time range",
			args:    []string{"analyze", "--config", configFile, "--log-group", "g"},
			wantErr: "if any flags in the group",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAnalyzeCommand_JSONOutput(t *testing.T) {
	configFile, logFile := writeFixtures(t)
	outputFile := filepath.Join(t.TempDir(), "report.json")
	metricsFile := filepath.Join(t.TempDir(), "botsentry.prom")

	_, err := executeCommand(t, "analyze", "--config", configFile, "--format", "json",
		"--output", outputFile, "--metrics-textfile", metricsFile, logFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, logFile, result.Metadata.LogFile)
	assert.Equal(t, 23, result.Metadata.TotalEntries)
	assert.Equal(t, models.LogFormatCombined, result.Metadata.DetectedFormat)
	require.NotEmpty(t, result.TopThreats)
	assert.Equal(t, "203.0.113.9", result.TopThreats[0].IP)
	assert.Equal(t, models.RiskCritical, result.TopThreats[0].RiskLevel)

	metricsData, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsData), `botsentry_files_total{status="success"} 1`)
}

func TestAnalyzeCommand_TextOutput(t *testing.T) {
	configFile, logFile := writeFixtures(t)

	out, err := executeCommand(t, "analyze", "--config", configFile, "--no-color", logFile)
	require.NoError(t, err)

	assert.Contains(t, out, "BOT TRAFFIC ANALYSIS: "+logFile)
	assert.Contains(t, out, "Top Threats")
	assert.Contains(t, out, "203.0.113.9")
	assert.Contains(t, out, "Block critical-risk sources")
	assert.Contains(t, out, "CRITICAL")
}

func TestAnalyzeCommand_OutputWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	configFile, logFile := writeFixtures(t)

	_, err := executeCommand(t, "analyze", "--config", configFile, "--output", "/dev/full", logFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write output file")
}

func TestAnalyzeCommand_PartialFailure(t *testing.T) {
	configFile, logFile := writeFixtures(t)
	missing := filepath.Join(t.TempDir(), "missing.log")

	out, err := executeCommand(t, "analyze", "--config", configFile, "--no-color", missing, logFile)
	require.Error(t, err)
	assert.ErrorIs(t, err, analyzer.ErrUnreadableFile)
	assert.Contains(t, err.Error(), "1 of 2 inputs failed")
	assert.Contains(t, out, "BOT TRAFFIC ANALYSIS: "+logFile, "the readable file is still reported")
}

func TestBlocklistCommand(t *testing.T) {
	configFile, logFile := writeFixtures(t)

	out, err := executeCommand(t, "blocklist", "--config", configFile, logFile)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9\n", out)

	out, err = executeCommand(t, "blocklist", "--config", configFile, "--min-risk", "LOW", logFile, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.9", "198.51.100.20"}, strings.Fields(out))

	out, err = executeCommand(t, "blocklist", "--config", configFile, "--workers", "1", "--min-risk", "LOW", logFile, logFile, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.9", "198.51.100.20"}, strings.Fields(out))
	assert.Equal(t, "4", blocklistCmd.Flags().Lookup("workers").DefValue)

	_, err = executeCommand(t, "blocklist", "--config", configFile, "--min-risk", "urgent", logFile)
	assert.ErrorIs(t, err, models.ErrInvalidRiskLevel)
}

func TestMergeBlocklists(t *testing.T) {
	result := func(verdicts ...models.BotDetectionResult) *models.AnalysisResult {
		return &models.AnalysisResult{BotAnalysis: models.BotAnalysisSummary{Verdicts: verdicts}}
	}

	merged, err := mergeBlocklists([]*models.AnalysisResult{
		result(
			models.BotDetectionResult{IP: "10.0.0.1", RiskLevel: models.RiskHigh, Confidence: 0.7},
			models.BotDetectionResult{IP: "10.0.0.2", RiskLevel: models.RiskLow},
		),
		result(
			models.BotDetectionResult{IP: "10.0.0.3", RiskLevel: models.RiskCritical, Confidence: 1},
			models.BotDetectionResult{IP: "10.0.0.1", RiskLevel: models.RiskCritical, Confidence: 1},
		),
	}, "HIGH")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3"}, merged)
}

func TestDetectFormatCommand(t *testing.T) {
	_, logFile := writeFixtures(t)

	out, err := executeCommand(t, "detect-format", "--no-color", "--sample-size", "10", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "LOG FORMAT DETECTION: "+logFile)
	assert.Contains(t, out, "combined")
	assert.Contains(t, out, "100.0%")

	_, err = executeCommand(t, "detect-format", filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorIs(t, err, analyzer.ErrUnreadableFile)
}

func TestConfigCommand(t *testing.T) {
	configFile, _ := writeFixtures(t)

	out, err := executeCommand(t, "config", "--config", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "max_top_threats: 5")
	assert.Contains(t, out, "requests_per_minute: 10")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "botsentry version "+analyzer.Version+"\n", out)
}

func TestRootCommand_DebugFlag(t *testing.T) {
	defer LogLevel().Set(LogLevel().Level())

	_, err := executeCommand(t, "version", "--debug")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", LogLevel().Level().String())
}
