package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/kgrsutos/botsentry/internal/analyzer"
	"github.com/kgrsutos/botsentry/internal/models"
)

// consoleRenderer prints analysis results as human readable text
type consoleRenderer struct {
	writer io.Writer
	colors bool
}

func newConsoleRenderer(w io.Writer, colors bool) *consoleRenderer {
	return &consoleRenderer{
		writer: w,
		colors: colors,
	}
}

var riskColors = map[models.RiskLevel]color.Attribute{
	models.RiskCritical: color.FgRed,
	models.RiskHigh:     color.FgMagenta,
	models.RiskMedium:   color.FgYellow,
	models.RiskLow:      color.FgGreen,
}

// renderResult prints the summary, threats, DDoS windows and recommendations of one result
func (u *consoleRenderer) renderResult(result *models.AnalysisResult) {
	md := result.Metadata
	s := result.TrafficSummary
	b := result.BotAnalysis

	u.printHeader("BOT TRAFFIC ANALYSIS: " + md.LogFile)

	u.printSection("Overview")
	u.printKeyValue("Run ID", md.RunID)
	u.printKeyValue("Log Format", string(md.DetectedFormat))
	u.printKeyValue("Entries", fmt.Sprintf("%d (%d failed, %d excluded)", md.TotalEntries, md.FailedLines, md.ExcludedEntries))
	u.printKeyValue("Time Range", fmt.Sprintf("%s - %s", s.DateRange.Start.Format("2006-01-02 15:04:05"), s.DateRange.End.Format("2006-01-02 15:04:05")))
	u.printKeyValue("Requests/Hour", fmt.Sprintf("%.1f", s.RequestsPerHour))
	u.printKeyValue("Unique IPs", fmt.Sprintf("%d", s.UniqueIPs))
	u.printKeyValue("Error Rate", fmt.Sprintf("%.2f%%", s.ErrorRate*100))
	u.printKeyValue("Bot Request Rate", fmt.Sprintf("%.2f%%", s.BotRequestRate*100))
	u.printKeyValue("Suspicious Requests", fmt.Sprintf("%.2f%%", s.SuspiciousRequestRate*100))
	u.printKeyValue("Detected Bots", fmt.Sprintf("%d of %d (%.1f%%)", b.DetectedBots, b.TotalIPsAnalyzed, b.BotPercentage))
	u.printKeyValue("Avg Response Time", fmt.Sprintf("%.0fms", s.AvgResponseTimeMs))
	u.printKeyValue("P95 Response Time", fmt.Sprintf("%.0fms", s.P95ResponseTimeMs))

	u.printSection("Risk Distribution")
	for _, level := range models.RiskLevels {
		u.printKeyValue(u.colorizeRisk(level), fmt.Sprintf("%d", b.RiskDistribution[level]))
	}

	if len(s.TopPaths) > 0 {
		u.printSection("Top Paths")
		u.printCountTable("Path", s.TopPaths)
	}

	if len(result.TopThreats) > 0 {
		u.printSection("Top Threats")
		u.printThreatsTable(result.TopThreats)
	}

	if len(result.DDoSAlerts) > 0 {
		u.printSection("DDoS Alerts")
		u.printAlertsTable(result.DDoSAlerts)
	}

	u.printSection("Recommendations")
	for _, group := range []string{models.ImmediateActions, models.ShortTermActions, models.MediumTermActions, models.MonitoringActions} {
		for _, action := range result.Recommendations[group] {
			fmt.Fprintf(u.writer, "[%s] %s: %s\n", u.colorizeRisk(models.RiskLevel(action.Priority)), action.Action, action.Details)
			if action.Implementation != "" {
				fmt.Fprintf(u.writer, "    %s\n", action.Implementation)
			}
		}
	}
}

// renderFormatReport prints the outcome of a format detection
func (u *consoleRenderer) renderFormatReport(path string, report analyzer.FormatReport) {
	u.printHeader("LOG FORMAT DETECTION: " + path)
	u.printKeyValue("Format", string(report.Format))
	u.printKeyValue("Confidence", fmt.Sprintf("%.1f%%", report.Confidence*100))
	u.printKeyValue("Sampled Lines", fmt.Sprintf("%d", report.TotalLines))
	u.printKeyValue("Parsed", fmt.Sprintf("%d", report.Parsed))
	u.printKeyValue("Failed", fmt.Sprintf("%d", report.Failed))
	u.printKeyValue("Success Rate", fmt.Sprintf("%.1f%%", report.SuccessRate*100))

	if len(report.FailureSamples) > 0 {
		u.printSection("Failed Lines")
		for _, line := range report.FailureSamples {
			fmt.Fprintf(u.writer, "  %s\n", line)
		}
	}
}

// Print helper methods
func (u *consoleRenderer) printHeader(title string) {
	if u.colors {
		color.New(color.FgCyan, color.Bold).Fprintf(u.writer, "\n%s\n", title)
		color.New(color.FgCyan).Fprintf(u.writer, "%s\n\n", strings.Repeat("═", len(title)))
	} else {
		fmt.Fprintf(u.writer, "\n%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	}
}

func (u *consoleRenderer) printSection(title string) {
	if u.colors {
		color.New(color.FgYellow, color.Bold).Fprintf(u.writer, "\n%s\n", title)
		color.New(color.FgYellow).Fprintf(u.writer, "%s\n", strings.Repeat("─", len(title)))
	} else {
		fmt.Fprintf(u.writer, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
	}
}

func (u *consoleRenderer) printKeyValue(key, value string) {
	if u.colors {
		color.New(color.FgWhite, color.Bold).Fprintf(u.writer, "%-25s", key+":")
		color.New(color.FgGreen).Fprintf(u.writer, "%s\n", value)
	} else {
		fmt.Fprintf(u.writer, "%-25s %s\n", key+":", value)
	}
}

func (u *consoleRenderer) printCountTable(name string, counts []models.Count) {
	table := tablewriter.NewWriter(u.writer)
	table.SetHeader([]string{name, "Requests"})

	for _, c := range counts {
		table.Append([]string{
			truncate(c.Name, 50),
			fmt.Sprintf("%d", c.Count),
		})
	}

	table.Render()
}

func (u *consoleRenderer) printThreatsTable(threats []models.ThreatInfo) {
	table := tablewriter.NewWriter(u.writer)
	table.SetHeader([]string{"IP", "Country", "Risk", "Confidence", "Requests", "Req/Min", "Suspicious", "Action"})

	for _, t := range threats {
		table.Append([]string{
			t.IP,
			t.Country,
			u.colorizeRisk(t.RiskLevel),
			fmt.Sprintf("%.2f", t.Confidence),
			fmt.Sprintf("%d", t.RequestCount),
			fmt.Sprintf("%.1f", t.RequestsPerMinute),
			fmt.Sprintf("%d", t.SuspiciousRequests),
			truncate(t.RecommendedAction, 30),
		})
	}

	table.Render()
}

func (u *consoleRenderer) printAlertsTable(alerts []models.DDoSAlert) {
	table := tablewriter.NewWriter(u.writer)
	table.SetHeader([]string{"Window Start", "Minutes", "Requests", "Unique IPs", "Error Rate", "Severity"})

	for _, a := range alerts {
		table.Append([]string{
			a.WindowStart.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", a.DurationMinutes),
			fmt.Sprintf("%d", a.RequestCount),
			fmt.Sprintf("%d", a.UniqueIPs),
			fmt.Sprintf("%.1f%%", a.ErrorRate*100),
			u.colorizeRisk(a.Severity),
		})
	}

	table.Render()
}

func (u *consoleRenderer) colorizeRisk(level models.RiskLevel) string {
	attr, ok := riskColors[level]
	if !u.colors || !ok {
		return string(level)
	}
	return color.New(attr, color.Bold).Sprint(string(level))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
