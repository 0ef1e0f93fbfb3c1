package analyzer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/mssola/useragent"

	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/geo"
	"github.com/kgrsutos/botsentry/internal/models"
)

// Version is reported in the metadata of every analysis result
const Version = "1.0.0"

// ReportInput carries the outputs of every pipeline stage for one log
type ReportInput struct {
	LogFile    string
	Entries    []*models.LogEntry
	Stats      ParseStats
	Excluded   int
	Format     models.LogFormat
	Patterns   map[string]*models.TrafficPattern
	Verdicts   map[string]*models.BotDetectionResult
	Alerts     []models.DDoSAlert
	StartedAt  time.Time
	FinishedAt time.Time
}

// ReportAssembler merges stage outputs into one AnalysisResult. It selects,
// sorts and truncates; it makes no classification decision of its own.
type ReportAssembler struct {
	output config.OutputConfig
	lookup geo.CountryLookup
	newID  func() string
}

// NewReportAssembler creates a ReportAssembler. A nil lookup leaves unknown countries as XX.
func NewReportAssembler(output config.OutputConfig, lookup geo.CountryLookup) *ReportAssembler {
	if lookup == nil {
		lookup = geo.NoopLookup{}
	}
	return &ReportAssembler{
		output: output,
		lookup: lookup,
		newID:  func() string { return uuid.New().String() },
	}
}

// Assemble builds the final result
func (r *ReportAssembler) Assemble(in ReportInput) *models.AnalysisResult {
	verdicts := sortedVerdicts(in.Verdicts)

	return &models.AnalysisResult{
		Metadata: models.AnalysisMetadata{
			RunID:                 r.newID(),
			LogFile:               in.LogFile,
			AnalysisTimestamp:     in.FinishedAt,
			TotalEntries:          len(in.Entries),
			TotalLines:            in.Stats.TotalLines,
			SkippedLines:          in.Stats.Skipped,
			FailedLines:           in.Stats.Failed,
			ExcludedEntries:       in.Excluded,
			DetectedFormat:        in.Format,
			AnalysisVersion:       Version,
			ProcessingTimeSeconds: in.FinishedAt.Sub(in.StartedAt).Seconds(),
		},
		TrafficSummary:  r.trafficSummary(in),
		BotAnalysis:     botAnalysis(verdicts),
		TopThreats:      r.topThreats(verdicts, in.Patterns),
		SampleEntries:   r.sampleEntries(in.Entries),
		DDoSAlerts:      append([]models.DDoSAlert{}, in.Alerts...),
		Recommendations: recommendations(verdicts, in.Alerts),
	}
}

func (r *ReportAssembler) trafficSummary(in ReportInput) models.TrafficSummary {
	summary := models.TrafficSummary{
		TotalRequests: len(in.Entries),
		UniqueIPs:     len(in.Patterns),
		StatusCodes:   make(map[string]int),
		Methods:       make(map[string]int),
		Browsers:      make(map[string]int),
		TopPaths:      []models.Count{},
		TopCountries:  []models.Count{},
	}
	if len(in.Entries) == 0 {
		return summary
	}

	var (
		errors        int
		paths         = make(map[string]int)
		countries     = make(map[string]int)
		resolved      = make(map[string]string)
		browsers      = make(map[string]browserInfo)
		responseTimes = make(stats.Float64Data, 0, len(in.Entries))
		start, end    = in.Entries[0].Timestamp, in.Entries[0].Timestamp
	)

	for _, e := range in.Entries {
		if e.Timestamp.Before(start) {
			start = e.Timestamp
		}
		if e.Timestamp.After(end) {
			end = e.Timestamp
		}
		if e.IsError() {
			errors++
		}
		summary.StatusCodes[strconv.Itoa(e.StatusCode)]++
		summary.Methods[e.Method]++
		paths[e.Path]++
		countries[r.country(e, resolved)]++
		responseTimes = append(responseTimes, float64(e.ResponseTimeMs))

		info, ok := browsers[e.UserAgent]
		if !ok {
			info = classifyBrowser(e.UserAgent)
			browsers[e.UserAgent] = info
		}
		summary.Browsers[info.name]++
		if info.bot {
			summary.DeclaredBotRequests++
		}
	}

	var botRequests, suspicious int
	for ip, p := range in.Patterns {
		suspicious += p.SuspiciousRequests
		if v, ok := in.Verdicts[ip]; ok && v.IsBot {
			botRequests += p.RequestCount
		}
	}

	total := float64(len(in.Entries))
	summary.ErrorRate = float64(errors) / total
	summary.BotRequestRate = float64(botRequests) / total
	summary.SuspiciousRequestRate = float64(suspicious) / total
	summary.DateRange = models.DateRange{Start: start, End: end}
	summary.TimeSpanHours = end.Sub(start).Hours()
	summary.RequestsPerHour = total / max(summary.TimeSpanHours, 1)
	summary.TopPaths = topCounts(paths, r.output.MaxTopPaths)
	summary.TopCountries = topCounts(countries, r.output.MaxTopPaths)

	summary.AvgResponseTimeMs, _ = stats.Mean(responseTimes)
	summary.MedianResponseTimeMs, _ = stats.Median(responseTimes)
	if p95, err := stats.Percentile(responseTimes, 95); err == nil {
		summary.P95ResponseTimeMs = p95
	}

	return summary
}

// country returns the entry country, asking the lookup once per IP when it is unknown
func (r *ReportAssembler) country(e *models.LogEntry, resolved map[string]string) string {
	if e.Country != "" && e.Country != UnknownCountry {
		return e.Country
	}
	code, ok := resolved[e.IP]
	if !ok {
		code = r.lookup.LookupCountry(e.IP)
		resolved[e.IP] = code
	}
	return code
}

type browserInfo struct {
	name string
	bot  bool
}

func classifyBrowser(userAgent string) browserInfo {
	if userAgent == "" || userAgent == UnknownUserAgent {
		return browserInfo{name: UnknownUserAgent}
	}
	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	if name == "" {
		name = "Other"
	}
	return browserInfo{name: name, bot: ua.Bot()}
}

func botAnalysis(verdicts []*models.BotDetectionResult) models.BotAnalysisSummary {
	summary := models.BotAnalysisSummary{
		TotalIPsAnalyzed:    len(verdicts),
		RiskDistribution:    make(map[models.RiskLevel]int, len(models.RiskLevels)),
		ImmediateBlocks:     []string{},
		RateLimitCandidates: []string{},
		RecommendedActions:  make(map[string]int),
		Verdicts:            make([]models.BotDetectionResult, 0, len(verdicts)),
	}
	for _, level := range models.RiskLevels {
		summary.RiskDistribution[level] = 0
	}

	for _, v := range verdicts {
		if v.IsBot {
			summary.DetectedBots++
		}
		summary.RiskDistribution[v.RiskLevel]++
		summary.RecommendedActions[actionName(v.RecommendedAction)]++

		switch v.RiskLevel {
		case models.RiskCritical:
			summary.ImmediateBlocks = append(summary.ImmediateBlocks, v.IP)
		case models.RiskHigh, models.RiskMedium:
			summary.RateLimitCandidates = append(summary.RateLimitCandidates, v.IP)
		}
		verdict := *v
		verdict.Reasons = append([]string{}, v.Reasons...)
		summary.Verdicts = append(summary.Verdicts, verdict)
	}

	if len(verdicts) > 0 {
		summary.BotPercentage = float64(summary.DetectedBots) / float64(len(verdicts)) * 100
	}
	return summary
}

// actionName returns the action keyword, e.g. BLOCK_IMMEDIATELY
func actionName(action string) string {
	name, _, _ := strings.Cut(action, " - ")
	return name
}

// topThreats ranks verdicts by confidence, then risk rank, then IP
func (r *ReportAssembler) topThreats(verdicts []*models.BotDetectionResult, patterns map[string]*models.TrafficPattern) []models.ThreatInfo {
	ranked := append([]*models.BotDetectionResult(nil), verdicts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() > b.RiskLevel.Rank()
		}
		return a.IP < b.IP
	})
	if len(ranked) > r.output.MaxTopThreats {
		ranked = ranked[:r.output.MaxTopThreats]
	}

	threats := make([]models.ThreatInfo, 0, len(ranked))
	for _, v := range ranked {
		threat := models.ThreatInfo{
			IP:                v.IP,
			RiskLevel:         v.RiskLevel,
			Confidence:        v.Confidence,
			IsBot:             v.IsBot,
			Reasons:           append([]string{}, v.Reasons...),
			RecommendedAction: v.RecommendedAction,
			UserAgents:        []string{},
		}
		if p, ok := patterns[v.IP]; ok {
			threat.RequestCount = p.RequestCount
			threat.RequestsPerMinute = p.RequestsPerMinute
			threat.SuspiciousRequests = p.SuspiciousRequests
			threat.ErrorRate = p.ErrorRate
			threat.Country = p.Country
			threat.UserAgents = append(threat.UserAgents, p.UserAgents...)
		}
		threats = append(threats, threat)
	}
	return threats
}

func (r *ReportAssembler) sampleEntries(entries []*models.LogEntry) []models.LogEntry {
	n := min(len(entries), r.output.MaxSampleEntries)
	samples := make([]models.LogEntry, 0, n)
	for _, e := range entries[:n] {
		samples = append(samples, *e)
	}
	return samples
}

func recommendations(verdicts []*models.BotDetectionResult, alerts []models.DDoSAlert) map[string][]models.RecommendationAction {
	byLevel := make(map[models.RiskLevel][]string)
	for _, v := range verdicts {
		byLevel[v.RiskLevel] = append(byLevel[v.RiskLevel], v.IP)
	}

	recs := map[string][]models.RecommendationAction{
		models.ImmediateActions:  {},
		models.ShortTermActions:  {},
		models.MediumTermActions: {},
		models.MonitoringActions: {},
	}

	if ips := byLevel[models.RiskCritical]; len(ips) > 0 {
		recs[models.ImmediateActions] = append(recs[models.ImmediateActions], models.RecommendationAction{
			Priority:       string(models.RiskCritical),
			Action:         "Block critical-risk sources",
			Details:        fmt.Sprintf("%d source(s) show high confidence malicious bot behavior", len(ips)),
			Implementation: "Add iptables rules for blocking IPs",
			Cost:           "FREE",
			Effectiveness:  "HIGH",
			IPs:            ips,
		})
	}
	if len(alerts) > 0 {
		recs[models.ImmediateActions] = append(recs[models.ImmediateActions], models.RecommendationAction{
			Priority:       string(highestSeverity(alerts)),
			Action:         "Mitigate volumetric attack",
			Details:        fmt.Sprintf("%d time window(s) show DDoS characteristics, first at %s", len(alerts), alerts[0].WindowStart.Format(time.RFC3339)),
			Implementation: "Change DNS to Cloudflare for basic DDoS protection",
			Cost:           "FREE",
			Effectiveness:  "HIGH",
		})
	}

	if ips := byLevel[models.RiskHigh]; len(ips) > 0 {
		recs[models.ShortTermActions] = append(recs[models.ShortTermActions],
			models.RecommendationAction{
				Priority:       string(models.RiskHigh),
				Action:         "Apply strict rate limiting",
				Details:        fmt.Sprintf("%d high-risk source(s) exceed normal request patterns", len(ips)),
				Implementation: "Add limit_req_zone to nginx.conf",
				Cost:           "FREE",
				Effectiveness:  "HIGH",
				IPs:            ips,
			},
			models.RecommendationAction{
				Priority:       string(models.RiskHigh),
				Action:         "Automate blocking of repeat offenders",
				Details:        "Ban sources automatically when suspicious patterns recur",
				Implementation: "Configure fail2ban with custom filters",
				Cost:           "FREE",
				Effectiveness:  "MEDIUM",
			},
		)
	}

	if ips := byLevel[models.RiskMedium]; len(ips) > 0 {
		recs[models.MediumTermActions] = append(recs[models.MediumTermActions],
			models.RecommendationAction{
				Priority:       string(models.RiskMedium),
				Action:         "Apply moderate rate limiting",
				Details:        fmt.Sprintf("%d medium-risk source(s) show automated characteristics", len(ips)),
				Implementation: "Add limit_req_zone with burst allowance to nginx.conf",
				Cost:           "FREE",
				Effectiveness:  "MEDIUM",
				IPs:            ips,
			},
			models.RecommendationAction{
				Priority:       string(models.RiskMedium),
				Action:         "Deploy managed bot protection",
				Details:        "Web Application Firewall with bot detection rules",
				Implementation: "Configure AWS WAF with bot control rules",
				Cost:           "$5-50/month",
				Effectiveness:  "HIGH",
			},
		)
	}

	recs[models.MonitoringActions] = append(recs[models.MonitoringActions], models.RecommendationAction{
		Priority:       string(models.RiskLow),
		Action:         "Continue monitoring",
		Details:        fmt.Sprintf("%d low-risk source(s); review logs periodically", len(byLevel[models.RiskLow])),
		Implementation: "Schedule periodic log analysis",
		Cost:           "FREE",
		Effectiveness:  "MEDIUM",
		IPs:            byLevel[models.RiskLow],
	})

	return recs
}

func highestSeverity(alerts []models.DDoSAlert) models.RiskLevel {
	highest := models.RiskLow
	for _, a := range alerts {
		if a.Severity.Rank() > highest.Rank() {
			highest = a.Severity
		}
	}
	return highest
}

func sortedVerdicts(results map[string]*models.BotDetectionResult) []*models.BotDetectionResult {
	verdicts := make([]*models.BotDetectionResult, 0, len(results))
	for _, v := range results {
		verdicts = append(verdicts, v)
	}
	models.SortVerdicts(verdicts)
	return verdicts
}

func topCounts(counts map[string]int, n int) []models.Count {
	ranked := make([]models.Count, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, models.Count{Name: name, Count: count})
	}
	sortCounts(ranked)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
