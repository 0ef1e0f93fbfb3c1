package models

import (
	"sort"
	"time"
)

// AnalysisResult is the complete output of one analysis run. It is built once
// by the report assembler and handed to exporters, which must treat it as
// read-only.
type AnalysisResult struct {
	Metadata        AnalysisMetadata                   `json:"metadata"`
	TrafficSummary  TrafficSummary                     `json:"traffic_summary"`
	BotAnalysis     BotAnalysisSummary                 `json:"bot_analysis"`
	TopThreats      []ThreatInfo                       `json:"top_threats"`
	SampleEntries   []LogEntry                         `json:"sample_entries"`
	DDoSAlerts      []DDoSAlert                        `json:"ddos_alerts"`
	Recommendations map[string][]RecommendationAction `json:"recommendations"`
}

// Recommendation group keys
const (
	ImmediateActions  = "immediate_actions"
	ShortTermActions  = "short_term_actions"
	MediumTermActions = "medium_term_actions"
	MonitoringActions = "monitoring"
)

type AnalysisMetadata struct {
	RunID                 string    `json:"run_id"`
	LogFile               string    `json:"log_file"`
	AnalysisTimestamp     time.Time `json:"analysis_timestamp"`
	TotalEntries          int       `json:"total_entries"`
	TotalLines            int       `json:"total_lines"`
	SkippedLines          int       `json:"skipped_lines"`
	FailedLines           int       `json:"failed_lines"`
	ExcludedEntries       int       `json:"excluded_entries"`
	DetectedFormat        LogFormat `json:"detected_format"`
	AnalysisVersion       string    `json:"analysis_version"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type TrafficSummary struct {
	TotalRequests         int            `json:"total_requests"`
	UniqueIPs             int            `json:"unique_ips"`
	ErrorRate             float64        `json:"error_rate"`
	BotRequestRate        float64        `json:"bot_request_rate"`
	SuspiciousRequestRate float64        `json:"suspicious_request_rate"`
	RequestsPerHour       float64        `json:"requests_per_hour"`
	TimeSpanHours         float64        `json:"time_span_hours"`
	StatusCodes           map[string]int `json:"status_codes"`
	Methods               map[string]int `json:"methods"`
	TopPaths              []Count        `json:"top_paths"`
	TopCountries          []Count        `json:"top_countries"`
	Browsers              map[string]int `json:"browsers"`
	DeclaredBotRequests   int            `json:"declared_bot_requests"`
	DateRange             DateRange      `json:"date_range"`
	AvgResponseTimeMs     float64        `json:"avg_response_time_ms"`
	MedianResponseTimeMs  float64        `json:"median_response_time_ms"`
	P95ResponseTimeMs     float64        `json:"p95_response_time_ms"`
}

// Count is a named counter used for ranked lists
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type BotAnalysisSummary struct {
	TotalIPsAnalyzed    int                  `json:"total_ips_analyzed"`
	DetectedBots        int                  `json:"detected_bots"`
	BotPercentage       float64              `json:"bot_percentage"`
	RiskDistribution    map[RiskLevel]int    `json:"risk_distribution"`
	ImmediateBlocks     []string             `json:"immediate_blocks"`
	RateLimitCandidates []string             `json:"rate_limit_candidates"`
	RecommendedActions  map[string]int       `json:"recommended_actions"`
	Verdicts            []BotDetectionResult `json:"verdicts"`
}

// ThreatInfo describes one of the highest scoring sources
type ThreatInfo struct {
	IP                 string    `json:"ip"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Confidence         float64   `json:"confidence"`
	IsBot              bool      `json:"is_bot"`
	RequestCount       int       `json:"request_count"`
	RequestsPerMinute  float64   `json:"requests_per_minute"`
	SuspiciousRequests int       `json:"suspicious_requests"`
	ErrorRate          float64   `json:"error_rate"`
	Reasons            []string  `json:"reasons"`
	RecommendedAction  string    `json:"recommended_action"`
	Country            string    `json:"country"`
	UserAgents         []string  `json:"user_agents"`
}

type RecommendationAction struct {
	Priority       string   `json:"priority"`
	Action         string   `json:"action"`
	Details        string   `json:"details"`
	Implementation string   `json:"implementation"`
	Cost           string   `json:"cost"`
	Effectiveness  string   `json:"effectiveness"`
	IPs            []string `json:"ips,omitempty"`
}

// SummaryStats holds the headline numbers of a run
type SummaryStats struct {
	TotalRequests          int     `json:"total_requests"`
	UniqueIPs              int     `json:"unique_ips"`
	DetectedBots           int     `json:"detected_bots"`
	BotPercentage          float64 `json:"bot_percentage"`
	CriticalThreats        int     `json:"critical_threats"`
	HighThreats            int     `json:"high_threats"`
	DDoSAlerts             int     `json:"ddos_alerts"`
	ImmediateActionsNeeded int     `json:"immediate_actions_needed"`
	ProcessingTimeSeconds  float64 `json:"processing_time_seconds"`
}

// SummaryStats returns the headline numbers of the run
func (r *AnalysisResult) SummaryStats() SummaryStats {
	stats := SummaryStats{
		TotalRequests:          r.TrafficSummary.TotalRequests,
		UniqueIPs:              r.TrafficSummary.UniqueIPs,
		DetectedBots:           r.BotAnalysis.DetectedBots,
		BotPercentage:          r.BotAnalysis.BotPercentage,
		CriticalThreats:        r.BotAnalysis.RiskDistribution[RiskCritical],
		HighThreats:            r.BotAnalysis.RiskDistribution[RiskHigh],
		DDoSAlerts:             len(r.DDoSAlerts),
		ImmediateActionsNeeded: len(r.Recommendations[ImmediateActions]),
		ProcessingTimeSeconds:  r.Metadata.ProcessingTimeSeconds,
	}
	return stats
}

// BlockingRecommendations groups every analyzed IP by the action its risk level calls for
func (r *AnalysisResult) BlockingRecommendations() map[string][]string {
	groups := map[string][]string{
		"immediate_block":     {},
		"rate_limit_strict":   {},
		"rate_limit_moderate": {},
		"monitor_only":        {},
	}
	for _, v := range r.BotAnalysis.Verdicts {
		switch v.RiskLevel {
		case RiskCritical:
			groups["immediate_block"] = append(groups["immediate_block"], v.IP)
		case RiskHigh:
			groups["rate_limit_strict"] = append(groups["rate_limit_strict"], v.IP)
		case RiskMedium:
			groups["rate_limit_moderate"] = append(groups["rate_limit_moderate"], v.IP)
		default:
			groups["monitor_only"] = append(groups["monitor_only"], v.IP)
		}
	}
	return groups
}

// ExportBlocklist returns the IPs whose risk level is at least minRiskLevel
func (r *AnalysisResult) ExportBlocklist(minRiskLevel string) ([]string, error) {
	verdicts := make(map[string]*BotDetectionResult, len(r.BotAnalysis.Verdicts))
	for i := range r.BotAnalysis.Verdicts {
		verdicts[r.BotAnalysis.Verdicts[i].IP] = &r.BotAnalysis.Verdicts[i]
	}
	return ExportBlocklist(verdicts, minRiskLevel)
}

// ExportBlocklist returns all IPs whose risk level rank is >= the rank of
// minRiskLevel, ordered by risk rank, then confidence, both descending, then IP.
func ExportBlocklist(results map[string]*BotDetectionResult, minRiskLevel string) ([]string, error) {
	minLevel, err := ParseRiskLevel(minRiskLevel)
	if err != nil {
		return nil, err
	}

	selected := make([]*BotDetectionResult, 0, len(results))
	for _, result := range results {
		if result.RiskLevel.Rank() >= minLevel.Rank() {
			selected = append(selected, result)
		}
	}
	SortVerdicts(selected)

	ips := make([]string, 0, len(selected))
	for _, result := range selected {
		ips = append(ips, result.IP)
	}
	return ips, nil
}

// SortVerdicts orders verdicts by risk rank, then confidence, both descending, then IP ascending.
func SortVerdicts(verdicts []*BotDetectionResult) {
	sort.Slice(verdicts, func(i, j int) bool {
		a, b := verdicts[i], verdicts[j]
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() > b.RiskLevel.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.IP < b.IP
	})
}
