package models

import (
	"errors"
	"fmt"
	"time"
)

// LogEntry is one parsed HTTP access event. Entries are created once by the
// parser and never modified afterwards.
type LogEntry struct {
	IP             string    `json:"ip"`
	Country        string    `json:"country"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"status_code"`
	ResponseSize   int64     `json:"response_size"`
	UserAgent      string    `json:"user_agent"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Format         LogFormat `json:"format"`
}

// IsError reports whether the response was a client or server error.
func (e *LogEntry) IsError() bool {
	return e.StatusCode >= 400
}

// LogEvent is a raw log line fetched from a remote source such as CloudWatch Logs
type LogEvent struct {
	Timestamp time.Time
	Message   string
}

// LogFormat names one of the supported access log grammars
type LogFormat string

const (
	LogFormatUnknown  LogFormat = "unknown"
	LogFormatCustom   LogFormat = "custom"
	LogFormatCombined LogFormat = "combined"
	LogFormatCommon   LogFormat = "common"
)

// TrafficPattern is the aggregated behavior of one source IP over the whole log span.
type TrafficPattern struct {
	IP                 string    `json:"ip"`
	RequestCount       int       `json:"request_count"`
	RequestsPerMinute  float64   `json:"requests_per_minute"`
	RequestsPerHour    float64   `json:"requests_per_hour"`
	UserAgents         []string  `json:"user_agents"`
	UniquePaths        int       `json:"unique_paths"`
	ErrorCount         int       `json:"error_count"`
	ErrorRate          float64   `json:"error_rate"`
	SuspiciousRequests int       `json:"suspicious_requests"`
	AvgResponseTimeMs  float64   `json:"avg_response_time_ms"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	Country            string    `json:"country"`
	Methods            []string  `json:"methods"`
}

// BotSignature is a named rule recognizing a known automated client
type BotSignature struct {
	Name              string   `json:"name"`
	UserAgentPatterns []string `json:"user_agent_patterns"`
	BehaviorPatterns  []string `json:"behavior_patterns"`
	ConfidenceScore   float64  `json:"confidence_score"`
	Description       string   `json:"description"`
}

// RiskLevel is the coarse ordinal bucket driving the recommended action
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ErrInvalidRiskLevel is returned when a risk level name is not one of the four known levels
var ErrInvalidRiskLevel = errors.New("invalid risk level")

// RiskLevels lists every level in ascending order
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank returns the position of the level in LOW<MEDIUM<HIGH<CRITICAL, or -1
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// Action returns the recommended action for the risk level
func (r RiskLevel) Action() string {
	switch r {
	case RiskCritical:
		return "BLOCK_IMMEDIATELY - High confidence malicious bot"
	case RiskHigh:
		return "RATE_LIMIT_STRICT - Apply strict rate limiting"
	case RiskMedium:
		return "RATE_LIMIT_MODERATE - Apply moderate rate limiting"
	default:
		return "MONITOR - Continue monitoring for patterns"
	}
}

// ParseRiskLevel converts a level name into a RiskLevel. Names are exact and upper case.
func ParseRiskLevel(name string) (RiskLevel, error) {
	level := RiskLevel(name)
	if level.Rank() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRiskLevel, name)
	}
	return level, nil
}

// BotDetectionResult is the verdict for one IP.
type BotDetectionResult struct {
	IP                string    `json:"ip"`
	IsBot             bool      `json:"is_bot"`
	Confidence        float64   `json:"confidence"`
	Reasons           []string  `json:"reasons"`
	RiskLevel         RiskLevel `json:"risk_level"`
	RecommendedAction string    `json:"recommended_action"`
}

// DDoSAlert is one flagged time window
type DDoSAlert struct {
	WindowStart     time.Time      `json:"window_start"`
	DurationMinutes int            `json:"duration_minutes"`
	RequestCount    int            `json:"request_count"`
	UniqueIPs       int            `json:"unique_ips"`
	ErrorRate       float64        `json:"error_rate"`
	Severity        RiskLevel      `json:"severity"`
	TopIPs          map[string]int `json:"top_ips"`
}

// WindowEnd returns the exclusive end of the alert window
func (a DDoSAlert) WindowEnd() time.Time {
	return a.WindowStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
