package analyzer

import (
	"fmt"
	"math"
	"regexp"

	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/models"
)

// compiledSignature is a bot signature with its patterns ready for matching
type compiledSignature struct {
	models.BotSignature
	patterns []*regexp.Regexp
}

// riskRule maps a predicate over a scored pattern to a risk level
type riskRule struct {
	level models.RiskLevel
	match func(confidence float64, p *models.TrafficPattern) bool
}

// BotDetector scores traffic patterns against signatures and behavioral rules
type BotDetector struct {
	thresholds config.Thresholds
	scoring    config.Scoring
	signatures []compiledSignature
	riskRules  []riskRule
}

// NewBotDetector creates a BotDetector from cfg. Signature patterns are
// anchored at the start of the user agent and matched case-insensitively.
func NewBotDetector(cfg *config.Config) (*BotDetector, error) {
	signatures := make([]compiledSignature, 0, len(cfg.Signatures))
	for _, sig := range cfg.Signatures {
		compiled := compiledSignature{
			BotSignature: models.BotSignature{
				Name:              sig.Name,
				UserAgentPatterns: append([]string(nil), sig.UserAgentPatterns...),
				BehaviorPatterns:  append([]string(nil), sig.BehaviorPatterns...),
				ConfidenceScore:   sig.ConfidenceScore,
				Description:       sig.Description,
			},
		}
		for _, pattern := range sig.UserAgentPatterns {
			re, err := regexp.Compile(`(?i)^(?:` + pattern + `)`)
			if err != nil {
				return nil, fmt.Errorf("%w: signature %s pattern %q: %v", config.ErrInvalidConfiguration, sig.Name, pattern, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		signatures = append(signatures, compiled)
	}

	return &BotDetector{
		thresholds: cfg.Thresholds,
		scoring:    cfg.Scoring,
		signatures: signatures,
		riskRules:  newRiskRules(cfg.Risk),
	}, nil
}

// newRiskRules builds the ordered risk table. The first matching rule wins and the last rule always matches.
func newRiskRules(r config.RiskThresholds) []riskRule {
	return []riskRule{
		{models.RiskCritical, func(c float64, p *models.TrafficPattern) bool {
			return c >= r.CriticalConfidence || p.SuspiciousRequests > r.CriticalSuspiciousRequests
		}},
		{models.RiskHigh, func(c float64, p *models.TrafficPattern) bool {
			return c >= r.HighConfidence || p.RequestsPerMinute > r.HighRequestsPerMinute
		}},
		{models.RiskMedium, func(c float64, p *models.TrafficPattern) bool {
			return c >= r.MediumConfidence || p.RequestsPerMinute > r.MediumRequestsPerMinute
		}},
		{models.RiskLow, func(float64, *models.TrafficPattern) bool { return true }},
	}
}

// Signatures returns the signatures the detector matches against
func (d *BotDetector) Signatures() []models.BotSignature {
	out := make([]models.BotSignature, 0, len(d.signatures))
	for _, sig := range d.signatures {
		out = append(out, sig.BotSignature)
	}
	return out
}

// Detect returns one verdict per pattern. It has no side effects.
func (d *BotDetector) Detect(patterns map[string]*models.TrafficPattern) map[string]*models.BotDetectionResult {
	results := make(map[string]*models.BotDetectionResult, len(patterns))
	for ip, pattern := range patterns {
		results[ip] = d.DetectOne(pattern)
	}
	return results
}

// DetectOne scores a single traffic pattern
func (d *BotDetector) DetectOne(p *models.TrafficPattern) *models.BotDetectionResult {
	confidence := 0.0
	reasons := make([]string, 0)

	if p.RequestsPerMinute > d.thresholds.RequestsPerMinute {
		confidence += d.scoring.RequestRate
		reasons = append(reasons, fmt.Sprintf("High request rate: %.1f req/min", p.RequestsPerMinute))
	}

	if uaScore, matched := d.UserAgentScore(p.UserAgents); uaScore > 0 {
		confidence += uaScore * d.scoring.UserAgent
		if len(p.UserAgents) == 0 {
			reasons = append(reasons, "No user agent supplied")
		} else {
			reasons = append(reasons, fmt.Sprintf("Bot-like user agent detected (%s)", matched))
		}
	}

	if p.UniquePaths == 1 && p.RequestCount > d.thresholds.SinglePathMinRequests {
		confidence += d.scoring.PathDiversity
		reasons = append(reasons, "Low path diversity with high volume")
	}

	if p.ErrorRate > d.thresholds.ErrorRateThreshold {
		confidence += d.scoring.ErrorRate
		reasons = append(reasons, fmt.Sprintf("High error rate: %.1f%%", p.ErrorRate*100))
	}

	if p.SuspiciousRequests > 0 {
		confidence += d.scoring.SuspiciousPaths
		reasons = append(reasons, fmt.Sprintf("Suspicious path requests: %d", p.SuspiciousRequests))
	}

	if p.RequestsPerMinute > d.thresholds.TimingRequestsPerMinute && p.AvgResponseTimeMs < d.thresholds.TimingMaxResponseMs {
		confidence += d.scoring.Timing
		reasons = append(reasons, "Suspicious timing patterns")
	}

	confidence = math.Min(confidence, 1.0)
	level := d.ClassifyRisk(confidence, p)

	return &models.BotDetectionResult{
		IP:                p.IP,
		IsBot:             confidence > d.thresholds.BotConfidenceThreshold,
		Confidence:        confidence,
		Reasons:           reasons,
		RiskLevel:         level,
		RecommendedAction: level.Action(),
	}
}

// UserAgentScore returns the highest confidence among signatures matching any
// of userAgents, with the name of that signature. An empty list scores
// MissingUserAgent.
func (d *BotDetector) UserAgentScore(userAgents []string) (float64, string) {
	if len(userAgents) == 0 {
		return d.scoring.MissingUserAgent, ""
	}

	best, name := 0.0, ""
	for _, sig := range d.signatures {
		if sig.ConfidenceScore <= best {
			continue
		}
		if sig.matchesAny(userAgents) {
			best, name = sig.ConfidenceScore, sig.Name
		}
	}
	return best, name
}

func (s compiledSignature) matchesAny(userAgents []string) bool {
	for _, ua := range userAgents {
		for _, re := range s.patterns {
			if re.MatchString(ua) {
				return true
			}
		}
	}
	return false
}

// ClassifyRisk walks the risk table top-down and returns the first matching level
func (d *BotDetector) ClassifyRisk(confidence float64, p *models.TrafficPattern) models.RiskLevel {
	for _, rule := range d.riskRules {
		if rule.match(confidence, p) {
			return rule.level
		}
	}
	return models.RiskLow
}

// ExportBlocklist returns the IPs at or above minRiskLevel, highest risk first
func (d *BotDetector) ExportBlocklist(results map[string]*models.BotDetectionResult, minRiskLevel string) ([]string, error) {
	return models.ExportBlocklist(results, minRiskLevel)
}
