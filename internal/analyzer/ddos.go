package analyzer

import (
	"sort"
	"time"

	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/models"
)

// DDoSAnalyzer flags volumetric attack periods using tumbling time windows
type DDoSAnalyzer struct {
	cfg config.DDoSConfig
}

// NewDDoSAnalyzer creates a new DDoSAnalyzer
func NewDDoSAnalyzer(cfg config.DDoSConfig) *DDoSAnalyzer {
	return &DDoSAnalyzer{cfg: cfg}
}

type window struct {
	start    time.Time
	requests int
	errors   int
	ips      map[string]int
}

// Analyze buckets entries into non-overlapping windows keyed by window start
// and returns an alert for each window that is high volume, high error rate
// and concentrated on few sources. Alerts are ordered by window start.
func (d *DDoSAnalyzer) Analyze(entries []*models.LogEntry) []models.DDoSAlert {
	size := time.Duration(d.cfg.WindowMinutes) * time.Minute
	if size <= 0 {
		return []models.DDoSAlert{}
	}

	windows := make(map[time.Time]*window)
	for _, e := range entries {
		start := e.Timestamp.UTC().Truncate(size)
		w, exists := windows[start]
		if !exists {
			w = &window{start: start, ips: make(map[string]int)}
			windows[start] = w
		}
		w.requests++
		if e.IsError() {
			w.errors++
		}
		w.ips[e.IP]++
	}

	alerts := make([]models.DDoSAlert, 0)
	for _, w := range windows {
		if alert, ok := d.evaluate(w); ok {
			alerts = append(alerts, alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].WindowStart.Before(alerts[j].WindowStart)
	})
	return alerts
}

func (d *DDoSAnalyzer) evaluate(w *window) (models.DDoSAlert, bool) {
	if w.requests < d.cfg.MinRequestsThreshold {
		return models.DDoSAlert{}, false
	}
	errorRate := float64(w.errors) / float64(w.requests)
	if errorRate < d.cfg.MinErrorRate {
		return models.DDoSAlert{}, false
	}
	diversity := float64(len(w.ips)) / float64(w.requests)
	if diversity >= d.cfg.MinIPDiversity {
		return models.DDoSAlert{}, false
	}

	return models.DDoSAlert{
		WindowStart:     w.start,
		DurationMinutes: d.cfg.WindowMinutes,
		RequestCount:    w.requests,
		UniqueIPs:       len(w.ips),
		ErrorRate:       errorRate,
		Severity:        d.Severity(w.requests, errorRate),
		TopIPs:          topContributors(w.ips, d.cfg.TopIPs),
	}, true
}

// Severity scores how far a window exceeds the thresholds. Volume at 2x and
// 5x the request threshold and error rates of 0.75 and 0.9 each add a point:
// 0 points is MEDIUM, 1-2 HIGH, 3 or more CRITICAL.
func (d *DDoSAnalyzer) Severity(requests int, errorRate float64) models.RiskLevel {
	points := 0

	ratio := float64(requests) / float64(d.cfg.MinRequestsThreshold)
	switch {
	case ratio >= 5:
		points += 2
	case ratio >= 2:
		points++
	}

	switch {
	case errorRate >= 0.9:
		points += 2
	case errorRate >= 0.75:
		points++
	}

	switch {
	case points >= 3:
		return models.RiskCritical
	case points >= 1:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

// topContributors returns the n sources with the most requests, ties broken by IP
func topContributors(ips map[string]int, n int) map[string]int {
	ranked := make([]models.Count, 0, len(ips))
	for ip, count := range ips {
		ranked = append(ranked, models.Count{Name: ip, Count: count})
	}
	sortCounts(ranked)
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	top := make(map[string]int, len(ranked))
	for _, c := range ranked {
		top[c.Name] = c.Count
	}
	return top
}

// sortCounts orders counts by count descending, then name ascending
func sortCounts(counts []models.Count) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name < counts[j].Name
	})
}
