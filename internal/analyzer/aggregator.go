package analyzer

import (
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/kgrsutos/botsentry/internal/models"
)

// Aggregator groups log entries into per-IP traffic patterns
type Aggregator struct {
	suspiciousPaths []string
}

// NewAggregator creates a new Aggregator that counts requests touching any of suspiciousPaths
func NewAggregator(suspiciousPaths []string) *Aggregator {
	paths := make([]string, len(suspiciousPaths))
	copy(paths, suspiciousPaths)
	return &Aggregator{
		suspiciousPaths: paths,
	}
}

// ipAccumulator collects the raw per-IP values during the single pass
type ipAccumulator struct {
	count         int
	errors        int
	suspicious    int
	first, last   time.Time
	userAgents    map[string]struct{}
	paths         map[string]struct{}
	methods       map[string]struct{}
	countries     map[string]int
	responseTimes stats.Float64Data
}

// Aggregate builds one TrafficPattern per distinct IP in a single pass over entries
func (a *Aggregator) Aggregate(entries []*models.LogEntry) map[string]*models.TrafficPattern {
	groups := make(map[string]*ipAccumulator)
	var logStart, logEnd time.Time

	for _, entry := range entries {
		if logStart.IsZero() || entry.Timestamp.Before(logStart) {
			logStart = entry.Timestamp
		}
		if entry.Timestamp.After(logEnd) {
			logEnd = entry.Timestamp
		}

		acc, exists := groups[entry.IP]
		if !exists {
			acc = &ipAccumulator{
				first:      entry.Timestamp,
				last:       entry.Timestamp,
				userAgents: make(map[string]struct{}),
				paths:      make(map[string]struct{}),
				methods:    make(map[string]struct{}),
				countries:  make(map[string]int),
			}
			groups[entry.IP] = acc
		}

		acc.count++
		if entry.Timestamp.Before(acc.first) {
			acc.first = entry.Timestamp
		}
		if entry.Timestamp.After(acc.last) {
			acc.last = entry.Timestamp
		}
		if entry.IsError() {
			acc.errors++
		}
		if a.IsSuspicious(entry.Path) {
			acc.suspicious++
		}
		if entry.UserAgent != "" && entry.UserAgent != UnknownUserAgent {
			acc.userAgents[entry.UserAgent] = struct{}{}
		}
		acc.paths[entry.Path] = struct{}{}
		acc.methods[entry.Method] = struct{}{}
		acc.countries[entry.Country]++
		acc.responseTimes = append(acc.responseTimes, float64(entry.ResponseTimeMs))
	}

	logSpan := logEnd.Sub(logStart)
	patterns := make(map[string]*models.TrafficPattern, len(groups))
	for ip, acc := range groups {
		patterns[ip] = acc.pattern(ip, logSpan)
	}
	return patterns
}

// IsSuspicious reports whether a normalized path contains any suspicious fragment
func (a *Aggregator) IsSuspicious(path string) bool {
	for _, fragment := range a.suspiciousPaths {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func (acc *ipAccumulator) pattern(ip string, logSpan time.Duration) *models.TrafficPattern {
	span := acc.last.Sub(acc.first)
	if span <= 0 {
		span = logSpan
	}
	if span <= 0 {
		span = time.Minute
	}

	avg, _ := stats.Mean(acc.responseTimes)

	return &models.TrafficPattern{
		IP:                 ip,
		RequestCount:       acc.count,
		RequestsPerMinute:  float64(acc.count) / span.Minutes(),
		RequestsPerHour:    float64(acc.count) / span.Hours(),
		UserAgents:         sortedKeys(acc.userAgents),
		UniquePaths:        len(acc.paths),
		ErrorCount:         acc.errors,
		ErrorRate:          float64(acc.errors) / float64(acc.count),
		SuspiciousRequests: acc.suspicious,
		AvgResponseTimeMs:  avg,
		FirstSeen:          acc.first,
		LastSeen:           acc.last,
		Country:            mostFrequent(acc.countries),
		Methods:            sortedKeys(acc.methods),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mostFrequent returns the key with the highest count, the smallest key on ties
func mostFrequent(counts map[string]int) string {
	best, bestCount := "", 0
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	if best == "" {
		return UnknownCountry
	}
	return best
}
