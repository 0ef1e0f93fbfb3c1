// Package metrics records run statistics in a Prometheus registry owned by the caller.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// File outcome labels
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder holds the collectors of one process. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	LinesTotal       *prometheus.CounterVec
	FilesTotal       *prometheus.CounterVec
	SourcesTotal     *prometheus.CounterVec
	DDoSAlertsTotal  *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
}

// NewRecorder creates a Recorder with its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		// Parsing metrics
		LinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsentry_lines_total",
				Help: "Total number of log lines read, by outcome",
			},
			[]string{"outcome"},
		),

		// File metrics
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsentry_files_total",
				Help: "Total number of log files analyzed, by status",
			},
			[]string{"status"},
		),

		AnalysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botsentry_analysis_duration_seconds",
				Help:    "Duration of a single file analysis in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Classification metrics
		SourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsentry_sources_total",
				Help: "Total number of source IPs classified, by risk level",
			},
			[]string{"risk_level"},
		),

		DDoSAlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsentry_ddos_alerts_total",
				Help: "Total number of DDoS windows flagged, by severity",
			},
			[]string{"severity"},
		),
	}
}

// Registry returns the registry the collectors are registered with
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveLines adds parse outcome counts
func (r *Recorder) ObserveLines(parsed, skipped, failed int) {
	if r == nil {
		return
	}
	r.LinesTotal.WithLabelValues("parsed").Add(float64(parsed))
	r.LinesTotal.WithLabelValues("skipped").Add(float64(skipped))
	r.LinesTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveFile records the outcome and duration of one file analysis
func (r *Recorder) ObserveFile(err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.FilesTotal.WithLabelValues(status).Inc()
	r.AnalysisDuration.Observe(elapsed.Seconds())
}

// ObserveSource counts one classified source
func (r *Recorder) ObserveSource(riskLevel string) {
	if r == nil {
		return
	}
	r.SourcesTotal.WithLabelValues(riskLevel).Inc()
}

// ObserveDDoSAlert counts one flagged window
func (r *Recorder) ObserveDDoSAlert(severity string) {
	if r == nil {
		return
	}
	r.DDoSAlertsTotal.WithLabelValues(severity).Inc()
}

// WriteTextfile writes the registry in the Prometheus text format, for the node exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
