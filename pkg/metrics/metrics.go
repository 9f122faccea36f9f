// Package metrics exposes pipeline counters for Prometheus textfile collection
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the RavenLog pipeline metrics on a private registry so
// several pipelines (and tests) never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	LinesParsed      prometheus.Counter
	LinesSkipped     *prometheus.CounterVec
	RecordsScored    prometheus.Counter
	AnomaliesFlagged *prometheus.CounterVec
	PacketsExtracted prometheus.Counter
	PhaseDuration    *prometheus.HistogramVec
}

// NewCollector creates and registers all pipeline metrics
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		LinesParsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ravenlog_lines_parsed_total",
			Help: "Access log lines parsed into records",
		}),
		LinesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ravenlog_lines_skipped_total",
				Help: "Access log lines rejected by the parser",
			},
			[]string{"format"},
		),
		RecordsScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "ravenlog_records_scored_total",
			Help: "Records scored against a profile",
		}),
		AnomaliesFlagged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ravenlog_anomalies_flagged_total",
				Help: "Records flagged, by signal",
			},
			[]string{"signal"}, // uri_length, char_dist, param_set, param_list
		),
		PacketsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ravenlog_packets_extracted_total",
			Help: "Capture packets turned into records",
		}),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ravenlog_phase_duration_seconds",
				Help:    "Duration of pipeline phases",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
			},
			[]string{"phase"}, // fit, predict, kmeans, capture
		),
	}
}

// Registry returns the registry holding the pipeline metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes all metrics in the text exposition format, atomically
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
