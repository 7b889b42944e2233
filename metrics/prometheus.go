package metrics

import (
	"strconv"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes a Collector's aggregates as Prometheus const metrics.
type PrometheusCollector struct {
	source      *Collector
	operations  *prometheus.Desc
	durations   *prometheus.Desc
	successRate *prometheus.Desc
	realtime    *prometheus.Desc
}

// NewPrometheusCollector wraps c for registration in a prometheus.Registerer.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	return &PrometheusCollector{
		source: c,
		operations: prometheus.NewDesc("storekit_operations_total",
			"Recorded operation attempts by outcome.", []string{"operation", "outcome"}, nil),
		durations: prometheus.NewDesc("storekit_operation_duration_milliseconds",
			"Operation duration statistics in milliseconds.", []string{"operation", "stat"}, nil),
		successRate: prometheus.NewDesc("storekit_operation_success_rate",
			"Ratio of successful attempts per operation.", []string{"operation"}, nil),
		realtime: prometheus.NewDesc("storekit_operations_per_second",
			"Operations recorded per second since the collector started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.operations
	ch <- pc.durations
	ch <- pc.successRate
	ch <- pc.realtime
}

// Collect implements prometheus.Collector. An operation name that is not valid UTF-8 is
// exported Go-quoted, e.g. "save\xff".
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	report := pc.source.GetSummaryReport()
	for name, s := range report.Operations {
		label := labelValue(name)
		send(ch, pc.operations, prometheus.CounterValue, float64(s.SuccessCount), label, "success")
		send(ch, pc.operations, prometheus.CounterValue, float64(s.FailureCount), label, "failure")
		send(ch, pc.successRate, prometheus.GaugeValue, s.SuccessRate, label)
		stats := map[string]float64{
			"avg": s.AvgDurationMs,
			"min": s.MinDurationMs,
			"max": s.MaxDurationMs,
			"p50": s.P50Ms,
			"p95": s.P95Ms,
			"p99": s.P99Ms,
		}
		for stat, v := range stats {
			send(ch, pc.durations, prometheus.GaugeValue, v, label, stat)
		}
	}
	send(ch, pc.realtime, prometheus.GaugeValue, report.Realtime.OperationsPerSecond)
}

// send never panics: a metric that cannot be built is reported to the registry as invalid.
func send(ch chan<- prometheus.Metric, desc *prometheus.Desc, vt prometheus.ValueType, v float64, labels ...string) {
	m, err := prometheus.NewConstMetric(desc, vt, v, labels...)
	if err != nil {
		m = prometheus.NewInvalidMetric(desc, err)
	}
	ch <- m
}

func labelValue(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	return strconv.Quote(name)
}
