package sinks

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

// MetricsSink records alert counts by type and severity, and exposes
// gauges for current session and monitored-file counts, for scraping
// via the daemon's /metrics endpoint. It never fails.
type MetricsSink struct {
	alertsTotal    *prometheus.CounterVec
	activeSessions prometheus.Gauge
	monitoredFiles prometheus.Gauge
}

// NewMetricsSink registers its collectors with reg and returns the
// sink. A nil reg registers against prometheus.DefaultRegisterer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hids_alerts_total",
		Help: "Total alerts emitted by the alert bus, by type and severity.",
	}, []string{"type", "severity"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hids_active_sessions",
		Help: "Number of interactive sessions currently tracked by the behavior analyzer.",
	})
	monitoredFiles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hids_monitored_files",
		Help: "Number of files currently covered by the file integrity baseline.",
	})
	reg.MustRegister(c, activeSessions, monitoredFiles)
	return &MetricsSink{
		alertsTotal:    c,
		activeSessions: activeSessions,
		monitoredFiles: monitoredFiles,
	}
}

// Send increments the counter for the alert's type and severity.
func (s *MetricsSink) Send(a alertbus.Alert) {
	s.alertsTotal.WithLabelValues(a.Type, strconv.Itoa(a.Severity)).Inc()
}

// SetActiveSessions updates the active-session gauge.
func (s *MetricsSink) SetActiveSessions(n int) {
	s.activeSessions.Set(float64(n))
}

// SetMonitoredFiles updates the monitored-file-count gauge.
func (s *MetricsSink) SetMonitoredFiles(n int) {
	s.monitoredFiles.Set(float64(n))
}
