// Package metrics exposes deployment counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

const namespace = "modmanager"

// Metrics holds the collectors of one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	applies       *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
	files         *prometheus.CounterVec
	failures      *prometheus.CounterVec
	conflicts     prometheus.Counter
	decisions     *prometheus.CounterVec
	enabled       prometheus.Gauge
	bisectRounds  prometheus.Counter
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applies_total",
			Help:      "Enable and disable calls by strategy and outcome.",
		}, []string{"action", "strategy", "outcome"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent deploying or removing one package.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"action"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Target entries touched by kind of change.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_failures_total",
			Help:      "Per-file failures by cause.",
		}, []string{"cause"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Enable attempts that found a conflict with the enabled set.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Answers given to integrity and conflict questions.",
		}, []string{"question", "decision"}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled_packages",
			Help:      "Number of packages currently enabled.",
		}),
		bisectRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bisect_rounds_total",
			Help:      "Bisection rounds performed.",
		}),
	}

	m.registry.MustRegister(
		m.applies,
		m.applyDuration,
		m.files,
		m.failures,
		m.conflicts,
		m.decisions,
		m.enabled,
		m.bisectRounds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveApply records one Deployment Engine call
func (m *Metrics) ObserveApply(result domain.ApplyResult, took time.Duration) {
	if m == nil {
		return
	}

	action := string(domain.ActionDisable)
	if result.Enable {
		action = string(domain.ActionEnable)
	}
	m.applies.WithLabelValues(action, string(result.Strategy), string(result.Outcome)).Inc()
	m.applyDuration.WithLabelValues(action).Observe(took.Seconds())

	m.files.WithLabelValues("written").Add(float64(result.Written))
	m.files.WithLabelValues("deleted").Add(float64(result.Deleted))
	m.files.WithLabelValues("repointed").Add(float64(result.Repointed))
	m.files.WithLabelValues("skipped").Add(float64(result.Skipped))

	generic := result.Failed - result.PrivilegeFailures - result.SourceMissing
	if generic < 0 {
		generic = 0
	}
	m.failures.WithLabelValues("privilege").Add(float64(result.PrivilegeFailures))
	m.failures.WithLabelValues("source_missing").Add(float64(result.SourceMissing))
	m.failures.WithLabelValues("io").Add(float64(generic))
}

// ObserveConflict counts a detected conflict
func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveDecision counts an answer to an integrity or conflict question
func (m *Metrics) ObserveDecision(question, decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(question, decision).Inc()
}

// SetEnabled sets the enabled package gauge
func (m *Metrics) SetEnabled(n int) {
	if m == nil {
		return
	}
	m.enabled.Set(float64(n))
}

// ObserveBisectRound counts one bisection round
func (m *Metrics) ObserveBisectRound() {
	if m == nil {
		return
	}
	m.bisectRounds.Inc()
}
