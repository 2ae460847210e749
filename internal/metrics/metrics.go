// Package metrics exposes asgen's Prometheus instrumentation: per-stage
// processing counters/timers for the engine's extract/compose pipeline
// and gauges for the last run's summary counts, registered through
// promauto the way datastore/postgres's query metrics are.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageLabels = []string{"suite", "section", "stage"}

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "asgen",
		Subsystem: "engine",
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent in one engine processing stage for one suite/section.",
	}, stageLabels)

	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asgen",
		Subsystem: "engine",
		Name:      "stage_errors_total",
		Help:      "Count of stage invocations that returned an error.",
	}, stageLabels)

	packagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asgen",
		Subsystem: "engine",
		Name:      "packages_processed_total",
		Help:      "Count of packages that went through extraction for one suite/section.",
	}, []string{"suite", "section"})

	componentsFound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "asgen",
		Subsystem: "report",
		Name:      "components_total",
		Help:      "Number of distinct components recorded in the last report run, per suite/section.",
	}, []string{"suite", "section"})

	hintsBySeverity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "asgen",
		Subsystem: "report",
		Name:      "hints_total",
		Help:      "Number of hints recorded in the last report run, per suite/section/severity.",
	}, []string{"suite", "section", "severity"})
)

// StageTimer starts a timer that records stageDuration on Observe.
// Callers defer the returned func, passing the stage's error so a
// non-nil result also increments stageErrors.
func StageTimer(suite, section, stage string) func(err error) {
	labels := prometheus.Labels{"suite": suite, "section": section, "stage": stage}
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		stageDuration.With(labels).Observe(v)
	}))
	return func(err error) {
		timer.ObserveDuration()
		if err != nil {
			stageErrors.With(labels).Inc()
		}
	}
}

// PackageProcessed increments the per-suite/section package counter.
func PackageProcessed(suite, section string) {
	packagesProcessed.WithLabelValues(suite, section).Inc()
}

// SetComponentsTotal records the component count from the most recent
// report run for one suite/section. Report generation recomputes the
// full total each time, so this is a Set, not an Add.
func SetComponentsTotal(suite, section string, n int) {
	componentsFound.WithLabelValues(suite, section).Set(float64(n))
}

// SetHintsTotal records the hint count at a given severity from the
// most recent report run for one suite/section.
func SetHintsTotal(suite, section, severity string, n int) {
	hintsBySeverity.WithLabelValues(suite, section, severity).Set(float64(n))
}
