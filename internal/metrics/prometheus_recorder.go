package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	unitsRegistered prom.Counter
	unitsCompleted  prom.Counter
	unitOutcomes    *prom.CounterVec
	unitsWaiting    prom.Gauge
	dependencyWait  prom.Histogram
	unitBuild       *prom.HistogramVec
	sessionDuration prom.Histogram
}

// NewPrometheusRecorder constructs and registers the buildgate metrics on
// reg (idempotent). A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.unitsRegistered = prom.NewCounter(prom.CounterOpts{
			Namespace: "buildgate",
			Name:      "units_registered_total",
			Help:      "Build units registered across all sessions",
		})
		pr.unitsCompleted = prom.NewCounter(prom.CounterOpts{
			Namespace: "buildgate",
			Name:      "units_completed_total",
			Help:      "Build units that reached completion",
		})
		pr.unitOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildgate",
			Name:      "unit_outcomes_total",
			Help:      "Unit outcomes by final status",
		}, []string{"outcome"})
		pr.unitsWaiting = prom.NewGauge(prom.GaugeOpts{
			Namespace: "buildgate",
			Name:      "units_waiting",
			Help:      "Units currently suspended on cross-group dependencies",
		})
		pr.dependencyWait = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildgate",
			Name:      "dependency_wait_seconds",
			Help:      "Time units spend waiting for dependencies before building",
			Buckets:   prom.DefBuckets,
		})
		pr.unitBuild = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildgate",
			Name:      "unit_build_seconds",
			Help:      "Duration of individual unit builds",
			Buckets:   prom.DefBuckets,
		}, []string{"group"})
		pr.sessionDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildgate",
			Name:      "session_duration_seconds",
			Help:      "Total duration of build sessions",
			Buckets:   prom.DefBuckets,
		})
		reg.MustRegister(pr.unitsRegistered, pr.unitsCompleted, pr.unitOutcomes,
			pr.unitsWaiting, pr.dependencyWait, pr.unitBuild, pr.sessionDuration)
	})
	return pr
}

func (p *PrometheusRecorder) IncUnitRegistered() {
	if p == nil || p.unitsRegistered == nil {
		return
	}
	p.unitsRegistered.Inc()
}

func (p *PrometheusRecorder) IncUnitCompleted() {
	if p == nil || p.unitsCompleted == nil {
		return
	}
	p.unitsCompleted.Inc()
}

func (p *PrometheusRecorder) IncUnitOutcome(outcome OutcomeLabel) {
	if p == nil || p.unitOutcomes == nil {
		return
	}
	p.unitOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncUnitsWaiting() {
	if p == nil || p.unitsWaiting == nil {
		return
	}
	p.unitsWaiting.Inc()
}

func (p *PrometheusRecorder) DecUnitsWaiting() {
	if p == nil || p.unitsWaiting == nil {
		return
	}
	p.unitsWaiting.Dec()
}

func (p *PrometheusRecorder) ObserveDependencyWait(d time.Duration) {
	if p == nil || p.dependencyWait == nil {
		return
	}
	p.dependencyWait.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveUnitBuildDuration(group string, d time.Duration) {
	if p == nil || p.unitBuild == nil {
		return
	}
	p.unitBuild.WithLabelValues(group).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveSessionDuration(d time.Duration) {
	if p == nil || p.sessionDuration == nil {
		return
	}
	p.sessionDuration.Observe(d.Seconds())
}
