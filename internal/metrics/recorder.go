package metrics

import "time"

// OutcomeLabel enumerates final unit outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
)

// Recorder defines observability hooks for build sessions and their units.
// Components receive a Recorder by injection and default to NoopRecorder,
// so metrics stay optional without nil checks at every call site.
type Recorder interface {
	IncUnitRegistered()
	IncUnitCompleted()
	IncUnitOutcome(outcome OutcomeLabel)
	IncUnitsWaiting()
	DecUnitsWaiting()
	ObserveDependencyWait(d time.Duration)
	ObserveUnitBuildDuration(group string, d time.Duration)
	ObserveSessionDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncUnitRegistered()                             {}
func (NoopRecorder) IncUnitCompleted()                              {}
func (NoopRecorder) IncUnitOutcome(OutcomeLabel)                    {}
func (NoopRecorder) IncUnitsWaiting()                               {}
func (NoopRecorder) DecUnitsWaiting()                               {}
func (NoopRecorder) ObserveDependencyWait(time.Duration)            {}
func (NoopRecorder) ObserveUnitBuildDuration(string, time.Duration) {}
func (NoopRecorder) ObserveSessionDuration(time.Duration)           {}
