package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildgate/internal/announce"
	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
	"git.home.luguber.info/inful/buildgate/internal/gate"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/metrics"
	"git.home.luguber.info/inful/buildgate/internal/registry"
	"git.home.luguber.info/inful/buildgate/internal/vcs"
)

// Driver executes build sessions for one build plan.
type Driver struct {
	cfg       *config.Config
	reg       *registry.Registry
	sink      console.Sink
	recorder  metrics.Recorder
	journal   eventstore.Store
	announcer announce.Announcer
	runner    UnitRunner
	log       *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithConsole routes unit status lines to sink.
func WithConsole(sink console.Sink) Option {
	return func(d *Driver) { d.sink = sink }
}

// WithRecorder routes session and unit metrics to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(d *Driver) { d.recorder = rec }
}

// WithJournal appends session and unit events to store. Without it the
// session leaves no journal.
func WithJournal(store eventstore.Store) Option {
	return func(d *Driver) { d.journal = store }
}

// WithAnnouncer publishes completion announcements through a.
func WithAnnouncer(a announce.Announcer) Option {
	return func(d *Driver) { d.announcer = a }
}

// WithRunner replaces the shell runner, mainly for tests.
func WithRunner(r UnitRunner) Option {
	return func(d *Driver) { d.runner = r }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// New builds a driver for the given plan and registry. All integrations
// default to no-ops; the zero driver builds quietly and leaves no trace.
func New(cfg *config.Config, reg *registry.Registry, opts ...Option) *Driver {
	d := &Driver{
		cfg:       cfg,
		reg:       reg,
		sink:      console.Discard,
		recorder:  metrics.NoopRecorder{},
		announcer: announce.Noop{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runner == nil {
		d.runner = NewExecRunner(d.log)
	}
	return d
}

// Run executes one build session and reports how every unit fared. The
// returned error is non-nil when any unit failed, when the session was
// canceled, or when an end hook reported a contract violation — the
// report is returned in all cases.
func (d *Driver) Run(ctx context.Context) (*SessionReport, error) {
	sessionID := uuid.NewString()
	units := UnitsFromConfig(d.cfg)

	report := &SessionReport{
		SessionID: sessionID,
		Label:     d.cfg.Session,
		Started:   time.Now(),
	}
	if rev, err := vcs.Describe("."); err == nil {
		report.Revision = rev.Short()
		report.Branch = rev.Branch
	} else {
		d.log.Debug("Session has no VCS revision", logfields.Error(err))
	}

	concurrency := d.cfg.Concurrency
	if concurrency < 1 {
		concurrency = config.DefaultConcurrency
	}

	d.log.Info("Starting build session",
		logfields.Session(sessionID),
		slog.Int("units", len(units)),
		slog.Int("concurrency", concurrency))

	d.emitEvent(ctx, sessionID, "", eventstore.TypeSessionStarted, sessionStartedPayload{
		Label:    report.Label,
		Revision: report.Revision,
		Branch:   report.Branch,
		Units:    len(units),
	})
	if err := d.announcer.SessionStarted(announce.SessionEvent{
		SessionID: sessionID,
		Label:     report.Label,
		Units:     len(units),
		Timestamp: report.Started,
	}); err != nil {
		d.log.Warn("Failed to announce session start", logfields.Error(err))
	}

	// Completions are observed through the same subscription surface the
	// gates use. The listener runs on whichever worker completed the unit.
	unsubscribe := d.reg.OnCompletion(func(id registry.BuildID) {
		d.recorder.IncUnitCompleted()
		d.emitEvent(ctx, sessionID, id.String(), eventstore.TypeUnitCompleted, nil)
		if err := d.announcer.UnitCompleted(announce.UnitEvent{
			SessionID: sessionID,
			Unit:      id.String(),
			Group:     id.Group,
			Variant:   id.Variant,
			Timestamp: time.Now(),
		}); err != nil {
			d.log.Warn("Failed to announce unit completion",
				logfields.Unit(id.String()), logfields.Error(err))
		}
	})
	defer unsubscribe()

	// Phase one: every start hook runs synchronously, in configuration
	// order, before any build is dispatched. A unit's wait set therefore
	// contains exactly the cross-group units listed before it.
	gates := make([]*gate.Gate, len(units))
	pendings := make([]*gate.Pending, len(units))
	for i, unit := range units {
		gates[i] = gate.New(d.reg, unit.ID.Group, unit.ID.Variant,
			gate.WithConsole(d.sink),
			gate.WithRecorder(d.recorder),
			gate.WithLogger(d.log))
		pendings[i] = gates[i].OnStart()
		d.recorder.IncUnitRegistered()
		d.emitEvent(ctx, sessionID, unit.ID.String(), eventstore.TypeUnitRegistered, nil)
		if deps := pendings[i].Deps(); len(deps) > 0 {
			d.emitEvent(ctx, sessionID, unit.ID.String(), eventstore.TypeUnitWaiting,
				unitWaitingPayload{WaitingOn: idStrings(deps)})
		}
	}

	// Phase two: dispatch. Workers wait for their dependencies before
	// taking a pool slot, so a waiting unit never occupies the slot its
	// dependencies need in order to finish.
	slots := make(chan struct{}, concurrency)
	results := make([]UnitResult, len(units))
	var (
		hookMu  sync.Mutex
		hookErr error
	)
	recordHookErr := func(err error) {
		hookMu.Lock()
		if hookErr == nil {
			hookErr = err
		}
		hookMu.Unlock()
	}

	var wg sync.WaitGroup
	for i := range units {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.buildUnit(ctx, sessionID, units[i], gates[i], pendings[i], slots, recordHookErr)
		}(i)
	}
	wg.Wait()

	report.Finished = time.Now()
	report.Duration = report.Finished.Sub(report.Started)
	report.Units = results
	d.recorder.ObserveSessionDuration(report.Duration)

	failed := report.Failed()
	d.emitEvent(ctx, sessionID, "", eventstore.TypeSessionFinished, sessionFinishedPayload{
		Units:      len(results),
		Failed:     len(failed),
		DurationMS: report.Duration.Milliseconds(),
	})
	if err := d.announcer.SessionFinished(announce.SessionEvent{
		SessionID: sessionID,
		Label:     report.Label,
		Units:     len(results),
		Failed:    len(failed),
		Timestamp: report.Finished,
	}); err != nil {
		d.log.Warn("Failed to announce session finish", logfields.Error(err))
	}

	d.log.Info("Build session finished",
		logfields.Session(sessionID),
		slog.Int("units", len(results)),
		slog.Int("failed", len(failed)),
		logfields.DurationMS(float64(report.Duration.Milliseconds())))

	hookMu.Lock()
	abort := hookErr
	hookMu.Unlock()
	switch {
	case abort != nil:
		return report, errors.Wrap(abort, errors.CategoryInternal, errors.SeverityFatal,
			"session aborted: build unit hook contract violated")
	case len(failed) > 0:
		err := errors.SessionError(nil, fmt.Sprintf("%d of %d units failed", len(failed), len(results)))
		return report, err.WithContext("units", resultNames(failed))
	case ctx.Err() != nil:
		return report, ctx.Err()
	}
	return report, nil
}

func (d *Driver) buildUnit(ctx context.Context, sessionID string, unit Unit, g *gate.Gate, pending *gate.Pending, slots chan struct{}, reportHookErr func(error)) UnitResult {
	res := UnitResult{
		Unit:     unit.ID.String(),
		Group:    unit.ID.Group,
		Variant:  unit.ID.Variant,
		WaitedOn: idStrings(pending.Deps()),
	}

	// The end hook runs no matter how the build went. A unit that never
	// completes would leave every unit gated on its group stuck forever.
	defer func() {
		if err := g.OnEnd(); err != nil {
			d.log.Error("End hook failed", logfields.Unit(res.Unit), logfields.Error(err))
			reportHookErr(err)
		}
	}()

	waitStart := time.Now()
	if err := pending.Wait(ctx); err != nil {
		res.Status = UnitCanceled
		res.Error = err.Error()
		d.recorder.IncUnitOutcome(metrics.OutcomeCanceled)
		return res
	}
	if len(res.WaitedOn) > 0 {
		res.Waited = time.Since(waitStart)
	}

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		res.Status = UnitCanceled
		res.Error = ctx.Err().Error()
		d.recorder.IncUnitOutcome(metrics.OutcomeCanceled)
		return res
	}
	defer func() { <-slots }()

	d.emitEvent(ctx, sessionID, res.Unit, eventstore.TypeUnitStarted, nil)
	d.log.Info("Building unit", logfields.Unit(res.Unit))

	buildStart := time.Now()
	err := d.runner.Run(ctx, unit)
	res.Duration = time.Since(buildStart)
	d.recorder.ObserveUnitBuildDuration(unit.ID.Group, res.Duration)

	switch {
	case err == nil:
		res.Status = UnitSucceeded
		d.recorder.IncUnitOutcome(metrics.OutcomeSuccess)
	case ctx.Err() != nil:
		res.Status = UnitCanceled
		res.Error = err.Error()
		d.recorder.IncUnitOutcome(metrics.OutcomeCanceled)
	default:
		res.Status = UnitFailed
		res.Error = err.Error()
		d.recorder.IncUnitOutcome(metrics.OutcomeFailed)
		d.emitEvent(ctx, sessionID, res.Unit, eventstore.TypeUnitFailed, unitFailedPayload{Error: err.Error()})
	}
	return res
}

// emitEvent appends a journal event if a journal is configured. Journal
// failures degrade to a warning: the journal is observability output and
// never gates the build.
func (d *Driver) emitEvent(ctx context.Context, sessionID, unit, eventType string, payload any) {
	if d.journal == nil {
		return
	}
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			d.log.Warn("Failed to encode journal event",
				slog.String("event", eventType), logfields.Error(err))
			return
		}
	}
	// Journal writes survive session cancellation; the canceled state is
	// itself worth recording.
	if err := d.journal.Append(context.WithoutCancel(ctx), sessionID, unit, eventType, data, nil); err != nil {
		d.log.Warn("Failed to journal event",
			slog.String("event", eventType), logfields.Error(err))
	}
}

type sessionStartedPayload struct {
	Label    string `json:"label,omitempty"`
	Revision string `json:"revision,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Units    int    `json:"units"`
}

type sessionFinishedPayload struct {
	Units      int   `json:"units"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

type unitWaitingPayload struct {
	WaitingOn []string `json:"waiting_on"`
}

type unitFailedPayload struct {
	Error string `json:"error"`
}

func idStrings(ids []registry.BuildID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func resultNames(results []UnitResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Unit
	}
	return out
}
