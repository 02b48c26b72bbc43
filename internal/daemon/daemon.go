// Package daemon runs buildgate as a long-lived service. It owns one
// registry reused across serialized build sessions and composes the
// status server, file watcher, scheduler, journal, and announcer
// around it. Sessions are triggered by startup, file activity, the
// schedule, or the HTTP API, and at most one trigger is held while a
// session runs.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildgate/internal/announce"
	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/driver"
	"git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/metrics"
	"git.home.luguber.info/inful/buildgate/internal/registry"
	"git.home.luguber.info/inful/buildgate/internal/server"
	"git.home.luguber.info/inful/buildgate/internal/version"
	"git.home.luguber.info/inful/buildgate/internal/watch"
)

// State is the externally visible daemon state.
type State string

const (
	StateIdle     State = "idle"
	StateBuilding State = "building"
	StateStopping State = "stopping"
)

// Daemon is the long-running composition root.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	reg        *registry.Registry
	store      eventstore.Store // nil when journaling is disabled
	projection *eventstore.SessionHistoryProjection
	journal    *journalFanout
	announcer  announce.Announcer
	recorder   *metrics.PrometheusRecorder
	srv        *server.Server
	scheduler  *Scheduler
	watcher    *watch.Watcher
	debouncer  *watch.Debouncer
	runner     driver.UnitRunner

	state     atomic.Value // State
	startTime time.Time
	stopChan  chan struct{}
	triggers  chan string // capacity 1: the pending rebuild, if any

	mu         sync.RWMutex
	lastReport *driver.SessionReport
}

// Option configures optional daemon collaborators.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Daemon) { d.log = log }
}

// WithRunner replaces the shell runner used by every session, mainly
// for tests.
func WithRunner(r driver.UnitRunner) Option {
	return func(d *Daemon) { d.runner = r }
}

// New assembles a daemon from configuration. The journal, announcer,
// watcher, and scheduler are each wired only when their configuration
// section asks for them.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.DaemonError("configuration is required")
	}

	d := &Daemon{
		cfg:      cfg,
		log:      slog.Default(),
		stopChan: make(chan struct{}),
		triggers: make(chan string, 1),
	}
	d.state.Store(StateIdle)
	for _, opt := range opts {
		opt(d)
	}

	d.reg = registry.New(d.log)

	// The projection is fed live whether or not events are persisted,
	// so the status page can always show the running session.
	if cfg.Daemon.Journal != "" {
		store, err := eventstore.NewSQLiteStore(cfg.Daemon.Journal)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryJournal, errors.SeverityFatal,
				"failed to open journal").WithContext("path", cfg.Daemon.Journal)
		}
		d.store = store
	}
	d.projection = eventstore.NewSessionHistoryProjection(d.store, 50)
	d.journal = newJournalFanout(d.store, d.projection)

	// Announcements degrade to no-ops when NATS is unreachable at
	// startup; they never gate the daemon.
	d.announcer = announce.Noop{}
	if cfg.Daemon.NATS.URL != "" {
		a, err := announce.NewNATSAnnouncer(cfg.Daemon.NATS.URL, cfg.Daemon.NATS.Subject, d.log)
		if err != nil {
			d.log.Warn("Announcements disabled", logfields.Error(err))
		} else {
			d.announcer = a
		}
	}

	promReg := prom.NewRegistry()
	d.recorder = metrics.NewPrometheusRecorder(promReg)

	d.srv = server.New(cfg, d,
		server.WithMetricsHandler(metrics.HTTPHandler(promReg)),
		server.WithLogger(d.log))

	if len(cfg.Watch.Paths) > 0 {
		d.debouncer = watch.NewDebouncer(watch.DebouncerConfig{
			QuietWindow:  cfg.Watch.QuietWindowDuration(),
			MaxDelay:     cfg.Watch.MaxDelayDuration(),
			BuildRunning: func() bool { return d.currentState() == StateBuilding },
		})
		d.watcher = watch.NewWatcher(cfg.Watch.Paths, d.debouncer.Notify, d.log)
	}

	if interval, ok := cfg.Daemon.ScheduleInterval(); ok {
		sched, err := NewScheduler()
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryDaemon, errors.SeverityFatal,
				"failed to create scheduler")
		}
		if _, err := sched.ScheduleEvery("rebuild", interval, func() {
			d.TriggerBuild("schedule")
		}); err != nil {
			return nil, errors.Wrap(err, errors.CategoryDaemon, errors.SeverityFatal,
				"failed to schedule periodic rebuild")
		}
		d.scheduler = sched
	}

	return d, nil
}

// Start brings up every configured component, queues the startup
// build, and blocks running sessions until ctx is canceled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.startTime = time.Now()

	if d.store != nil {
		if err := d.projection.Rebuild(ctx); err != nil {
			d.log.Warn("Failed to rebuild session history from journal", logfields.Error(err))
		}
	}

	if err := d.srv.Start(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryDaemon, errors.SeverityFatal,
			"failed to start status server")
	}

	if d.watcher != nil {
		go func() {
			if err := d.debouncer.Run(ctx); err != nil {
				d.log.Error("Debouncer stopped", logfields.Error(err))
			}
		}()
		go func() {
			if err := d.watcher.Run(ctx); err != nil {
				d.log.Error("File watcher failed", logfields.Error(err))
			}
		}()
		go d.forwardTriggers(ctx)
	}

	if d.scheduler != nil {
		d.scheduler.Start()
		interval, _ := d.cfg.Daemon.ScheduleInterval()
		d.log.Info("Scheduled periodic rebuilds", slog.Duration("interval", interval))
	}

	d.log.Info("Buildgate daemon started",
		slog.String("version", version.Version),
		slog.String("listen", d.srv.Addr()),
		slog.Int("packages", len(d.cfg.Packages)),
		slog.Bool("journal", d.store != nil))

	d.TriggerBuild("startup")

	d.run(ctx)

	d.log.Info("Main loop exited, daemon stopping")
	return nil
}

// Stop gracefully shuts down every component. A running session is
// left to finish; cancel the Start context to interrupt it.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.currentState() == StateStopping {
		return nil
	}
	d.state.Store(StateStopping)
	d.log.Info("Stopping buildgate daemon")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			d.log.Error("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if err := d.srv.Stop(ctx); err != nil {
		d.log.Error("Failed to stop status server", logfields.Error(err))
	}
	if err := d.announcer.Close(); err != nil {
		d.log.Error("Failed to close announcer", logfields.Error(err))
	}
	if err := d.journal.Close(); err != nil {
		d.log.Error("Failed to close journal", logfields.Error(err))
	}

	d.log.Info("Buildgate daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// run serializes build sessions until the daemon is told to stop.
func (d *Daemon) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Main loop stopped by context cancellation")
			return
		case <-d.stopChan:
			d.log.Info("Main loop stopped by stop signal")
			return
		case reason := <-d.triggers:
			d.runSession(ctx, reason)
		}
	}
}

// forwardTriggers turns debounced file activity into build triggers.
func (d *Daemon) forwardTriggers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case trig := <-d.debouncer.Triggers():
			d.log.Info("File activity triggered rebuild",
				slog.Int("changes", trig.Changes),
				slog.String("cause", trig.Cause),
				slog.String("path", trig.Path))
			d.TriggerBuild("file_change")
		}
	}
}

// runSession executes one build session. The run loop calls this from
// a single goroutine, and the registry is cleared before each session
// so completions from the previous one cannot satisfy the next one's
// gates.
func (d *Daemon) runSession(ctx context.Context, reason string) {
	d.state.Store(StateBuilding)
	defer d.state.CompareAndSwap(StateBuilding, StateIdle)

	d.reg.Clear()

	sink := console.Discard
	if !d.cfg.Console.Quiet {
		sink = console.NewWriter(os.Stdout)
	}

	opts := []driver.Option{
		driver.WithConsole(sink),
		driver.WithRecorder(d.recorder),
		driver.WithJournal(d.journal),
		driver.WithAnnouncer(d.announcer),
		driver.WithLogger(d.log.With(slog.String("trigger", reason))),
	}
	if d.runner != nil {
		opts = append(opts, driver.WithRunner(d.runner))
	}

	report, err := driver.New(d.cfg, d.reg, opts...).Run(ctx)

	d.mu.Lock()
	d.lastReport = report
	d.mu.Unlock()

	if err != nil {
		d.log.Error("Build session failed",
			logfields.Session(report.SessionID), logfields.Error(err))
	}
}

// TriggerBuild queues a rebuild. At most one trigger is held while a
// session runs; further triggers coalesce into it. Reports false when
// a trigger was already queued.
func (d *Daemon) TriggerBuild(reason string) bool {
	select {
	case d.triggers <- reason:
		d.log.Info("Build triggered", slog.String("reason", reason))
		return true
	default:
		d.log.Debug("Build trigger coalesced", slog.String("reason", reason))
		return false
	}
}

// State reports the daemon state for the status server.
func (d *Daemon) State() string { return string(d.currentState()) }

// StartTime returns the daemon start time.
func (d *Daemon) StartTime() time.Time { return d.startTime }

// Addr returns the status server's bound address once Start has
// succeeded.
func (d *Daemon) Addr() string { return d.srv.Addr() }

// RegistrySnapshot lists the registry's build ids split by completion
// state.
func (d *Daemon) RegistrySnapshot() server.RegistrySnapshot {
	return server.RegistrySnapshot{
		Registered: idStrings(d.reg.RegisteredIDs()),
		Completed:  idStrings(d.reg.CompletedIDs()),
		Pending:    idStrings(d.reg.PendingIDs()),
	}
}

// ActiveSession returns the running session's summary, or nil when
// idle.
func (d *Daemon) ActiveSession() *eventstore.SessionSummary {
	return d.projection.Active()
}

// SessionHistory returns recent finished sessions, newest first.
func (d *Daemon) SessionHistory() []*eventstore.SessionSummary {
	return d.projection.History()
}

// LatestReport returns the last session report, or nil before the
// first session finishes.
func (d *Daemon) LatestReport() *driver.SessionReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastReport
}

func (d *Daemon) currentState() State {
	s, ok := d.state.Load().(State)
	if !ok {
		return StateIdle
	}
	return s
}

func idStrings(ids []registry.BuildID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Compile-time check that Daemon implements the status server surface.
var _ server.Runtime = (*Daemon)(nil)
