// Package gate implements the dependency check that runs at the edges of
// every unit build. The start hook snapshots which other groups are still
// building and suspends the unit until they finish; the end hook marks the
// unit complete, waking whoever waits on it.
package gate

import (
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/metrics"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

// Gate wraps one build unit's start and end hooks. A Gate is cheap; hosts
// construct one per unit per session and call OnStart exactly once before
// the unit's build and OnEnd exactly once after it, whether or not the
// build succeeded.
type Gate struct {
	reg      *registry.Registry
	id       registry.BuildID
	sink     console.Sink
	recorder metrics.Recorder
	log      *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithConsole routes status lines to sink instead of discarding them.
func WithConsole(sink console.Sink) Option {
	return func(g *Gate) { g.sink = sink }
}

// WithRecorder routes wait metrics to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(g *Gate) { g.recorder = rec }
}

// WithLogger sets the logger for unit lifecycle debug lines.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// New builds a gate for the unit identified by group and variant. An empty
// variant is normalized the same way the registry normalizes it.
func New(reg *registry.Registry, group, variant string, opts ...Option) *Gate {
	g := &Gate{
		reg:      reg,
		id:       registry.NewBuildID(group, variant),
		sink:     console.Discard,
		recorder: metrics.NoopRecorder{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the unit this gate guards.
func (g *Gate) ID() registry.BuildID {
	return g.id
}

// OnStart registers the unit and computes its wait set: every unit already
// registered, not yet completed, and belonging to a different group. The
// wait set is fixed at this moment; units that register afterwards never
// delay this one. Same-group units are excluded so a package's own format
// variants build in parallel.
//
// The returned Pending resolves once every unit in the wait set has
// completed. With an empty wait set it is resolved already.
func (g *Gate) OnStart() *Pending {
	g.reg.Register(g.id)

	p := &Pending{gate: g, ready: make(chan struct{}), stop: make(chan struct{})}
	for _, id := range g.reg.PendingIDs() {
		if !id.SameGroup(g.id) {
			p.deps = append(p.deps, id)
		}
	}

	if len(p.deps) == 0 {
		close(p.ready)
		g.sink.UnitStatus(g.id, console.IconStart, console.MsgNoDeps)
		g.log.Debug("Unit has no dependencies", logfields.Unit(g.id.String()))
		return p
	}

	g.sink.UnitStatus(g.id, console.IconWaiting, console.MsgWaiting)
	g.log.Debug("Unit waiting for dependencies",
		logfields.Unit(g.id.String()), logfields.Pending(len(p.deps)))
	g.recorder.IncUnitsWaiting()
	p.waitedSince = time.Now()

	// Completions land as kicks on a buffered channel so the listener
	// never blocks inside the registry's notify loop. The watch goroutine
	// re-checks the wait set on every kick and starts with one check of
	// its own, covering completions that raced the subscription.
	kick := make(chan struct{}, 1)
	unsubscribe := g.reg.OnCompletion(func(registry.BuildID) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	go p.watch(kick, unsubscribe)

	return p
}

// OnEnd marks the unit complete. Completing a unit that never registered
// is a contract violation and surfaces as *registry.UnregisteredBuildError
// in the returned error chain.
func (g *Gate) OnEnd() error {
	if err := g.reg.Complete(g.id); err != nil {
		return fmt.Errorf("end hook for unit %s: %w", g.id, err)
	}
	g.log.Debug("Unit completed", logfields.Unit(g.id.String()))
	return nil
}
