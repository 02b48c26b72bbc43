package gate

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

// Pending is the deferred outcome of a start hook. Callers either select
// on Ready or block in Wait; both observe the same resolution. A Pending
// resolves at most once and always releases its completion subscription,
// on the resolve path and on the abort path alike.
type Pending struct {
	gate        *Gate
	deps        []registry.BuildID
	ready       chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	waitedSince time.Time
}

// Ready is closed once every dependency has completed. A unit with no
// dependencies gets an already-closed channel.
func (p *Pending) Ready() <-chan struct{} {
	return p.ready
}

// Deps returns a copy of the wait set captured by the start hook, in
// registration order. Empty means the unit never had to wait.
func (p *Pending) Deps() []registry.BuildID {
	out := make([]registry.BuildID, len(p.deps))
	copy(out, p.deps)
	return out
}

// Wait blocks until the dependencies resolve or ctx ends. On context
// cancellation the subscription is torn down and the unit will not be
// woken later; the caller is expected to abort the build and still run
// the end hook.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	default:
	}
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		p.release()
		return ctx.Err()
	}
}

// release stops the watch goroutine. Idempotent; racing a concurrent
// resolution is fine because the goroutine exits on whichever signal it
// sees first and tears down either way.
func (p *Pending) release() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// settled reports whether every captured dependency has completed.
func (p *Pending) settled() bool {
	for _, dep := range p.deps {
		if !p.gate.reg.IsCompleted(dep) {
			return false
		}
	}
	return true
}

// watch is the wait loop for a unit with a non-empty wait set. It owns
// the resolution: ready is closed here and nowhere else, so the status
// line, the metrics and the wake-up happen exactly once.
func (p *Pending) watch(kick <-chan struct{}, unsubscribe func()) {
	defer unsubscribe()
	g := p.gate
	for {
		// Abort wins over a racing completion: a released unit must not
		// come back to life because a dependency finished at the same
		// moment.
		select {
		case <-p.stop:
			g.recorder.DecUnitsWaiting()
			return
		default:
		}
		if p.settled() {
			waited := time.Since(p.waitedSince)
			g.recorder.DecUnitsWaiting()
			g.recorder.ObserveDependencyWait(waited)
			g.sink.UnitStatus(g.id, console.IconStart, console.MsgDepsResolved)
			g.log.Debug("Dependencies resolved",
				logfields.Unit(g.id.String()),
				logfields.DurationMS(float64(waited.Milliseconds())))
			close(p.ready)
			return
		}
		select {
		case <-kick:
		case <-p.stop:
			g.recorder.DecUnitsWaiting()
			return
		}
	}
}
