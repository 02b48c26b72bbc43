// Package registry tracks the build units of one build session: which units
// exist, which have finished, and who wants to hear about completions.
//
// The registry is deliberately dumb. It does not know about dependencies,
// commands or scheduling; it only answers membership questions and fans out
// completion events. Gating logic lives in the gate package on top of it.
package registry

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/buildgate/internal/util/sets"
)

// CompletionListener is notified once for every unit that transitions to
// completed after the listener subscribed. Completions that happened before
// subscription are never replayed. Listeners may be invoked from whichever
// goroutine called Complete, concurrently with other listeners, so they
// must be safe for concurrent use.
type CompletionListener func(BuildID)

type listenerEntry struct {
	token uint64
	fn    CompletionListener
}

// Registry is the shared bookkeeping for one build session. All methods
// are safe for concurrent use. Listener callbacks run outside the registry
// lock, so a listener may call back into the registry (including
// unsubscribing itself) without deadlocking.
type Registry struct {
	mu         sync.Mutex
	order      []BuildID
	registered sets.Set[BuildID]
	completed  sets.Set[BuildID]
	listeners  []listenerEntry
	nextToken  uint64

	log *slog.Logger
}

// New returns an empty registry. Pass nil to use the default logger.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		registered: sets.New[BuildID](),
		completed:  sets.New[BuildID](),
		log:        log,
	}
}

// Register records that a build unit exists. The first registration of an
// id returns true; repeats are harmless and return false. Registration
// order is preserved and is the order RegisteredIDs reports.
func (r *Registry) Register(id BuildID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered.Has(id) {
		return false
	}
	r.registered.Add(id)
	r.order = append(r.order, id)
	return true
}

// Complete marks a registered unit as finished and notifies every
// subscribed listener. Completing an already-completed unit is a no-op and
// fires no listeners, so each id is announced at most once. Completing an
// id that was never registered returns *UnregisteredBuildError and changes
// nothing.
func (r *Registry) Complete(id BuildID) error {
	r.mu.Lock()
	if !r.registered.Has(id) {
		r.mu.Unlock()
		return &UnregisteredBuildError{ID: id}
	}
	if r.completed.Has(id) {
		r.mu.Unlock()
		return nil
	}
	r.completed.Add(id)
	snapshot := make([]listenerEntry, len(r.listeners))
	copy(snapshot, r.listeners)
	r.mu.Unlock()

	// Notify from a snapshot taken under the lock: listeners subscribed
	// or removed during the fan-out do not affect this completion, and a
	// listener unsubscribing mid-flight may still see this event.
	for _, l := range snapshot {
		r.notify(l.fn, id)
	}
	return nil
}

// notify shields the remaining listeners from a panicking callback. One
// broken subscriber must not stop the wake-up of every waiting unit.
func (r *Registry) notify(fn CompletionListener, id BuildID) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Completion listener panicked",
				slog.String("unit", id.String()),
				slog.Any("panic", rec))
		}
	}()
	fn(id)
}

// OnCompletion subscribes fn to future completions and returns its
// unsubscribe function. Unsubscribing is idempotent and is safe to call
// from inside the listener itself. Listeners fire in subscription order.
func (r *Registry) OnCompletion(fn CompletionListener) (unsubscribe func()) {
	r.mu.Lock()
	r.nextToken++
	token := r.nextToken
	r.listeners = append(r.listeners, listenerEntry{token: token, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, l := range r.listeners {
			if l.token == token {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// IsRegistered reports whether id has been registered in this session.
func (r *Registry) IsRegistered(id BuildID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered.Has(id)
}

// IsCompleted reports whether id has finished. An unregistered id is never
// completed.
func (r *Registry) IsCompleted(id BuildID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed.Has(id)
}

// IsPending reports whether id is registered but has not finished.
func (r *Registry) IsPending(id BuildID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered.Has(id) && !r.completed.Has(id)
}

// HasRegistered reports whether any unit registered this session.
func (r *Registry) HasRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered.Len() > 0
}

// HasCompleted reports whether any unit has finished.
func (r *Registry) HasCompleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed.Len() > 0
}

// HasPending reports whether any registered unit is still building.
func (r *Registry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered.Len() > r.completed.Len()
}

// RegisteredIDs returns every registered id in registration order. The
// slice is a copy; callers may keep or mutate it.
func (r *Registry) RegisteredIDs() []BuildID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BuildID, len(r.order))
	copy(out, r.order)
	return out
}

// PendingIDs returns the registered ids that have not completed, in
// registration order.
func (r *Registry) PendingIDs() []BuildID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BuildID, 0, len(r.order)-len(r.completed))
	for _, id := range r.order {
		if !r.completed.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// CompletedIDs returns the completed ids in registration order.
func (r *Registry) CompletedIDs() []BuildID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BuildID, 0, len(r.completed))
	for _, id := range r.order {
		if r.completed.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Counts returns how many units are registered and how many of those have
// completed.
func (r *Registry) Counts() (registered, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered), len(r.completed)
}

// Clear resets the registry to empty, dropping all listeners. Daemon hosts
// call this between sessions so units re-register from scratch; nothing
// subscribed before Clear survives into the next session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.registered = sets.New[BuildID]()
	r.completed = sets.New[BuildID]()
	r.listeners = nil
}
