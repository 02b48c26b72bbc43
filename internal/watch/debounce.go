// Package watch turns filesystem activity into rebuild triggers: a
// recursive watcher feeds change notifications into a debouncer that
// coalesces bursts into single triggers.
package watch

import (
	"context"
	"time"
)

// Trigger causes for logs and tests.
const (
	CauseQuiet        = "quiet"
	CauseMaxDelay     = "max_delay"
	CauseAfterRunning = "after_running"
)

// Trigger is one coalesced rebuild request.
type Trigger struct {
	Changes int       // coalesced change notifications
	First   time.Time // first change in the burst
	Last    time.Time // last change in the burst
	Path    string    // last changed path, for logging
	Cause   string    // CauseQuiet, CauseMaxDelay or CauseAfterRunning
}

// DebouncerConfig tunes the coalescing behavior.
type DebouncerConfig struct {
	// QuietWindow is how long the files must stay quiet before a trigger
	// fires. Every new change pushes the window out.
	QuietWindow time.Duration

	// MaxDelay caps how long a busy burst can postpone the trigger.
	MaxDelay time.Duration

	// BuildRunning reports whether a build is in flight. While it
	// returns true triggers are held back; exactly one follow-up fires
	// once it reports false again.
	BuildRunning func() bool

	// PollInterval is how often BuildRunning is re-checked while a
	// trigger is held back.
	PollInterval time.Duration
}

// Debouncer coalesces change notifications into rebuild triggers:
// quiet-window debounce, a max delay so a busy editor cannot postpone
// the build forever, and a single queued follow-up while a build runs.
type Debouncer struct {
	cfg DebouncerConfig
	in  chan change
	out chan Trigger

	// Burst state below is owned by the Run goroutine.
	pending         bool
	pendingAfterRun bool
	first           time.Time
	last            time.Time
	lastPath        string
	count           int
}

type change struct {
	path string
	at   time.Time
}

// NewDebouncer creates a debouncer. Zero config fields get defaults.
func NewDebouncer(cfg DebouncerConfig) *Debouncer {
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.BuildRunning == nil {
		cfg.BuildRunning = func() bool { return false }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Debouncer{
		cfg: cfg,
		in:  make(chan change, 256),
		out: make(chan Trigger, 1),
	}
}

// Notify records a filesystem change. It never blocks: when the intake
// buffer is full the change is dropped, which is safe because a full
// buffer already guarantees a pending burst.
func (d *Debouncer) Notify(path string) {
	select {
	case d.in <- change{path: path, at: time.Now()}:
	default:
	}
}

// Triggers delivers coalesced rebuild requests.
func (d *Debouncer) Triggers() <-chan Trigger {
	return d.out
}

// Run drives the debounce timers until ctx ends.
func (d *Debouncer) Run(ctx context.Context) error {
	quietTimer := newStoppedTimer()
	maxTimer := newStoppedTimer()
	pollTimer := newStoppedTimer()
	var quietC, maxC, pollC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ch := <-d.in:
			d.onChange(ch)
			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C
			if d.count == 1 {
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			if d.tryEmit(CauseQuiet) {
				quietC, maxC = nil, nil
			}

		case <-maxC:
			if d.tryEmit(CauseMaxDelay) {
				quietC, maxC = nil, nil
			}

		case <-pollC:
			if d.tryEmitAfterRun() {
				pollC, quietC, maxC = nil, nil, nil
				continue
			}
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}

		if d.pendingAfterRun && pollC == nil {
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}
	}
}

func (d *Debouncer) onChange(ch change) {
	if !d.pending {
		d.pending = true
		d.first = ch.at
		d.count = 0
	}
	d.last = ch.at
	d.lastPath = ch.path
	d.count++
}

// tryEmit fires the pending trigger unless a build is running. Reports
// whether the burst is settled (emitted, or nothing was pending).
func (d *Debouncer) tryEmit(cause string) bool {
	if !d.pending {
		return true
	}
	if d.cfg.BuildRunning() {
		d.pendingAfterRun = true
		return false
	}

	t := Trigger{
		Changes: d.count,
		First:   d.first,
		Last:    d.last,
		Path:    d.lastPath,
		Cause:   cause,
	}
	d.pending = false
	d.pendingAfterRun = false

	select {
	case d.out <- t:
	default:
		// A trigger is already queued; the build it starts will pick up
		// these changes too.
	}
	return true
}

func (d *Debouncer) tryEmitAfterRun() bool {
	if !d.pendingAfterRun {
		return true
	}
	if d.cfg.BuildRunning() {
		return false
	}
	return d.tryEmit(CauseAfterRunning)
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}
