package driver

import (
	"context"
	stdErrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/announce"
	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner records invocations and simulates build outcomes.
type fakeRunner struct {
	mu         sync.Mutex
	ran        []string
	fail       map[string]error
	onRun      func(Unit)
	delay      time.Duration
	running    int
	maxRunning int
}

func (f *fakeRunner) Run(ctx context.Context, unit Unit) error {
	f.mu.Lock()
	f.ran = append(f.ran, unit.ID.String())
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	failErr := f.fail[unit.ID.String()]
	onRun := f.onRun
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if onRun != nil {
		onRun(unit)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return failErr
}

func (f *fakeRunner) ranUnits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func (f *fakeRunner) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	started   int
	finished  []announce.SessionEvent
	completed []string
}

func (a *fakeAnnouncer) UnitCompleted(e announce.UnitEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed = append(a.completed, e.Unit)
	return nil
}

func (a *fakeAnnouncer) SessionStarted(announce.SessionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
	return nil
}

func (a *fakeAnnouncer) SessionFinished(e announce.SessionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, e)
	return nil
}

func (a *fakeAnnouncer) Close() error { return nil }

func TestDriver_RunsUnitsInConfigurationOrder(t *testing.T) {
	plan := &config.Config{
		Session:     "ordering",
		Concurrency: 4,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm", "cjs"}, Command: "true"},
			{Name: "utils", Formats: []string{"esm"}, Command: "true"},
			{Name: "app", Formats: []string{"esm"}, Command: "true"},
		},
	}
	reg := registry.New(quietLogger())

	coreESM := registry.NewBuildID("core", "esm")
	coreCJS := registry.NewBuildID("core", "cjs")
	utilsESM := registry.NewBuildID("utils", "esm")
	appESM := registry.NewBuildID("app", "esm")
	mustBeDone := map[registry.BuildID][]registry.BuildID{
		utilsESM: {coreESM, coreCJS},
		appESM:   {coreESM, coreCJS, utilsESM},
	}

	fr := &fakeRunner{}
	fr.onRun = func(u Unit) {
		for _, dep := range mustBeDone[u.ID] {
			if !reg.IsCompleted(dep) {
				t.Errorf("unit %s started before %s completed", u.ID, dep)
			}
		}
	}

	d := New(plan, reg, WithRunner(fr), WithLogger(quietLogger()))
	report, err := d.Run(t.Context())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(report.Units) != 4 {
		t.Fatalf("report has %d units, want 4", len(report.Units))
	}
	for _, u := range report.Units {
		if u.Status != UnitSucceeded {
			t.Errorf("unit %s status = %s, want %s", u.Unit, u.Status, UnitSucceeded)
		}
	}

	// Results stay in configuration order and the wait sets reflect it.
	if report.Units[2].Unit != "utils-esm" {
		t.Fatalf("third result is %s, want utils-esm", report.Units[2].Unit)
	}
	wantWaited := []string{"core-esm", "core-cjs"}
	if got := report.Units[2].WaitedOn; len(got) != len(wantWaited) || got[0] != wantWaited[0] || got[1] != wantWaited[1] {
		t.Errorf("utils-esm waited on %v, want %v", got, wantWaited)
	}
	if got := report.Units[1].WaitedOn; len(got) != 0 {
		t.Errorf("core-cjs waited on %v, want nothing (same group)", got)
	}
	if report.SessionID == "" {
		t.Error("report is missing a session id")
	}
}

func TestDriver_SameGroupUnitsRunConcurrently(t *testing.T) {
	plan := &config.Config{
		Concurrency: 4,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm", "cjs"}, Command: "true"},
		},
	}

	barrier := make(chan struct{})
	var arrived sync.Once
	var count int
	var mu sync.Mutex
	fr := &fakeRunner{}
	fr.onRun = func(Unit) {
		mu.Lock()
		count++
		both := count == 2
		mu.Unlock()
		if both {
			arrived.Do(func() { close(barrier) })
		}
		select {
		case <-barrier:
		case <-time.After(2 * time.Second):
			t.Error("same-group units never overlapped")
		}
	}

	d := New(plan, registry.New(quietLogger()), WithRunner(fr), WithLogger(quietLogger()))
	if _, err := d.Run(t.Context()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestDriver_ConcurrencyBound(t *testing.T) {
	plan := &config.Config{
		Concurrency: 1,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm", "cjs", "umd"}, Command: "true"},
		},
	}
	fr := &fakeRunner{delay: 20 * time.Millisecond}

	d := New(plan, registry.New(quietLogger()), WithRunner(fr), WithLogger(quietLogger()))
	if _, err := d.Run(t.Context()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if peak := fr.peakConcurrency(); peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
	if ran := fr.ranUnits(); len(ran) != 3 {
		t.Errorf("ran %d units, want 3", len(ran))
	}
}

func TestDriver_FailedUnitStillReleasesDependents(t *testing.T) {
	plan := &config.Config{
		Concurrency: 2,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm"}, Command: "true"},
			{Name: "app", Formats: []string{"esm"}, Command: "true"},
		},
	}
	reg := registry.New(quietLogger())
	fr := &fakeRunner{fail: map[string]error{"core-esm": stdErrors.New("tsc exploded")}}

	d := New(plan, reg, WithRunner(fr), WithLogger(quietLogger()))
	report, err := d.Run(t.Context())
	if err == nil {
		t.Fatal("Run() should report the failed unit")
	}
	if !errors.IsCategory(err, errors.CategorySession) {
		t.Errorf("error category = %s, want session", errors.GetCategory(err))
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Unit != "core-esm" {
		t.Fatalf("Failed() = %v, want [core-esm]", failed)
	}
	if report.Units[1].Status != UnitSucceeded {
		t.Errorf("app-esm status = %s; a failed dependency must still release it", report.Units[1].Status)
	}

	// Both end hooks ran: nothing is left pending.
	if reg.HasPending() {
		t.Error("registry still has pending units after the session")
	}
}

func TestDriver_CancelReleasesEverything(t *testing.T) {
	plan := &config.Config{
		Concurrency: 1,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm"}, Command: "true"},
			{Name: "app", Formats: []string{"esm"}, Command: "true"},
		},
	}
	reg := registry.New(quietLogger())

	firstRunning := make(chan struct{})
	var once sync.Once
	fr := &fakeRunner{delay: 5 * time.Second}
	fr.onRun = func(Unit) { once.Do(func() { close(firstRunning) }) }

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-firstRunning
		cancel()
	}()

	d := New(plan, reg, WithRunner(fr), WithLogger(quietLogger()))
	report, err := d.Run(ctx)
	if !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	for _, u := range report.Units {
		if u.Status != UnitCanceled {
			t.Errorf("unit %s status = %s, want %s", u.Unit, u.Status, UnitCanceled)
		}
	}
	if reg.HasPending() {
		t.Error("cancellation leaked pending units; end hooks must always run")
	}
}

func TestDriver_JournalReceivesSessionEvents(t *testing.T) {
	store, err := eventstore.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	plan := &config.Config{
		Session:     "journaled",
		Concurrency: 2,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm"}, Command: "true"},
			{Name: "utils", Formats: []string{"esm"}, Command: "true"},
		},
	}
	d := New(plan, registry.New(quietLogger()),
		WithRunner(&fakeRunner{}),
		WithJournal(store),
		WithLogger(quietLogger()))

	report, err := d.Run(t.Context())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events, err := store.GetBySession(t.Context(), report.SessionID)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("journal is empty")
	}
	if events[0].Type != eventstore.TypeSessionStarted {
		t.Errorf("first event is %s, want %s", events[0].Type, eventstore.TypeSessionStarted)
	}
	if last := events[len(events)-1]; last.Type != eventstore.TypeSessionFinished {
		t.Errorf("last event is %s, want %s", last.Type, eventstore.TypeSessionFinished)
	}

	counts := make(map[string]int)
	var registeredOrder []string
	for _, e := range events {
		counts[e.Type]++
		if e.Type == eventstore.TypeUnitRegistered {
			registeredOrder = append(registeredOrder, e.Unit)
		}
	}
	want := map[string]int{
		eventstore.TypeSessionStarted:  1,
		eventstore.TypeSessionFinished: 1,
		eventstore.TypeUnitRegistered:  2,
		eventstore.TypeUnitWaiting:     1,
		eventstore.TypeUnitStarted:     2,
		eventstore.TypeUnitCompleted:   2,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("journal has %d %s events, want %d", counts[typ], typ, n)
		}
	}
	if counts[eventstore.TypeUnitFailed] != 0 {
		t.Errorf("journal has %d unit.failed events, want 0", counts[eventstore.TypeUnitFailed])
	}
	if len(registeredOrder) == 2 && (registeredOrder[0] != "core-esm" || registeredOrder[1] != "utils-esm") {
		t.Errorf("units registered as %v, want [core-esm utils-esm]", registeredOrder)
	}
}

func TestDriver_AnnouncerSeesSessionLifecycle(t *testing.T) {
	plan := &config.Config{
		Concurrency: 2,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm"}, Command: "true"},
			{Name: "utils", Formats: []string{"esm"}, Command: "true"},
		},
	}
	fa := &fakeAnnouncer{}
	fr := &fakeRunner{fail: map[string]error{"utils-esm": stdErrors.New("no")}}

	d := New(plan, registry.New(quietLogger()),
		WithRunner(fr),
		WithAnnouncer(fa),
		WithLogger(quietLogger()))
	if _, err := d.Run(t.Context()); err == nil {
		t.Fatal("Run() should fail with a failed unit")
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.started != 1 {
		t.Errorf("SessionStarted announced %d times, want 1", fa.started)
	}
	if len(fa.finished) != 1 {
		t.Fatalf("SessionFinished announced %d times, want 1", len(fa.finished))
	}
	if fa.finished[0].Units != 2 || fa.finished[0].Failed != 1 {
		t.Errorf("finish announcement = %d units / %d failed, want 2/1",
			fa.finished[0].Units, fa.finished[0].Failed)
	}
	if len(fa.completed) != 2 {
		t.Errorf("announced %d unit completions, want 2 (failed units complete too)", len(fa.completed))
	}
}

func TestDriver_EndHookViolationAbortsSession(t *testing.T) {
	plan := &config.Config{
		Concurrency: 1,
		Packages: []config.Package{
			{Name: "core", Formats: []string{"esm"}, Command: "true"},
		},
	}
	reg := registry.New(quietLogger())
	fr := &fakeRunner{}
	// A host bug wipes the registry mid-build; the end hook must surface it.
	fr.onRun = func(Unit) { reg.Clear() }

	d := New(plan, reg, WithRunner(fr), WithLogger(quietLogger()))
	_, err := d.Run(t.Context())
	if err == nil {
		t.Fatal("Run() should abort on an end hook contract violation")
	}
	var unreg *registry.UnregisteredBuildError
	if !stdErrors.As(err, &unreg) {
		t.Fatalf("error chain is missing *registry.UnregisteredBuildError: %v", err)
	}
	if !errors.IsCategory(err, errors.CategoryInternal) {
		t.Errorf("error category = %s, want internal", errors.GetCategory(err))
	}
}

func TestUnitsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Packages: []config.Package{
			{Name: "core", Dir: "./core", Formats: []string{"esm", "cjs"}, Command: "make core"},
			{Name: "tools", Command: "make tools", Env: map[string]string{"CI": "1"}},
		},
	}

	units := UnitsFromConfig(cfg)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if units[0].ID.String() != "core-esm" || units[1].ID.String() != "core-cjs" {
		t.Errorf("core units are %s, %s; want core-esm, core-cjs", units[0].ID, units[1].ID)
	}
	if units[0].Dir != "./core" || units[0].Command != "make core" {
		t.Errorf("unit carries dir %q command %q", units[0].Dir, units[0].Command)
	}
	// A package without formats becomes a single unknown-variant unit.
	if units[2].ID.String() != "tools-unknown" {
		t.Errorf("formatless package became %s, want tools-unknown", units[2].ID)
	}
	if units[2].Env["CI"] != "1" {
		t.Error("unit lost its configured env")
	}
}
