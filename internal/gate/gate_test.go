package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

func waitReady(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("pending did not resolve in time")
	}
}

func assertNotReady(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Ready():
		t.Fatal("pending resolved but dependencies are still building")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGate_NoDependencies(t *testing.T) {
	reg := registry.New(nil)
	var out console.Capture

	g := New(reg, "utils", "esm", WithConsole(&out))
	p := g.OnStart()

	select {
	case <-p.Ready():
	default:
		t.Fatal("first unit must start immediately")
	}
	if deps := p.Deps(); len(deps) != 0 {
		t.Errorf("Deps() = %v, want empty", deps)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}

	lines := out.Lines()
	if len(lines) != 1 || lines[0] != "[UTILS] ESM 🚀 No dependencies, starting build..." {
		t.Errorf("console lines = %v", lines)
	}
}

func TestGate_CrossGroupDependency(t *testing.T) {
	reg := registry.New(nil)
	var out console.Capture

	core := New(reg, "core", "esm", WithConsole(&out))
	app := New(reg, "app", "esm", WithConsole(&out))

	corePending := core.OnStart()
	waitReady(t, corePending)

	appPending := app.OnStart()
	if deps := appPending.Deps(); len(deps) != 1 || deps[0] != core.ID() {
		t.Fatalf("Deps() = %v, want [%s]", deps, core.ID())
	}
	assertNotReady(t, appPending)

	if err := core.OnEnd(); err != nil {
		t.Fatalf("core OnEnd: %v", err)
	}
	waitReady(t, appPending)

	want := []string{
		"[CORE] ESM 🚀 No dependencies, starting build...",
		"[APP] ESM ⏳ Waiting for dependencies...",
		"[APP] ESM 🚀 Dependencies resolved, starting build...",
	}
	lines := out.Lines()
	if len(lines) != len(want) {
		t.Fatalf("console lines = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestGate_SameGroupBuildsInParallel(t *testing.T) {
	reg := registry.New(nil)

	esm := New(reg, "core", "esm")
	cjs := New(reg, "core", "cjs")

	esmPending := esm.OnStart()
	waitReady(t, esmPending)

	// core-esm has not completed, but core-cjs shares its group and must
	// not wait on it.
	cjsPending := cjs.OnStart()
	select {
	case <-cjsPending.Ready():
	default:
		t.Fatal("same-group unit must not wait")
	}
	if deps := cjsPending.Deps(); len(deps) != 0 {
		t.Errorf("Deps() = %v, want empty", deps)
	}
}

func TestGate_PrefixGroupsGateEachOther(t *testing.T) {
	reg := registry.New(nil)

	pack := New(reg, "test-pack", "html")
	pkg := New(reg, "test-package", "html")

	packPending := pack.OnStart()
	waitReady(t, packPending)

	// "test-package" shares a string prefix with "test-pack" but is a
	// different group, so it gates like any other cross-group pair.
	pkgPending := pkg.OnStart()
	if deps := pkgPending.Deps(); len(deps) != 1 || deps[0] != pack.ID() {
		t.Fatalf("Deps() = %v, want [%s]", deps, pack.ID())
	}
	assertNotReady(t, pkgPending)

	if err := pack.OnEnd(); err != nil {
		t.Fatal(err)
	}
	waitReady(t, pkgPending)
}

func TestGate_MultipleDependenciesAllMustComplete(t *testing.T) {
	reg := registry.New(nil)

	a := New(reg, "alpha", "esm")
	b := New(reg, "beta", "esm")
	c := New(reg, "gamma", "esm")

	a.OnStart()
	b.OnStart()
	cPending := c.OnStart()

	if deps := cPending.Deps(); len(deps) != 2 {
		t.Fatalf("Deps() = %v, want two entries", deps)
	}

	if err := a.OnEnd(); err != nil {
		t.Fatal(err)
	}
	assertNotReady(t, cPending)

	if err := b.OnEnd(); err != nil {
		t.Fatal(err)
	}
	waitReady(t, cPending)
}

func TestGate_LateRegistrationsDoNotJoinWaitSet(t *testing.T) {
	reg := registry.New(nil)

	a := New(reg, "alpha", "esm")
	b := New(reg, "beta", "esm")
	late := New(reg, "late", "esm")

	a.OnStart()
	bPending := b.OnStart()

	// late registers after b's wait set was captured.
	late.OnStart()

	if err := a.OnEnd(); err != nil {
		t.Fatal(err)
	}
	waitReady(t, bPending)
}

func TestGate_DependencyCompletedBeforeSubscriptionSettles(t *testing.T) {
	// Exercise the race window between capturing the wait set and
	// subscribing: completing the dependency from another goroutine while
	// OnStart runs must never lose the wake-up.
	for i := 0; i < 100; i++ {
		reg := registry.New(nil)
		a := New(reg, "alpha", "esm")
		b := New(reg, "beta", "esm")
		a.OnStart()

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.OnEnd(); err != nil {
				t.Error(err)
			}
		}()
		bPending := b.OnStart()
		<-done
		waitReady(t, bPending)
	}
}

func TestGate_WaitHonorsContext(t *testing.T) {
	reg := registry.New(nil)

	a := New(reg, "alpha", "esm")
	b := New(reg, "beta", "esm")
	a.OnStart()
	bPending := b.OnStart()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bPending.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}

	// The subscription is torn down on abort; a late completion must not
	// resurrect the unit.
	if err := a.OnEnd(); err != nil {
		t.Fatal(err)
	}
	assertNotReady(t, bPending)
}

func TestGate_OnEndWithoutRegistration(t *testing.T) {
	reg := registry.New(nil)
	g := New(reg, "ghost", "esm")

	err := g.OnEnd()
	if err == nil {
		t.Fatal("expected error")
	}
	var unreg *registry.UnregisteredBuildError
	if !errors.As(err, &unreg) {
		t.Fatalf("expected *registry.UnregisteredBuildError in chain, got %v", err)
	}
	if unreg.ID != g.ID() {
		t.Errorf("error id = %s, want %s", unreg.ID, g.ID())
	}
}

func TestGate_OnEndIdempotent(t *testing.T) {
	reg := registry.New(nil)
	g := New(reg, "core", "esm")
	g.OnStart()

	if err := g.OnEnd(); err != nil {
		t.Fatal(err)
	}
	if err := g.OnEnd(); err != nil {
		t.Errorf("repeat OnEnd should be a no-op, got %v", err)
	}
}

func TestGate_EmptyVariantNormalized(t *testing.T) {
	reg := registry.New(nil)
	g := New(reg, "legacy", "")
	if g.ID() != registry.NewBuildID("legacy", "unknown") {
		t.Errorf("ID() = %s", g.ID())
	}
}

func TestGate_SessionsReRegisterAfterClear(t *testing.T) {
	reg := registry.New(nil)

	g := New(reg, "core", "esm")
	g.OnStart()
	if err := g.OnEnd(); err != nil {
		t.Fatal(err)
	}

	reg.Clear()

	// Next session: the unit registers from scratch and a fresh gate
	// behaves as on first run.
	g2 := New(reg, "core", "esm")
	p := g2.OnStart()
	waitReady(t, p)
	if err := g2.OnEnd(); err != nil {
		t.Fatal(err)
	}
}
