package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/driver"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner records which units ran instead of shelling out.
type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	fail map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, unit driver.Unit) error {
	f.mu.Lock()
	f.runs = append(f.runs, unit.ID.String())
	f.mu.Unlock()
	if f.fail[unit.ID.String()] {
		return fmt.Errorf("unit build failed")
	}
	return nil
}

func (f *fakeRunner) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Session:     "daemon-test",
		Concurrency: 2,
		Packages: []config.Package{
			{Name: "core", Dir: ".", Formats: []string{"esm", "cjs"}, Command: "true"},
			{Name: "app", Dir: ".", Formats: []string{"esm"}, Command: "true"},
		},
		Console: config.ConsoleConfig{Quiet: true},
		Daemon: config.DaemonConfig{
			Listen:  "127.0.0.1:0",
			Journal: filepath.Join(t.TempDir(), "journal.db"),
		},
	}
}

// startDaemon runs d.Start in the background and arranges shutdown at
// test end.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		_ = d.Stop(context.Background())
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("daemon exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down")
		}
	})
}

func waitForReport(t *testing.T, d *Daemon) *driver.SessionReport {
	t.Helper()
	require.Eventually(t, func() bool { return d.LatestReport() != nil },
		5*time.Second, 20*time.Millisecond)
	return d.LatestReport()
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestDaemon_StartupBuildRuns(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(testConfig(t), WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d)

	report := waitForReport(t, d)
	require.Len(t, report.Units, 3)
	require.Empty(t, report.Failed())
	require.ElementsMatch(t, []string{"core-esm", "core-cjs", "app-esm"}, runner.ran())

	hist := d.SessionHistory()
	require.Len(t, hist, 1)
	require.Equal(t, "succeeded", hist[0].Status)
	require.Equal(t, 3, hist[0].Units)

	// The registry keeps the finished session's state until the next
	// session clears it.
	snap := d.RegistrySnapshot()
	require.Len(t, snap.Completed, 3)
	require.Empty(t, snap.Pending)
}

func TestDaemon_FailedUnitMarksSessionFailed(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"app-esm": true}}
	d, err := New(testConfig(t), WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d)

	report := waitForReport(t, d)
	require.Len(t, report.Failed(), 1)
	require.Equal(t, "app-esm", report.Failed()[0].Unit)

	require.Eventually(t, func() bool { return len(d.SessionHistory()) == 1 },
		2*time.Second, 20*time.Millisecond)
	require.Equal(t, "failed", d.SessionHistory()[0].Status)
}

func TestDaemon_TriggerBuildCoalesces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.Journal = ""
	d, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.True(t, d.TriggerBuild("first"))
	require.False(t, d.TriggerBuild("second"))
}

func TestDaemon_APITriggerRunsNewSession(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(testConfig(t), WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d)
	waitForReport(t, d)

	resp, err := http.Post("http://"+d.Addr()+"/api/build", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(d.SessionHistory()) >= 2 },
		5*time.Second, 20*time.Millisecond)
	require.Len(t, runner.ran(), 6)
}

func TestDaemon_ServesHealthAndMetrics(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(testConfig(t), WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d)
	waitForReport(t, d)

	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "buildgate_units_completed_total")
}

func TestDaemon_RestartRestoresHistory(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}

	d1, err := New(cfg, WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	ctx1, cancel1 := context.WithCancel(context.Background())
	done1 := make(chan error, 1)
	go func() { done1 <- d1.Start(ctx1) }()

	firstSession := waitForReport(t, d1).SessionID
	require.NoError(t, d1.Stop(context.Background()))
	cancel1()
	require.NoError(t, <-done1)

	d2, err := New(cfg, WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d2)

	require.Eventually(t, func() bool {
		for _, s := range d2.SessionHistory() {
			if s.SessionID == firstSession {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_StateReturnsToIdle(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(testConfig(t), WithLogger(quietLogger()), WithRunner(runner))
	require.NoError(t, err)
	startDaemon(t, d)
	waitForReport(t, d)

	require.Eventually(t, func() bool { return d.State() == "idle" },
		2*time.Second, 10*time.Millisecond)
}
