// Package integration holds cross-package tests that drive a whole build
// session through the public composition: plan file in, report and
// journal out.
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/driver"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

var (
	sessionIDPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	startedPattern   = regexp.MustCompile(`(?m)^- Started: .*$`)
	durationPattern  = regexp.MustCompile(`\b(\d+(\.\d+)?(ns|µs|us|ms|s|m|h))+\b`)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writePlan puts a build plan into a temp dir and returns its path.
func writePlan(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "buildgate.yaml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "failed to write build plan")
	return path
}

// runPlan loads the plan and runs one session with a silent console.
func runPlan(t *testing.T, planPath string, opts ...driver.Option) (*driver.SessionReport, error) {
	t.Helper()

	cfg, err := config.Load(planPath)
	require.NoError(t, err, "failed to load build plan")

	log := quietLogger()
	opts = append([]driver.Option{
		driver.WithConsole(console.Discard),
		driver.WithLogger(log),
	}, opts...)
	return driver.New(cfg, registry.New(log), opts...).Run(context.Background())
}

// normalizeReport strips everything that varies between runs: the session
// id, the VCS revision of whatever checkout the tests run in, the start
// timestamp and all durations. What remains is the stable structure the
// golden files pin down.
func normalizeReport(markdown string) string {
	out := sessionIDPattern.ReplaceAllString(markdown, "SESSION")
	out = startedPattern.ReplaceAllString(out, "- Started: TIMESTAMP")

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "- Revision: ") {
			continue
		}
		kept = append(kept, line)
	}
	out = strings.Join(kept, "\n")

	return durationPattern.ReplaceAllString(out, "DURATION")
}

// verifyGolden compares actual against the golden file, or rewrites the
// golden file when the -update-golden flag is set.
func verifyGolden(t *testing.T, goldenPath, actual string, update bool) {
	t.Helper()

	if update {
		err := os.MkdirAll(filepath.Dir(goldenPath), 0o750)
		require.NoError(t, err, "failed to create golden directory")
		err = os.WriteFile(goldenPath, []byte(actual), 0o600)
		require.NoError(t, err, "failed to write golden file")
		t.Logf("Updated golden file: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath) // #nosec G304 -- golden file from testdata
	require.NoError(t, err, "failed to read golden file: %s", goldenPath)
	require.Equal(t, string(expected), actual, "report mismatch against %s", goldenPath)
}
