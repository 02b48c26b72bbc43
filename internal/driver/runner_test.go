package driver

import (
	"context"
	stdErrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"git.home.luguber.info/inful/buildgate/internal/registry"
)

func TestExecRunner_SetsUnitEnvironment(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner(quietLogger())
	unit := Unit{
		ID:      registry.NewBuildID("core", "esm"),
		Dir:     dir,
		Command: `printf '%s:%s:%s' "$BUILDGATE_PACKAGE" "$BUILDGATE_FORMAT" "$NODE_ENV" > result.txt`,
		Env:     map[string]string{"NODE_ENV": "production"},
	}

	if err := r.Run(t.Context(), unit); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "result.txt"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if got := string(data); got != "core:esm:production" {
		t.Errorf("command saw %q, want core:esm:production", got)
	}
}

func TestExecRunner_FormatlessUnitGetsUnknownVariant(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner(quietLogger())
	unit := Unit{
		ID:      registry.NewBuildID("tools", ""),
		Dir:     dir,
		Command: `printf '%s' "$BUILDGATE_FORMAT" > format.txt`,
	}

	if err := r.Run(t.Context(), unit); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "format.txt"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if got := string(data); got != "unknown" {
		t.Errorf("BUILDGATE_FORMAT = %q, want unknown", got)
	}
}

func TestExecRunner_FailingCommand(t *testing.T) {
	r := NewExecRunner(quietLogger())
	err := r.Run(t.Context(), Unit{
		ID:      registry.NewBuildID("core", "esm"),
		Dir:     t.TempDir(),
		Command: "echo broken >&2; exit 3",
	})
	if err == nil {
		t.Fatal("Run() should fail for a failing command")
	}
	var exitErr *exec.ExitError
	if !stdErrors.As(err, &exitErr) {
		t.Fatalf("error chain is missing *exec.ExitError: %v", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode())
	}
}

func TestExecRunner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	r := NewExecRunner(quietLogger())
	err := r.Run(ctx, Unit{
		ID:      registry.NewBuildID("core", "esm"),
		Dir:     t.TempDir(),
		Command: "sleep 5",
	})
	if err == nil {
		t.Fatal("Run() should fail when the context is already canceled")
	}
}

func TestTail(t *testing.T) {
	if got := tail([]byte("short"), 10); got != "short" {
		t.Errorf("tail(short, 10) = %q", got)
	}
	if got := tail([]byte("0123456789"), 4); got != "...6789" {
		t.Errorf("tail = %q, want ...6789", got)
	}
}
