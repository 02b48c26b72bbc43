package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"git.home.luguber.info/inful/buildgate/internal/logfields"
)

// UnitRunner executes one unit's build command. Implementations must be
// safe for concurrent use; the driver calls Run from its worker pool.
type UnitRunner interface {
	Run(ctx context.Context, unit Unit) error
}

// ExecRunner runs unit commands through the shell in the unit's
// directory. The command inherits the process environment plus the
// unit's configured env plus BUILDGATE_PACKAGE and BUILDGATE_FORMAT.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner returns a shell-based runner. Pass nil to use the
// default logger.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	if log == nil {
		log = slog.Default()
	}
	return &ExecRunner{log: log}
}

// Run executes the unit's build command and returns its error. Output is
// captured and logged, at debug level on success and error level on
// failure.
func (r *ExecRunner) Run(ctx context.Context, unit Unit) error {
	// #nosec G204 -- running user-configured build commands is the product;
	// the command comes from the build plan the user wrote.
	cmd := exec.CommandContext(ctx, "sh", "-c", unit.Command)
	cmd.Dir = unit.Dir

	env := os.Environ()
	for k, v := range unit.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"BUILDGATE_PACKAGE="+unit.ID.Group,
		"BUILDGATE_FORMAT="+unit.ID.Variant,
	)
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	if err != nil {
		r.log.Error("Unit build command failed",
			logfields.Unit(unit.ID.String()),
			slog.String("command", unit.Command),
			slog.String("output", tail(output, 4096)),
			logfields.Error(err))
		return fmt.Errorf("run %q: %w", unit.Command, err)
	}
	if len(output) > 0 {
		r.log.Debug("Unit build output",
			logfields.Unit(unit.ID.String()),
			slog.String("output", tail(output, 4096)))
	}
	return nil
}

// tail returns at most the last n bytes of b, so log lines carry command
// output without flooding the log.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
