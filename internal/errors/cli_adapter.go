package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination
// for the buildgate CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		return exitCodeFromCategory(bge.Category)
	}
	return 1
}

// exitCodeFromCategory maps error categories to exit codes. The codes are
// part of the CLI contract; CI pipelines branch on them.
func exitCodeFromCategory(category ErrorCategory) int {
	switch category {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryConfig:
		return 7 // Configuration error
	case CategorySession, CategoryUnit:
		return 11 // Build session error
	case CategoryDaemon, CategoryJournal:
		return 12 // Runtime error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	var bge *BuildGateError
	if !stderrors.As(err, &bge) {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return bge.Error()
	}
	switch bge.Category {
	case CategoryConfig, CategoryValidation:
		return bge.Message
	default:
		return fmt.Sprintf("%s: %s", bge.Category, bge.Message)
	}
}

// HandleError processes an error and exits the program with the mapped
// code. A nil error is a no-op.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	if a.shouldLog(err) {
		a.logError(err)
	}
	fmt.Fprintf(os.Stderr, "%s\n", a.FormatError(err))
	os.Exit(a.ExitCodeFor(err))
}

// shouldLog determines if an error should also hit the structured log.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		return bge.Category == CategoryInternal || bge.Severity == SeverityFatal
	}
	return true
}

// logError logs an error with level derived from its severity.
func (a *CLIErrorAdapter) logError(err error) {
	var bge *BuildGateError
	if !stderrors.As(err, &bge) {
		a.logger.Error("Unclassified error", "error", err)
		return
	}
	a.logger.LogAttrs(nil, slogLevelFromSeverity(bge.Severity), bge.Message,
		slog.String("category", string(bge.Category)))
}

// slogLevelFromSeverity converts error severity to slog level.
func slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
