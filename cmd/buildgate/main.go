package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/console"
	"git.home.luguber.info/inful/buildgate/internal/daemon"
	"git.home.luguber.info/inful/buildgate/internal/driver"
	"git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/registry"
	"git.home.luguber.info/inful/buildgate/internal/report"
	"git.home.luguber.info/inful/buildgate/internal/version"
	"git.home.luguber.info/inful/buildgate/internal/watch"
)

var CLI struct {
	Config  string `short:"c" help:"Build plan file path" default:"buildgate.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Quiet      bool   `help:"Suppress per-unit console status lines"`
		ReportFile string `help:"Write the session report as markdown to this file"`
	} `cmd:"" help:"Run one build session and exit"`

	Watch struct {
		Quiet bool `help:"Suppress per-unit console status lines"`
	} `cmd:"" help:"Run a session, then rebuild when watched paths change"`

	Daemon struct{} `cmd:"" help:"Run as a long-lived service with an HTTP status surface"`

	Init struct {
		Force bool `help:"Overwrite an existing build plan"`
	} `cmd:"" help:"Write an example build plan"`

	Version struct{} `cmd:"" help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	errorAdapter := errors.NewCLIErrorAdapter(CLI.Verbose, logger)

	switch ctx.Command() {
	case "run":
		errorAdapter.HandleError(runSession(logger, CLI.Config, CLI.Run.Quiet, CLI.Run.ReportFile))
	case "watch":
		errorAdapter.HandleError(runWatch(logger, CLI.Config, CLI.Watch.Quiet))
	case "daemon":
		errorAdapter.HandleError(runDaemon(logger, CLI.Config))
	case "init":
		errorAdapter.HandleError(runInit(logger, CLI.Config, CLI.Init.Force))
	case "version":
		fmt.Printf("buildgate %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	}
}

// loadPlan loads the build plan, classifying plain load errors while
// passing the config package's already-classified errors through.
func loadPlan(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		var bge *errors.BuildGateError
		if stderrors.As(err, &bge) {
			return nil, err
		}
		return nil, errors.ConfigError(err.Error())
	}
	return cfg, nil
}

// executeSession runs one session against reg with the plan's console
// preference.
func executeSession(ctx context.Context, cfg *config.Config, reg *registry.Registry, log *slog.Logger) (*driver.SessionReport, error) {
	sink := console.Discard
	if !cfg.Console.Quiet {
		sink = console.NewWriter(os.Stdout)
	}
	return driver.New(cfg, reg,
		driver.WithConsole(sink),
		driver.WithLogger(log)).Run(ctx)
}

func runSession(log *slog.Logger, configPath string, quiet bool, reportFile string) error {
	cfg, err := loadPlan(configPath)
	if err != nil {
		return err
	}
	if quiet {
		cfg.Console.Quiet = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := executeSession(ctx, cfg, registry.New(log), log)
	if reportFile != "" && rep != nil {
		if werr := os.WriteFile(reportFile, []byte(report.Markdown(rep)), 0o644); werr != nil {
			if err == nil {
				err = errors.Wrap(werr, errors.CategoryInternal, errors.SeverityError,
					"failed to write report file")
			} else {
				log.Error("Failed to write report file", logfields.Error(werr))
			}
		} else {
			log.Info("Wrote session report", slog.String("path", reportFile))
		}
	}
	if err != nil {
		logContractViolation(log, err)
	}
	return err
}

func runWatch(log *slog.Logger, configPath string, quiet bool) error {
	cfg, err := loadPlan(configPath)
	if err != nil {
		return err
	}
	if quiet {
		cfg.Console.Quiet = true
	}
	if len(cfg.Watch.Paths) == 0 {
		return errors.ConfigError("watch mode requires watch.paths in the build plan")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var building atomic.Bool
	deb := watch.NewDebouncer(watch.DebouncerConfig{
		QuietWindow:  cfg.Watch.QuietWindowDuration(),
		MaxDelay:     cfg.Watch.MaxDelayDuration(),
		BuildRunning: building.Load,
	})
	w := watch.NewWatcher(cfg.Watch.Paths, deb.Notify, log)

	go func() {
		if err := deb.Run(ctx); err != nil {
			log.Error("Debouncer stopped", logfields.Error(err))
		}
	}()
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error("File watcher failed", logfields.Error(err))
		}
	}()

	reg := registry.New(log)
	runOnce := func() error {
		building.Store(true)
		defer building.Store(false)
		reg.Clear()
		_, err := executeSession(ctx, cfg, reg, log)
		return err
	}

	// A failed build keeps watch mode alive; a contract violation (end
	// hook without start hook) aborts it.
	handle := func(err error) error {
		if err == nil || ctx.Err() != nil {
			return nil
		}
		logContractViolation(log, err)
		if errors.IsCategory(err, errors.CategoryInternal) {
			return err
		}
		log.Error("Build session failed", logfields.Error(err))
		return nil
	}

	if err := handle(runOnce()); err != nil {
		return err
	}
	log.Info("Watching for changes", slog.Int("paths", len(cfg.Watch.Paths)))

	for {
		select {
		case <-ctx.Done():
			log.Info("Watch mode stopped")
			return nil
		case trig := <-deb.Triggers():
			log.Info("Rebuilding after file changes",
				slog.Int("changes", trig.Changes),
				slog.String("cause", trig.Cause))
			if err := handle(runOnce()); err != nil {
				return err
			}
		}
	}
}

func runDaemon(log *slog.Logger, configPath string) error {
	cfg, err := loadPlan(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, daemon.WithLogger(log))
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping daemon")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return errors.Wrap(err, errors.CategoryDaemon, errors.SeverityError, "failed to stop daemon")
	}
	return nil
}

func runInit(log *slog.Logger, configPath string, force bool) error {
	if err := config.Init(configPath, force); err != nil {
		return errors.ConfigError(err.Error())
	}
	log.Info("Wrote example build plan", slog.String("path", configPath))
	return nil
}

// logContractViolation logs loudly when a session died because an end
// hook fired for a unit whose start hook never ran.
func logContractViolation(log *slog.Logger, err error) {
	var unreg *registry.UnregisteredBuildError
	if stderrors.As(err, &unreg) {
		log.Error("End hook fired for an unregistered build unit; start and end hooks must be paired",
			logfields.Unit(unreg.ID.String()))
	}
}
