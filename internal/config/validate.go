package config

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/util/sets"
)

// Validate checks the configuration for problems that would break a build
// session. It runs after defaults are applied.
func (c *Config) Validate() error {
	if len(c.Packages) == 0 {
		return errors.ConfigError("no packages configured")
	}
	if c.Concurrency < 1 {
		return errors.ConfigError(fmt.Sprintf("concurrency must be at least 1, got %d", c.Concurrency))
	}

	names := sets.New[string]()
	for i, pkg := range c.Packages {
		if pkg.Name == "" {
			return errors.ValidationError(fmt.Sprintf("packages[%d]: name is required", i))
		}
		if pkg.Command == "" {
			return errors.ValidationError(fmt.Sprintf("packages[%d] (%s): command is required", i, pkg.Name))
		}
		if names.Has(pkg.Name) {
			return errors.ValidationError(fmt.Sprintf("packages[%d]: duplicate package name %q", i, pkg.Name))
		}
		names.Add(pkg.Name)

		formats := sets.New[string]()
		for _, format := range pkg.Formats {
			if format == "" {
				return errors.ValidationError(fmt.Sprintf("package %s: formats must not contain empty strings", pkg.Name))
			}
			if formats.Has(format) {
				return errors.ValidationError(fmt.Sprintf("package %s: duplicate format %q", pkg.Name, format))
			}
			formats.Add(format)
		}
	}

	if c.Daemon.Schedule != "" {
		interval, err := time.ParseDuration(c.Daemon.Schedule)
		if err != nil {
			return errors.ConfigError(fmt.Sprintf("daemon.schedule: invalid duration %q", c.Daemon.Schedule))
		}
		if interval < time.Minute {
			return errors.ConfigError(fmt.Sprintf("daemon.schedule: %s is below the 1m minimum", c.Daemon.Schedule))
		}
	}
	for _, field := range []struct{ name, value string }{
		{"watch.quiet_window", c.Watch.QuietWindow},
		{"watch.max_delay", c.Watch.MaxDelay},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return errors.ConfigError(fmt.Sprintf("%s: invalid duration %q", field.name, field.value))
		}
	}
	return nil
}
