// Package config loads and validates the buildgate YAML configuration.
// Environment variables are expanded in the file content, and a local
// .env / .env.local file is loaded first so secrets stay out of the YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied by Load when the file leaves them unset.
const (
	DefaultConcurrency = 4
	DefaultListen      = ":8080"
	DefaultNATSSubject = "buildgate.events"
	DefaultQuietWindow = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// Config represents the application configuration.
type Config struct {
	Session     string        `yaml:"session,omitempty"` // optional session label for logs and reports
	Concurrency int           `yaml:"concurrency,omitempty"`
	Packages    []Package     `yaml:"packages"`
	Console     ConsoleConfig `yaml:"console,omitempty"`
	Daemon      DaemonConfig  `yaml:"daemon,omitempty"`
	Watch       WatchConfig   `yaml:"watch,omitempty"`
}

// Package describes one logical package and the build units it produces:
// one unit per format, or a single "unknown"-variant unit when no formats
// are listed.
type Package struct {
	Name    string            `yaml:"name"`
	Dir     string            `yaml:"dir,omitempty"`
	Formats []string          `yaml:"formats,omitempty"`
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ConsoleConfig controls the per-unit status lines.
type ConsoleConfig struct {
	Quiet bool `yaml:"quiet,omitempty"`
}

// DaemonConfig configures the long-running mode.
type DaemonConfig struct {
	Listen   string     `yaml:"listen,omitempty"`
	Journal  string     `yaml:"journal,omitempty"`  // sqlite path; empty disables the journal
	Schedule string     `yaml:"schedule,omitempty"` // rebuild interval, e.g. "30m"; empty disables
	NATS     NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures the one-way completion announcer. Announcements
// are observability output; nothing in the gating path depends on them.
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"` // empty disables announcements
	Subject string `yaml:"subject,omitempty"`
}

// WatchConfig configures filesystem-triggered rebuilds.
type WatchConfig struct {
	Paths       []string `yaml:"paths,omitempty"`
	QuietWindow string   `yaml:"quiet_window,omitempty"`
	MaxDelay    string   `yaml:"max_delay,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadEnvFiles loads .env then .env.local without overriding variables
// already present in the environment.
func loadEnvFiles() {
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "Note: %s couldn't be loaded: %v\n", envPath, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", envPath)
	}
}

func (c *Config) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListen
	}
	if c.Daemon.NATS.Subject == "" {
		c.Daemon.NATS.Subject = DefaultNATSSubject
	}
	if c.Watch.QuietWindow == "" {
		c.Watch.QuietWindow = DefaultQuietWindow.String()
	}
	if c.Watch.MaxDelay == "" {
		c.Watch.MaxDelay = DefaultMaxDelay.String()
	}
}

// UnitFormats returns the formats a package builds, with the single
// unnamed unit represented as one empty-string format.
func (p Package) UnitFormats() []string {
	if len(p.Formats) == 0 {
		return []string{""}
	}
	return p.Formats
}

// ScheduleInterval parses the daemon rebuild interval. Returns false when
// no schedule is configured.
func (d DaemonConfig) ScheduleInterval() (time.Duration, bool) {
	if d.Schedule == "" {
		return 0, false
	}
	interval, err := time.ParseDuration(d.Schedule)
	if err != nil {
		return 0, false
	}
	return interval, true
}

// QuietWindowDuration returns the parsed watch quiet window.
func (w WatchConfig) QuietWindowDuration() time.Duration {
	if d, err := time.ParseDuration(w.QuietWindow); err == nil {
		return d
	}
	return DefaultQuietWindow
}

// MaxDelayDuration returns the parsed watch max delay.
func (w WatchConfig) MaxDelayDuration() time.Duration {
	if d, err := time.ParseDuration(w.MaxDelay); err == nil {
		return d
	}
	return DefaultMaxDelay
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		Session:     "local",
		Concurrency: DefaultConcurrency,
		Packages: []Package{
			{
				Name: "core",
				Dir:  "./packages/core",
				// The command sees BUILDGATE_PACKAGE and BUILDGATE_FORMAT
				// in its environment, one invocation per format.
				Formats: []string{"esm", "cjs"},
				Command: "npm run build",
			},
			{
				Name:    "utils",
				Dir:     "./packages/utils",
				Formats: []string{"esm"},
				Command: "npm run build",
				Env:     map[string]string{"NODE_ENV": "production"},
			},
		},
		Daemon: DaemonConfig{
			Listen:   DefaultListen,
			Journal:  "./buildgate.db",
			Schedule: "30m",
		},
		Watch: WatchConfig{
			Paths:       []string{"./packages"},
			QuietWindow: DefaultQuietWindow.String(),
			MaxDelay:    DefaultMaxDelay.String(),
		},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
