// Package driver runs one build session: it flattens the configured
// packages into build units, runs every unit's start hook in
// configuration order, and dispatches the builds to a bounded worker
// pool. Units only ever wait on units listed earlier in the
// configuration, because by the time a unit's start hook computes its
// wait set, every earlier unit has already registered — the driver
// upholds that ordering, the gating engine itself does not care.
package driver

import (
	"time"

	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/registry"
)

// Unit is one schedulable build: a package and one of its output formats.
type Unit struct {
	ID      registry.BuildID
	Dir     string
	Command string
	Env     map[string]string
}

// UnitsFromConfig flattens the configured packages into build units, one
// per package/format pair, in configuration order.
func UnitsFromConfig(cfg *config.Config) []Unit {
	units := make([]Unit, 0, len(cfg.Packages))
	for _, pkg := range cfg.Packages {
		for _, format := range pkg.UnitFormats() {
			units = append(units, Unit{
				ID:      registry.NewBuildID(pkg.Name, format),
				Dir:     pkg.Dir,
				Command: pkg.Command,
				Env:     pkg.Env,
			})
		}
	}
	return units
}

// UnitStatus represents the final state of one unit build.
type UnitStatus string

const (
	UnitSucceeded UnitStatus = "succeeded"
	UnitFailed    UnitStatus = "failed"
	UnitCanceled  UnitStatus = "canceled"
)

// UnitResult records how one unit's build went.
type UnitResult struct {
	Unit     string        `json:"unit"`
	Group    string        `json:"group"`
	Variant  string        `json:"variant"`
	Status   UnitStatus    `json:"status"`
	WaitedOn []string      `json:"waited_on,omitempty"`
	Waited   time.Duration `json:"waited,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// SessionReport summarizes one completed session.
type SessionReport struct {
	SessionID string        `json:"session_id"`
	Label     string        `json:"label,omitempty"`
	Revision  string        `json:"revision,omitempty"`
	Branch    string        `json:"branch,omitempty"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Duration  time.Duration `json:"duration"`
	Units     []UnitResult  `json:"units"`
}

// Failed returns the units whose build failed. Canceled units are not
// failures; a canceled session is reported through the run error instead.
func (r *SessionReport) Failed() []UnitResult {
	var failed []UnitResult
	for _, u := range r.Units {
		if u.Status == UnitFailed {
			failed = append(failed, u)
		}
	}
	return failed
}
