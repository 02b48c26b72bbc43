// Package console renders per-unit status lines for interactive hosts.
// One line per state change, in the fixed form the build scripts grep for:
//
//	[CORE] ESM ⏳ Waiting for dependencies...
//	[UTILS] ESM 🚀 No dependencies, starting build...
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"git.home.luguber.info/inful/buildgate/internal/registry"
)

// Icons for the two states a unit announces before its build runs.
const (
	IconWaiting = "⏳"
	IconStart   = "🚀"
)

// Canonical status messages. These are part of the console contract;
// change them and every script parsing build output breaks.
const (
	MsgWaiting      = "Waiting for dependencies..."
	MsgNoDeps       = "No dependencies, starting build..."
	MsgDepsResolved = "Dependencies resolved, starting build..."
)

// Sink receives unit status lines. Implementations must be safe for
// concurrent use; units report from their own goroutines.
type Sink interface {
	UnitStatus(id registry.BuildID, icon, message string)
}

// Writer renders status lines to an io.Writer, one line per call,
// serialized so concurrent units never interleave mid-line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Sink writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// UnitStatus writes "[GROUP] VARIANT <icon> <message>" with group and
// variant upper-cased.
func (c *Writer) UnitStatus(id registry.BuildID, icon, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "[%s] %s %s %s\n",
		strings.ToUpper(id.Group), strings.ToUpper(id.Variant), icon, message)
}

// Discard drops all status lines. Quiet mode and tests use it.
var Discard Sink = discard{}

type discard struct{}

func (discard) UnitStatus(registry.BuildID, string, string) {}

// Capture records status lines in memory for assertions in tests.
type Capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *Capture) UnitStatus(id registry.BuildID, icon, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf("[%s] %s %s %s",
		strings.ToUpper(id.Group), strings.ToUpper(id.Variant), icon, message))
}

// Lines returns a copy of everything captured so far.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}
