// Package report renders session reports. Markdown is the source form;
// the daemon's report page derives HTML from it.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/buildgate/internal/driver"
)

// Markdown renders one session as a GitHub-flavored Markdown report.
func Markdown(r *driver.SessionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Build session %s\n\n", heading(r))
	fmt.Fprintf(&b, "- Session: `%s`\n", r.SessionID)
	if r.Revision != "" {
		if r.Branch != "" {
			fmt.Fprintf(&b, "- Revision: `%s` (%s)\n", r.Revision, r.Branch)
		} else {
			fmt.Fprintf(&b, "- Revision: `%s`\n", r.Revision)
		}
	}
	fmt.Fprintf(&b, "- Started: %s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", duration(r.Duration))
	failed := r.Failed()
	fmt.Fprintf(&b, "- Units: %d", len(r.Units))
	if len(failed) > 0 {
		fmt.Fprintf(&b, " (%d failed)", len(failed))
	}
	b.WriteString("\n\n")

	b.WriteString("| Unit | Status | Waited on | Wait | Build |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, u := range r.Units {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(u.Unit), status(u.Status), cell(waitedOn(u)),
			duration(u.Waited), duration(u.Duration))
	}

	if len(failed) > 0 {
		b.WriteString("\n## Failures\n")
		for _, u := range failed {
			fmt.Fprintf(&b, "\n### %s\n\n```\n%s\n```\n", u.Unit, u.Error)
		}
	}
	return b.String()
}

// RenderHTML converts a Markdown report to an HTML fragment. The unit
// table needs the GFM table extension; plain CommonMark has no tables.
func RenderHTML(markdown string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// HTML renders the session report straight to HTML.
func HTML(r *driver.SessionReport) ([]byte, error) {
	return RenderHTML(Markdown(r))
}

func heading(r *driver.SessionReport) string {
	if r.Label != "" {
		return r.Label
	}
	if len(r.SessionID) >= 8 {
		return r.SessionID[:8]
	}
	return r.SessionID
}

func status(s driver.UnitStatus) string {
	switch s {
	case driver.UnitSucceeded:
		return "✅ succeeded"
	case driver.UnitFailed:
		return "❌ failed"
	case driver.UnitCanceled:
		return "🚫 canceled"
	}
	return string(s)
}

func waitedOn(u driver.UnitResult) string {
	if len(u.WaitedOn) == 0 {
		return "—"
	}
	return strings.Join(u.WaitedOn, ", ")
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "—"
	}
	return d.Round(time.Millisecond).String()
}

// cell escapes the table delimiter in user-provided names.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
