// Package announce publishes one-way build announcements to NATS so other
// systems (dashboards, notifiers) can follow along. Announcements are
// strictly outbound: nothing in the gating path waits on them, and a
// failed publish never fails a build.
package announce

import "time"

// UnitEvent announces one unit completing.
type UnitEvent struct {
	SessionID string    `json:"session_id"`
	Unit      string    `json:"unit"`
	Group     string    `json:"group"`
	Variant   string    `json:"variant"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent announces a session starting or finishing.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Label     string    `json:"label,omitempty"`
	Units     int       `json:"units,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer publishes build announcements.
type Announcer interface {
	UnitCompleted(event UnitEvent) error
	SessionStarted(event SessionEvent) error
	SessionFinished(event SessionEvent) error
	Close() error
}

// Noop discards all announcements (default when NATS is not configured).
type Noop struct{}

func (Noop) UnitCompleted(UnitEvent) error      { return nil }
func (Noop) SessionStarted(SessionEvent) error  { return nil }
func (Noop) SessionFinished(SessionEvent) error { return nil }
func (Noop) Close() error                       { return nil }
