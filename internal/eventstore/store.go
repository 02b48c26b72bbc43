// Package eventstore persists the build journal: an append-only record of
// session and unit lifecycle events. The journal is observability output —
// the gating engine never reads it back to make decisions.
package eventstore

import (
	"context"
	"time"
)

// Event types written by the driver and daemon.
const (
	TypeSessionStarted  = "session.started"
	TypeSessionFinished = "session.finished"
	TypeUnitRegistered  = "unit.registered"
	TypeUnitWaiting     = "unit.waiting"
	TypeUnitStarted     = "unit.started"
	TypeUnitCompleted   = "unit.completed"
	TypeUnitFailed      = "unit.failed"
)

// Event is one journal row. Unit is empty for session-level events.
type Event struct {
	ID        int64
	SessionID string
	Unit      string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Metadata  map[string]string
}

// Store defines the interface for persisting and retrieving journal events.
type Store interface {
	// Append adds a new event to the journal. Pass an empty unit for
	// session-level events.
	Append(ctx context.Context, sessionID, unit, eventType string, payload []byte, metadata map[string]string) error

	// GetBySession retrieves all events of one session in append order.
	GetBySession(ctx context.Context, sessionID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}
