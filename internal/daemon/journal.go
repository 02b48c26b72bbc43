package daemon

import (
	"context"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/eventstore"
)

// journalFanout is the daemon's journal: it forwards events to the
// persistent store when one is configured and feeds the session
// history projection live either way. It implements eventstore.Store
// so the driver does not know the difference.
type journalFanout struct {
	store      eventstore.Store // nil when journaling is disabled
	projection *eventstore.SessionHistoryProjection
}

func newJournalFanout(store eventstore.Store, projection *eventstore.SessionHistoryProjection) *journalFanout {
	return &journalFanout{store: store, projection: projection}
}

// Append persists the event and applies it to the projection.
func (j *journalFanout) Append(ctx context.Context, sessionID, unit, eventType string, payload []byte, metadata map[string]string) error {
	if j.store != nil {
		if err := j.store.Append(ctx, sessionID, unit, eventType, payload, metadata); err != nil {
			return err
		}
	}
	j.projection.Apply(eventstore.Event{
		SessionID: sessionID,
		Unit:      unit,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  metadata,
	})
	return nil
}

// GetBySession delegates to the persistent store.
func (j *journalFanout) GetBySession(ctx context.Context, sessionID string) ([]eventstore.Event, error) {
	if j.store == nil {
		return nil, nil
	}
	return j.store.GetBySession(ctx, sessionID)
}

// GetRange delegates to the persistent store.
func (j *journalFanout) GetRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error) {
	if j.store == nil {
		return nil, nil
	}
	return j.store.GetRange(ctx, start, end)
}

// Close closes the persistent store.
func (j *journalFanout) Close() error {
	if j.store == nil {
		return nil
	}
	return j.store.Close()
}

var _ eventstore.Store = (*journalFanout)(nil)
