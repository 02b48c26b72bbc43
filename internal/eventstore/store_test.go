package eventstore

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore_AppendAndRetrieve(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	payload := []byte(`{"group":"core","variant":"esm"}`)
	metadata := map[string]string{"outcome": "success"}

	err = store.Append(ctx, "session-1", "core-esm", TypeUnitCompleted, payload, metadata)
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.SessionID != "session-1" {
		t.Errorf("expected session-1, got %s", event.SessionID)
	}
	if event.Unit != "core-esm" {
		t.Errorf("expected unit core-esm, got %s", event.Unit)
	}
	if event.Type != TypeUnitCompleted {
		t.Errorf("expected %s, got %s", TypeUnitCompleted, event.Type)
	}
	if !bytes.Equal(event.Payload, payload) {
		t.Errorf("expected payload %s, got %s", payload, event.Payload)
	}
	if event.Metadata["outcome"] != "success" {
		t.Errorf("expected metadata outcome=success, got %v", event.Metadata)
	}
}

func TestSQLiteStore_SessionsAreIsolated(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	_ = store.Append(ctx, "session-1", "", TypeSessionStarted, nil, nil)
	_ = store.Append(ctx, "session-2", "", TypeSessionStarted, nil, nil)
	_ = store.Append(ctx, "session-1", "core-esm", TypeUnitRegistered, nil, nil)

	events, err := store.GetBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events for session-1, got %d", len(events))
	}

	events, err = store.GetBySession(ctx, "session-2")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event for session-2, got %d", len(events))
	}
}

func TestSQLiteStore_GetRange(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	now := time.Now()
	for range 3 {
		if appendErr := store.Append(ctx, "session-1", "", TypeUnitStarted, nil, nil); appendErr != nil {
			t.Fatalf("failed to append event: %v", appendErr)
		}
	}

	events, err := store.GetRange(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to get range: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Append(t.Context(), "session-1", "", TypeSessionStarted, nil, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	events, err := reopened.GetBySession(t.Context(), "session-1")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 persisted event, got %d", len(events))
	}
}
