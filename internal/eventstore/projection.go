package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	sessionStatusRunning   = "running"
	sessionStatusSucceeded = "succeeded"
	sessionStatusFailed    = "failed"
)

// SessionSummary is a read model summarizing one build session.
type SessionSummary struct {
	SessionID  string        `json:"session_id"`
	Label      string        `json:"label,omitempty"`
	Status     string        `json:"status"` // "running", "succeeded", "failed"
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Units      int           `json:"units"`
	Waited     int           `json:"waited"`
	Failed     int           `json:"failed"`
}

// SessionHistoryProjection maintains an in-memory view of recent sessions,
// reconstructed from journal events. The daemon feeds it live via Apply
// and rebuilds it from the store at startup.
type SessionHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*SessionSummary
	history  []*SessionSummary // newest first
	maxSize  int
}

// NewSessionHistoryProjection creates a projection backed by the given store.
func NewSessionHistoryProjection(store Store, maxHistorySize int) *SessionHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 50
	}
	return &SessionHistoryProjection{
		store:    store,
		sessions: make(map[string]*SessionSummary),
		history:  make([]*SessionSummary, 0, maxHistorySize),
		maxSize:  maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// Typically called at daemon startup.
func (p *SessionHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = make(map[string]*SessionSummary)
	p.history = make([]*SessionSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyLocked(event)
	}
	return nil
}

// Apply processes a single event for real-time updates.
func (p *SessionHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(event)
}

func (p *SessionHistoryProjection) applyLocked(event Event) {
	if event.SessionID == "" {
		return
	}

	summary, exists := p.sessions[event.SessionID]
	if !exists {
		summary = &SessionSummary{
			SessionID: event.SessionID,
			Status:    sessionStatusRunning,
			StartedAt: event.Timestamp,
		}
		p.sessions[event.SessionID] = summary
	}

	switch event.Type {
	case TypeSessionStarted:
		summary.StartedAt = event.Timestamp
		summary.Status = sessionStatusRunning
		var payload struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			summary.Label = payload.Label
		}

	case TypeUnitRegistered:
		summary.Units++

	case TypeUnitWaiting:
		summary.Waited++

	case TypeUnitFailed:
		summary.Failed++

	case TypeSessionFinished:
		finished := event.Timestamp
		summary.FinishedAt = &finished
		summary.Duration = finished.Sub(summary.StartedAt)
		summary.Status = sessionStatusSucceeded
		var payload struct {
			Failed int `json:"failed"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err == nil && payload.Failed > 0 {
			summary.Status = sessionStatusFailed
		}
		p.addToHistoryLocked(summary)
	}
}

// addToHistoryLocked records a finished session, newest first, bounded.
func (p *SessionHistoryProjection) addToHistoryLocked(summary *SessionSummary) {
	for _, h := range p.history {
		if h.SessionID == summary.SessionID {
			return
		}
	}
	p.history = append([]*SessionSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		dropped := p.history[p.maxSize:]
		p.history = p.history[:p.maxSize]
		// Finished sessions outside the bounded history are not kept in
		// the by-id map either; running sessions always survive.
		for _, d := range dropped {
			if d.Status != sessionStatusRunning {
				delete(p.sessions, d.SessionID)
			}
		}
	}
}

// History returns recent finished sessions, newest first.
func (p *SessionHistoryProjection) History() []*SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*SessionSummary, len(p.history))
	copy(out, p.history)
	return out
}

// Get returns the summary for a specific session.
func (p *SessionHistoryProjection) Get(sessionID string) (*SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	summary, exists := p.sessions[sessionID]
	if !exists {
		return nil, false
	}
	cp := *summary
	return &cp, true
}

// Active returns the currently running session, if any.
func (p *SessionHistoryProjection) Active() *SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, summary := range p.sessions {
		if summary.Status == sessionStatusRunning {
			cp := *summary
			return &cp
		}
	}
	return nil
}
