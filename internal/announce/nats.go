package announce

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSAnnouncer publishes announcements to a NATS subject hierarchy rooted
// at a base subject: <subject>.unit.completed, <subject>.session.started
// and <subject>.session.finished. It uses plain core NATS publishes; an
// announcement that nobody receives is simply gone, which is fine for a
// live status feed.
type NATSAnnouncer struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSAnnouncer connects to the NATS server at url.
func NewNATSAnnouncer(url, subject string, logger *slog.Logger) (*NATSAnnouncer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url, nats.Name("buildgate"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", "url", url, "subject", subject)

	return &NATSAnnouncer{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// UnitCompleted announces a finished unit on <subject>.unit.completed.
func (a *NATSAnnouncer) UnitCompleted(event UnitEvent) error {
	return a.publish("unit.completed", event)
}

// SessionStarted announces a new session on <subject>.session.started.
func (a *NATSAnnouncer) SessionStarted(event SessionEvent) error {
	return a.publish("session.started", event)
}

// SessionFinished announces a finished session on <subject>.session.finished.
func (a *NATSAnnouncer) SessionFinished(event SessionEvent) error {
	return a.publish("session.finished", event)
}

func (a *NATSAnnouncer) publish(suffix string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}

	subject := a.subject + "." + suffix
	if err := a.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	a.logger.Debug("Published announcement", "nats_subject", subject)
	return nil
}

// Close flushes buffered announcements and closes the connection.
func (a *NATSAnnouncer) Close() error {
	if a.conn == nil {
		return nil
	}
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
