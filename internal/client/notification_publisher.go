package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Expense approval event types. The full subject is <prefix>.<event_type>.
const (
	EventExpenseSubmitted  = "expense_submitted"
	EventApprovalRequired  = "approval_required"
	EventExpenseApproved   = "expense_approved"
	EventExpenseRejected   = "expense_rejected"
	EventApprovalDelegated = "approval_delegated"
	EventApprovalOverdue   = "approval_overdue"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "notifications.expenses"

// MessagePublisher is the part of *nats.Conn the publisher uses.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes expense approval events to NATS for the
// notifications service.
//
// All publish operations are non-fatal: errors are logged but never returned,
// so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   MessagePublisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil conn (or nil *nats.Conn)
// turns every publish into a no-op.
func NewNotificationPublisher(conn MessagePublisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if nc, ok := conn.(*nats.Conn); ok && nc == nil {
		conn = nil
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// ConnectNATS dials NATS with reconnect handlers that log through log.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// PublishExpenseEvent publishes an expense approval event.
// Subject: <prefix>.<eventType>
func (p *NotificationPublisher) PublishExpenseEvent(ctx context.Context, eventType, expenseID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}
	if err := ctx.Err(); err != nil {
		p.log.Debug().Err(err).Str("event_type", eventType).Msg("notification: context done, skipping")
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "expense",
		ResourceID:   expenseID,
		IsActionable: eventType == EventApprovalRequired || eventType == EventApprovalOverdue,
		Severity:     severityFor(eventType),
		Category:     "expense_approval",
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.prefix + "." + eventType
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", expenseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", expenseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func severityFor(eventType string) string {
	switch eventType {
	case EventExpenseRejected, EventApprovalOverdue:
		return "warning"
	default:
		return "info"
	}
}
