package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the be-plt-notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_submitted, approval_approved, approval_rejected,
//              approval_cancelled, delegation_assigned, delegation_revoked
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string                 `json:"event_type"`
	EntityID   string                 `json:"entity_id"`
	ActorID    string                 `json:"actor_id"`
	RequestID  string                 `json:"request_id"`
	Severity   string                 `json:"severity,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS. An empty URL returns a disabled
// publisher whose methods are no-ops.
func NewNotificationPublisher(natsURL string, log zerolog.Logger) (*NotificationPublisher, error) {
	if natsURL == "" {
		return &NotificationPublisher{log: log}, nil
	}
	conn, err := nats.Connect(natsURL,
		nats.Name("be-plt-approvals"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the NATS connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishApprovalEvent publishes one workflow event.
// Subject: notifications.approvals.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, requestID, entityID, actorID string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventType: eventType,
		EntityID:  entityID,
		ActorID:   actorID,
		RequestID: requestID,
		Severity:  "info",
		Category:  "approvals",
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", requestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Msg("notification: event published")
}
