// Package eventstream implements the ordered append log, channel
// fan-out, and idempotent consumer loop of §4.I: a Broker carries
// Event envelopes, routes them to channels by type prefix or a named
// subscriber inbox, and a Consumer drains them exactly once per
// subscriber via a DedupStore keyed on the broker-assigned
// stream_message_id — never on event.id, which is audit-only.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

// Meta carries the envelope's schema/producer identity. A missing Meta
// on decode is treated as {schema_version:1, producer:"legacy"} per
// §4.I's backward-compatibility rule.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	Producer      string `json:"producer"`
	SourceModule  string `json:"source_module,omitempty"`
}

// DefaultMeta is the Meta New stamps on every event, and the Meta
// RedisBroker substitutes when a decoded envelope carries none.
var DefaultMeta = Meta{SchemaVersion: 1, Producer: "legacy"}

// Event is the mandatory envelope of §3. ID is audit-only; the dedup
// key is always the broker-assigned stream message id, carried
// alongside the event by the broker, never this field.
type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	Target        string                 `json:"target,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	ActorID       string                 `json:"actor_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	MissionID     string                 `json:"mission_id,omitempty"`
	TaskID        string                 `json:"task_id,omitempty"`
	Severity      string                 `json:"severity,omitempty"`
	Meta          Meta                   `json:"meta"`
}

// New constructs an Event with a fresh id, UTC timestamp, and
// DefaultMeta, ready for Broker.Publish.
func New(eventType, source string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Meta:      DefaultMeta,
	}
}

// ProcessedEvent is the per-subscriber dedup record of §3; its primary
// key is (Subscriber, StreamMessageID).
type ProcessedEvent struct {
	Subscriber      string                 `json:"subscriber"`
	StreamMessageID string                 `json:"stream_message_id"`
	EventID         string                 `json:"event_id"`
	EventType       string                 `json:"event_type"`
	ProcessedAt     time.Time              `json:"processed_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// channelPrefix returns the routing channel for an event type:
// everything up to and including the first '.', e.g. "mission.created"
// routes to "mission.*".
func channelPrefix(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i] + ".*"
		}
	}
	return eventType
}
