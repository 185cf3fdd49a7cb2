// Package audit provides structured, append-only recording of governance
// events (validation decisions, approval lifecycle, diff-audit results,
// execution/rollback progress) emitted throughout the orchestrator.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit record by the governance stage that
// produced it.
type EventType string

const (
	EventValidation EventType = "VALIDATION"
	EventApproval   EventType = "APPROVAL"
	EventDiffAudit  EventType = "DIFF_AUDIT"
	EventExecution  EventType = "EXECUTION"
	EventGovernor   EventType = "GOVERNOR"
	EventEvidence   EventType = "EVIDENCE"
	EventStream     EventType = "EVENT_STREAM"
)

// Event is a structured audit record. Fields mirror the event names named
// throughout the governance components (e.g. "ir.validated_pass",
// "ir.approval_consumed", "execution_graph_completed").
type Event struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Type      EventType              `json:"type"`
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records audit events. Implementations must be safe for
// concurrent use; node implementers never call Logger directly — only
// the approval ledger, governor, executor, event-stream consumer, and
// gateway do, per the node-abstraction contract.
type Logger interface {
	Record(ctx context.Context, eventType EventType, name, tenantID string, metadata map[string]interface{}) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing one JSON record per line to
// stdout, each line prefixed with "AUDIT: ".
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to w. Used in tests and to
// redirect audit output to an evidence-pack buffer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, name, tenantID string, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
	return err
}

// BufferingLogger wraps another Logger and also retains every recorded
// event in memory, in emission order, so a gateway orchestrator run can
// hand its event slice to the evidence pack builder (§4.J).
type BufferingLogger struct {
	mu     sync.Mutex
	inner  Logger
	events []Event
}

// NewBufferingLogger wraps inner (nil is allowed — events are only
// buffered, not also written elsewhere).
func NewBufferingLogger(inner Logger) *BufferingLogger {
	return &BufferingLogger{inner: inner}
}

func (b *BufferingLogger) Record(ctx context.Context, eventType EventType, name, tenantID string, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()

	if b.inner != nil {
		return b.inner.Record(ctx, eventType, name, tenantID, metadata)
	}
	return nil
}

// Events returns a copy of all events recorded so far, in order.
func (b *BufferingLogger) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
