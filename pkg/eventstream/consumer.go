package eventstream

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerflow/orchestrator/pkg/audit"
)

// HandlerError distinguishes a permanent failure (schema/contract
// violation — the record is marked processed with error metadata and
// acked, since redelivery cannot help) from a transient one
// (infrastructure — left unacked for redelivery), per §4.I step 2.b.
type HandlerError struct {
	Err       error
	Permanent bool
}

func (e *HandlerError) Error() string { return e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent handler error.
func Permanent(err error) error { return &HandlerError{Err: err, Permanent: true} }

// Transient wraps err as a transient handler error.
func Transient(err error) error { return &HandlerError{Err: err, Permanent: false} }

func isPermanent(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Permanent
	}
	return false // unclassified errors default to transient: safer to retry
}

// Handler processes one delivered event. Its error, if any, must be
// produced via Permanent or Transient to steer dedup/ack behavior.
type Handler func(ctx context.Context, event Event) error

// Consumer runs one subscriber's durable consumer_loop against a
// Broker, deduping via a DedupStore keyed on stream_message_id.
type Consumer struct {
	broker     Broker
	dedup      DedupStore
	logger     audit.Logger
	subscriber string
}

// NewConsumer constructs a Consumer for subscriberName. logger may be
// nil.
func NewConsumer(broker Broker, dedup DedupStore, logger audit.Logger, subscriberName string) *Consumer {
	return &Consumer{broker: broker, dedup: dedup, logger: logger, subscriber: subscriberName}
}

// Run subscribes to channels and processes records with handler until
// ctx is cancelled. It blocks; callers typically run it in its own
// goroutine and cancel ctx to stop (§4.I's stop() semantics).
func (c *Consumer) Run(ctx context.Context, channels []string, handler Handler) error {
	records, err := c.broker.Subscribe(ctx, c.subscriber, channels)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.broker.Stop(c.subscriber)
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			c.process(ctx, rec, handler)
		}
	}
}

func (c *Consumer) process(ctx context.Context, rec Record, handler Handler) {
	seen, err := c.dedup.Seen(ctx, c.subscriber, rec.StreamMessageID)
	if err != nil {
		c.record(ctx, "eventstream.dedup_check_failed", rec, map[string]interface{}{"error": err.Error()})
		return // transient: leave unacked for redelivery
	}
	if seen {
		_ = c.broker.Ack(ctx, c.subscriber, rec.StreamMessageID)
		return
	}

	handleErr := handler(ctx, rec.Event)
	if handleErr == nil {
		_ = c.dedup.MarkProcessed(ctx, ProcessedEvent{
			Subscriber: c.subscriber, StreamMessageID: rec.StreamMessageID,
			EventID: rec.Event.ID, EventType: rec.Event.Type, ProcessedAt: time.Now().UTC(),
		})
		_ = c.broker.Ack(ctx, c.subscriber, rec.StreamMessageID)
		return
	}

	if isPermanent(handleErr) {
		_ = c.dedup.MarkProcessed(ctx, ProcessedEvent{
			Subscriber: c.subscriber, StreamMessageID: rec.StreamMessageID,
			EventID: rec.Event.ID, EventType: rec.Event.Type, ProcessedAt: time.Now().UTC(),
			Metadata: map[string]interface{}{"error": handleErr.Error(), "permanent": true},
		})
		_ = c.broker.Ack(ctx, c.subscriber, rec.StreamMessageID)
		c.record(ctx, "eventstream.handler_permanent_error", rec, map[string]interface{}{"error": handleErr.Error()})
		return
	}

	// Transient: do not ack, do not mark processed; left for redelivery.
	c.record(ctx, "eventstream.handler_transient_error", rec, map[string]interface{}{"error": handleErr.Error()})
}

func (c *Consumer) record(ctx context.Context, name string, rec Record, metadata map[string]interface{}) {
	if c.logger == nil {
		return
	}
	metadata["subscriber"] = c.subscriber
	metadata["stream_message_id"] = rec.StreamMessageID
	metadata["event_type"] = rec.Event.Type
	_ = c.logger.Record(ctx, audit.EventStream, name, rec.Event.TenantID, metadata)
}
