package eventstream

import "context"

// Record pairs a broker-assigned, monotonic stream_message_id with the
// event it carries — the sole unit consumers dedup on.
type Record struct {
	StreamMessageID string
	Event           Event
}

// Broker is the append-only log + channel fan-out of §4.I: publish is
// always non-blocking to the caller (failures are never propagated to
// business logic, only logged by the caller), subscribe opens a
// durable per-subscriber read cursor over one or more channels, and Ack
// retires a delivered record so it is not redelivered to that
// subscriber.
type Broker interface {
	// Publish appends event to the log and routes it to every channel
	// matching its type prefix, plus the subscriber inbox named by
	// event.Target when set.
	Publish(ctx context.Context, event Event) error

	// Subscribe opens (or resumes) subscriberName's durable read
	// cursor over channels and returns a channel of undelivered
	// records. The returned channel is closed when Stop is called for
	// this subscriber.
	Subscribe(ctx context.Context, subscriberName string, channels []string) (<-chan Record, error)

	// Ack retires streamMessageID for subscriberName so it is not
	// redelivered. Idempotent: acking an already-acked id is a no-op.
	Ack(ctx context.Context, subscriberName, streamMessageID string) error

	// Stop cancels subscriberName's subscription and drains in-flight
	// delivery; unacked records remain pending for the next Subscribe.
	// RedisBroker does neither; see RedisBroker.Stop.
	Stop(subscriberName string) error
}

// InboxChannel names the per-target direct-delivery channel for a
// targeted event, distinct from its type-prefix channel.
func InboxChannel(target string) string {
	return "inbox:" + target
}

// RoutingChannels returns every channel event routes to: its type
// prefix channel, plus its target inbox when set.
func RoutingChannels(event Event) []string {
	channels := []string{channelPrefix(event.Type)}
	if event.Target != "" {
		channels = append(channels, InboxChannel(event.Target))
	}
	return channels
}
