package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is the durable Broker backend of §4.I: one Redis Stream
// per routing channel, a consumer group per subscriber, XADD to
// publish, XREADGROUP to block-read a batch, and XACK to retire a
// delivered entry.
type RedisBroker struct {
	client    redis.UniversalClient
	keyPrefix string
	retention int64
	blockFor  time.Duration
	batchSize int64
}

// NewRedisBroker constructs a RedisBroker. keyPrefix namespaces stream
// keys (e.g. "orchestrator:events:"); retention bounds each stream via
// MAXLEN ~ trimming.
func NewRedisBroker(client redis.UniversalClient, keyPrefix string, retention int) *RedisBroker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisBroker{
		client:    client,
		keyPrefix: keyPrefix,
		retention: int64(retention),
		blockFor:  5 * time.Second,
		batchSize: 50,
	}
}

func (b *RedisBroker) streamKey(channel string) string {
	return b.keyPrefix + channel
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventstream: marshal event: %w", err)
	}
	for _, ch := range RoutingChannels(event) {
		args := &redis.XAddArgs{
			Stream: b.streamKey(ch),
			MaxLen: b.retention,
			Approx: true,
			Values: map[string]interface{}{"event": payload},
		}
		if err := b.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("eventstream: xadd %s: %w", ch, err)
		}
	}
	return nil
}

func (b *RedisBroker) ensureGroup(ctx context.Context, channel, subscriber string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.streamKey(channel), subscriber, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("eventstream: create group %s/%s: %w", channel, subscriber, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *RedisBroker) Subscribe(ctx context.Context, subscriberName string, channels []string) (<-chan Record, error) {
	for _, ch := range channels {
		if err := b.ensureGroup(ctx, ch, subscriberName); err != nil {
			return nil, err
		}
	}

	out := make(chan Record, 256)
	streams := make([]string, 0, 2*len(channels))
	for _, ch := range channels {
		streams = append(streams, b.streamKey(ch))
	}
	ids := make([]string, len(channels))
	for i := range ids {
		ids[i] = ">"
	}
	streams = append(streams, ids...)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    subscriberName,
				Consumer: subscriberName,
				Streams:  streams,
				Count:    b.batchSize,
				Block:    b.blockFor,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				continue // transient infra error: retry next loop
			}

			for _, stream := range res {
				for _, msg := range stream.Messages {
					raw, ok := msg.Values["event"].(string)
					if !ok {
						continue
					}
					var ev Event
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						continue
					}
					if ev.Meta == (Meta{}) {
						ev.Meta = DefaultMeta
					}
					select {
					case out <- Record{StreamMessageID: stream.Stream + ":" + msg.ID, Event: ev}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Ack(ctx context.Context, subscriberName, streamMessageID string) error {
	stream, id, err := splitStreamMessageID(streamMessageID)
	if err != nil {
		return err
	}
	return b.client.XAck(ctx, stream, subscriberName, id).Err()
}

// Stop does nothing for a RedisBroker: a subscription ends, and its
// record channel closes, only when the ctx passed to Subscribe is
// cancelled. Subscribe reads only entries never delivered to the
// subscriber's group (ID ">"), so entries delivered but not acked stay
// in the group's pending list and are not re-read by a later Subscribe.
func (b *RedisBroker) Stop(subscriberName string) error {
	return nil
}

func splitStreamMessageID(compound string) (stream, id string, err error) {
	for i := len(compound) - 1; i >= 0; i-- {
		if compound[i] == ':' {
			return compound[:i], compound[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("eventstream: malformed stream_message_id %q", compound)
}
