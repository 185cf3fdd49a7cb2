package eventstream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DefaultRetention is the bounded log size of §4.I ("e.g. last 10 000
// events"); oldest entries are dropped once exceeded.
const DefaultRetention = 10000

// InMemoryBroker is a single-process Broker for tests and dev/"lite
// mode" deployments, grounded on the monotonic-sequence, bounded-log
// style of the teacher's kernel.InMemoryEventLog. It retains the log
// itself plus one buffered delivery channel per subscriber, shared by
// all the channels that subscriber is registered on; records not yet
// Acked are redelivered to a fresh Subscribe call for the same
// subscriber.
type InMemoryBroker struct {
	mu        sync.Mutex
	seq       uint64
	log       []Record
	retention int

	// channelSubs maps channel name -> subscriber names registered on it.
	channelSubs map[string]map[string]bool
	// pending maps subscriber -> streamMessageID -> Record, the
	// not-yet-acked backlog redelivered on every Subscribe.
	pending map[string]map[string]Record
	// out maps subscriber -> delivery channel currently being drained.
	out map[string]chan Record
}

// NewInMemoryBroker constructs an InMemoryBroker retaining at most
// retention log entries (DefaultRetention if <= 0).
func NewInMemoryBroker(retention int) *InMemoryBroker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &InMemoryBroker{
		retention:   retention,
		channelSubs: make(map[string]map[string]bool),
		pending:     make(map[string]map[string]Record),
		out:         make(map[string]chan Record),
	}
}

func (b *InMemoryBroker) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	rec := Record{StreamMessageID: strconv.FormatUint(b.seq, 10), Event: event}

	b.log = append(b.log, rec)
	if len(b.log) > b.retention {
		b.log = b.log[len(b.log)-b.retention:]
	}

	for _, ch := range RoutingChannels(event) {
		for subscriber := range b.channelSubs[ch] {
			if b.pending[subscriber] == nil {
				b.pending[subscriber] = make(map[string]Record)
			}
			b.pending[subscriber][rec.StreamMessageID] = rec
			b.deliverLocked(subscriber, rec)
		}
	}
	return nil
}

// deliverLocked pushes rec onto subscriber's out channel if one is
// currently open, non-blockingly (a full channel just leaves the
// record in pending for the next Subscribe call).
func (b *InMemoryBroker) deliverLocked(subscriber string, rec Record) {
	out, ok := b.out[subscriber]
	if !ok {
		return
	}
	select {
	case out <- rec:
	default:
	}
}

func (b *InMemoryBroker) Subscribe(ctx context.Context, subscriberName string, channels []string) (<-chan Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range channels {
		if b.channelSubs[ch] == nil {
			b.channelSubs[ch] = make(map[string]bool)
		}
		b.channelSubs[ch][subscriberName] = true
	}

	out := make(chan Record, 256)
	b.out[subscriberName] = out

	backlog := b.pending[subscriberName]
	go func() {
		for _, rec := range backlog {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *InMemoryBroker) Ack(ctx context.Context, subscriberName, streamMessageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.pending[subscriberName]; ok {
		delete(sub, streamMessageID)
	}
	return nil
}

func (b *InMemoryBroker) Stop(subscriberName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if out, ok := b.out[subscriberName]; ok {
		close(out)
		delete(b.out, subscriberName)
	}
	return nil
}

// Range returns log entries with stream_message_id in [start, end],
// inclusive, for inspection/testing — mirrors the teacher's
// EventLog.Range.
func (b *InMemoryBroker) Range(start, end uint64) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start == 0 || start > end {
		return nil, fmt.Errorf("eventstream: invalid range [%d, %d]", start, end)
	}
	var out []Record
	for _, rec := range b.log {
		seq, err := strconv.ParseUint(rec.StreamMessageID, 10, 64)
		if err != nil {
			continue
		}
		if seq >= start && seq <= end {
			out = append(out, rec)
		}
	}
	return out, nil
}
