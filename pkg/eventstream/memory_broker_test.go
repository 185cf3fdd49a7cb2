package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBroker_PublishDeliversToSubscribedChannel(t *testing.T) {
	b := NewInMemoryBroker(0)
	ctx := context.Background()

	records, err := b.Subscribe(ctx, "sub-a", []string{"mission.*"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, New("mission.created", "test", nil)))

	select {
	case rec := <-records:
		assert.Equal(t, "mission.created", rec.Event.Type)
		assert.NotEmpty(t, rec.StreamMessageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryBroker_UnackedRedeliveredOnResubscribe(t *testing.T) {
	b := NewInMemoryBroker(0)
	ctx := context.Background()

	records, err := b.Subscribe(ctx, "sub-a", []string{"mission.*"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, New("mission.created", "test", nil)))

	<-records // delivered but not acked
	require.NoError(t, b.Stop("sub-a"))

	records2, err := b.Subscribe(ctx, "sub-a", []string{"mission.*"})
	require.NoError(t, err)

	select {
	case rec := <-records2:
		assert.Equal(t, "mission.created", rec.Event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected redelivery of unacked record")
	}
}

func TestInMemoryBroker_AckStopsRedelivery(t *testing.T) {
	b := NewInMemoryBroker(0)
	ctx := context.Background()

	records, err := b.Subscribe(ctx, "sub-a", []string{"mission.*"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, New("mission.created", "test", nil)))

	rec := <-records
	require.NoError(t, b.Ack(ctx, "sub-a", rec.StreamMessageID))
	require.NoError(t, b.Stop("sub-a"))

	records2, err := b.Subscribe(ctx, "sub-a", []string{"mission.*"})
	require.NoError(t, err)

	select {
	case <-records2:
		t.Fatal("did not expect redelivery of acked record")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBroker_Range(t *testing.T) {
	b := NewInMemoryBroker(0)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, New("mission.created", "test", nil)))
	require.NoError(t, b.Publish(ctx, New("mission.completed", "test", nil)))

	recs, err := b.Range(1, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
