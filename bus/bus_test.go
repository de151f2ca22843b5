package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/commbus"
)

func TestQueueSendRecvRoundTrip(t *testing.T) {
	q := NewQueue("test", 2)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, &InboundUspRecord{FromEndpointID: "os::acs-1"}))

	msg, err := q.Recv(ctx)
	require.NoError(t, err)
	rec, ok := msg.(*InboundUspRecord)
	require.True(t, ok)
	assert.Equal(t, "os::acs-1", rec.FromEndpointID)
}

func TestQueueTrySendFullReturnsError(t *testing.T) {
	q := NewQueue("test", 1)
	require.NoError(t, q.TrySend(&InboundUspRecord{}))
	err := q.TrySend(&InboundUspRecord{})
	assert.Error(t, err)
	var full *QueueFullError
	assert.ErrorAs(t, err, &full)
}

func TestQueueRecvRespectsContextCancellation(t *testing.T) {
	q := NewQueue("test", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusEventsPublishSubscribe(t *testing.T) {
	b := New(0, commbus.NoopBusLogger())
	received := make(chan *MtpConfigChanged, 1)
	b.Events.Subscribe("MtpConfigChanged", func(ctx context.Context, msg commbus.Message) (any, error) {
		received <- msg.(*MtpConfigChanged)
		return nil, nil
	})

	require.NoError(t, b.Events.Publish(context.Background(), &MtpConfigChanged{InstanceIDs: []int{1, 2}}))

	select {
	case m := <-received:
		assert.Equal(t, []int{1, 2}, m.InstanceIDs)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
