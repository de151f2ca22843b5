package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/commbus"
)

func TestQueueHandlerRunsOnArrival(t *testing.T) {
	l := New(8, nil)
	q := bus.NewQueue("test", 8)

	var got atomic.Int32
	l.AddQueue(q, func(ctx context.Context, msg commbus.Message) error {
		got.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	require.NoError(t, q.Send(context.Background(), &bus.OutboundUspRecord{ToEndpointID: "a"}))

	require.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReconnectBurstCoalescesToOneCall(t *testing.T) {
	l := New(8, nil)
	q := bus.NewQueue("reconnects", 256)

	// Queue 100 ScheduleReconnect messages for the same instance before
	// Run starts, so the forwarder's first Recv+drain pass collects them
	// all in one coalesced burst (spec scenario 6).
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Send(context.Background(), &bus.ScheduleReconnect{MTPInstanceID: 1, Reason: "config_changed"}))
	}

	var calls atomic.Int32
	l.SetReconnectQueue(q, func(ctx context.Context, instanceID int, reason string) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduleEveryFiresRepeatedly(t *testing.T) {
	l := New(8, nil)
	var ticks atomic.Int32
	l.ScheduleEvery("test-tick", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduleAtFiresOnce(t *testing.T) {
	l := New(8, nil)
	var calls atomic.Int32
	l.ScheduleAt("test-once", time.Now().Add(10*time.Millisecond), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
