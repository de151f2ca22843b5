// Package bus implements the inter-thread communication layer the three
// cooperating threads (MTP thread, DM thread, BDC thread) use to hand
// work to one another (spec Design Notes §9: "communicating via bounded
// message queues").
//
// Event fan-out (e.g. "the MTP config changed, everyone interested
// should react") is delegated to the teacher's commbus.InMemoryCommBus
// unchanged — its Publish/Subscribe semantics already fit that need.
// Point-to-point handoffs between threads (inbound/outbound USP records,
// reconnect requests) go through a bounded Queue, an addition this
// package makes because commbus's Send is an unbounded synchronous
// handler call, not a queue a producer can block or shed load against.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/commbus"
)

// defaultQueryTimeout bounds commbus.QuerySync calls made over Events
// (e.g. the admin surface querying live agent state synchronously).
const defaultQueryTimeout = 10 * time.Second

// QueueFullError is returned by Queue.TrySend when the queue is at
// capacity, so a producer thread can apply its own shedding policy
// (e.g. drop the oldest, or block) instead of silently losing data.
type QueueFullError struct {
	Name string
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("bus: queue %q is full", e.Name)
}

// Queue is a bounded, single-consumer FIFO channel of commbus.Message
// values passed between threads.
type Queue struct {
	name string
	ch   chan commbus.Message
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(name string, capacity int) *Queue {
	return &Queue{name: name, ch: make(chan commbus.Message, capacity)}
}

// Send blocks until msg is enqueued or ctx is done.
func (q *Queue) Send(ctx context.Context, msg commbus.Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg without blocking, returning QueueFullError if the
// queue is at capacity.
func (q *Queue) TrySend(msg commbus.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return &QueueFullError{Name: q.name}
	}
}

// Recv blocks until a message is available or ctx is done.
func (q *Queue) Recv(ctx context.Context) (commbus.Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// TryRecv returns the next queued message without blocking, reporting
// false if none is currently available. Used by the event loop to drain
// a burst of same-tick messages (e.g. a storm of ScheduleReconnect) into
// one coalesced action instead of processing each individually.
func (q *Queue) TryRecv() (commbus.Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return nil, false
	}
}

// Bus wires together the three inter-thread channels plus event fan-out
// for the MTP/DM/BDC thread split.
type Bus struct {
	Events commbus.CommBus

	// Inbound carries InboundUspRecord from the MTP thread to the DM
	// thread (a received USP Record awaiting dispatch).
	Inbound *Queue
	// Outbound carries OutboundUspRecord from the DM thread (or the BDC
	// thread, for Boot/periodic Notify) to the MTP thread for transmission.
	Outbound *Queue
	// Reconnects carries ScheduleReconnect from any thread noticing a
	// dead transport to the MTP thread's retry handling.
	Reconnects *Queue
}

// DefaultCapacity bounds each point-to-point queue (spec Design Notes
// §9 gives no exact number; this is large enough to absorb a burst of
// concurrent Notify deliveries without unbounded growth).
const DefaultCapacity = 256

// New creates a Bus with bounded queues of the given capacity and a
// fresh commbus.InMemoryCommBus for event fan-out, logging every
// message that crosses Events through logger.
func New(capacity int, logger commbus.BusLogger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	events := commbus.NewInMemoryCommBusWithLogger(defaultQueryTimeout, logger)
	events.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	return &Bus{
		Events:     events,
		Inbound:    NewQueue("inbound", capacity),
		Outbound:   NewQueue("outbound", capacity),
		Reconnects: NewQueue("reconnects", capacity),
	}
}
