// Package eventloop implements the DM thread's central event loop (spec
// §4.10): a single-threaded cooperative loop that waits for the earliest
// of (queue message ready, timer due, wake signal) per iteration, runs
// its handler inline, and loops. Handlers must be bounded; nothing here
// blocks on network I/O.
//
// Each registered bus.Queue gets its own goroutine whose only job is to
// Recv and forward onto one shared work channel — a wake-pipe in the
// spec's sense (Design Notes §9), not a second worker: all business
// logic still runs serially on Run's single goroutine. Timer scheduling
// is a container/heap min-heap ordered by deadline, the same priority-queue
// shape the teacher's process scheduler uses for its ready queue
// (coreengine/kernel/lifecycle.go's priorityQueue), reordered here by
// time instead of priority.
package eventloop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/commbus"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
)

// WorkFunc is a unit of bounded work executed on the loop's single
// goroutine: a decoded queue message being dispatched, or a timer firing.
type WorkFunc func(ctx context.Context) error

// ReconnectHandler brings up the named MTP instance, invoked at most
// once per coalesced burst of ScheduleReconnect messages for that id
// (spec §8 testable property: "at-most-once reconnect").
type ReconnectHandler func(ctx context.Context, instanceID int, reason string) error

type queueHandler struct {
	queue  *bus.Queue
	handle func(ctx context.Context, msg commbus.Message) error
}

type timerItem struct {
	name     string
	deadline time.Time
	period   time.Duration // 0 = one-shot
	fn       WorkFunc
	index    int
}

// timerHeap is a container/heap min-heap ordered by deadline (spec
// §4.10: "a min-heap of timers").
type timerHeap []*timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { it := x.(*timerItem); it.index = len(*h); *h = append(*h, it) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Loop is the DM thread's central event loop.
type Loop struct {
	logger logging.Logger

	handlers   []queueHandler
	reconnects *bus.Queue
	onReconnect ReconnectHandler

	work chan WorkFunc

	mu           sync.Mutex
	timers       timerHeap
	timerChanged chan struct{}
}

// New creates a Loop. workCapacity bounds how many decoded messages may
// be queued awaiting processing before a forwarder goroutine blocks
// (applying backpressure to its source queue); 0 selects a sensible
// default.
func New(workCapacity int, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	if workCapacity <= 0 {
		workCapacity = 64
	}
	return &Loop{
		logger:       logger,
		work:         make(chan WorkFunc, workCapacity),
		timerChanged: make(chan struct{}, 1),
	}
}

// AddQueue registers a bus.Queue whose messages are decoded and handled
// inline on the loop's goroutine as they arrive. Must be called before
// Run.
func (l *Loop) AddQueue(q *bus.Queue, handle func(ctx context.Context, msg commbus.Message) error) {
	l.handlers = append(l.handlers, queueHandler{queue: q, handle: handle})
}

// SetReconnectQueue registers the Reconnects queue with a coalescing
// handler: every message currently queued when the first one is
// received is drained and deduplicated by instance id before onReconnect
// runs, so a burst within one tick produces exactly one reconnect
// attempt per instance (spec scenario 6). Must be called before Run.
func (l *Loop) SetReconnectQueue(q *bus.Queue, onReconnect ReconnectHandler) {
	l.reconnects = q
	l.onReconnect = onReconnect
}

// ScheduleAt runs fn once at deadline.
func (l *Loop) ScheduleAt(name string, deadline time.Time, fn WorkFunc) {
	l.mu.Lock()
	heap.Push(&l.timers, &timerItem{name: name, deadline: deadline, fn: fn})
	l.mu.Unlock()
	l.wake()
}

// ScheduleEvery runs fn every period, first firing one period from now
// (e.g. VALUE_CHANGE_POLL_PERIOD ticks, periodic notification intervals).
func (l *Loop) ScheduleEvery(name string, period time.Duration, fn WorkFunc) {
	l.mu.Lock()
	heap.Push(&l.timers, &timerItem{name: name, deadline: time.Now().Add(period), period: period, fn: fn})
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	select {
	case l.timerChanged <- struct{}{}:
	default:
	}
}

func (l *Loop) submit(ctx context.Context, fn WorkFunc) {
	select {
	case l.work <- fn:
	case <-ctx.Done():
	}
}

func (l *Loop) queueForwarder(ctx context.Context, qh queueHandler) {
	for {
		msg, err := qh.queue.Recv(ctx)
		if err != nil {
			return
		}
		m, handle := msg, qh.handle
		l.submit(ctx, func(ctx context.Context) error { return handle(ctx, m) })
	}
}

func (l *Loop) reconnectForwarder(ctx context.Context) {
	for {
		msg, err := l.reconnects.Recv(ctx)
		if err != nil {
			return
		}
		dirty := make(map[int]string)
		addReconnect(dirty, msg)
		for {
			extra, ok := l.reconnects.TryRecv()
			if !ok {
				break
			}
			addReconnect(dirty, extra)
		}
		for id, reason := range dirty {
			instanceID, cause, handle := id, reason, l.onReconnect
			l.submit(ctx, func(ctx context.Context) error { return handle(ctx, instanceID, cause) })
		}
	}
}

func addReconnect(dirty map[int]string, msg commbus.Message) {
	if sr, ok := msg.(*bus.ScheduleReconnect); ok {
		dirty[sr.MTPInstanceID] = sr.Reason
	}
}

// Run starts every registered queue's forwarder goroutine and then runs
// the cooperative loop until ctx is done, draining to a quiescent point
// before returning (spec §5 "Cancellation": "each thread drains its
// input queue to a quiescent point ... then exits").
func (l *Loop) Run(ctx context.Context) error {
	for _, qh := range l.handlers {
		go l.queueForwarder(ctx, qh)
	}
	if l.reconnects != nil && l.onReconnect != nil {
		go l.reconnectForwarder(ctx)
	}

	for {
		var timerC <-chan time.Time
		l.mu.Lock()
		if len(l.timers) > 0 {
			timerC = time.After(time.Until(l.timers[0].deadline))
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.drain()
			return ctx.Err()
		case fn := <-l.work:
			if err := fn(ctx); err != nil {
				l.logger.Warn("eventloop: handler failed", "err", err)
			}
		case <-timerC:
			l.fireDueTimers(ctx)
		case <-l.timerChanged:
			// loop around to recompute the earliest deadline
		}
	}
}

// drain processes any work already queued at shutdown time without
// blocking for more, so in-flight responses aren't silently dropped.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.work:
			if err := fn(context.Background()); err != nil {
				l.logger.Warn("eventloop: handler failed during drain", "err", err)
			}
		default:
			return
		}
	}
}

func (l *Loop) fireDueTimers(ctx context.Context) {
	now := time.Now()
	var due []*timerItem
	l.mu.Lock()
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*timerItem))
	}
	l.mu.Unlock()

	for _, it := range due {
		if err := it.fn(ctx); err != nil {
			l.logger.Warn("eventloop: timer failed", "name", it.name, "err", err)
		}
		if it.period > 0 {
			it.deadline = now.Add(it.period)
			l.mu.Lock()
			heap.Push(&l.timers, it)
			l.mu.Unlock()
		}
	}
}

// PendingTimers reports how many timers are currently scheduled, for the
// admin surface's GetSystemStatus.
func (l *Loop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}
