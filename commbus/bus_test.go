package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(30 * time.Second)
}

// testEvent and testQuery stand in for the real, domain-owned messages
// (bus.InboundUspRecord and friends) so these tests exercise only the
// generic bus mechanics, not any particular domain's wire types.
type testEvent struct {
	Tag string
}

func (m *testEvent) Category() string    { return string(MessageCategoryEvent) }
func (m *testEvent) MessageType() string { return "testEvent" }

type testQuery struct{}

func (m *testQuery) Category() string    { return string(MessageCategoryQuery) }
func (m *testQuery) MessageType() string { return "testQuery" }
func (m *testQuery) IsQuery()            {}

type testCommand struct{}

func (m *testCommand) Category() string    { return string(MessageCategoryCommand) }
func (m *testCommand) MessageType() string { return "testCommand" }

type testCommand2 struct{}

func (m *testCommand2) Category() string    { return string(MessageCategoryCommand) }
func (m *testCommand2) MessageType() string { return "testCommand2" }

// untypedMessage has no MessageType method, so the bus cannot name it.
type untypedMessage struct{}

func (m *untypedMessage) Category() string { return string(MessageCategoryCommand) }

func countingHandler(counter *int32) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(counter, 1)
		return "ok", nil
	}
}

func failingHandler(errMsg string) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New(errMsg)
	}
}

// recordingMiddleware counts how many times Before/After ran.
type recordingMiddleware struct {
	before int32
	after  int32
}

func (m *recordingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	atomic.AddInt32(&m.before, 1)
	return message, nil
}

func (m *recordingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	atomic.AddInt32(&m.after, 1)
	return result, nil
}

// abortingMiddleware aborts processing by returning a nil message.
type abortingMiddleware struct{}

func (abortingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return nil, nil
}

func (abortingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, err
}

// =============================================================================
// PUBLISH / SUBSCRIBE
// =============================================================================

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	var a, b int32
	bus.Subscribe("testEvent", countingHandler(&a))
	bus.Subscribe("testEvent", countingHandler(&b))

	require.NoError(t, bus.Publish(context.Background(), &testEvent{Tag: "x"}))

	assert.EqualValues(t, 1, atomic.LoadInt32(&a))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b))
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	bus := newTestBus()
	assert.NoError(t, bus.Publish(context.Background(), &testEvent{}))
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	bus := newTestBus()
	var count int32
	unsub := bus.Subscribe("testEvent", countingHandler(&count))
	unsub()
	// Idempotent: calling twice must not panic or double-remove.
	unsub()

	require.NoError(t, bus.Publish(context.Background(), &testEvent{}))
	assert.EqualValues(t, 0, atomic.LoadInt32(&count))
}

func TestSubscriberErrorDoesNotBlockOtherSubscribers(t *testing.T) {
	bus := newTestBus()
	var ran int32
	bus.Subscribe("testEvent", failingHandler("boom"))
	bus.Subscribe("testEvent", countingHandler(&ran))

	require.NoError(t, bus.Publish(context.Background(), &testEvent{}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

// =============================================================================
// SEND
// =============================================================================

func TestSendDispatchesToRegisteredHandler(t *testing.T) {
	bus := newTestBus()
	var count int32
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(&count)))

	require.NoError(t, bus.Send(context.Background(), &testCommand{}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestSendWithNoHandlerIsANoop(t *testing.T) {
	bus := newTestBus()
	assert.NoError(t, bus.Send(context.Background(), &testCommand{}))
}

func TestSendReturnsHandlerError(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("testCommand", failingHandler("nope")))

	err := bus.Send(context.Background(), &testCommand{})
	assert.EqualError(t, err, "nope")
}

func TestRegisterHandlerRejectsDuplicate(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(new(int32))))

	err := bus.RegisterHandler("testCommand", countingHandler(new(int32)))
	var already *HandlerAlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

// =============================================================================
// QUERYSYNC
// =============================================================================

func TestQuerySyncReturnsHandlerResult(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("testQuery", func(ctx context.Context, msg Message) (any, error) {
		return "answer", nil
	}))

	v, err := bus.QuerySync(context.Background(), &testQuery{})
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
}

func TestQuerySyncWithNoHandlerReturnsNoHandlerError(t *testing.T) {
	bus := newTestBus()
	_, err := bus.QuerySync(context.Background(), &testQuery{})
	var noHandler *NoHandlerError
	assert.ErrorAs(t, err, &noHandler)
}

func TestQuerySyncTimesOut(t *testing.T) {
	bus := NewInMemoryCommBus(10 * time.Millisecond)
	require.NoError(t, bus.RegisterHandler("testQuery", func(ctx context.Context, msg Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := bus.QuerySync(context.Background(), &testQuery{})
	var timeout *QueryTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestMiddlewareRunsBeforeAndAfter(t *testing.T) {
	bus := newTestBus()
	mw := &recordingMiddleware{}
	bus.AddMiddleware(mw)
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(new(int32))))

	require.NoError(t, bus.Send(context.Background(), &testCommand{}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&mw.before))
	assert.EqualValues(t, 1, atomic.LoadInt32(&mw.after))
}

func TestMiddlewareCanAbortProcessing(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(abortingMiddleware{})
	var count int32
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(&count)))

	require.NoError(t, bus.Send(context.Background(), &testCommand{}))
	assert.EqualValues(t, 0, atomic.LoadInt32(&count))
}

func TestLoggingMiddlewareDoesNotAlterFlow(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(NewLoggingMiddleware(NoopBusLogger()))
	var count int32
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(&count)))
	require.NoError(t, bus.Send(context.Background(), &testCommand{}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&count))

	bus.RegisterHandler("testCommand2", failingHandler("boom")) //nolint:errcheck
	// LoggingMiddleware.After must still surface the handler's error.
	assert.EqualError(t, bus.Send(context.Background(), &testCommand2{}), "boom")
}

// =============================================================================
// INTROSPECTION / LIFECYCLE
// =============================================================================

func TestHasHandlerReflectsRegistration(t *testing.T) {
	bus := newTestBus()
	assert.False(t, bus.HasHandler("testCommand"))
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(new(int32))))
	assert.True(t, bus.HasHandler("testCommand"))
}

func TestGetSubscribersReturnsAllSubscribers(t *testing.T) {
	bus := newTestBus()
	bus.Subscribe("testEvent", countingHandler(new(int32)))
	bus.Subscribe("testEvent", countingHandler(new(int32)))
	assert.Len(t, bus.GetSubscribers("testEvent"), 2)
}

func TestClearRemovesHandlersSubscribersAndMiddleware(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("testCommand", countingHandler(new(int32))))
	bus.Subscribe("testEvent", countingHandler(new(int32)))
	bus.AddMiddleware(&recordingMiddleware{})

	bus.Clear()

	assert.False(t, bus.HasHandler("testCommand"))
	assert.Empty(t, bus.GetSubscribers("testEvent"))
}

func TestSetLoggerAcceptsNilAsDefault(t *testing.T) {
	bus := newTestBus()
	assert.NotPanics(t, func() { bus.SetLogger(nil) })
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPublishIsSafeForConcurrentSubscribers(t *testing.T) {
	bus := newTestBus()
	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		bus.Subscribe("testEvent", func(ctx context.Context, msg Message) (any, error) {
			defer wg.Done()
			atomic.AddInt32(&count, 1)
			return nil, nil
		})
	}

	require.NoError(t, bus.Publish(context.Background(), &testEvent{}))
	wg.Wait()
	assert.EqualValues(t, 20, atomic.LoadInt32(&count))
}

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

func TestGetMessageTypeUsesTypedMessage(t *testing.T) {
	assert.Equal(t, "testEvent", GetMessageType(&testEvent{}))
}

func TestGetMessageTypeFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", GetMessageType(&untypedMessage{}))
}

var _ CommBus = (*InMemoryCommBus)(nil)
