package agentmtp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
)

type fakeCap struct {
	started, stopped int
	status            mtp.Status
}

func (f *fakeCap) Start(ctx context.Context) error { f.started++; f.status = mtp.StatusUp; return nil }
func (f *fakeCap) Stop(ctx context.Context) error  { f.stopped++; f.status = mtp.StatusDown; return nil }
func (f *fakeCap) Status() mtp.Status              { return f.status }
func (f *fakeCap) Send(ctx context.Context, dest string, payload []byte) error { return nil }

func newFakeFactories() (map[string]Factory, map[int]*fakeCap) {
	made := make(map[int]*fakeCap)
	f := func(cfg mtp.Config) mtp.Capability {
		c := &fakeCap{}
		made[cfg.InstanceID] = c
		return c
	}
	return map[string]Factory{"STOMP": f, "CoAP": f}, made
}

func TestReconcileStartsNewRows(t *testing.T) {
	factories, made := newFakeFactories()
	tbl := New(factories, nil)

	err := tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 1, Protocol: "STOMP", Enable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, made[1].started)
	c, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Equal(t, mtp.StatusUp, c.Status())
}

func TestReconcileStopsRemovedRows(t *testing.T) {
	factories, made := newFakeFactories()
	tbl := New(factories, nil)
	rows := []mtp.Config{{InstanceID: 1, Protocol: "STOMP", Enable: true}}
	require.NoError(t, tbl.Reconcile(context.Background(), rows))

	require.NoError(t, tbl.Reconcile(context.Background(), nil))
	assert.Equal(t, 1, made[1].stopped)
	_, ok := tbl.Get(1)
	assert.False(t, ok)
}

func TestReconcileRestartsChangedRows(t *testing.T) {
	factories, made := newFakeFactories()
	tbl := New(factories, nil)
	require.NoError(t, tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 1, Protocol: "STOMP", Enable: true, STOMPHost: "a.example"},
	}))
	original := made[1]

	require.NoError(t, tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 1, Protocol: "STOMP", Enable: true, STOMPHost: "b.example"},
	}))
	assert.Equal(t, 1, original.stopped)
	assert.Equal(t, 1, made[1].started)
	assert.NotSame(t, original, made[1])
}

func TestReconcileUnknownProtocolErrors(t *testing.T) {
	tbl := New(nil, nil)
	err := tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 1, Protocol: "SMTP", Enable: true},
	})
	assert.Error(t, err)
}

func TestFindByProtocolReturnsLowestMatchingInstance(t *testing.T) {
	factories, _ := newFakeFactories()
	tbl := New(factories, nil)
	require.NoError(t, tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 2, Protocol: "STOMP", Enable: true},
		{InstanceID: 1, Protocol: "STOMP", Enable: true},
		{InstanceID: 3, Protocol: "CoAP", Enable: true},
	}))

	cap, id, ok := tbl.FindByProtocol("STOMP")
	require.True(t, ok)
	assert.Equal(t, 1, id)
	assert.NotNil(t, cap)

	_, _, ok = tbl.FindByProtocol("unknown")
	assert.False(t, ok)
}

func TestStopAllStopsEveryInstance(t *testing.T) {
	factories, made := newFakeFactories()
	tbl := New(factories, nil)
	require.NoError(t, tbl.Reconcile(context.Background(), []mtp.Config{
		{InstanceID: 1, Protocol: "STOMP", Enable: true},
		{InstanceID: 2, Protocol: "CoAP", Enable: true},
	}))
	require.NoError(t, tbl.StopAll(context.Background()))
	assert.Equal(t, 1, made[1].stopped)
	assert.Equal(t, 1, made[2].stopped)
}
