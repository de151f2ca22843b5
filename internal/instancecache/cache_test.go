package instancecache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
)

func newTestCache(t *testing.T, live []uint32) (*Cache, *int, *int) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ic.db"), []byte("k"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := dm.New(db, nil)
	adds, deletes := 0, 0
	require.NoError(t, reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:  "Device.LocalAgent.MTP.{i}.",
		MultiInstance: true,
		RefreshInstances: func() ([]uint32, error) {
			out := make([]uint32, len(live))
			copy(out, live)
			return out, nil
		},
		AddNotify:    func(string) { adds++ },
		DeleteNotify: func(string) { deletes++ },
	}))
	return New(reg, nil), &adds, &deletes
}

func TestInstancesReturnsSorted(t *testing.T) {
	c, _, _ := newTestCache(t, []uint32{3, 1, 2})
	ids, err := c.Instances("Device.LocalAgent.MTP")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, ids)
}

func TestRefreshFiresAddAndDeleteNotify(t *testing.T) {
	live := []uint32{1, 2}
	c, adds, deletes := newTestCache(t, live)

	_, err := c.Instances("Device.LocalAgent.MTP")
	require.NoError(t, err)
	assert.Equal(t, 2, *adds)
	assert.Equal(t, 0, *deletes)

	// Instance 2 goes away and 3 appears: one more add, one delete.
	live[1] = 3
	_, err = c.Instances("Device.LocalAgent.MTP")
	require.NoError(t, err)
	assert.Equal(t, 3, *adds)
	assert.Equal(t, 1, *deletes)
}

func TestAllocateInstanceNeverReused(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	id1, err := c.AllocateInstance("Device.LocalAgent.MTP")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id1)

	c.Forget("Device.LocalAgent.MTP", id1)
	id2, err := c.AllocateInstance("Device.LocalAgent.MTP")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id2, "instance numbers must never be reused")
}
