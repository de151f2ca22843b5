package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/instancecache"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
)

func newTestManager(t *testing.T) (*Manager, *dm.Registry) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "txn.db"), []byte("k"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := dm.New(db, nil)
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool,
		Access:       dm.ReadWrite,
		Storage:      dm.InDB,
	}))
	require.NoError(t, reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:  "Device.LocalAgent.MTP.{i}.",
		MultiInstance: true,
		RefreshInstances: func() ([]uint32, error) {
			return nil, nil
		},
	}))
	cache := instancecache.New(reg, nil)
	return New(reg, db, cache, nil), reg
}

func TestCommitPersistsAndNotifies(t *testing.T) {
	mgr, reg := newTestManager(t)
	var notified bool
	reg.Parameters()["Device.LocalAgent.MTP.{i}.Enable"].ChangeNotify = func(path, old, new string) { notified = true }

	txn, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.BufferSet("Device.LocalAgent.MTP.1.Enable", "true"))
	require.NoError(t, txn.Commit())

	v, err := reg.Get("Device.LocalAgent.MTP.1.Enable")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
	assert.True(t, notified)
}

func TestAbortDiscardsEdits(t *testing.T) {
	mgr, reg := newTestManager(t)

	txn, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.BufferSet("Device.LocalAgent.MTP.1.Enable", "true"))
	require.NoError(t, txn.Abort())

	// An unset row reads back as the registered default (empty here).
	v, err := reg.Get("Device.LocalAgent.MTP.1.Enable")
	require.NoError(t, err)
	assert.Empty(t, v, "aborted edits must not be observable")
}

func TestNestedBeginRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Begin()
	require.NoError(t, err)
	_, err = mgr.Begin()
	assert.Error(t, err)
}

func TestOperationsAfterCommitFail(t *testing.T) {
	mgr, _ := newTestManager(t)
	txn, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	err = txn.BufferSet("Device.LocalAgent.MTP.1.Enable", "true")
	assert.Error(t, err)
}

func TestAddThenDeleteOrderingAcrossCommits(t *testing.T) {
	mgr, reg := newTestManager(t)

	var order []string
	objDef := reg.Objects()["Device.LocalAgent.MTP.{i}."]
	objDef.AddNotify = func(string) { order = append(order, "add") }
	objDef.DeleteNotify = func(string) { order = append(order, "delete") }

	txn, err := mgr.Begin()
	require.NoError(t, err)
	id, err := txn.BufferAdd("Device.LocalAgent.MTP", map[string]string{"Enable": "true"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
	require.NoError(t, txn.Commit())
	assert.Equal(t, []string{"add"}, order)

	txn2, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, txn2.BufferDelete("Device.LocalAgent.MTP.1."))
	require.NoError(t, txn2.Commit())
	assert.Equal(t, []string{"add", "delete"}, order)
}
