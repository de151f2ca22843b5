package pathresolver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
)

type fakeLister struct {
	instances map[string][]uint32
}

func (f *fakeLister) Instances(objPath string) ([]uint32, error) {
	return f.instances[objPath], nil
}

func setupRegistry(t *testing.T) (*dm.Registry, *fakeLister) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "pr.db"), []byte("k"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := dm.New(db, nil)
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Status",
		Type:         typeutil.TypeString,
		Access:       dm.ReadOnly,
		Storage:      dm.InDB,
	}))
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool,
		Access:       dm.ReadWrite,
		Storage:      dm.InDB,
	}))
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Port",
		Type:         typeutil.TypeUnsigned,
		Access:       dm.ReadWrite,
		Storage:      dm.InDB,
	}))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.1.Status", "Up", false))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.2.Status", "Error", false))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.1.Enable", "true", false))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.2.Enable", "true", false))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.1.Port", "1001", false))
	require.NoError(t, db.Set("Device.LocalAgent.MTP.2.Port", "80", false))

	lister := &fakeLister{instances: map[string][]uint32{
		"Device.LocalAgent.MTP": {1, 2},
	}}
	return reg, lister
}

func TestResolveWildcardSortedByInstance(t *testing.T) {
	reg, lister := setupRegistry(t)
	r := New(reg, lister)

	paths, err := r.Resolve("Device.LocalAgent.MTP.*.Status", false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Device.LocalAgent.MTP.1.Status",
		"Device.LocalAgent.MTP.2.Status",
	}, paths)
}

func TestResolveIsIdempotent(t *testing.T) {
	reg, lister := setupRegistry(t)
	r := New(reg, lister)

	first, err := r.Resolve("Device.LocalAgent.MTP.*.Status", false)
	require.NoError(t, err)
	second, err := r.Resolve("Device.LocalAgent.MTP.*.Status", false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveFilterExpression(t *testing.T) {
	reg, lister := setupRegistry(t)
	r := New(reg, lister)

	paths, err := r.Resolve("Device.LocalAgent.MTP.[Enable==true && Port>1000].Status", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Device.LocalAgent.MTP.1.Status"}, paths)
}

func TestResolveDanglingReferenceFails(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "ref.db"), []byte("k"))
	require.NoError(t, err)
	defer db.Close()
	reg := dm.New(db, nil)
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.STOMP.Reference",
		Type:         typeutil.TypeString,
		Access:       dm.ReadWrite,
		Storage:      dm.InDB,
	}))
	lister := &fakeLister{instances: map[string][]uint32{"Device.LocalAgent.MTP": {1}}}
	r := New(reg, lister)

	_, err = r.Resolve("Device.LocalAgent.MTP.1.STOMP.Reference#.Status", false)
	require.Error(t, err)
	var dmErr *dm.Error
	require.ErrorAs(t, err, &dmErr)
	assert.Equal(t, dm.KindResolveTargetNotFound, dmErr.Kind)
}
