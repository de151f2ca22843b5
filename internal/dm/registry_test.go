package dm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
)

func newTestRegistry(t *testing.T) (*Registry, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "dm.db"), []byte("k"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

func TestRegisterParameterDuplicateFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &ParameterDef{PathTemplate: "Device.DeviceInfo.SerialNumber", Type: typeutil.TypeString, Access: ReadOnly, Storage: Constant, Default: "X"}
	require.NoError(t, r.RegisterParameter(p))
	err := r.RegisterParameter(p)
	assert.Error(t, err)
}

func TestRegisterAfterFreezeFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Freeze()
	err := r.RegisterParameter(&ParameterDef{PathTemplate: "Device.X", Type: typeutil.TypeString, Storage: Constant})
	assert.Error(t, err)
}

func TestGetConstantParameter(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterParameter(&ParameterDef{
		PathTemplate: "Device.DeviceInfo.Manufacturer",
		Type:         typeutil.TypeString,
		Access:       ReadOnly,
		Storage:      Constant,
		Default:      "ACME",
	}))
	v, err := r.Get("Device.DeviceInfo.Manufacturer")
	require.NoError(t, err)
	assert.Equal(t, "ACME", v)
}

func TestSetReadOnlyParameterRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterParameter(&ParameterDef{
		PathTemplate: "Device.DeviceInfo.UpTime",
		Type:         typeutil.TypeUnsigned,
		Access:       ReadOnly,
		Storage:      Computed,
		Getter:       func(string) (string, error) { return "42", nil },
	}))
	_, _, err := r.ValidateSet("Device.DeviceInfo.UpTime", "1")
	require.Error(t, err)
	var dmErr *Error
	require.ErrorAs(t, err, &dmErr)
	assert.Equal(t, KindParamReadOnly, dmErr.Kind)
}

func TestSetInvalidValueRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterParameter(&ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool,
		Access:       ReadWrite,
		Storage:      InDB,
	}))
	_, _, err := r.ValidateSet("Device.LocalAgent.MTP.1.Enable", "notabool")
	require.Error(t, err)
	var dmErr *Error
	require.ErrorAs(t, err, &dmErr)
	assert.Equal(t, KindInvalidValue, dmErr.Kind)
}

func TestSetCommitRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterParameter(&ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool,
		Access:       ReadWrite,
		Storage:      InDB,
	}))
	p, coerced, err := r.ValidateSet("Device.LocalAgent.MTP.1.Enable", "TRUE")
	require.NoError(t, err)
	require.NoError(t, r.CommitSet(p, "Device.LocalAgent.MTP.1.Enable", coerced))

	v, err := r.Get("Device.LocalAgent.MTP.1.Enable")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestMultiInstanceObjectRegistersNumberOfEntries(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterObject(&ObjectDef{
		PathTemplate:  "Device.LocalAgent.MTP.{i}.",
		MultiInstance: true,
		RefreshInstances: func() ([]uint32, error) {
			return []uint32{1, 2}, nil
		},
	}))
	v, err := r.Get("Device.LocalAgent.MTPNumberOfEntries")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestChangeNotifyFiresOnCommit(t *testing.T) {
	r, _ := newTestRegistry(t)
	var gotOld, gotNew string
	require.NoError(t, r.RegisterParameter(&ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool,
		Access:       ReadWrite,
		Storage:      InDB,
		ChangeNotify: func(path, old, new string) { gotOld, gotNew = old, new },
	}))
	p, coerced, err := r.ValidateSet("Device.LocalAgent.MTP.1.Enable", "true")
	require.NoError(t, err)
	require.NoError(t, r.CommitSet(p, "Device.LocalAgent.MTP.1.Enable", coerced))
	assert.Equal(t, "true", gotNew)
	assert.Empty(t, gotOld)
}
