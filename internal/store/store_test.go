package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.db")
	db, err := Open(path, []byte("test-secure-key"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.DeviceInfo.SerialNumber", "ABC123", false))

	got, err := db.Get("Device.DeviceInfo.SerialNumber")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", got)
}

func TestGetMissingKeyReturnsNotFoundError(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Get("Device.Nope")
	require.Error(t, err)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSecureValueIsObfuscatedAtRest(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.WiFi.AccessPoint.1.Security.PreSharedKey", "hunter2", true))

	raw, err := db.Get("Device.WiFi.AccessPoint.1.Security.PreSharedKey")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", raw, "secure value must not be stored in clear text")

	clear, err := db.GetSecure("Device.WiFi.AccessPoint.1.Security.PreSharedKey")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", clear)
}

func TestDeletePrefixRemovesSubtree(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.WiFi.SSID.1.SSID", "net1", false))
	require.NoError(t, db.Set("Device.WiFi.SSID.1.Enable", "true", false))
	require.NoError(t, db.Set("Device.WiFi.SSID.2.SSID", "net2", false))

	require.NoError(t, db.DeletePrefix("Device.WiFi.SSID.1."))

	keys, err := db.KeysWithPrefix("Device.WiFi.SSID.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Device.WiFi.SSID.2.SSID"}, keys)
}

func TestKeysWithPrefixSortedOrder(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.WiFi.SSID.2.SSID", "b", false))
	require.NoError(t, db.Set("Device.WiFi.SSID.1.SSID", "a", false))

	keys, err := db.KeysWithPrefix("Device.WiFi.SSID.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Device.WiFi.SSID.1.SSID", "Device.WiFi.SSID.2.SSID"}, keys)
}

func TestSeedFromPairsDoesNotClobberExistingKeys(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.DeviceInfo.SerialNumber", "PERSISTED", false))

	require.NoError(t, db.SeedFromPairs(map[string]string{
		"Device.DeviceInfo.SerialNumber": "VENDOR-DEFAULT",
		"Device.DeviceInfo.Manufacturer": "ACME",
	}))

	serial, err := db.Get("Device.DeviceInfo.SerialNumber")
	require.NoError(t, err)
	assert.Equal(t, "PERSISTED", serial)

	mfr, err := db.Get("Device.DeviceInfo.Manufacturer")
	require.NoError(t, err)
	assert.Equal(t, "ACME", mfr)
}

func TestSeedFromFileLoadsJSONPairs(t *testing.T) {
	db := newTestDB(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Device.DeviceInfo.Manufacturer":"ACME"}`), 0o644))

	require.NoError(t, db.SeedFromFile(path))

	mfr, err := db.Get("Device.DeviceInfo.Manufacturer")
	require.NoError(t, err)
	assert.Equal(t, "ACME", mfr)
}

func TestSeedFromFileMissingFileIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SeedFromFile(filepath.Join(t.TempDir(), "missing.json")))
}

func TestFactoryResetReplacesStore(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Set("Device.DeviceInfo.SerialNumber", "OLD", false))

	defaults := map[string]string{
		"Device.DeviceInfo.SerialNumber": "DEFAULT-SERIAL",
		"Device.DeviceInfo.Manufacturer": "ACME",
	}
	require.NoError(t, db.FactoryReset(defaults))

	snap, err := db.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, defaults, snap)
}
