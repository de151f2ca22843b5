// Package store implements the Database KV component (spec §4.1): a
// flat string-keyed, string-valued persistence layer backing the data
// model registry. Every parameter value is stored as text (spec §3
// invariant); the registry is responsible for typed coercion via
// internal/typeutil.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.etcd.io/bbolt"
)

var bucketParams = []byte("params")

// DB wraps a bbolt-backed key/value store. Keys are fully-qualified TR-181
// parameter paths (e.g. "Device.WiFi.SSID.1.SSID"); values are their
// textual representation.
type DB struct {
	bolt      *bbolt.DB
	secureKey []byte // obfuscation key for parameters flagged Secure, see obfuscate
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// params bucket exists.
func Open(path string, secureKey []byte) (*DB, error) {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketParams)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &DB{bolt: bdb, secureKey: secureKey}, nil
}

// Close releases the underlying bbolt file handle.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Get returns the textual value stored at key.
func (d *DB) Get(key string) (string, error) {
	var val []byte
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		v := b.Get([]byte(key))
		if v == nil {
			return NewNotFoundError(key)
		}
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// Set stores value at key, obfuscating it first if secure is true.
func (d *DB) Set(key, value string, secure bool) error {
	stored := value
	if secure {
		stored = d.obfuscate(value)
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		return b.Put([]byte(key), []byte(stored))
	})
}

// GetSecure reads a value previously stored with Set(..., secure=true)
// and de-obfuscates it.
func (d *DB) GetSecure(key string) (string, error) {
	raw, err := d.Get(key)
	if err != nil {
		return "", err
	}
	return d.obfuscate(raw), nil // XOR is its own inverse
}

// Delete removes key. Deleting an absent key is a no-op.
func (d *DB) Delete(key string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		return b.Delete([]byte(key))
	})
}

// DeletePrefix removes every key with the given prefix (used when an
// object instance is deleted, dropping its whole parameter subtree).
func (d *DB) DeletePrefix(prefix string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// KeysWithPrefix returns every key under prefix in sorted order, skipping
// rows that fail basic validity checks rather than aborting the scan
// (spec §4.1: corrupt rows are skipped and logged, never fatal).
func (d *DB) KeysWithPrefix(prefix string) ([]string, error) {
	var keys []string
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, v = c.Next() {
			if !strings.HasPrefix(string(k), prefix) {
				continue // paranoia against byte-boundary false positives from Seek
			}
			if v == nil {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Snapshot returns a full copy of the params bucket, used by the admin
// surface's DBDump.
func (d *DB) Snapshot() (map[string]string, error) {
	out := map[string]string{}
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// FactoryReset clears all stored parameters and reseeds with the given
// defaults (spec §4.1: "factory reset replaces the store with vendor
// defaults").
func (d *DB) FactoryReset(defaults map[string]string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketParams); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketParams)
		if err != nil {
			return err
		}
		for k, v := range defaults {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedFromPairs writes each default into the store only if the key is
// not already present, used at agent startup to populate vendor defaults
// on a freshly-created database without clobbering values a previous run
// already persisted (spec §6 "factory reset seeding").
func (d *DB) SeedFromPairs(defaults map[string]string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParams)
		for k, v := range defaults {
			if b.Get([]byte(k)) != nil {
				continue
			}
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedFromFile reads a JSON object of path->value pairs from path and
// seeds the store with SeedFromPairs. A missing file is not an error:
// an agent with no configured seed file simply starts with an empty
// store, every parameter falling back to its registered default getter.
func (d *DB) SeedFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read seed file %s: %w", path, err)
	}
	var defaults map[string]string
	if err := json.Unmarshal(data, &defaults); err != nil {
		return fmt.Errorf("store: parse seed file %s: %w", path, err)
	}
	return d.SeedFromPairs(defaults)
}

// BatchTxn is a single bbolt write transaction exposed to callers that
// need several writes to commit or fail together (the Transaction
// Manager's Commit, spec §4.3: "begin DB transaction, write, DB commit").
type BatchTxn struct {
	bucket *bbolt.Bucket
	db     *DB
}

// Set stages a write within the batch.
func (t *BatchTxn) Set(key, value string, secure bool) error {
	stored := value
	if secure {
		stored = t.db.obfuscate(value)
	}
	return t.bucket.Put([]byte(key), []byte(stored))
}

// Delete stages a key removal within the batch.
func (t *BatchTxn) Delete(key string) error {
	return t.bucket.Delete([]byte(key))
}

// DeletePrefix stages removal of every key under prefix within the batch.
func (t *BatchTxn) DeletePrefix(prefix string) error {
	c := t.bucket.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := t.bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Batch runs fn inside a single bbolt write transaction: either every
// staged write commits, or (on a non-nil return from fn, or a commit
// failure) none do.
func (d *DB) Batch(fn func(*BatchTxn) error) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return fn(&BatchTxn{bucket: tx.Bucket(bucketParams), db: d})
	})
}

// obfuscate XOR-masks v against the repeating secureKey. This is not
// cryptographic confidentiality; it keeps secure parameters (passwords,
// PSKs) out of the on-disk file in plaintext, matching the "at rest,
// secure parameters are obfuscated, not stored in clear text" requirement
// without pulling in a full KMS/crypto dependency the agent has no
// platform key store to back.
func (d *DB) obfuscate(s string) string {
	if len(d.secureKey) == 0 {
		return s
	}
	in := []byte(s)
	out := make([]byte, len(in))
	for i, c := range in {
		out[i] = c ^ d.secureKey[i%len(d.secureKey)]
	}
	return string(out)
}
