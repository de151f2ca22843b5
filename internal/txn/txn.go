// Package txn implements the Transaction Manager (spec §4.3): grouped,
// all-or-nothing schema edits. At most one transaction is active at a
// time (spec §3 invariant: "at most one transaction is active per
// originating message"; spec §4.3: "A transaction may not span
// messages").
package txn

import (
	"fmt"
	"sync"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/instancecache"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
)

type pendingSet struct {
	param *dm.ParameterDef
	path  string
	value string
	old   string
}

type pendingAdd struct {
	obj      *dm.ObjectDef
	objPath  string
	instance uint32
	path     string // "Device.X.{n}."
	params   map[string]string
}

type pendingDelete struct {
	obj      *dm.ObjectDef
	objPath  string
	instance uint32
	path     string
}

// Txn is a single buffered transaction. It is not safe for concurrent
// use; the DM thread that owns the Manager is also the only caller.
type Txn struct {
	mgr     *Manager
	sets    []pendingSet
	adds    []pendingAdd
	deletes []pendingDelete
	done    bool
}

// Manager serializes transactions over a Registry and Instance Cache.
type Manager struct {
	reg    *dm.Registry
	db     *store.DB
	cache  *instancecache.Cache
	logger logging.Logger

	mu     sync.Mutex
	active *Txn
}

// New creates a Manager.
func New(reg *dm.Registry, db *store.DB, cache *instancecache.Cache, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{reg: reg, db: db, cache: cache, logger: logger}
}

// Begin opens a new transaction. Nested begins are disallowed.
func (m *Manager) Begin() (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, fmt.Errorf("txn: a transaction is already active")
	}
	t := &Txn{mgr: m}
	m.active = t
	return t, nil
}

func (t *Txn) checkOpen(op string) error {
	if t.done {
		return fmt.Errorf("txn: transaction already closed, cannot %s", op)
	}
	return nil
}

// BufferSet validates value against path's registered parameter and, if
// valid, buffers the edit for Commit (spec §4.1 Set: "runs the
// validator, buffers the edit into the active transaction").
func (t *Txn) BufferSet(path, value string) error {
	if err := t.checkOpen("buffer set"); err != nil {
		return err
	}
	p, coerced, err := t.mgr.reg.ValidateSet(path, value)
	if err != nil {
		return err
	}
	old, _ := t.mgr.reg.Get(path)
	t.sets = append(t.sets, pendingSet{param: p, path: path, value: coerced, old: old})
	return nil
}

// BufferAdd validates creation params for objPath, allocates the next
// instance number, and buffers the creation for Commit.
func (t *Txn) BufferAdd(objPath string, params map[string]string) (uint32, error) {
	if err := t.checkOpen("buffer add"); err != nil {
		return 0, err
	}
	o, err := t.mgr.reg.ValidateAdd(objPath, params)
	if err != nil {
		return 0, err
	}
	id, err := t.mgr.cache.AllocateInstance(objPath)
	if err != nil {
		return 0, err
	}
	t.adds = append(t.adds, pendingAdd{
		obj: o, objPath: objPath, instance: id,
		path: fmt.Sprintf("%s.%d.", objPath, id), params: params,
	})
	return id, nil
}

// BufferDelete validates that instancePath may be deleted and buffers
// the deletion for Commit.
func (t *Txn) BufferDelete(instancePath string) error {
	if err := t.checkOpen("buffer delete"); err != nil {
		return err
	}
	o, err := t.mgr.reg.ValidateDelete(instancePath)
	if err != nil {
		return err
	}
	id, objPath, err := splitInstancePath(instancePath)
	if err != nil {
		return err
	}
	t.deletes = append(t.deletes, pendingDelete{obj: o, objPath: objPath, instance: id, path: instancePath})
	return nil
}

// Commit re-validates every buffered edit, applies them all within a
// single DB batch (add, then set, then delete — spec §4.3 commit order),
// and fires notify callbacks in that same stable order only after the
// batch durably commits. Any DB write failure aborts the whole batch;
// notify-callback failures are logged but never roll back the DB.
func (t *Txn) Commit() error {
	if err := t.checkOpen("commit"); err != nil {
		return err
	}
	defer t.close()

	for _, s := range t.sets {
		if _, _, err := t.mgr.reg.ValidateSet(s.path, s.value); err != nil {
			return err
		}
	}
	for _, a := range t.adds {
		if _, err := t.mgr.reg.ValidateAdd(a.objPath, a.params); err != nil {
			return err
		}
	}
	for _, d := range t.deletes {
		if _, err := t.mgr.reg.ValidateDelete(d.path); err != nil {
			return err
		}
	}

	err := t.mgr.db.Batch(func(btx *store.BatchTxn) error {
		for _, a := range t.adds {
			if err := t.mgr.reg.PersistAddTx(btx, a.path, a.params); err != nil {
				return err
			}
		}
		for _, s := range t.sets {
			if err := t.mgr.reg.PersistSetTx(btx, s.param, s.path, s.value); err != nil {
				return err
			}
		}
		for _, d := range t.deletes {
			if err := t.mgr.reg.PersistDeleteTx(btx, d.path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range t.adds {
		t.mgr.reg.FireAddNotify(a.obj, a.path)
	}
	for _, s := range t.sets {
		t.mgr.reg.FireSetNotify(s.param, s.path, s.old, s.value)
	}
	for _, d := range t.deletes {
		t.mgr.cache.Forget(d.objPath, d.instance)
		t.mgr.reg.FireDeleteNotify(d.obj, d.path)
	}
	return nil
}

// Abort discards all buffered edits. No DB write occurs, no notify fires.
func (t *Txn) Abort() error {
	if err := t.checkOpen("abort"); err != nil {
		return err
	}
	t.close()
	return nil
}

func (t *Txn) close() {
	t.done = true
	t.mgr.mu.Lock()
	if t.mgr.active == t {
		t.mgr.active = nil
	}
	t.mgr.mu.Unlock()
}

func splitInstancePath(instancePath string) (uint32, string, error) {
	trimmed := instancePath
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '.' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	idx := lastDot(trimmed)
	if idx < 0 {
		return 0, "", fmt.Errorf("txn: malformed instance path %q", instancePath)
	}
	numStr := trimmed[idx+1:]
	objPath := trimmed[:idx]
	var id uint32
	if _, err := fmt.Sscanf(numStr, "%d", &id); err != nil {
		return 0, "", fmt.Errorf("txn: malformed instance path %q: %w", instancePath, err)
	}
	return id, objPath, nil
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
