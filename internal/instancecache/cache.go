// Package instancecache implements the Instance Cache (spec §4.5):
// per-table refresh-instances caching with expiry, add/delete-notify
// diffing, and monotonic instance-number allocation for Add (spec §3
// Object invariant: "instance numbers are never reused for the lifetime
// of the table").
package instancecache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
)

type tableState struct {
	ids         map[uint32]bool
	lastRefresh time.Time
	nextID      uint32 // monotone counter for AllocateInstance, never decremented
}

// Cache caches each multi-instance table's live instance numbers and
// diffs successive refreshes to drive add/delete-notify.
type Cache struct {
	reg    *dm.Registry
	logger logging.Logger

	mu      sync.Mutex
	tables  map[string]*tableState
	ttl     map[string]time.Duration // per-table TTL; absent = immediate (always refresh)
}

// New creates a Cache over reg.
func New(reg *dm.Registry, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{
		reg:    reg,
		logger: logger,
		tables: make(map[string]*tableState),
		ttl:    make(map[string]time.Duration),
	}
}

// SetTTL overrides the default immediate-expiry policy for objPath
// (spec §4.5: "vendor objects may set a finite TTL").
func (c *Cache) SetTTL(objPath string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl[objPath] = ttl
}

// Instances returns the live instance numbers of the table at objPath,
// refreshing via its registered callback if the cached view is stale.
func (c *Cache) Instances(objPath string) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(objPath)
}

func (c *Cache) refreshLocked(objPath string) ([]uint32, error) {
	st := c.tables[objPath]
	ttl := c.ttl[objPath]
	if st != nil && ttl > 0 && time.Since(st.lastRefresh) < ttl {
		return sortedKeys(st.ids), nil
	}

	obj, err := c.reg.LookupTable(objPath)
	if err != nil {
		return nil, err
	}
	if obj.RefreshInstances == nil {
		if st == nil {
			st = &tableState{ids: map[uint32]bool{}, nextID: 1}
			c.tables[objPath] = st
		}
		return sortedKeys(st.ids), nil
	}

	fresh, err := obj.RefreshInstances()
	if err != nil {
		return nil, fmt.Errorf("instancecache: refresh %s: %w", objPath, err)
	}
	freshSet := make(map[uint32]bool, len(fresh))
	for _, id := range fresh {
		freshSet[id] = true
	}

	if st == nil {
		st = &tableState{ids: map[uint32]bool{}, nextID: 1}
		c.tables[objPath] = st
	}

	for id := range freshSet {
		if !st.ids[id] {
			st.ids[id] = true
			if id >= st.nextID {
				st.nextID = id + 1
			}
			if obj.AddNotify != nil {
				obj.AddNotify(fmt.Sprintf("%s.%d.", objPath, id))
			}
		}
	}
	for id := range st.ids {
		if !freshSet[id] {
			delete(st.ids, id)
			if obj.DeleteNotify != nil {
				obj.DeleteNotify(fmt.Sprintf("%s.%d.", objPath, id))
			}
		}
	}
	st.lastRefresh = time.Now()
	return sortedKeys(st.ids), nil
}

// AllocateInstance reserves the next never-before-used instance number
// for objPath's table, marking it live immediately so a concurrent
// refresh won't treat it as newly discovered.
func (c *Cache) AllocateInstance(objPath string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.refreshLocked(objPath); err != nil {
		return 0, err
	}
	st := c.tables[objPath]
	id := st.nextID
	st.nextID++
	st.ids[id] = true
	return id, nil
}

// Forget drops the cached live set for an instance that was just
// deleted via dispatcher-driven Delete (distinct from a refresh-diff
// delete), so the next refresh doesn't re-fire delete-notify for it.
func (c *Cache) Forget(objPath string, id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.tables[objPath]; st != nil {
		delete(st.ids, id)
	}
}

func sortedKeys(m map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
