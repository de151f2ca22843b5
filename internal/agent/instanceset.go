package agent

import "sync"

// instanceSet tracks the TR-181 instance numbers for a
// multi-instance object this package owns directly (Device.LocalAgent.MTP,
// Device.LocalAgent.Controller, Device.LocalAgent.Subscription,
// Device.STOMP.Connection): each entry maps an instance number to the key
// its owning runtime table uses (an MTP instance id, a controller
// Endpoint-ID, a subscription ID; a STOMP connection's own instance number).
//
// The first three tables already have an authoritative in-memory owner
// (agentmtp.Table, controller.Table, subscription.Engine); instanceSet
// exists only so the Instance Cache's NumberOfEntries and wildcard
// expansion see the same live set, via the ObjectDef.RefreshInstances
// hook dm.Registry's auto-registered NumberOfEntries getter calls directly.
type instanceSet struct {
	mu   sync.Mutex
	keys map[uint32]string
}

func newInstanceSet() *instanceSet {
	return &instanceSet{keys: make(map[uint32]string)}
}

// set records that instance id now identifies key. The instance number
// itself always comes from elsewhere (the Instance Cache's allocation
// during an Add, or a path segment parsed while rehydrating from the
// store at startup) — instanceSet only mirrors that assignment for
// lookups, it never mints numbers of its own.
func (s *instanceSet) set(id uint32, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = key
}

// remove drops instance from the set, if present.
func (s *instanceSet) remove(instance uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, instance)
}

// instanceOf returns the instance number currently assigned to key, if any.
func (s *instanceSet) instanceOf(key string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, k := range s.keys {
		if k == key {
			return id, true
		}
	}
	return 0, false
}

// keyFor returns the key currently assigned to instance id, if any. Used
// by DeleteNotify closures: the data model only gives them the instance
// path being removed, and the owning runtime table is keyed by something
// else (an endpoint id, a subscription id).
func (s *instanceSet) keyFor(id uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	return key, ok
}

// ids implements dm.RefreshInstances.
func (s *instanceSet) ids() ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.keys))
	for id := range s.keys {
		out = append(out, id)
	}
	return out, nil
}
