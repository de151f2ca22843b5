package agent

import (
	"sort"
	"strconv"
)

// rehydrate repopulates the in-memory instanceSets and runtime tables
// (Controller Table, Subscription Engine, Agent MTP Table) from whatever
// rows a prior run already persisted in the Database KV. The rows
// themselves are already readable through Registry.Get (InDB storage
// reads straight from the store); what's missing after a restart is
// purely the in-memory bookkeeping these tables layer on top, since none
// of that bookkeeping is itself persisted.
func (a *Agent) rehydrate() error {
	if err := a.rehydrateTable("Device.LocalAgent.MTP.", func(id uint32, base string) {
		a.mtpInstances.set(id, strconv.FormatUint(uint64(id), 10))
	}); err != nil {
		return err
	}
	if err := a.rehydrateTable("Device.LocalAgent.Controller.", func(id uint32, base string) {
		endpointID, _ := a.reg.Get(base + "EndpointID")
		a.ctrlInstances.set(id, endpointID)
		a.upsertControllerRow(endpointID, base)
	}); err != nil {
		return err
	}
	if err := a.rehydrateTable("Device.STOMP.Connection.", func(id uint32, base string) {
		a.stompConnInstances.set(id, strconv.FormatUint(uint64(id), 10))
	}); err != nil {
		return err
	}
	if err := a.rehydrateTable("Device.LocalAgent.Subscription.", func(id uint32, base string) {
		s := a.loadSubscriptionRow(base)
		if s == nil {
			return
		}
		a.subInstances.set(id, s.ID)
		a.subscriptions.AddSubscription(s)
	}); err != nil {
		return err
	}

	a.reconcileMTPs()
	return nil
}

// rehydrateTable scans every persisted key under tablePrefix, collects
// the distinct instance numbers present, and invokes onInstance once per
// instance in ascending order with the instance's full
// "tablePrefix{id}." base path.
func (a *Agent) rehydrateTable(tablePrefix string, onInstance func(id uint32, base string)) error {
	keys, err := a.db.KeysWithPrefix(tablePrefix)
	if err != nil {
		return err
	}

	seen := make(map[uint32]bool)
	for _, key := range keys {
		id, err := instanceIDFromPath(key, tablePrefix)
		if err != nil {
			a.logger.Warn("agent: malformed persisted key, skipping", "key", key, "err", err)
			continue
		}
		seen[id] = true
	}

	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		onInstance(id, tablePrefix+strconv.FormatUint(uint64(id), 10)+".")
	}
	return nil
}
