// Package agentmtp implements the Agent MTP Table (spec §3 "Agent MTP"):
// it binds each Device.LocalAgent.MTP.{i}. data-model row to a running
// mtp.Capability instance and reconciles the running set whenever the
// data model rows change (row added, removed, or reconfigured).
//
// Its registration/lookup shape is adapted from the teacher's
// ServiceRegistry (coreengine/kernel/services.go): a mutex-guarded map
// keyed by MTP instance id, filled by Reconcile, read through
// Get/Status/FindByProtocol, and emptied by StopAll.
package agentmtp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
)

// Factory constructs a running Capability for a row's configuration. The
// Agent MTP Table is transport-agnostic: callers supply one Factory per
// protocol (internal/mtp/stomp.New, internal/mtp/coap.New adapted to this
// signature).
type Factory func(cfg mtp.Config) mtp.Capability

// Table manages the set of running MTP transport instances, one per
// configured Device.LocalAgent.MTP.{i}. row.
type Table struct {
	logger   logging.Logger
	factories map[string]Factory // protocol -> Factory

	mu   sync.RWMutex
	rows map[int]mtp.Config
	live map[int]mtp.Capability
}

// New creates a Table that constructs bindings via the given per-protocol
// factories (keys "STOMP", "CoAP").
func New(factories map[string]Factory, logger logging.Logger) *Table {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Table{
		logger:    logger,
		factories: factories,
		rows:      make(map[int]mtp.Config),
		live:      make(map[int]mtp.Capability),
	}
}

// Reconcile brings the running instance set in line with rows: starts
// bindings for new or changed rows, stops bindings for removed or
// disabled rows, and leaves unchanged rows running untouched.
func (t *Table) Reconcile(ctx context.Context, rows []mtp.Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wanted := make(map[int]mtp.Config, len(rows))
	for _, r := range rows {
		wanted[r.InstanceID] = r
	}

	for id, cap := range t.live {
		r, stillWanted := wanted[id]
		if !stillWanted || !r.Enable || r != t.rows[id] {
			t.logger.Info("agent mtp stopping instance", "instance", id)
			if err := cap.Stop(ctx); err != nil {
				t.logger.Warn("agent mtp stop failed", "instance", id, "err", err)
			}
			delete(t.live, id)
			delete(t.rows, id)
		}
	}

	ids := make([]int, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		r := wanted[id]
		if !r.Enable {
			continue
		}
		if _, running := t.live[id]; running {
			continue
		}
		f, ok := t.factories[r.Protocol]
		if !ok {
			return fmt.Errorf("agentmtp: no factory registered for protocol %q (instance %d)", r.Protocol, id)
		}
		c := f(r)
		t.logger.Info("agent mtp starting instance", "instance", id, "protocol", r.Protocol)
		if err := c.Start(ctx); err != nil {
			t.logger.Warn("agent mtp start failed", "instance", id, "err", err)
			continue
		}
		t.live[id] = c
		t.rows[id] = r
	}
	return nil
}

// Get returns the running Capability for an MTP instance id, if any.
func (t *Table) Get(instanceID int) (mtp.Capability, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.live[instanceID]
	return c, ok
}

// Status returns the Status of every running instance, keyed by
// instance id, for GetSystemStatus / the admin surface.
func (t *Table) Status() map[int]mtp.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]mtp.Status, len(t.live))
	for id, c := range t.live {
		out[id] = c.Status()
	}
	return out
}

// FindByProtocol returns the lowest-numbered running instance configured
// for the given protocol ("STOMP" or "CoAP"). The MTP thread's outbound
// pump uses this to route a bus.OutboundUspRecord: the record carries
// only the destination controller's Endpoint-ID, so the pump first
// resolves the controller's preferred MTPRow.Protocol and then asks here
// for the live Capability that actually speaks it.
func (t *Table) FindByProtocol(protocol string) (mtp.Capability, int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if t.rows[id].Protocol == protocol {
			return t.live[id], id, true
		}
	}
	return nil, 0, false
}

// StopAll shuts every running instance down, in ascending instance-id
// order, used on agent shutdown.
func (t *Table) StopAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var firstErr error
	for _, id := range ids {
		if err := t.live[id].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.live, id)
		delete(t.rows, id)
	}
	return firstErr
}
