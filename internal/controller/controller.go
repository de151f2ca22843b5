// Package controller implements the Controller Table (spec §3 Controller,
// §4.4 step 1-2): the set of remote controllers known to the agent, each
// with an ordered list of MTP rows and an assigned Trust Role.
package controller

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TrustRole labels a controller's permission level. The concrete
// role-to-permission mapping lives with the Message Dispatcher, which
// consults the role name per touched path; the table itself only stores
// the assignment (spec §3: "Has an assigned Trust Role").
type TrustRole string

const (
	RoleFullAccess TrustRole = "full-access"
	RoleReadOnly   TrustRole = "read-only"
	RoleUntrusted  TrustRole = "untrusted"
)

// MTPRow is one transport endpoint a controller can be reached at.
type MTPRow struct {
	Protocol         string // "STOMP" or "CoAP"
	STOMPDestination string
	CoAPURI          string
	Preferred        bool
}

// Controller is a remote entity authorised to send USP requests
// (spec §3 Controller).
type Controller struct {
	EndpointID string
	MTPs       []MTPRow
	Role       TrustRole

	msgID atomic.Uint64 // per-controller monotonic Notify message-id (spec §4.6)
}

// NextMessageID returns the next strictly-increasing, gap-free message-id
// for a Notify sent to this controller (spec §8: "Notify ordering").
func (c *Controller) NextMessageID() uint64 {
	return c.msgID.Add(1)
}

// SendEndpoint selects the MTP row to use for outbound sends: the first
// row marked Preferred, or else the first row (spec §3 Controller:
// "selects send endpoints").
func (c *Controller) SendEndpoint() (MTPRow, error) {
	for _, m := range c.MTPs {
		if m.Preferred {
			return m, nil
		}
	}
	if len(c.MTPs) == 0 {
		return MTPRow{}, fmt.Errorf("controller: %s has no MTP rows", c.EndpointID)
	}
	return c.MTPs[0], nil
}

// Table is the set of known controllers, keyed by Endpoint-ID.
type Table struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// New creates an empty Table.
func New() *Table {
	return &Table{controllers: make(map[string]*Controller)}
}

// Upsert adds or replaces the controller entry for c.EndpointID.
func (t *Table) Upsert(c *Controller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controllers[c.EndpointID] = c
}

// Get returns the controller with the given Endpoint-ID.
func (t *Table) Get(endpointID string) (*Controller, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.controllers[endpointID]
	return c, ok
}

// Remove deletes the controller entry for endpointID.
func (t *Table) Remove(endpointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.controllers, endpointID)
}

// All returns a snapshot of every known controller.
func (t *Table) All() []*Controller {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Controller, 0, len(t.controllers))
	for _, c := range t.controllers {
		out = append(out, c)
	}
	return out
}
