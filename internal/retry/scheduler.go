// Package retry implements the Retry Scheduler (spec §4.9): truncated
// exponential backoff with jitter for STOMP reconnects and unacknowledged
// notifications, bounded by a configurable maximum elapsed time per item.
package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
)

// Category names a class of retried activity, each with its own
// base/multiplier/cap policy (spec §4.9: "per-category base, multiplier,
// cap").
type Category string

const (
	CategorySTOMPReconnect   Category = "stomp_reconnect"
	CategoryNotifyDelivery   Category = "notify_delivery"
)

// Policy configures one Category's backoff curve.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	MaxElapsed time.Duration // 0 = unbounded
}

// DefaultPolicies returns the agent's standard backoff curves.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategorySTOMPReconnect: {Base: 1 * time.Second, Multiplier: 2, Cap: 5 * time.Minute, MaxElapsed: 0},
		CategoryNotifyDelivery: {Base: 2 * time.Second, Multiplier: 2, Cap: 10 * time.Minute, MaxElapsed: 24 * time.Hour},
	}
}

// ExpiredError is returned when an item's MaxElapsed bound is reached;
// the owning component treats this as permanent failure (spec §4.9:
// "expiry causes permanent failure reported to the owning component").
type ExpiredError struct {
	ItemID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("retry: item %s exceeded max elapsed time", e.ItemID)
}

type item struct {
	bo        backoff.BackOff
	startedAt time.Time
	maxElapse time.Duration
}

// Scheduler tracks one backoff state machine per retried item.
type Scheduler struct {
	logger   logging.Logger
	policies map[Category]Policy

	mu    sync.Mutex
	items map[string]*item
}

// New creates a Scheduler with the given per-category policies.
func New(policies map[Category]Policy, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Scheduler{policies: policies, logger: logger, items: make(map[string]*item)}
}

func (s *Scheduler) newBackOff(cat Category) backoff.BackOff {
	p, ok := s.policies[cat]
	if !ok {
		p = Policy{Base: time.Second, Multiplier: 2, Cap: time.Minute}
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.Cap
	eb.MaxElapsedTime = 0 // Scheduler tracks MaxElapsed itself, across NextDelay calls spanning process ticks
	return eb
}

// NextDelay returns the delay before the next attempt for itemID under
// category cat, registering the item on first call. Returns ExpiredError
// once the category's MaxElapsed bound has passed.
func (s *Scheduler) NextDelay(cat Category, itemID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[itemID]
	if !ok {
		it = &item{
			bo:        s.newBackOff(cat),
			startedAt: time.Now(),
			maxElapse: s.policies[cat].MaxElapsed,
		}
		s.items[itemID] = it
	}
	if it.maxElapse > 0 && time.Since(it.startedAt) > it.maxElapse {
		delete(s.items, itemID)
		return 0, &ExpiredError{ItemID: itemID}
	}
	d := it.bo.NextBackOff()
	if d == backoff.Stop {
		delete(s.items, itemID)
		return 0, &ExpiredError{ItemID: itemID}
	}
	return d, nil
}

// Succeeded clears an item's backoff state after a successful attempt.
func (s *Scheduler) Succeeded(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemID)
}

// Forget drops an item's state without regard to success (used when the
// owning resource, e.g. a deleted MTP row, no longer exists).
func (s *Scheduler) Forget(itemID string) {
	s.Succeeded(itemID)
}
