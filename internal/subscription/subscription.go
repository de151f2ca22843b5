// Package subscription implements the Subscription Engine (spec §4.6):
// ValueChange/ObjectCreation/ObjectDeletion/OperationComplete/Event/
// Periodic notifications, a polling loop for ValueChange/Periodic kinds,
// per-controller monotonic message-ids, and retry/ack tracking for
// notifications requiring delivery confirmation.
//
// Its pending-notify bookkeeping (register, resolve/ack, expire) is
// adapted from the teacher's InterruptService
// (coreengine/kernel/interrupts.go): a mutex-guarded store plus a
// by-controller index, with Ack playing the role of Resolve and
// SweepExpired playing the role of ExpirePending.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// Sender delivers an assembled Notify to the named controller. The
// Message Dispatcher supplies the real implementation; tests supply a
// fake.
type Sender interface {
	Send(ctx context.Context, controllerID string, req *usppb.NotifyRequest) error
}

// Subscription is one Device.LocalAgent.Subscription.{i}. row (spec §3
// "Subscription").
type Subscription struct {
	ID               string
	ControllerID     string
	Kind             usppb.NotifyKind
	ReferenceList    []string // paths or path expressions watched
	Enable           bool
	NotifRetry       bool
	NotifExpiration  time.Duration // 0 = never expires
	PeriodicInterval time.Duration // only for KindPeriodic

	lastValues map[string]string // ValueChange: last observed value per resolved path
	lastFired  time.Time         // Periodic: last fire time
}

type pendingNotify struct {
	id             string
	subscriptionID string
	controllerID   string
	messageID      uint64
	req            *usppb.NotifyRequest
	sentAt         time.Time
	expiration     time.Duration
}

// Engine owns the subscription set and the pending-delivery tracking for
// NotifRetry=true notifications.
type Engine struct {
	logger      logging.Logger
	reg         *dm.Registry
	resolver    *pathresolver.Resolver
	controllers *controller.Table
	retries     *retry.Scheduler
	sender      Sender

	mu           sync.Mutex
	subs         map[string]*Subscription
	pending      map[string]*pendingNotify
	byController map[string][]string // controllerID -> pending notify ids
	nextPendingID uint64
}

// New creates an Engine.
func New(reg *dm.Registry, resolver *pathresolver.Resolver, controllers *controller.Table, retries *retry.Scheduler, sender Sender, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		logger:       logger,
		reg:          reg,
		resolver:     resolver,
		controllers:  controllers,
		retries:      retries,
		sender:       sender,
		subs:         make(map[string]*Subscription),
		pending:      make(map[string]*pendingNotify),
		byController: make(map[string][]string),
	}
}

// AddSubscription registers or replaces a subscription row.
func (e *Engine) AddSubscription(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.lastValues == nil {
		s.lastValues = make(map[string]string)
	}
	e.subs[s.ID] = s
	e.logger.Info("subscription added", "id", s.ID, "kind", s.Kind, "controller", s.ControllerID)
}

// RemoveSubscription deletes a subscription row.
func (e *Engine) RemoveSubscription(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}

// All returns a snapshot of every known subscription, for the admin
// surface's ListSubscriptions.
func (e *Engine) All() []*Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, s)
	}
	return out
}

// PollValueChange checks every enabled ValueChange subscription's
// watched paths against their last observed values and fires Notify for
// any that changed (spec §4.6: "polling loop for ValueChange").
func (e *Engine) PollValueChange(ctx context.Context) error {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		if s.Enable && s.Kind == usppb.NotifyValueChange {
			subs = append(subs, s)
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		if err := e.pollOne(ctx, s); err != nil {
			e.logger.Warn("value change poll failed", "subscription", s.ID, "err", err)
		}
	}
	return nil
}

func (e *Engine) pollOne(ctx context.Context, s *Subscription) error {
	for _, expr := range s.ReferenceList {
		paths, err := e.resolver.Resolve(expr, false)
		if err != nil {
			return fmt.Errorf("subscription %s: resolve %s: %w", s.ID, expr, err)
		}
		for _, p := range paths {
			val, err := e.reg.Get(p)
			if err != nil {
				continue
			}
			e.mu.Lock()
			old, seen := s.lastValues[p]
			s.lastValues[p] = val
			e.mu.Unlock()
			if seen && old == val {
				continue
			}
			if !seen {
				continue // first observation establishes the baseline, doesn't fire
			}
			if err := e.fire(ctx, s, &usppb.NotifyRequest{
				Kind:    usppb.NotifyValueChange,
				Params:  []usppb.ParamValue{{Path: p, Value: val}},
				ObjPath: p,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// PollPeriodic fires every enabled Periodic subscription whose interval
// has elapsed.
func (e *Engine) PollPeriodic(ctx context.Context) error {
	now := time.Now()
	e.mu.Lock()
	due := make([]*Subscription, 0)
	for _, s := range e.subs {
		if s.Enable && s.Kind == usppb.NotifyPeriodic && now.Sub(s.lastFired) >= s.PeriodicInterval {
			s.lastFired = now
			due = append(due, s)
		}
	}
	e.mu.Unlock()

	for _, s := range due {
		if err := e.fire(ctx, s, &usppb.NotifyRequest{Kind: usppb.NotifyPeriodic}); err != nil {
			e.logger.Warn("periodic notify failed", "subscription", s.ID, "err", err)
		}
	}
	return nil
}

// FireObjectCreation notifies every enabled ObjectCreation subscription
// watching an ancestor of instancePath (spec §4.6 edge case).
func (e *Engine) FireObjectCreation(ctx context.Context, instancePath string) error {
	return e.fireByKindAndPath(ctx, usppb.NotifyObjectCreation, instancePath, &usppb.NotifyRequest{
		Kind: usppb.NotifyObjectCreation, ObjPath: instancePath,
	})
}

// FireObjectDeletion notifies every enabled ObjectDeletion subscription
// watching instancePath.
func (e *Engine) FireObjectDeletion(ctx context.Context, instancePath string) error {
	return e.fireByKindAndPath(ctx, usppb.NotifyObjectDeletion, instancePath, &usppb.NotifyRequest{
		Kind: usppb.NotifyObjectDeletion, ObjPath: instancePath,
	})
}

// FireEvent notifies every enabled Event subscription watching eventPath.
func (e *Engine) FireEvent(ctx context.Context, eventPath string, outputArgs []usppb.ParamValue) error {
	return e.fireByKindAndPath(ctx, usppb.NotifyEvent, eventPath, &usppb.NotifyRequest{
		Kind: usppb.NotifyEvent, EventName: eventPath, Params: outputArgs,
	})
}

// FireOperationComplete notifies every enabled OperationComplete
// subscription for commandKey's owning controller.
func (e *Engine) FireOperationComplete(ctx context.Context, controllerID, command, commandKey string, outputArgs []usppb.ParamValue) error {
	e.mu.Lock()
	subs := make([]*Subscription, 0)
	for _, s := range e.subs {
		if s.Enable && s.Kind == usppb.NotifyOperationComplete && s.ControllerID == controllerID {
			subs = append(subs, s)
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		if err := e.fire(ctx, s, &usppb.NotifyRequest{
			Kind: usppb.NotifyOperationComplete, Command: command, CommandKey: commandKey, Params: outputArgs,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fireByKindAndPath(ctx context.Context, kind usppb.NotifyKind, path string, req *usppb.NotifyRequest) error {
	e.mu.Lock()
	subs := make([]*Subscription, 0)
	for _, s := range e.subs {
		if !s.Enable || s.Kind != kind {
			continue
		}
		for _, ref := range s.ReferenceList {
			if pathresolver.IsWithinSubtree(ref, path) {
				subs = append(subs, s)
				break
			}
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		if err := e.fire(ctx, s, req); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fire(ctx context.Context, s *Subscription, req *usppb.NotifyRequest) error {
	req.SubscriptionID = s.ID
	req.SendResp = s.NotifRetry

	c, ok := e.controllers.Get(s.ControllerID)
	if !ok {
		return fmt.Errorf("subscription %s: unknown controller %s", s.ID, s.ControllerID)
	}
	msgID := c.NextMessageID()

	if err := e.sender.Send(ctx, s.ControllerID, req); err != nil {
		if s.NotifRetry {
			e.trackPending(s, req, msgID)
			e.scheduleRetry(ctx, s, req, msgID)
		}
		return err
	}
	if s.NotifRetry {
		e.trackPending(s, req, msgID)
	}
	return nil
}

func (e *Engine) trackPending(s *Subscription, req *usppb.NotifyRequest, msgID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextPendingID++
	id := fmt.Sprintf("notif-%d", e.nextPendingID)
	p := &pendingNotify{
		id: id, subscriptionID: s.ID, controllerID: s.ControllerID,
		messageID: msgID, req: req, sentAt: time.Now(), expiration: s.NotifExpiration,
	}
	e.pending[id] = p
	e.byController[s.ControllerID] = append(e.byController[s.ControllerID], id)
}

func (e *Engine) scheduleRetry(ctx context.Context, s *Subscription, req *usppb.NotifyRequest, msgID uint64) {
	delay, err := e.retries.NextDelay(retry.CategoryNotifyDelivery, fmt.Sprintf("%s:%d", s.ID, msgID))
	if err != nil {
		e.logger.Error("notify delivery permanently failed", "subscription", s.ID, "err", err)
		return
	}
	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := e.sender.Send(ctx, s.ControllerID, req); err != nil {
			e.scheduleRetry(ctx, s, req, msgID)
		} else {
			e.retries.Succeeded(fmt.Sprintf("%s:%d", s.ID, msgID))
		}
	}()
}

// Ack marks a pending notification as acknowledged (NotifyResponse
// received), clearing its retry state — the Resolve half of the
// pending-notify lifecycle.
func (e *Engine) Ack(notifyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[notifyID]
	if !ok {
		return
	}
	delete(e.pending, notifyID)
	e.retries.Succeeded(fmt.Sprintf("%s:%d", p.subscriptionID, p.messageID))
}

// SweepExpired drops pending notifications whose expiration has passed
// without acknowledgement, reporting how many were dropped — the
// ExpirePending half of the pending-notify lifecycle.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, p := range e.pending {
		if p.expiration > 0 && time.Since(p.sentAt) > p.expiration {
			delete(e.pending, id)
			e.retries.Forget(fmt.Sprintf("%s:%d", p.subscriptionID, p.messageID))
			n++
		}
	}
	return n
}

// PendingForController returns the count of unacknowledged notifications
// outstanding for a controller, for GetSystemStatus / the admin surface.
func (e *Engine) PendingForController(controllerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, id := range e.byController[controllerID] {
		if _, ok := e.pending[id]; ok {
			n++
		}
	}
	return n
}
