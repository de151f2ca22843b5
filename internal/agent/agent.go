// Package agent wires the agent's cooperating subsystems together into
// one runnable process: the Database KV, Data Model Registry, Path
// Resolver, Instance Cache, Transaction Manager, Controller Table,
// Retry Scheduler, Subscription Engine, Message Dispatcher, Agent MTP
// Table, and the bounded inter-thread bus, plus the event loop that
// drives the DM and BDC thread duties (spec §2 "three cooperating
// threads").
//
// Construction mirrors the teacher's kernel.NewKernel (coreengine/kernel/
// kernel.go): one ordered sequence building each subsystem from the ones
// built before it, with the circular Dispatcher/Subscription Engine
// dependency closed via a setter after both exist.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/commbus"
	"github.com/jeeves-cluster-organization/uspagent/internal/admin"
	"github.com/jeeves-cluster-organization/uspagent/internal/agentmtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/config"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dispatch"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/eventloop"
	"github.com/jeeves-cluster-organization/uspagent/internal/identity"
	"github.com/jeeves-cluster-organization/uspagent/internal/instancecache"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp/coap"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp/stomp"
	"github.com/jeeves-cluster-organization/uspagent/internal/observability"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/subscription"
	"github.com/jeeves-cluster-organization/uspagent/internal/txn"
)

// identityResolver derives the agent's own Endpoint-ID (spec §6). It's a
// package variable rather than a New parameter so tests can swap in a
// fake interface lookup (internal/identity.NewWithLookup) without
// threading one more constructor argument through every call site.
var identityResolver = identity.New()

// Agent is one fully-wired USP agent process.
type Agent struct {
	cfg    *config.AgentConfig
	logger logging.Logger

	startedAt  time.Time
	endpointID string

	db          *store.DB
	reg         *dm.Registry
	cache       *instancecache.Cache
	resolver    *pathresolver.Resolver
	controllers *controller.Table
	retries     *retry.Scheduler
	txns        *txn.Manager
	busInst     *bus.Bus
	dispatcher  *dispatch.Dispatcher
	subscriptions *subscription.Engine
	agentMTPs   *agentmtp.Table
	loop        *eventloop.Loop
	adminSrv    *admin.Server
	adminGRPC   *admin.GracefulServer

	mtpInstances       *instanceSet
	ctrlInstances      *instanceSet
	subInstances       *instanceSet
	stompConnInstances *instanceSet

	stopTracer func(context.Context) error
}

// New builds and wires every subsystem, registers the data model, and
// rehydrates multi-instance tables from whatever was already persisted
// in the store, but does not yet start any network I/O (that happens in
// Run).
func New(cfg *config.AgentConfig, logger logging.Logger) (*Agent, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	db, err := store.Open(cfg.DBPath, []byte(cfg.DBSecureKey))
	if err != nil {
		return nil, fmt.Errorf("agent: open store: %w", err)
	}
	if err := db.SeedFromFile(cfg.FactoryResetSeedPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: seed store: %w", err)
	}

	endpointID, err := identityResolver.EndpointID(cfg.VendorOUI, cfg.ProductClass, cfg.WANInterface)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: derive endpoint id: %w", err)
	}

	reg := dm.New(db, logger)
	cache := instancecache.New(reg, logger)
	resolver := pathresolver.New(reg, cache)
	ctrls := controller.New()
	retries := retry.New(retry.DefaultPolicies(), logger)
	txns := txn.New(reg, db, cache, logger)
	// logging.Logger and commbus.BusLogger share the same Debug/Info/Warn/Error
	// shape, so the agent's own structured logger doubles as the bus's.
	busInst := bus.New(bus.DefaultCapacity, logger)

	dispatcher := dispatch.New(reg, resolver, cache, txns, ctrls, nil, busInst.Outbound, cfg.AllowAutodiscovery, logger)
	subs := subscription.New(reg, resolver, ctrls, retries, dispatcher, logger)
	dispatcher.SetSubscriptions(subs)

	a := &Agent{
		cfg:           cfg,
		logger:        logger,
		startedAt:     time.Now(),
		endpointID:    endpointID,
		db:            db,
		reg:           reg,
		cache:         cache,
		resolver:      resolver,
		controllers:   ctrls,
		retries:       retries,
		txns:          txns,
		busInst:       busInst,
		dispatcher:    dispatcher,
		subscriptions: subs,
		loop:          eventloop.New(0, logger),

		mtpInstances:       newInstanceSet(),
		ctrlInstances:      newInstanceSet(),
		subInstances:       newInstanceSet(),
		stompConnInstances: newInstanceSet(),
	}

	a.agentMTPs = agentmtp.New(map[string]agentmtp.Factory{
		"STOMP": a.stompFactory,
		"CoAP":  a.coapFactory,
	}, logger)

	if err := a.registerDataModel(); err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: register data model: %w", err)
	}
	if err := a.rehydrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: rehydrate state: %w", err)
	}
	a.reg.Freeze()

	a.loop.AddQueue(busInst.Inbound, a.handleInboundMessage)
	a.loop.SetReconnectQueue(busInst.Reconnects, a.handleReconnect)
	a.loop.ScheduleEvery("value-change-poll", cfg.ValueChangePollPeriod, a.subscriptions.PollValueChange)
	a.loop.ScheduleEvery("periodic-notify-poll", cfg.ValueChangePollPeriod, a.subscriptions.PollPeriodic)
	a.loop.ScheduleEvery("pending-notify-sweep", cfg.PendingNotifySweep, a.sweepExpiredNotifies)

	a.adminSrv = admin.New(cfg, ctrls, a.agentMTPs, subs, a.loop, busInst.Reconnects, db, logger)
	a.adminGRPC = admin.NewGracefulServer(a.adminSrv, cfg.AdminSocketPath, logger)

	return a, nil
}

// stompFactory adapts stomp.New to agentmtp.Factory, routing received
// records onto the Inbound bus queue the same way every other MTP does.
func (a *Agent) stompFactory(cfg mtp.Config) mtp.Capability {
	return stomp.New(cfg, a.retries, a.logger, a.onInboundRecord(cfg.InstanceID))
}

func (a *Agent) coapFactory(cfg mtp.Config) mtp.Capability {
	return coap.New(cfg, a.logger, a.onInboundRecord(cfg.InstanceID))
}

// onInboundRecord returns a mtp.InboundHandler that enqueues a record
// onto the Inbound bus queue for the DM thread, associating it with the
// MTP instance it arrived on (spec §4.4 step 1 needs the reply MTP to
// resolve an unknown sender's send endpoint).
func (a *Agent) onInboundRecord(instanceID int) mtp.InboundHandler {
	return func(fromEndpointID string, payload []byte) {
		row := controller.MTPRow{}
		if c, ok := a.controllers.Get(fromEndpointID); ok {
			if r, err := c.SendEndpoint(); err == nil {
				row = r
			}
		}
		msg := &bus.InboundUspRecord{
			FromEndpointID: fromEndpointID,
			MTPInstanceID:  instanceID,
			Payload:        payload,
			ReplyRow:       row,
		}
		if err := a.busInst.Inbound.TrySend(msg); err != nil {
			a.logger.Warn("agent: inbound queue full, dropping record", "from", fromEndpointID, "err", err)
		}
	}
}

func (a *Agent) handleInboundMessage(ctx context.Context, msg commbus.Message) error {
	rec, ok := msg.(*bus.InboundUspRecord)
	if !ok {
		return fmt.Errorf("agent: unexpected message type %T on inbound queue", msg)
	}
	err := a.dispatcher.Handle(ctx, *rec)
	observability.RecordRequest(rec.MessageType(), statusOf(err), 0)
	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (a *Agent) handleReconnect(ctx context.Context, instanceID int, reason string) error {
	a.logger.Info("agent: reconnect requested", "instance", instanceID, "reason", reason)
	capability, ok := a.agentMTPs.Get(instanceID)
	if !ok {
		return nil
	}
	return capability.Start(ctx)
}

func (a *Agent) sweepExpiredNotifies(ctx context.Context) error {
	n := a.subscriptions.SweepExpired()
	if n > 0 {
		a.logger.Info("agent: swept expired pending notifications", "count", n)
	}
	return nil
}

// outboundPump drains the Outbound bus queue and transmits each record
// via the controller's preferred MTP, the MTP thread's half of spec
// §4.4 step 5 (the Dispatcher only enqueues; this is what actually
// calls Send on the wire).
func (a *Agent) outboundPump(ctx context.Context) {
	for {
		msg, err := a.busInst.Outbound.Recv(ctx)
		if err != nil {
			return
		}
		rec, ok := msg.(*bus.OutboundUspRecord)
		if !ok {
			a.logger.Warn("agent: unexpected message type on outbound queue", "type", fmt.Sprintf("%T", msg))
			continue
		}
		a.sendOutbound(ctx, rec)
	}
}

func (a *Agent) sendOutbound(ctx context.Context, rec *bus.OutboundUspRecord) {
	c, ok := a.controllers.Get(rec.ToEndpointID)
	if !ok {
		a.logger.Warn("agent: outbound record for unknown controller", "controller", rec.ToEndpointID)
		return
	}
	row, err := c.SendEndpoint()
	if err != nil {
		a.logger.Warn("agent: no send endpoint", "controller", rec.ToEndpointID, "err", err)
		return
	}
	capability, _, ok := a.agentMTPs.FindByProtocol(row.Protocol)
	if !ok {
		a.logger.Warn("agent: no running MTP for protocol", "controller", rec.ToEndpointID, "protocol", row.Protocol)
		return
	}
	if err := capability.Send(ctx, rec.Destination, rec.Payload); err != nil {
		a.logger.Warn("agent: send failed", "controller", rec.ToEndpointID, "err", err)
	}
}

// Run starts the admin surface, the MTP thread's outbound pump, and the
// event loop, blocking until ctx is cancelled or a subsystem fails
// unrecoverably. There is no errgroup dependency in this module, so
// goroutine orchestration is hand-rolled: a WaitGroup tracks completion
// and the first non-context-cancellation error observed from any
// goroutine is returned.
func (a *Agent) Run(ctx context.Context) error {
	if tracerShutdown, err := observability.InitTracer("uspagentd", a.cfg.OTLPEndpoint); err != nil {
		a.logger.Warn("agent: tracer init failed, continuing without tracing", "err", err)
	} else {
		a.stopTracer = tracerShutdown
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.outboundPump(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.loop.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("agent: event loop: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.adminGRPC.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("agent: admin server: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		<-done
		return nil
	}
}

// Shutdown tears every subsystem down in dependency order, mirroring the
// teacher's Kernel.Shutdown (coreengine/kernel/kernel.go): each step's
// failure is collected rather than aborting the rest, and the aggregate
// is reported as a *ShutdownError.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Info("agent: shutdown initiated")
	var errs []error

	select {
	case <-ctx.Done():
		return &ShutdownError{Errors: []error{fmt.Errorf("shutdown cancelled: %w", ctx.Err())}}
	default:
	}

	if a.adminGRPC != nil {
		a.adminGRPC.ShutdownWithTimeout(5 * time.Second)
	}
	if err := a.agentMTPs.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop agent MTPs: %w", err))
	}
	if a.stopTracer != nil {
		if err := a.stopTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop tracer: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	a.logger.Info("agent: shutdown completed", "errors", len(errs))
	if len(errs) > 0 {
		return &ShutdownError{Errors: errs}
	}
	return nil
}

// ShutdownError aggregates every error observed while tearing a subsystem
// down, so a caller sees the whole picture instead of only the first
// failure masking the rest.
type ShutdownError struct {
	Errors []error
}

func (e *ShutdownError) Error() string {
	if len(e.Errors) == 0 {
		return "shutdown completed with no errors"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("shutdown error: %v", e.Errors[0])
	}
	return fmt.Sprintf("shutdown completed with %d errors", len(e.Errors))
}

func (e *ShutdownError) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}
