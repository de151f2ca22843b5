package admin

import (
	"context"
	"sort"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/internal/agentmtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/config"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/eventloop"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/subscription"
)

// Server implements AdminServiceServer against a running agent's
// subsystems. Every field is read-only from the admin surface's
// perspective except TriggerReconnect, which posts a ScheduleReconnect
// onto the same queue the MTP thread's reconnect forwarder drains
// (internal/eventloop), so a manually triggered reconnect is coalesced
// by the same at-most-once burst logic as any other.
type Server struct {
	logger      logging.Logger
	startedAt   time.Time
	cfg         *config.AgentConfig
	controllers *controller.Table
	agentMTPs   *agentmtp.Table
	subs        *subscription.Engine
	loop        *eventloop.Loop
	reconnects  *bus.Queue
	db          *store.DB
}

// New creates a Server. reconnects is the queue the event loop drains
// via SetReconnectQueue; db may be nil (DBDump then always returns empty).
func New(
	cfg *config.AgentConfig,
	controllers *controller.Table,
	agentMTPs *agentmtp.Table,
	subs *subscription.Engine,
	loop *eventloop.Loop,
	reconnects *bus.Queue,
	db *store.DB,
	logger logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		logger:      logger,
		startedAt:   time.Now(),
		cfg:         cfg,
		controllers: controllers,
		agentMTPs:   agentMTPs,
		subs:        subs,
		loop:        loop,
		reconnects:  reconnects,
		db:          db,
	}
}

func (s *Server) GetSystemStatus(ctx context.Context, _ *GetSystemStatusRequest) (*GetSystemStatusResponse, error) {
	resp := &GetSystemStatusResponse{
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
		MTPStatuses:     make(map[string]string),
		PendingNotifies: make(map[string]int),
	}

	if s.loop != nil {
		resp.PendingTimers = s.loop.PendingTimers()
	}

	if s.controllers != nil {
		ctrls := s.controllers.All()
		resp.ControllerCount = len(ctrls)
		if s.subs != nil {
			for _, c := range ctrls {
				resp.PendingNotifies[c.EndpointID] = s.subs.PendingForController(c.EndpointID)
			}
		}
	}

	if s.agentMTPs != nil {
		for id, st := range s.agentMTPs.Status() {
			resp.MTPStatuses[strconv.Itoa(id)] = st.String()
		}
	}

	if s.cfg != nil {
		resp.Config = s.cfg.ToMap()
	}

	return resp, nil
}

func (s *Server) ListControllers(ctx context.Context, _ *ListControllersRequest) (*ListControllersResponse, error) {
	resp := &ListControllersResponse{}
	if s.controllers == nil {
		return resp, nil
	}
	for _, c := range s.controllers.All() {
		resp.Controllers = append(resp.Controllers, ControllerInfo{
			EndpointID: c.EndpointID,
			Role:       string(c.Role),
			MTPCount:   len(c.MTPs),
		})
	}
	sort.Slice(resp.Controllers, func(i, j int) bool {
		return resp.Controllers[i].EndpointID < resp.Controllers[j].EndpointID
	})
	return resp, nil
}

func (s *Server) ListMTPs(ctx context.Context, _ *ListMTPsRequest) (*ListMTPsResponse, error) {
	resp := &ListMTPsResponse{}
	if s.agentMTPs == nil {
		return resp, nil
	}
	for id, st := range s.agentMTPs.Status() {
		resp.MTPs = append(resp.MTPs, MTPInfo{InstanceID: id, Status: st.String()})
	}
	sort.Slice(resp.MTPs, func(i, j int) bool { return resp.MTPs[i].InstanceID < resp.MTPs[j].InstanceID })
	return resp, nil
}

func (s *Server) ListSubscriptions(ctx context.Context, _ *ListSubscriptionsRequest) (*ListSubscriptionsResponse, error) {
	resp := &ListSubscriptionsResponse{}
	if s.subs == nil {
		return resp, nil
	}
	for _, sub := range s.subs.All() {
		resp.Subscriptions = append(resp.Subscriptions, SubscriptionInfo{
			ID:           sub.ID,
			ControllerID: sub.ControllerID,
			Kind:         string(sub.Kind),
			Enable:       sub.Enable,
			Pending:      s.subs.PendingForController(sub.ControllerID),
		})
	}
	sort.Slice(resp.Subscriptions, func(i, j int) bool { return resp.Subscriptions[i].ID < resp.Subscriptions[j].ID })
	return resp, nil
}

func (s *Server) TriggerReconnect(ctx context.Context, req *TriggerReconnectRequest) (*TriggerReconnectResponse, error) {
	if s.reconnects == nil {
		return nil, status.Error(codes.FailedPrecondition, "admin: no reconnect queue wired")
	}
	if err := s.reconnects.Send(ctx, &bus.ScheduleReconnect{
		MTPInstanceID: req.MTPInstanceID,
		Reason:        req.Reason,
	}); err != nil {
		return nil, status.Errorf(codes.Internal, "admin: schedule reconnect: %v", err)
	}
	s.logger.Info("admin triggered reconnect", "instance", req.MTPInstanceID, "reason", req.Reason)
	return &TriggerReconnectResponse{Accepted: true}, nil
}

func (s *Server) DBDump(ctx context.Context, req *DBDumpRequest) (*DBDumpResponse, error) {
	resp := &DBDumpResponse{Entries: make(map[string]string)}
	if s.db == nil {
		return resp, nil
	}

	if req.KeyPrefix == "" {
		entries, err := s.db.Snapshot()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "admin: db snapshot: %v", err)
		}
		resp.Entries = entries
		return resp, nil
	}

	keys, err := s.db.KeysWithPrefix(req.KeyPrefix)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "admin: db scan: %v", err)
	}
	for _, k := range keys {
		v, err := s.db.Get(k)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "admin: db get %q: %v", k, err)
		}
		resp.Entries[k] = v
	}
	return resp, nil
}

var _ AdminServiceServer = (*Server)(nil)
