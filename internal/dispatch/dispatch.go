// Package dispatch implements the Message Dispatcher (spec §4.4): the DM
// thread's single entry point for a decoded inbound USP Record. It
// resolves the sending Controller, checks its Trust Role against every
// path the request touches, routes to the per-message-type handler under
// a fresh transaction when the request mutates the data model, assembles
// a typed per-path response, and hands it back to the MTP thread over the
// outbound bus queue using the controller's preferred send endpoint.
//
// Routing mirrors the teacher's own dispatch surface, kernel.go's
// Dispatch/ServiceRegistry.Dispatch switch over a request's declared
// type, generalized here from kernel service names to USP MsgType values.
package dispatch

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/instancecache"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/subscription"
	"github.com/jeeves-cluster-organization/uspagent/internal/txn"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// Dispatcher is the Message Dispatcher. One Dispatcher serves the whole
// agent; it is not safe for concurrent Handle calls against the same
// transaction manager beyond what internal/txn already serializes.
type Dispatcher struct {
	reg       *dm.Registry
	resolver  *pathresolver.Resolver
	cache     *instancecache.Cache
	txns      *txn.Manager
	ctrls     *controller.Table
	subs      *subscription.Engine
	outbound  *bus.Queue
	logger    logging.Logger

	allowAutodiscovery bool

	cmds *commandTracker
}

// New creates a Dispatcher. outbound is the bus.Queue the MTP thread
// drains to transmit OutboundUspRecord values (spec §5: "Inter-thread
// contact is exclusively via bounded message queues"). allowAutodiscovery
// controls step 1 of spec §4.4 for every MTP instance this agent runs;
// a deployment that needs it per-MTP can wrap Dispatcher per binding.
func New(reg *dm.Registry, resolver *pathresolver.Resolver, cache *instancecache.Cache, txns *txn.Manager, ctrls *controller.Table, subs *subscription.Engine, outbound *bus.Queue, allowAutodiscovery bool, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		reg: reg, resolver: resolver, cache: cache, txns: txns,
		ctrls: ctrls, subs: subs, outbound: outbound,
		allowAutodiscovery: allowAutodiscovery,
		logger:             logger,
		cmds:               newCommandTracker(),
	}
}

// SetSubscriptions wires the Subscription Engine in after construction.
// The Dispatcher implements subscription.Sender, and the Subscription
// Engine needs a Sender at construction time, so internal/agent builds
// the Dispatcher first with subs left nil (Send never touches d.subs)
// and then closes the cycle with this setter once the Engine exists.
func (d *Dispatcher) SetSubscriptions(subs *subscription.Engine) {
	d.subs = subs
}

// Send implements subscription.Sender: it assembles a Notify message and
// hands it to the controller's preferred MTP the same way a request
// response is handed back (spec §4.6: "sent via the controller's
// currently preferred MTP").
func (d *Dispatcher) Send(ctx context.Context, controllerID string, req *usppb.NotifyRequest) error {
	c, ok := d.ctrls.Get(controllerID)
	if !ok {
		return fmt.Errorf("dispatch: unknown controller %s", controllerID)
	}
	msg := &usppb.Message{
		Header: &usppb.Header{MsgType: usppb.MsgNotifyRequest},
		Body:   req.Marshal(),
	}
	return d.sendMessage(ctx, c, msg)
}

// Handle is the Message Dispatcher's entry point: one decoded inbound USP
// Record, identified by the MTP thread (spec §4.4 steps 1-5).
func (d *Dispatcher) Handle(ctx context.Context, in bus.InboundUspRecord) error {
	rec, err := usppb.UnmarshalRecord(in.Payload)
	if err != nil {
		d.logger.Warn("dispatch: malformed record", "from", in.FromEndpointID, "err", err)
		return err
	}
	msg, err := usppb.UnmarshalMessage(rec.Payload)
	if err != nil {
		d.logger.Warn("dispatch: malformed message", "from", in.FromEndpointID, "err", err)
		return err
	}

	c, err := d.resolveController(rec.FromID, in)
	if err != nil {
		d.logger.Warn("dispatch: request denied", "from", rec.FromID, "err", err)
		return err
	}

	if err := d.checkTrustRole(c, msg.Header.MsgType); err != nil {
		d.logger.Warn("dispatch: permission denied", "from", rec.FromID, "type", msg.Header.MsgType, "err", err)
		return d.replyError(ctx, c, msg.Header.MsgID, err)
	}

	respType, body, handleErr := d.route(ctx, c, msg)
	if handleErr != nil {
		return d.replyError(ctx, c, msg.Header.MsgID, handleErr)
	}

	out := &usppb.Message{
		Header: &usppb.Header{MsgID: msg.Header.MsgID, MsgType: respType},
		Body:   body,
	}
	return d.sendMessage(ctx, c, out)
}

// resolveController implements spec §4.4 step 1. When fromID names no
// known controller and autodiscovery is enabled, the controller is
// auto-registered as RoleUntrusted with in.ReplyRow as its MTP row (the
// row's contents are not checked) so discovery requests
// (GetSupportedProtocol/GetSupportedDM) still get an answer; with
// autodiscovery disabled the request is rejected.
func (d *Dispatcher) resolveController(fromID string, in bus.InboundUspRecord) (*controller.Controller, error) {
	if c, ok := d.ctrls.Get(fromID); ok {
		return c, nil
	}
	if !d.allowAutodiscovery {
		return nil, deniedErr(dm.KindRequestDenied, fromID, "unknown controller, autodiscovery disabled")
	}
	c := &controller.Controller{
		EndpointID: fromID,
		Role:       controller.RoleUntrusted,
		MTPs:       []controller.MTPRow{in.ReplyRow},
	}
	d.ctrls.Upsert(c)
	d.logger.Info("dispatch: autodiscovered controller", "endpoint", fromID)
	return c, nil
}

// checkTrustRole implements spec §4.4 step 2. RoleFullAccess may do
// anything; RoleReadOnly may only perform non-mutating operations;
// RoleUntrusted is limited to the two discovery messages every agent must
// answer to be found at all.
func (d *Dispatcher) checkTrustRole(c *controller.Controller, t usppb.MsgType) error {
	switch c.Role {
	case controller.RoleFullAccess:
		return nil
	case controller.RoleReadOnly:
		if isMutating(t) {
			return deniedErr(dm.KindPermissionDenied, "", "read-only controller cannot send %s", t)
		}
		return nil
	default: // RoleUntrusted
		switch t {
		case usppb.MsgGetSupportedProtocolRequest, usppb.MsgGetSupportedDMRequest:
			return nil
		default:
			return deniedErr(dm.KindPermissionDenied, "", "untrusted controller cannot send %s", t)
		}
	}
}

func isMutating(t usppb.MsgType) bool {
	switch t {
	case usppb.MsgSetRequest, usppb.MsgAddRequest, usppb.MsgDeleteRequest, usppb.MsgOperateRequest:
		return true
	default:
		return false
	}
}

// route implements spec §4.4 step 3-4: invoke the handler for msg's type
// (under a fresh transaction when mutating) and return the response
// MsgType plus its encoded body.
func (d *Dispatcher) route(ctx context.Context, c *controller.Controller, msg *usppb.Message) (usppb.MsgType, []byte, error) {
	switch msg.Header.MsgType {
	case usppb.MsgGetRequest:
		req, err := usppb.UnmarshalGetRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgGetResponse, d.handleGet(req).Marshal(), nil

	case usppb.MsgGetInstancesRequest:
		req, err := usppb.UnmarshalGetInstancesRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgGetInstancesResponse, d.handleGetInstances(req).Marshal(), nil

	case usppb.MsgGetSupportedDMRequest:
		req, err := usppb.UnmarshalGetSupportedDMRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgGetSupportedDMResponse, d.handleGetSupportedDM(req).Marshal(), nil

	case usppb.MsgGetSupportedProtocolRequest:
		req, err := usppb.UnmarshalGetSupportedProtocolRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgGetSupportedProtocolResponse, d.handleGetSupportedProtocol(req).Marshal(), nil

	case usppb.MsgSetRequest:
		req, err := usppb.UnmarshalSetRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgSetResponse, d.handleSet(req).Marshal(), nil

	case usppb.MsgAddRequest:
		req, err := usppb.UnmarshalAddRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgAddResponse, d.handleAdd(req).Marshal(), nil

	case usppb.MsgDeleteRequest:
		req, err := usppb.UnmarshalDeleteRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgDeleteResponse, d.handleDelete(req).Marshal(), nil

	case usppb.MsgOperateRequest:
		req, err := usppb.UnmarshalOperateRequest(msg.Body)
		if err != nil {
			return "", nil, err
		}
		return usppb.MsgOperateResponse, d.handleOperate(ctx, c, req).Marshal(), nil

	case usppb.MsgNotifyResponse:
		resp, err := usppb.UnmarshalNotifyResponse(msg.Body)
		if err != nil {
			return "", nil, err
		}
		d.handleNotifyAck(resp)
		return "", nil, errNoReply

	default:
		return "", nil, deniedErr(dm.KindRequestDenied, "", "unsupported message type %s", msg.Header.MsgType)
	}
}

// errNoReply is a sentinel: Notify-Ack (a NotifyResponse inbound message)
// never itself produces a response.
var errNoReply = fmt.Errorf("dispatch: no reply for this message type")

func (d *Dispatcher) handleNotifyAck(resp *usppb.NotifyResponse) {
	d.subs.Ack(resp.SubscriptionID)
}

// replyError builds and sends a MsgError response, unless err is the
// errNoReply sentinel (nothing to answer).
func (d *Dispatcher) replyError(ctx context.Context, c *controller.Controller, msgID string, err error) error {
	if err == errNoReply {
		return nil
	}
	code, text := errCodeFor(err)
	body := (&usppb.Error{ErrCode: code, ErrMsg: text}).Marshal()
	out := &usppb.Message{
		Header: &usppb.Header{MsgID: msgID, MsgType: usppb.MsgError},
		Body:   body,
	}
	return d.sendMessage(ctx, c, out)
}

// sendMessage implements spec §4.4 step 5: hand the response back to the
// originating MTP via the controller's send endpoint, by enqueueing an
// OutboundUspRecord on the bounded outbound bus queue for the MTP thread.
func (d *Dispatcher) sendMessage(ctx context.Context, c *controller.Controller, msg *usppb.Message) error {
	row, err := c.SendEndpoint()
	if err != nil {
		d.logger.Warn("dispatch: no send endpoint", "controller", c.EndpointID, "err", err)
		return err
	}
	dest := row.STOMPDestination
	if row.Protocol == "CoAP" {
		dest = row.CoAPURI
	}
	rec := &usppb.Record{
		Version: "1.3", ToID: c.EndpointID, FromID: "",
		PayloadSecurity: usppb.PayloadPlainText,
		Payload:         msg.Marshal(),
	}
	return d.outbound.Send(ctx, &bus.OutboundUspRecord{
		ToEndpointID: c.EndpointID,
		Destination:  dest,
		Payload:      rec.Marshal(),
	})
}
