package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// commandTracker records in-flight asynchronous Operate commands, keyed
// by CommandKey, so a later OperationComplete can be attributed to the
// controller that issued it.
type commandTracker struct {
	mu       sync.Mutex
	inFlight map[string]string // command key -> controller endpoint id
}

func newCommandTracker() *commandTracker {
	return &commandTracker{inFlight: make(map[string]string)}
}

// nextKey mints a CommandKey unique enough to survive a restart colliding
// with a prior run's in-flight commands, unlike a process-local counter.
func (c *commandTracker) nextKey() string {
	return "cmd-" + uuid.NewString()
}

func (c *commandTracker) track(key, controllerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[key] = controllerID
}

func (c *commandTracker) untrack(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// handleOperate implements spec §4.4 Operate: synchronous commands run
// inline and their output is returned directly; asynchronous commands are
// enqueued with a generated CommandKey, the request is answered
// immediately, and completion is delivered later via a
// subscription-triggered OperationComplete event (spec §4.4: "completion
// or failure is delivered later").
func (d *Dispatcher) handleOperate(ctx context.Context, c *controller.Controller, req *usppb.OperateRequest) *usppb.OperateResponse {
	op, err := d.reg.LookupOperation(req.Command)
	if err != nil {
		code, msg := errCodeFor(err)
		return &usppb.OperateResponse{Results: []usppb.OperateResult{{
			ExecutedCommand: req.Command, CommandKey: req.CommandKey, Success: false, ErrCode: code, ErrMsg: msg,
		}}}
	}

	if !op.Async {
		out, err := op.Handler(req.Command, toParamMap(req.InputArgs))
		if err != nil {
			code, msg := errCodeFor(&dm.Error{Kind: dm.KindCommandFailure, Path: req.Command, Msg: err.Error()})
			return &usppb.OperateResponse{Results: []usppb.OperateResult{{
				ExecutedCommand: req.Command, CommandKey: req.CommandKey, Success: false, ErrCode: code, ErrMsg: msg,
			}}}
		}
		return &usppb.OperateResponse{Results: []usppb.OperateResult{{
			ExecutedCommand: req.Command, CommandKey: req.CommandKey, Success: true, OutputArgs: fromParamMap(out),
		}}}
	}

	key := req.CommandKey
	if key == "" {
		key = d.cmds.nextKey()
	}
	d.cmds.track(key, c.EndpointID)
	go d.runAsyncOperate(context.Background(), c.EndpointID, key, op.Handler, req)

	return &usppb.OperateResponse{Results: []usppb.OperateResult{{
		ExecutedCommand: req.Command, CommandKey: key, Success: true,
	}}}
}

// runAsyncOperate executes an asynchronous operation's handler off the
// dispatcher's call path and reports completion through the Subscription
// Engine once it returns — the one place this agent departs from the
// cooperative event loop's single-goroutine model, because an async
// Operate handler is explicitly allowed to run longer than one event-loop
// tick (spec §5: "any long operation ... must return promptly and
// complete via a timer or background signal").
func (d *Dispatcher) runAsyncOperate(ctx context.Context, controllerID, key string, handler func(path string, inputArgs map[string]string) (map[string]string, error), req *usppb.OperateRequest) {
	defer d.cmds.untrack(key)

	out, err := handler(req.Command, toParamMap(req.InputArgs))
	var outputArgs []usppb.ParamValue
	if err != nil {
		outputArgs = []usppb.ParamValue{{Path: "Fault", Value: err.Error()}}
	} else {
		outputArgs = fromParamMap(out)
	}
	if ferr := d.subs.FireOperationComplete(ctx, controllerID, req.Command, key, outputArgs); ferr != nil {
		d.logger.Warn("dispatch: operation complete delivery failed", "command_key", key, "err", ferr)
	}
}
