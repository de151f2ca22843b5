package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/instancecache"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/subscription"
	"github.com/jeeves-cluster-organization/uspagent/internal/txn"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

type fakeNotifySender struct{}

func (fakeNotifySender) Send(ctx context.Context, controllerID string, req *usppb.NotifyRequest) error {
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *controller.Table, *dm.Registry) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"), []byte("k"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := dm.New(db, nil)
	require.NoError(t, reg.RegisterObject(&dm.ObjectDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.", MultiInstance: true,
		RefreshInstances: func() ([]uint32, error) { return []uint32{1}, nil },
	}))
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.LocalAgent.MTP.{i}.Enable",
		Type:         typeutil.TypeBool, Access: dm.ReadWrite, Storage: dm.InDB, Default: "false",
	}))
	require.NoError(t, reg.RegisterOperation(&dm.OperationDef{
		PathTemplate: "Device.Reboot()",
		Handler: func(path string, args map[string]string) (map[string]string, error) {
			return map[string]string{"Status": "ok"}, nil
		},
	}))
	require.NoError(t, reg.RegisterOperation(&dm.OperationDef{
		PathTemplate: "Device.FactoryReset()",
		Async:        true,
		Handler: func(path string, args map[string]string) (map[string]string, error) {
			return map[string]string{"Status": "ok"}, nil
		},
	}))
	reg.Freeze()

	cache := instancecache.New(reg, nil)
	resolver := pathresolver.New(reg, cache)
	txns := txn.New(reg, db, cache, nil)
	ctrls := controller.New()
	retries := retry.New(nil, nil)
	subs := subscription.New(reg, resolver, ctrls, retries, fakeNotifySender{}, nil)

	outbound := bus.NewQueue("outbound", 8)
	d := New(reg, resolver, cache, txns, ctrls, subs, outbound, true, nil)
	return d, ctrls, reg
}

func recordFor(t *testing.T, fromID string, msgID string, msgType usppb.MsgType, body []byte) bus.InboundUspRecord {
	t.Helper()
	msg := &usppb.Message{Header: &usppb.Header{MsgID: msgID, MsgType: msgType}, Body: body}
	rec := &usppb.Record{Version: "1.3", FromID: fromID, ToID: "os::agent-1", Payload: msg.Marshal()}
	return bus.InboundUspRecord{FromEndpointID: fromID, Payload: rec.Marshal()}
}

func drainResponse(t *testing.T, outbound *bus.Queue) *usppb.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := outbound.Recv(ctx)
	require.NoError(t, err)
	out, ok := raw.(*bus.OutboundUspRecord)
	require.True(t, ok)
	rec, err := usppb.UnmarshalRecord(out.Payload)
	require.NoError(t, err)
	msg, err := usppb.UnmarshalMessage(rec.Payload)
	require.NoError(t, err)
	return msg
}

func TestHandleGetReturnsParamValue(t *testing.T) {
	d, ctrls, _ := newTestDispatcher(t)
	ctrls.Upsert(&controller.Controller{
		EndpointID: "os::acs-1", Role: controller.RoleFullAccess,
		MTPs: []controller.MTPRow{{Protocol: "STOMP", STOMPDestination: "/queue/acs-1", Preferred: true}},
	})

	req := &usppb.GetRequest{Paths: []string{"Device.LocalAgent.MTP.1.Enable"}}
	in := recordFor(t, "os::acs-1", "req-1", usppb.MsgGetRequest, req.Marshal())

	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	require.NoError(t, d.Handle(context.Background(), in))

	msg := drainResponse(t, outbound)
	assert.Equal(t, usppb.MsgGetResponse, msg.Header.MsgType)
	assert.Equal(t, "req-1", msg.Header.MsgID)

	resp, err := usppb.UnmarshalGetResponse(msg.Body)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Params, 1)
	assert.Equal(t, "false", resp.Results[0].Params[0].Value)
}

func TestHandleSetUpdatesValueAndResolvesRoundTrip(t *testing.T) {
	d, ctrls, reg := newTestDispatcher(t)
	ctrls.Upsert(&controller.Controller{
		EndpointID: "os::acs-1", Role: controller.RoleFullAccess,
		MTPs: []controller.MTPRow{{Protocol: "STOMP", STOMPDestination: "/queue/acs-1", Preferred: true}},
	})
	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	req := &usppb.SetRequest{Updates: []usppb.SetUpdate{{
		ObjPath: "Device.LocalAgent.MTP.1.",
		Params:  []usppb.ParamValue{{Path: "Device.LocalAgent.MTP.1.Enable", Value: "true"}},
	}}}
	in := recordFor(t, "os::acs-1", "req-2", usppb.MsgSetRequest, req.Marshal())
	require.NoError(t, d.Handle(context.Background(), in))

	msg := drainResponse(t, outbound)
	assert.Equal(t, usppb.MsgSetResponse, msg.Header.MsgType)
	resp, err := usppb.UnmarshalSetResponse(msg.Body)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].OperationSuccess)

	v, err := reg.Get("Device.LocalAgent.MTP.1.Enable")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestHandleReadOnlyControllerDeniedSet(t *testing.T) {
	d, ctrls, _ := newTestDispatcher(t)
	ctrls.Upsert(&controller.Controller{
		EndpointID: "os::viewer-1", Role: controller.RoleReadOnly,
		MTPs: []controller.MTPRow{{Protocol: "STOMP", STOMPDestination: "/queue/viewer-1", Preferred: true}},
	})
	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	req := &usppb.SetRequest{Updates: []usppb.SetUpdate{{
		ObjPath: "Device.LocalAgent.MTP.1.",
		Params:  []usppb.ParamValue{{Path: "Device.LocalAgent.MTP.1.Enable", Value: "true"}},
	}}}
	in := recordFor(t, "os::viewer-1", "req-3", usppb.MsgSetRequest, req.Marshal())
	require.NoError(t, d.Handle(context.Background(), in))

	msg := drainResponse(t, outbound)
	assert.Equal(t, usppb.MsgError, msg.Header.MsgType)
	errBody, err := usppb.UnmarshalError(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, uint32(codePermissionDenied), errBody.ErrCode)
}

func TestHandleUnknownControllerWithoutAutodiscoveryIsRejected(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.allowAutodiscovery = false
	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	req := &usppb.GetSupportedProtocolRequest{}
	in := recordFor(t, "os::stranger-1", "req-4", usppb.MsgGetSupportedProtocolRequest, req.Marshal())
	err := d.Handle(context.Background(), in)
	assert.Error(t, err)
	assert.Equal(t, 0, outbound.Len())
}

func TestHandleOperateSyncRunsInline(t *testing.T) {
	d, ctrls, _ := newTestDispatcher(t)
	ctrls.Upsert(&controller.Controller{
		EndpointID: "os::acs-1", Role: controller.RoleFullAccess,
		MTPs: []controller.MTPRow{{Protocol: "STOMP", STOMPDestination: "/queue/acs-1", Preferred: true}},
	})
	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	req := &usppb.OperateRequest{Command: "Device.Reboot()", SendResp: true}
	in := recordFor(t, "os::acs-1", "req-5", usppb.MsgOperateRequest, req.Marshal())
	require.NoError(t, d.Handle(context.Background(), in))

	msg := drainResponse(t, outbound)
	assert.Equal(t, usppb.MsgOperateResponse, msg.Header.MsgType)
	resp, err := usppb.UnmarshalOperateResponse(msg.Body)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
}

func TestHandleOperateAsyncRepliesImmediately(t *testing.T) {
	d, ctrls, _ := newTestDispatcher(t)
	ctrls.Upsert(&controller.Controller{
		EndpointID: "os::acs-1", Role: controller.RoleFullAccess,
		MTPs: []controller.MTPRow{{Protocol: "STOMP", STOMPDestination: "/queue/acs-1", Preferred: true}},
	})
	outbound := bus.NewQueue("outbound", 8)
	d.outbound = outbound

	req := &usppb.OperateRequest{Command: "Device.FactoryReset()"}
	in := recordFor(t, "os::acs-1", "req-6", usppb.MsgOperateRequest, req.Marshal())
	require.NoError(t, d.Handle(context.Background(), in))

	msg := drainResponse(t, outbound)
	resp, err := usppb.UnmarshalOperateResponse(msg.Body)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.NotEmpty(t, resp.Results[0].CommandKey)
}
