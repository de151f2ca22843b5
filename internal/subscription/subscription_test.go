package subscription

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

type fakeLister struct{ ids []uint32 }

func (f *fakeLister) Instances(objPath string) ([]uint32, error) { return f.ids, nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []*usppb.NotifyRequest
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, controllerID string, req *usppb.NotifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, req)
	return nil
}

func setup(t *testing.T) (*Engine, *fakeSender, *dm.Registry) {
	t.Helper()
	reg := dm.New(nil, nil)
	require.NoError(t, reg.RegisterObject(&dm.ObjectDef{PathTemplate: "Device.WiFi.Radio.{i}", MultiInstance: true}))
	require.NoError(t, reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: "Device.WiFi.Radio.{i}.Channel", Access: dm.ReadWrite, Storage: dm.Computed,
		Getter: func(path string) (string, error) { return "11", nil },
	}))
	reg.Freeze()

	lister := &fakeLister{ids: []uint32{1}}
	resolver := pathresolver.New(reg, lister)
	ctrls := controller.New()
	ctrls.Upsert(&controller.Controller{EndpointID: "os::acs-1", Role: controller.RoleFullAccess})
	sender := &fakeSender{}
	eng := New(reg, resolver, ctrls, retry.New(nil, nil), sender, nil)
	return eng, sender, reg
}

func TestPollValueChangeFiresOnChange(t *testing.T) {
	eng, sender, _ := setup(t)
	eng.AddSubscription(&Subscription{
		ID: "sub-1", ControllerID: "os::acs-1", Kind: usppb.NotifyValueChange,
		ReferenceList: []string{"Device.WiFi.Radio.*.Channel"},
		Enable:        true,
	})

	require.NoError(t, eng.PollValueChange(context.Background()))
	assert.Empty(t, sender.sent, "first poll only establishes baseline")

	require.NoError(t, eng.PollValueChange(context.Background()))
	assert.Empty(t, sender.sent, "value did not change")

	// A value that differs from the recorded one fires exactly one Notify.
	eng.mu.Lock()
	eng.subs["sub-1"].lastValues["Device.WiFi.Radio.1.Channel"] = "6"
	eng.mu.Unlock()
	require.NoError(t, eng.PollValueChange(context.Background()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "11", sender.sent[0].Params[0].Value)
}

func TestFireObjectCreationMatchesSubtree(t *testing.T) {
	eng, sender, _ := setup(t)
	eng.AddSubscription(&Subscription{
		ID: "sub-2", ControllerID: "os::acs-1", Kind: usppb.NotifyObjectCreation,
		ReferenceList: []string{"Device.WiFi.Radio."},
		Enable:        true,
	})

	require.NoError(t, eng.FireObjectCreation(context.Background(), "Device.WiFi.Radio.2."))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, usppb.NotifyObjectCreation, sender.sent[0].Kind)
	assert.Equal(t, "sub-2", sender.sent[0].SubscriptionID)
}

func TestFireSkipsDisabledSubscriptions(t *testing.T) {
	eng, sender, _ := setup(t)
	eng.AddSubscription(&Subscription{
		ID: "sub-3", ControllerID: "os::acs-1", Kind: usppb.NotifyObjectDeletion,
		ReferenceList: []string{"Device.WiFi.Radio."},
		Enable:        false,
	})
	require.NoError(t, eng.FireObjectDeletion(context.Background(), "Device.WiFi.Radio.2."))
	assert.Empty(t, sender.sent)
}

func TestAckClearsPendingNotification(t *testing.T) {
	eng, _, _ := setup(t)
	eng.mu.Lock()
	eng.pending["notif-1"] = &pendingNotify{id: "notif-1", subscriptionID: "sub-1", controllerID: "os::acs-1", messageID: 1}
	eng.byController["os::acs-1"] = []string{"notif-1"}
	eng.mu.Unlock()

	assert.Equal(t, 1, eng.PendingForController("os::acs-1"))
	eng.Ack("notif-1")
	assert.Equal(t, 0, eng.PendingForController("os::acs-1"))
}

func TestAllReturnsEverySubscription(t *testing.T) {
	eng, _, _ := setup(t)
	eng.AddSubscription(&Subscription{ID: "sub-1", ControllerID: "os::acs-1", Kind: usppb.NotifyValueChange})
	eng.AddSubscription(&Subscription{ID: "sub-2", ControllerID: "os::acs-1", Kind: usppb.NotifyEvent})

	all := eng.All()
	assert.Len(t, all, 2)

	ids := map[string]bool{}
	for _, s := range all {
		ids[s.ID] = true
	}
	assert.True(t, ids["sub-1"])
	assert.True(t, ids["sub-2"])
}
