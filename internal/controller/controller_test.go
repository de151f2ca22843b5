package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGet(t *testing.T) {
	tbl := New()
	c := &Controller{EndpointID: "os::acs-1", Role: RoleFullAccess}
	tbl.Upsert(c)

	got, ok := tbl.Get("os::acs-1")
	require.True(t, ok)
	assert.Equal(t, RoleFullAccess, got.Role)
}

func TestSendEndpointPrefersPreferredRow(t *testing.T) {
	c := &Controller{
		EndpointID: "os::acs-1",
		MTPs: []MTPRow{
			{Protocol: "CoAP", CoAPURI: "coap://acs.example/usp"},
			{Protocol: "STOMP", STOMPDestination: "/queue/acs", Preferred: true},
		},
	}
	ep, err := c.SendEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "STOMP", ep.Protocol)
}

func TestSendEndpointFallsBackToFirstRow(t *testing.T) {
	c := &Controller{
		EndpointID: "os::acs-1",
		MTPs:       []MTPRow{{Protocol: "CoAP", CoAPURI: "coap://acs.example/usp"}},
	}
	ep, err := c.SendEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "CoAP", ep.Protocol)
}

func TestSendEndpointNoRowsErrors(t *testing.T) {
	c := &Controller{EndpointID: "os::acs-1"}
	_, err := c.SendEndpoint()
	assert.Error(t, err)
}

func TestNextMessageIDIsMonotonicAndGapFree(t *testing.T) {
	c := &Controller{EndpointID: "os::acs-1"}
	for i := uint64(1); i <= 5; i++ {
		assert.Equal(t, i, c.NextMessageID())
	}
}

func TestRemoveDeletesController(t *testing.T) {
	tbl := New()
	tbl.Upsert(&Controller{EndpointID: "os::acs-1"})
	tbl.Remove("os::acs-1")
	_, ok := tbl.Get("os::acs-1")
	assert.False(t, ok)
}
