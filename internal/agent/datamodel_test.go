package agent

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

func TestAddSubscriptionRegistersWithEngine(t *testing.T) {
	a := newTestAgent(t)

	tx, err := a.txns.Begin()
	require.NoError(t, err)
	id, err := tx.BufferAdd("Device.LocalAgent.Subscription", map[string]string{
		"Recipient.ID":  "os::001122-controller-1",
		"ID":            "sub-1",
		"NotifType":     string(usppb.NotifyValueChange),
		"ReferenceList": "Device.DeviceInfo.UpTime, Device.DeviceInfo.SerialNumber",
		"Persistent":    "true",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	subID, ok := a.subInstances.keyFor(id)
	assert.True(t, ok)
	assert.Equal(t, "sub-1", subID)
}

func TestDeleteSubscriptionRemovesFromEngineAndInstanceSet(t *testing.T) {
	a := newTestAgent(t)

	tx, err := a.txns.Begin()
	require.NoError(t, err)
	id, err := tx.BufferAdd("Device.LocalAgent.Subscription", map[string]string{
		"Recipient.ID": "os::001122-controller-1",
		"ID":           "sub-2",
		"NotifType":    string(usppb.NotifyValueChange),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = a.txns.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.BufferDelete(
		"Device.LocalAgent.Subscription."+strconv.FormatUint(uint64(id), 10)+"."))
	require.NoError(t, tx.Commit())

	_, ok := a.subInstances.keyFor(id)
	assert.False(t, ok)
}

func TestAddSubscriptionWithoutIDIsSkipped(t *testing.T) {
	a := newTestAgent(t)

	tx, err := a.txns.Begin()
	require.NoError(t, err)
	id, err := tx.BufferAdd("Device.LocalAgent.Subscription", map[string]string{
		"NotifType": string(usppb.NotifyValueChange),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, ok := a.subInstances.keyFor(id)
	assert.False(t, ok)
}

func TestSTOMPConnectionReferencedByMTPRowSuppliesHost(t *testing.T) {
	a := newTestAgent(t)

	tx, err := a.txns.Begin()
	require.NoError(t, err)
	connID, err := tx.BufferAdd("Device.STOMP.Connection", map[string]string{
		"Host": "controller.example.com",
		"Port": "61614",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	connRef := "Device.STOMP.Connection." + strconv.FormatUint(uint64(connID), 10) + "."

	// Enable stays false: this exercises resolveSTOMPConnection without
	// having the STOMP binding dial a real (nonexistent) broker.
	tx, err = a.txns.Begin()
	require.NoError(t, err)
	mtpID, err := tx.BufferAdd("Device.LocalAgent.MTP", map[string]string{
		"Enable":          "false",
		"Protocol":        "STOMP",
		"STOMP.Reference": connRef,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	conn, ok := a.resolveSTOMPConnection(connRef)
	require.True(t, ok)
	assert.Equal(t, "controller.example.com", conn.host)
	assert.Equal(t, 61614, conn.port)

	key, ok := a.mtpInstances.keyFor(mtpID)
	assert.True(t, ok)
	assert.NotEmpty(t, key)
}

func TestShutdownErrorFormatting(t *testing.T) {
	var empty ShutdownError
	assert.Equal(t, "shutdown completed with no errors", empty.Error())
	assert.Nil(t, empty.Unwrap())

	single := ShutdownError{Errors: []error{assert.AnError}}
	assert.Contains(t, single.Error(), assert.AnError.Error())
	assert.Equal(t, assert.AnError, single.Unwrap())

	multi := ShutdownError{Errors: []error{assert.AnError, assert.AnError}}
	assert.Contains(t, multi.Error(), "2 errors")
	assert.Equal(t, assert.AnError, multi.Unwrap())
}
