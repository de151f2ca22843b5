package bus

import (
	"github.com/jeeves-cluster-organization/uspagent/commbus"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
)

// InboundUspRecord carries a raw USP Record received on an MTP, handed
// from the MTP thread to the DM thread for dispatch (spec §2: "MTP
// thread", "DM thread"). ReplyRow is the MTP address the frame arrived
// on (STOMP reply-to / CoAP source), used by the Message Dispatcher to
// auto-register a not-yet-known controller when the MTP permits
// autodiscovery (spec §4.4 step 1).
type InboundUspRecord struct {
	FromEndpointID string
	MTPInstanceID  int
	Payload        []byte
	ReplyRow       controller.MTPRow
}

func (m *InboundUspRecord) Category() string    { return string(commbus.MessageCategoryCommand) }
func (m *InboundUspRecord) MessageType() string { return "InboundUspRecord" }

// OutboundUspRecord carries an assembled USP Record to transmit, handed
// from the DM thread (or the BDC thread, for Boot/periodic Notify) to
// the MTP thread.
type OutboundUspRecord struct {
	ToEndpointID string
	Destination  string // STOMP destination or CoAP URI
	Payload      []byte
}

func (m *OutboundUspRecord) Category() string    { return string(commbus.MessageCategoryCommand) }
func (m *OutboundUspRecord) MessageType() string { return "OutboundUspRecord" }

// ScheduleReconnect asks the MTP thread to (re)connect an MTP instance,
// e.g. after a data-model config change or a detected transport failure.
type ScheduleReconnect struct {
	MTPInstanceID int
	Reason        string
}

func (m *ScheduleReconnect) Category() string    { return string(commbus.MessageCategoryCommand) }
func (m *ScheduleReconnect) MessageType() string { return "ScheduleReconnect" }

// MtpConfigChanged is published (fan-out, not point-to-point) whenever
// Device.LocalAgent.MTP rows are added, removed, or edited, so every
// interested subscriber (the Agent MTP Table's reconciler, the admin
// surface's status cache) can react independently.
type MtpConfigChanged struct {
	InstanceIDs []int
}

func (m *MtpConfigChanged) Category() string    { return string(commbus.MessageCategoryEvent) }
func (m *MtpConfigChanged) MessageType() string { return "MtpConfigChanged" }
