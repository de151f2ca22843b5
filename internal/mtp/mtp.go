// Package mtp defines the common Message Transfer Protocol capability
// interface (Design Notes §9) implemented by the STOMP and CoAP
// transport bindings, so the Agent MTP Table and Message Dispatcher can
// treat either transport uniformly.
package mtp

import "context"

// Status is a transport's current operational state.
type Status int

const (
	StatusDown Status = iota
	StatusConnecting
	StatusUp
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDown:
		return "down"
	case StatusConnecting:
		return "connecting"
	case StatusUp:
		return "up"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// InboundHandler is invoked with the raw payload of every USP Record
// received on a transport. fromEndpointID carries the remote Endpoint-ID
// when a binding knows it; both bindings in this module (STOMP and CoAP)
// pass an empty string, and the sender is taken from the Record itself.
type InboundHandler func(fromEndpointID string, payload []byte)

// Capability is the uniform interface every MTP binding implements
// (Design Notes §9: "{Start, Stop, Status, Send}").
type Capability interface {
	// Start brings the transport up: connects/subscribes for STOMP,
	// binds the listener for CoAP. Start is idempotent while already
	// running.
	Start(ctx context.Context) error

	// Stop tears the transport down, releasing any held connections or
	// sockets. Stop is idempotent while already stopped.
	Stop(ctx context.Context) error

	// Status reports the transport's current state.
	Status() Status

	// Send transmits a single USP Record payload to the given
	// destination (a STOMP destination string or a CoAP URI, per
	// binding).
	Send(ctx context.Context, destination string, payload []byte) error
}

// Config carries the subset of Device.LocalAgent.MTP.{i}. parameters a
// binding needs to (re)configure itself, translated by the Agent MTP
// Table from the data model row (spec §3 "Agent MTP", §9 STOMP/CoAP
// parameter groups).
type Config struct {
	InstanceID int
	Protocol   string // "STOMP" or "CoAP"
	Enable     bool

	// STOMP
	STOMPHost        string
	STOMPPort        int
	STOMPUseTLS      bool
	STOMPUsername    string
	STOMPPassword    string
	STOMPVirtualHost string
	STOMPDestination string // this agent's subscribed destination

	// CoAP
	CoAPListenPort int
	CoAPUseDTLS    bool
	CoAPPath       string
}
