// Package identity derives the agent's own Endpoint-ID (spec §6 "Local
// agent identity"): vendor OUI plus the WAN interface's hardware address,
// formatted `os::<OUI>-<PRODUCT>-<SERIAL>`.
package identity

import (
	"fmt"
	"net"
	"strings"
)

// InterfaceLookup resolves a network interface by name, the same shape
// as net.InterfaceByName. Injectable so tests never depend on the host's
// real network interfaces.
type InterfaceLookup func(name string) (*net.Interface, error)

// Resolver derives Endpoint-IDs from a configurable interface lookup.
type Resolver struct {
	lookup InterfaceLookup
}

// New creates a Resolver backed by the real net.InterfaceByName.
func New() *Resolver {
	return &Resolver{lookup: net.InterfaceByName}
}

// NewWithLookup creates a Resolver backed by a caller-supplied lookup,
// for tests.
func NewWithLookup(lookup InterfaceLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// EndpointID derives this agent's Endpoint-ID from oui, productClass, and
// the hardware address of wanInterface (spec §6: "format
// os::<OUI>-<PRODUCT>-<SERIAL>"). The serial component is the WAN
// interface's MAC address with separators stripped, uppercased — the
// same convention TR-069/TR-369 devices use when no distinct serial
// number is configured.
func (r *Resolver) EndpointID(oui, productClass, wanInterface string) (string, error) {
	if oui == "" {
		return "", fmt.Errorf("identity: OUI must not be empty")
	}
	if productClass == "" {
		return "", fmt.Errorf("identity: product class must not be empty")
	}
	mac, err := r.wanMAC(wanInterface)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("os::%s-%s-%s", strings.ToUpper(oui), productClass, serialFromMAC(mac)), nil
}

func (r *Resolver) wanMAC(wanInterface string) (net.HardwareAddr, error) {
	if wanInterface == "" {
		return nil, fmt.Errorf("identity: WAN interface name must not be empty")
	}
	iface, err := r.lookup(wanInterface)
	if err != nil {
		return nil, fmt.Errorf("identity: WAN interface %q: %w", wanInterface, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("identity: WAN interface %q has no hardware address", wanInterface)
	}
	return iface.HardwareAddr, nil
}

func serialFromMAC(mac net.HardwareAddr) string {
	return strings.ToUpper(strings.ReplaceAll(mac.String(), ":", ""))
}
