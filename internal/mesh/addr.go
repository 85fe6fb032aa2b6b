// Package mesh implements the Event-Triggered Collection (ETC) protocol
// stack: the packet codec, beacon-driven spanning tree, reverse-path
// forward table, buffered unicast retry layer, and the ETC core that ties
// them together into a single per-node actor.
//
// All mutable state for one node lives in a Node value created by Open and
// destroyed by Close; the node owns a single goroutine and no lock is ever
// taken on its own state (see node.go).
package mesh

import (
	"fmt"
)

// AddrLen is the wire size of a node address in bytes.
const AddrLen = 2

// Addr is a fixed two-byte link-layer node identifier.
type Addr [AddrLen]byte

// NullAddr is the distinguished "absent" address. It is never assigned to
// a real node; it marks an unused parent-list or forward-table slot.
var NullAddr = Addr{0xFF, 0xFF}

// IsNull reports whether a is the distinguished absent address.
func (a Addr) IsNull() bool { return a == NullAddr }

// String renders the address as "hi:lo" hex.
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x", a[0], a[1])
}

// PutAddr writes a in little-endian order to buf, which must have at
// least AddrLen bytes remaining.
func PutAddr(buf []byte, a Addr) {
	buf[0] = a[0]
	buf[1] = a[1]
}

// GetAddr reads an Addr in little-endian order from buf.
func GetAddr(buf []byte) Addr {
	return Addr{buf[0], buf[1]}
}

// Role is the behavioral role a node plays in the mesh, derived once at
// Open time from the node's own address against the compile-time
// controller address and sensor set.
type Role uint8

const (
	// RoleForwarder carries traffic but neither senses nor actuates.
	RoleForwarder Role = iota
	// RoleController collects reports and issues commands.
	RoleController
	// RoleSensor senses, triggers events, and actuates on command.
	RoleSensor
)

// String returns the human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleController:
		return "controller"
	case RoleSensor:
		return "sensor"
	case RoleForwarder:
		return "forwarder"
	default:
		return "unknown"
	}
}

// DeriveRole computes the role of self against the fixed topology
// configuration: the controller address and the ordered sensor set.
func DeriveRole(self, controller Addr, sensors []Addr) Role {
	if self == controller {
		return RoleController
	}
	for _, s := range sensors {
		if self == s {
			return RoleSensor
		}
	}
	return RoleForwarder
}

// seqnNewer reports whether candidate is a strictly newer tree epoch than
// stored, under 16-bit wrap semantics (RFC1982-style serial arithmetic
// rather than naive signed/unsigned compare): candidate is newer when it
// lies less than half the sequence space ahead of stored. On its own this
// counts a candidate of 0 as newer only when stored is 0x8001 or above;
// ParentList.ReceiveBeacon adds the rule that epoch 0 supersedes any
// nonzero stored epoch.
func seqnNewer(candidate, stored uint16) bool {
	if candidate == stored {
		return false
	}
	return int16(candidate-stored) > 0 //nolint:gosec // G115: 16-bit wrap arithmetic is intentional
}
