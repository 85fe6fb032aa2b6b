// Package radio defines the link-layer boundary ETC consumes, and an
// in-process simulated mesh medium that satisfies it, for development and
// testing without real hardware.
//
// A real driver's packet-buffer API (clear/copy_from/copy_to/hdr_alloc/
// hdr_reduce/datalen/dataptr/attr(RSSI)) exists because that kind of
// runtime has no garbage-collected byte slice. In Go a []byte already
// provides copy-in/copy-out and sub-slicing for header prepend/strip, so
// it is not modeled as a separate type here: mesh.BroadcastFrame and
// mesh.UnicastFrame already carry RSSI and header fields as plain values.
package radio

import "github.com/dantte-lp/etcmesh/internal/mesh"

// Receiver is the set of inbound callbacks a radio driver delivers to a
// node: frame reception and send-status notification. mesh.Node
// satisfies this interface directly.
type Receiver interface {
	HandleBroadcastRecv(sender mesh.Addr, rssi int8, frame []byte)
	HandleUnicastRecv(sender mesh.Addr, frame []byte)
	HandleSentStatus(ok bool)
}
