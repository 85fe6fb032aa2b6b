package radio

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

// ErrUnknownPeer means a unicast named a receiver that never joined the
// medium.
var ErrUnknownPeer = errors.New("radio: unknown peer")

// Position places a node on the simulated plane, in meters.
type Position struct {
	X, Y float64
}

func distance(a, b Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

type peer struct {
	addr mesh.Addr
	pos  Position
	recv Receiver
}

// Medium is an in-process simulated broadcast medium standing in for real
// radio hardware: RSSI derived from inter-node distance via a log-distance
// path-loss model, and a configurable uniform drop probability applied
// independently per link across an N-node broadcast fabric.
type Medium struct {
	mu          sync.Mutex
	peers       map[mesh.Addr]*peer
	rssiAt1m    int8
	pathLossExp float64
	dropProb    float64
}

// NewMedium creates an empty medium. rssiAt1m is the RSSI at one meter of
// separation (dBm); pathLossExp controls how quickly RSSI falls off with
// distance; dropProb is the independent per-send drop probability in
// [0,1] (1 drops every send), applied to both broadcast fan-out (per recipient) and unicast.
func NewMedium(rssiAt1m int8, pathLossExp, dropProb float64) *Medium {
	return &Medium{
		peers:       make(map[mesh.Addr]*peer),
		rssiAt1m:    rssiAt1m,
		pathLossExp: pathLossExp,
		dropProb:    dropProb,
	}
}

// Join registers a node at pos and returns the Broadcaster/Unicaster
// handles it should hand to mesh.Open.
func (m *Medium) Join(addr mesh.Addr, pos Position, recv Receiver) (mesh.Broadcaster, mesh.Unicaster) {
	m.mu.Lock()
	m.peers[addr] = &peer{addr: addr, pos: pos, recv: recv}
	m.mu.Unlock()
	return &broadcastLink{medium: m, self: addr}, &unicastLink{medium: m, self: addr}
}

// Move updates a registered node's position, for mobility-free tests that
// still want to exercise RSSI-dependent tree rebuilds.
func (m *Medium) Move(addr mesh.Addr, pos Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[addr]; ok {
		p.pos = pos
	}
}

func (m *Medium) rssiAt(dist float64) int8 {
	// log-distance path loss: rssi = rssiAt1m - 10*n*log10(max(dist,1))
	if dist < 1 {
		dist = 1
	}
	loss := 10 * m.pathLossExp * math.Log10(dist)
	rssi := float64(m.rssiAt1m) - loss
	if rssi < -128 {
		return -128
	}
	if rssi > 127 {
		return 127
	}
	return int8(rssi)
}

func (m *Medium) dropped() bool { return rand.Float64() < m.dropProb } //nolint:gosec // G404: link simulation, not security-sensitive

func (m *Medium) broadcast(sender mesh.Addr, frame []byte) error {
	m.mu.Lock()
	senderPeer, ok := m.peers[sender]
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("broadcast from %s: %w", sender, ErrUnknownPeer)
	}

	for _, p := range peers {
		if p.addr == sender {
			continue
		}
		if m.dropped() {
			continue
		}
		rssi := m.rssiAt(distance(senderPeer.pos, p.pos))
		recv := p.recv
		go recv.HandleBroadcastRecv(sender, rssi, frame)
	}
	return nil
}

func (m *Medium) unicast(sender, receiver mesh.Addr, frame []byte) error {
	m.mu.Lock()
	senderPeer, senderOK := m.peers[sender]
	receiverPeer, receiverOK := m.peers[receiver]
	m.mu.Unlock()
	if !senderOK {
		return fmt.Errorf("unicast from %s: %w", sender, ErrUnknownPeer)
	}
	if !receiverOK {
		return fmt.Errorf("unicast to %s: %w", receiver, ErrUnknownPeer)
	}

	delivered := !m.dropped()
	go func() {
		if delivered {
			receiverPeer.recv.HandleUnicastRecv(sender, frame)
		}
		senderPeer.recv.HandleSentStatus(delivered)
	}()
	return nil
}

// broadcastLink and unicastLink are scoped per-node views of Medium,
// satisfying mesh.Broadcaster and mesh.Unicaster respectively (the two
// interfaces share a method name with different signatures, so they
// cannot be satisfied by one type).
type broadcastLink struct {
	medium *Medium
	self   mesh.Addr
}

func (l *broadcastLink) Send(frame []byte) error { return l.medium.broadcast(l.self, frame) }

type unicastLink struct {
	medium *Medium
	self   mesh.Addr
}

func (l *unicastLink) Send(receiver mesh.Addr, frame []byte) error {
	return l.medium.unicast(l.self, receiver, frame)
}
