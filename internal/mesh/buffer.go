package mesh

import (
	"errors"
	"fmt"
)

// ErrBufferFull indicates Enqueue was rejected because the FIFO is at
// capacity.
var ErrBufferFull = errors.New("unicast buffer full")

// SendOutcome is reported to the application once a buffered frame leaves
// the queue, either delivered or given up on.
type SendOutcome uint8

const (
	// OutcomeDelivered means the link layer reported success.
	OutcomeDelivered SendOutcome = iota
	// OutcomeUndelivered means retries were exhausted or no route/parent
	// existed with no fallback available.
	OutcomeUndelivered
)

// Entry is one buffered outbound unicast frame.
type Entry struct {
	Header          UnicastHeader
	Receiver        Addr
	Payload         []byte
	SendCount       int
	LastChance      bool
	ReceiverIsParent bool
}

// BufferDeps is the set of node-level collaborators the unicast buffer
// needs to apply the type-specific retry rules, kept as a narrow
// interface so the buffer never reaches into Node directly.
type BufferDeps interface {
	// Disconnected reports whether the node currently has no parent.
	Disconnected() bool
	// CurrentParent returns the current best parent address.
	CurrentParent() Addr
	// InvalidateTree applies an external parent-failure signal.
	InvalidateTree()
	// FirstHop looks up the forward-table next-hop for a sensor.
	FirstHop(sensor Addr) (hop Addr, ok bool)
	// RemoveFirstHop drops the primary next-hop for a sensor.
	RemoveFirstHop(sensor Addr)
	// NoRoute is called when a COMMAND has no known next-hop, carrying the
	// frame that could not be routed; the core decides whether to start
	// forward discovery or fall back directly to emergency broadcast.
	NoRoute(finalReceiver Addr, frame []byte)
	// Send hands a frame to the link-layer unicast primitive. The result
	// of the send arrives later via Buffer.OnSendStatus.
	Send(receiver Addr, frame []byte)
	// IsController reports whether addr is the node the mesh reports
	// events to, used to tell a controller-adjacent parent failure (which
	// still gets a last-chance retry) from a forwarder-parent failure
	// (which invalidates the tree immediately).
	IsController(addr Addr) bool
}

// nearMaxSendOffset is added to maxSend-1 to give the send_count an entry
// is reset to for a retry against a new hop/parent after a parent change
// or invalidation.
const nearMaxSendOffset = 0

// Buffer is the bounded FIFO outbound unicast queue with retry and route
// invalidation. At most one frame is ever in flight;
// sending is driven purely by the head.
type Buffer struct {
	capacity int
	maxSend  int
	maxHops  uint8
	queue    []*Entry
	inFlight bool
	deps     BufferDeps
	onResult func(entry *Entry, outcome SendOutcome)
}

// NewBuffer creates an empty unicast buffer.
func NewBuffer(capacity, maxSend int, maxHops uint8, deps BufferDeps, onResult func(*Entry, SendOutcome)) *Buffer {
	return &Buffer{capacity: capacity, maxSend: maxSend, maxHops: maxHops, deps: deps, onResult: onResult}
}

// Enqueue appends a new outbound frame and kicks off sending if the queue
// was idle. Returns ErrBufferFull if the queue is at capacity.
func (b *Buffer) Enqueue(hdr UnicastHeader, receiver Addr, payload []byte) error {
	if len(b.queue) >= b.capacity {
		return fmt.Errorf("enqueue %s to %s: %w", hdr.Type, receiver, ErrBufferFull)
	}
	b.queue = append(b.queue, &Entry{Header: hdr, Receiver: receiver, Payload: payload})
	b.sendNext()
	return nil
}

// Len reports the number of frames currently queued (including any
// in-flight head), for snapshots.
func (b *Buffer) Len() int { return len(b.queue) }

// Kick resumes sending after some external event may have unblocked the
// head of the queue, such as forward discovery learning the route a
// parked COMMAND was waiting on. A no-op if nothing is queued or a send
// is already in flight.
func (b *Buffer) Kick() { b.sendNext() }

// sendNext inspects the head repeatedly until it either hands a frame to
// the link layer or the queue is empty. It never sends while a frame is already in flight.
func (b *Buffer) sendNext() {
	if b.inFlight {
		return
	}

	for len(b.queue) > 0 {
		head := b.queue[0]

		if head.SendCount >= b.maxSend && !head.LastChance {
			b.finish(head, OutcomeUndelivered)
			continue
		}

		if !b.applyPreSendFixup(head) {
			if len(b.queue) > 0 && b.queue[0] == head {
				return // head needs external action (discovery/emergency) before it can send
			}
			continue // the fixup finished the head; inspect the next one
		}

		if head.SendCount >= b.maxSend && !head.LastChance {
			// A fixup (e.g. parent change) may have re-armed the budget;
			// re-check before popping.
			b.finish(head, OutcomeUndelivered)
			continue
		}

		frame := b.marshal(head)
		head.SendCount++
		b.inFlight = true
		b.deps.Send(head.Receiver, frame)
		return
	}
}

// applyPreSendFixup applies the type-specific pre-send rules. It returns
// false when the head cannot be sent right
// now and control has been handed to an external mechanism (forward
// discovery / emergency broadcast) instead.
func (b *Buffer) applyPreSendFixup(head *Entry) bool {
	switch head.Header.Type {
	case UnicastCollect:
		if b.deps.Disconnected() {
			b.finish(head, OutcomeUndelivered)
			return false
		}
		head.Receiver = b.deps.CurrentParent()
		head.ReceiverIsParent = true
		return true

	case UnicastCommand:
		hop, ok := b.deps.FirstHop(head.Header.FinalReceiver)
		if !ok {
			b.deps.NoRoute(head.Header.FinalReceiver, head.Payload)
			return false
		}
		head.Receiver = hop
		return true

	default:
		return true
	}
}

func (b *Buffer) marshal(head *Entry) []byte {
	// Payload already carries the encoded message body; only the header's
	// mutable fields (receiver is out-of-band, hops/final_receiver are
	// fixed at enqueue time) need to travel with it. The codec functions
	// in packet.go already produced the full wire frame at enqueue time,
	// so marshal here just returns it, kept as a seam for future
	// re-marshaling if retries ever need to mutate header fields in the
	// encoded bytes.
	return head.Payload
}

// finish pops the head and reports the outcome; callers drive the next
// send.
func (b *Buffer) finish(head *Entry, outcome SendOutcome) {
	b.pop()
	if b.onResult != nil {
		b.onResult(head, outcome)
	}
}

func (b *Buffer) pop() {
	if len(b.queue) == 0 {
		return
	}
	b.queue = b.queue[1:]
}

// OnSendStatus is called when the link layer reports the outcome of the
// in-flight send.
func (b *Buffer) OnSendStatus(ok bool) {
	b.inFlight = false
	if len(b.queue) == 0 {
		return
	}
	head := b.queue[0]

	if ok {
		b.finish(head, OutcomeDelivered)
	} else if retry := b.applyFailure(head); !retry {
		b.finish(head, OutcomeUndelivered)
	}
	b.sendNext()
}

// applyFailure runs the send-failure state machine and returns whether the
// head should be retried (true) or given up on (false, already left in
// place for the caller to finish()).
func (b *Buffer) applyFailure(head *Entry) bool {
	if head.SendCount < b.maxSend {
		return true
	}

	switch head.Header.Type {
	case UnicastCollect:
		return b.applyCollectFailure(head)
	case UnicastCommand:
		return b.applyCommandFailure(head)
	default:
		return false
	}
}

func (b *Buffer) applyCollectFailure(head *Entry) bool {
	if !head.ReceiverIsParent {
		return false
	}
	current := b.deps.CurrentParent()
	switch {
	case head.Receiver == current && b.deps.IsController(current) && !head.LastChance:
		// Only a controller-adjacent parent gets the extra retry; a
		// forwarder parent invalidates the tree on the first exhaustion.
		head.LastChance = true
		return true

	case head.Receiver == current:
		b.deps.InvalidateTree()
		if b.deps.Disconnected() {
			return false
		}
		head.SendCount = b.maxSend - 1 + nearMaxSendOffset
		head.Receiver = b.deps.CurrentParent()
		return true

	default: // parent changed mid-flight
		head.SendCount = b.maxSend - 1 + nearMaxSendOffset
		head.Receiver = current
		return true
	}
}

func (b *Buffer) applyCommandFailure(head *Entry) bool {
	if head.Header.FinalReceiver.IsNull() {
		return false
	}
	if !head.LastChance {
		head.LastChance = true
		return true
	}
	b.deps.RemoveFirstHop(head.Header.FinalReceiver)
	hop, ok := b.deps.FirstHop(head.Header.FinalReceiver)
	if !ok {
		// No backup hop left: leave the entry queued rather than finish it
		// here. The next sendNext cycle's ordinary pre-send fixup hits the
		// same no-route path and starts discovery/emergency fallback.
		return true
	}
	head.Receiver = hop
	head.SendCount = b.maxSend - 1 + nearMaxSendOffset
	return true
}

// Clear empties the queue and resets in-flight state, used by Node.Close.
func (b *Buffer) Clear() {
	b.queue = nil
	b.inFlight = false
}

// OnReceiveHopIncrement applies the per-forwarder hop counter increment and
// max-hops drop rule. Returns false if the frame must be dropped.
func OnReceiveHopIncrement(hdr *UnicastHeader, maxHops uint8) bool {
	hdr.Hops++
	return hdr.Hops < maxHops
}
