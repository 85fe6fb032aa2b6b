package mesh

import (
	"context"
	"log/slog"
)

// Broadcaster is the link-layer broadcast primitive ETC consumes, reduced
// to the one call direction the protocol drives itself: handing a frame
// to the driver. Completion of a broadcast send is fire-and-forget at the
// protocol level (only unicast sends report a sent-status).
type Broadcaster interface {
	Send(frame []byte) error
}

// Unicaster is the link-layer unicast primitive. A non-nil error means the
// driver rejected the transmit outright; the node turns that into the same
// failed-send path a late sent-status callback would take.
type Unicaster interface {
	Send(receiver Addr, frame []byte) error
}

// Node is the single-actor wrapper around Core: every public method posts
// a closure onto one internal queue and a single goroutine (Run) drains
// it, so Core's state is only ever touched from that goroutine. A fixed
// pair of timer channels generalizes here to an arbitrary stream of timer
// firings and radio callbacks.
type Node struct {
	core   *Core
	queue  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// NodeConfig configures a Node. Role, if zero-valued, is derived from Self
// against Controller/Sensors via DeriveRole.
type NodeConfig struct {
	Self       Addr
	Controller Addr
	Sensors    []Addr
	Timing     Timing
	Limits     Limits
	TieBreak   TieBreak
	Metrics    MetricsReporter
	Callbacks  Callbacks
	Logger     *slog.Logger

	Broadcaster Broadcaster
	Unicaster   Unicaster

	// QueueDepth sizes the internal event queue. Zero uses a sensible
	// default.
	QueueDepth int
}

const defaultQueueDepth = 64

// Open creates and starts a Node: etc_open in spec vocabulary. The
// returned Node's Run method must be called to drive its actor loop.
func Open(cfg NodeConfig) *Node {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	n := &Node{
		queue:  make(chan func(), depth),
		done:   make(chan struct{}),
		logger: cfg.Logger.With("addr", cfg.Self.String()),
	}

	role := DeriveRole(cfg.Self, cfg.Controller, cfg.Sensors)

	var core *Core
	broadcastSend := func(frame []byte) {
		if err := cfg.Broadcaster.Send(frame); err != nil {
			n.logger.Warn("broadcast send failed", "err", err)
		}
	}
	unicastSend := func(receiver Addr, frame []byte) {
		if err := cfg.Unicaster.Send(receiver, frame); err != nil {
			core.OnSendStatus(false)
		}
	}

	core = NewCore(CoreConfig{
		Self: cfg.Self, Role: role, Sensors: cfg.Sensors, Controller: cfg.Controller,
		Timing: cfg.Timing, Limits: cfg.Limits, TieBreak: cfg.TieBreak,
		Metrics: cfg.Metrics, Callbacks: cfg.Callbacks, Logger: cfg.Logger,
		Post:          n.post,
		BroadcastSend: broadcastSend,
		UnicastSend:   unicastSend,
	})
	n.core = core
	return n
}

// Run drains the event queue until ctx is cancelled. Call it in its own
// goroutine; Open does not start it automatically so callers can arrange
// their own lifecycle (errgroup, etc.) around it.
func (n *Node) Run(ctx context.Context) {
	n.post(n.core.Start)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-n.queue:
			fn()
		}
	}
}

// Close tears down the node's protocol state (etc_close). It must run on
// the actor goroutine, so it is posted like any other operation; callers
// should stop Run's context afterward.
func (n *Node) Close() {
	n.do(n.core.Close)
	close(n.done)
}

// post hands fn to the actor loop, dropping it silently if the node is
// already closed.
func (n *Node) post(fn func()) {
	select {
	case n.queue <- fn:
	case <-n.done:
	}
}

// do posts fn and blocks until it has run.
func (n *Node) do(fn func()) {
	wait := make(chan struct{})
	n.post(func() {
		fn()
		close(wait)
	})
	select {
	case <-wait:
	case <-n.done:
	}
}

// -------------------------------------------------------------------------
// Application surface
// -------------------------------------------------------------------------

// Update publishes the sensor's latest reading (etc_update).
func (n *Node) Update(value, threshold uint32) {
	n.do(func() { n.core.Update(value, threshold) })
}

// Trigger asks to disseminate an event (etc_trigger).
func (n *Node) Trigger(value, threshold uint32) TriggerResult {
	var res TriggerResult
	n.do(func() { res = n.core.Trigger(value, threshold) })
	return res
}

// Command issues an actuation directive (etc_command).
func (n *Node) Command(receiver Addr, cmd Command, threshold uint32) CommandResult {
	var res CommandResult
	n.do(func() { res = n.core.Command(receiver, cmd, threshold) })
	return res
}

// -------------------------------------------------------------------------
// Radio-driven inbound events
// -------------------------------------------------------------------------

// HandleBroadcastRecv is called by the radio layer when a broadcast frame
// arrives, carrying the sender address and received signal strength.
func (n *Node) HandleBroadcastRecv(sender Addr, rssi int8, frame []byte) {
	n.post(func() { n.core.ReceiveBroadcastFrame(sender, rssi, frame) })
}

// HandleUnicastRecv is called by the radio layer when a unicast frame
// arrives.
func (n *Node) HandleUnicastRecv(sender Addr, frame []byte) {
	n.post(func() { n.core.ReceiveUnicast(sender, frame) })
}

// HandleSentStatus is called by the radio layer once a previously
// submitted unicast send completes.
func (n *Node) HandleSentStatus(ok bool) {
	n.post(func() { n.core.OnSendStatus(ok) })
}

// -------------------------------------------------------------------------
// Snapshot surface (for internal/server, internal/metrics)
// -------------------------------------------------------------------------

// Snapshot is a point-in-time view of a node's protocol state.
type Snapshot struct {
	Self          Addr
	Role          Role
	Disconnected  bool
	CurrentParent Addr
	Parents       []ParentEntry
	BufferLen     int
	BeaconSeqn    uint16
	ForwardTable  map[Addr][]ForwardHop
}

// Status returns a consistent snapshot taken on the actor goroutine.
func (n *Node) Status() Snapshot {
	var snap Snapshot
	n.do(func() {
		snap = Snapshot{
			Self:          n.core.Self(),
			Role:          n.core.Role(),
			Disconnected:  n.core.Disconnected(),
			CurrentParent: n.core.CurrentParent(),
			Parents:       n.core.ParentEntries(),
			BufferLen:     n.core.BufferLen(),
			BeaconSeqn:    n.core.BeaconSeqn(),
			ForwardTable:  make(map[Addr][]ForwardHop),
		}
		for _, s := range n.core.ForwardSensors() {
			snap.ForwardTable[s] = n.core.ForwardHops(s)
		}
	})
	return snap
}
