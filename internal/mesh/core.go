package mesh

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// EventID identifies one dissemination round: a (source sensor, local
// sequence number) pair.
type EventID struct {
	Source Addr
	Seqn   uint16
}

// TriggerResult is the outcome of Core.Trigger.
type TriggerResult uint8

const (
	TriggerStarted TriggerResult = iota
	TriggerSuppressed
)

func (r TriggerResult) String() string {
	if r == TriggerStarted {
		return "Started"
	}
	return "Suppressed"
}

// CommandResult is the outcome of Core.Command.
type CommandResult uint8

const (
	CommandSent CommandResult = iota
	CommandNoRoute
)

func (r CommandResult) String() string {
	if r == CommandSent {
		return "Sent"
	}
	return "NoRoute"
}

// Timing carries every configurable delay of the protocol. All are ordinary durations; the source
// language's fixed-point constants become time.Duration here.
type Timing struct {
	BeaconInterval        time.Duration
	BeaconForwardDelay     time.Duration
	EventForwardDelay     time.Duration
	CollectStartDelayMin  time.Duration
	CollectStartDelayMax  time.Duration
	ControllerCollectWait time.Duration
	SuppressNew           time.Duration
	SuppressProp          time.Duration
	SuppressEnd           time.Duration
	DiscoverySuppress     time.Duration
	EmergencySuppress     time.Duration
}

// DefaultTiming returns the protocol's published default delays,
// translated to durations.
func DefaultTiming() Timing {
	return Timing{
		BeaconInterval:        30 * time.Second,
		BeaconForwardDelay:     2 * time.Second,
		EventForwardDelay:     100 * time.Millisecond,
		CollectStartDelayMin:  3 * time.Second,
		CollectStartDelayMax:  5 * time.Second,
		ControllerCollectWait: 10 * time.Second,
		SuppressNew:           12 * time.Second,
		SuppressProp:          11500 * time.Millisecond,
		SuppressEnd:           500 * time.Millisecond,
		DiscoverySuppress:     2 * time.Second,
		EmergencySuppress:     2 * time.Second,
	}
}

// Limits carries the fixed capacities and guard thresholds that bound a
// node's parent list, forward table, and retry behavior.
type Limits struct {
	ParentCapacity   int
	ForwardCapacity  int
	BufferCapacity   int
	MaxSend          int
	MaxHops          uint8
	RSSIThreshold    int8
	DiscoveryEnabled bool
}

// DefaultLimits returns reasonable default capacities.
func DefaultLimits(numSensors int) Limits {
	return Limits{
		ParentCapacity:   DefaultParentCapacity,
		ForwardCapacity:  DefaultForwardHopCapacity,
		BufferCapacity:   numSensors,
		MaxSend:          1,
		MaxHops:          8,
		RSSIThreshold:    -95,
		DiscoveryEnabled: false,
	}
}

// Callbacks are the application hooks ETC drives, set according to a
// node's role.
type Callbacks struct {
	// OnEvent fires at the controller when an EVENT is observed.
	OnEvent func(source Addr, seqn uint16)
	// OnCollect fires at the controller for every COLLECT received,
	// before aggregation completes.
	OnCollect func(eventSeqn uint16, eventSource, sender Addr, value, threshold uint32)
	// OnAggregationComplete fires at the controller once every sensor has
	// reported for the current event or CONTROLLER_COLLECT_WAIT elapsed.
	// The actuation policy and any etc_command calls live outside the
	// mesh package.
	OnAggregationComplete func(event EventID, values map[Addr]CollectPayload)
	// OnCommand fires at a sensor when a COMMAND naming it arrives.
	OnCommand func(eventSeqn uint16, eventSource Addr, cmd Command, threshold uint32)
}

type commandKey struct {
	seqn      uint16
	source    Addr
	cmd       Command
	threshold uint32
}

type aggregation struct {
	event  EventID
	values map[Addr]CollectPayload
}

// Core is the ETC protocol state machine, wired to a
// ParentList, ForwardTable, Buffer and Discovery created alongside it. It
// exposes the etc_* operations and the receive handlers a Node's actor
// loop dispatches radio events to.
type Core struct {
	self       Addr
	role       Role
	sensors    []Addr
	controller Addr

	timing Timing
	limits Limits

	parents   *ParentList // nil for the controller
	forward   *ForwardTable
	buffer    *Buffer
	discovery *Discovery

	suppression       *Suppression
	beaconTimer       *Timer
	beaconForward     *Timer
	eventForward      *Timer
	collectTimer      *Timer
	controllerWait    *Timer
	emergencySuppress *Timer

	metrics   MetricsReporter
	callbacks Callbacks
	logger    *slog.Logger

	broadcastSend func([]byte)

	beaconSeqn  uint16
	localSeqn   uint16

	currentEvent     EventID
	haveCurrentEvent bool

	lastCommand     commandKey
	haveLastCommand bool

	latestValue     uint32
	latestThreshold uint32

	agg *aggregation
}

// CoreConfig bundles everything NewCore needs to construct a node's
// protocol state.
type CoreConfig struct {
	Self          Addr
	Role          Role
	Sensors       []Addr
	Controller    Addr
	Timing        Timing
	Limits        Limits
	TieBreak      TieBreak
	Metrics       MetricsReporter
	Callbacks     Callbacks
	Logger        *slog.Logger
	Post          func(func())
	BroadcastSend func([]byte)
	UnicastSend   func(receiver Addr, frame []byte)
}

// NewCore builds the protocol state for one node. The actor (node.go) is
// responsible for calling Start after construction and Close on teardown.
func NewCore(cfg CoreConfig) *Core {
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Core{
		self: cfg.Self, role: cfg.Role, sensors: cfg.Sensors, controller: cfg.Controller,
		timing: cfg.Timing, limits: cfg.Limits,
		metrics: cfg.Metrics, callbacks: cfg.Callbacks,
		logger:        cfg.Logger.With("addr", cfg.Self.String(), "role", cfg.Role.String()),
		broadcastSend: cfg.BroadcastSend,
	}

	if cfg.Role != RoleController {
		c.parents = NewParentList(cfg.Limits.ParentCapacity, cfg.TieBreak, cfg.Limits.RSSIThreshold)
	}
	c.forward = NewForwardTable(cfg.Limits.ForwardCapacity)
	c.suppression = NewSuppression(cfg.Post)
	c.beaconTimer = NewTimer(cfg.Post)
	c.beaconForward = NewTimer(cfg.Post)
	c.eventForward = NewTimer(cfg.Post)
	c.collectTimer = NewTimer(cfg.Post)
	c.controllerWait = NewTimer(cfg.Post)
	c.emergencySuppress = NewTimer(cfg.Post)

	deps := coreBufferDeps{c: c, unicastSend: cfg.UnicastSend}
	c.buffer = NewBuffer(cfg.Limits.BufferCapacity, cfg.Limits.MaxSend, cfg.Limits.MaxHops, deps, c.onBufferResult)

	if cfg.Limits.DiscoveryEnabled {
		c.discovery = NewDiscovery(cfg.Self, cfg.Limits.MaxHops, cfg.Timing.DiscoverySuppress, c.forward, cfg.BroadcastSend, cfg.Post)
		c.discovery.OnRouteLearned(func(Addr) { c.buffer.Kick() })
	}

	return c
}

// Start begins periodic controller beaconing. No-op for non-controllers.
func (c *Core) Start() {
	if c.role != RoleController {
		return
	}
	c.onBeaconTimerFire()
}

// Close tears down all timers and clears the outbound buffer.
func (c *Core) Close() {
	c.suppression.StopAll()
	c.beaconTimer.Stop()
	c.beaconForward.Stop()
	c.eventForward.Stop()
	c.collectTimer.Stop()
	c.controllerWait.Stop()
	c.emergencySuppress.Stop()
	c.buffer.Clear()
}

// -------------------------------------------------------------------------
// Accessors (status/snapshot surface)
// -------------------------------------------------------------------------

func (c *Core) Self() Addr { return c.self }
func (c *Core) Role() Role { return c.role }

// IsController reports whether addr is the node the mesh reports events to.
func (c *Core) IsController(addr Addr) bool { return addr == c.controller }

// Disconnected reports whether this node currently has no parent. The
// controller always reports true.
func (c *Core) Disconnected() bool {
	return c.parents == nil || c.parents.Disconnected()
}

func (c *Core) CurrentParent() Addr {
	if c.parents == nil {
		return NullAddr
	}
	return c.parents.Best().ParentAddr
}

func (c *Core) ParentEntries() []ParentEntry {
	if c.parents == nil {
		return nil
	}
	return c.parents.Entries()
}

func (c *Core) ForwardHops(sensor Addr) []ForwardHop { return c.forward.Hops(sensor) }
func (c *Core) ForwardSensors() []Addr               { return c.forward.Sensors() }
func (c *Core) BufferLen() int                       { return c.buffer.Len() }
func (c *Core) BeaconSeqn() uint16                   { return c.beaconSeqn }

// -------------------------------------------------------------------------
// Sensor reading, trigger, event flood
// -------------------------------------------------------------------------

// Update records the sensor's latest reading (etc_update).
func (c *Core) Update(value, threshold uint32) {
	c.latestValue, c.latestThreshold = value, threshold
}

// Trigger asks to disseminate an event (etc_trigger, sensor only).
func (c *Core) Trigger(value, threshold uint32) TriggerResult {
	c.Update(value, threshold)

	if c.role != RoleSensor || c.suppression.Blocked() {
		c.metrics.EventSuppressed()
		return TriggerSuppressed
	}

	c.localSeqn++
	c.currentEvent = EventID{Source: c.self, Seqn: c.localSeqn}
	c.haveCurrentEvent = true

	c.suppression.New.Arm(c.timing.SuppressNew, func() {})
	c.suppression.Prop.Arm(c.timing.SuppressProp, func() {})
	c.collectTimer.Arm(randDuration(c.timing.CollectStartDelayMin, c.timing.CollectStartDelayMax), c.onCollectTimerFire)

	c.metrics.EventObserved(true)
	c.broadcastSend(EncodeEvent(EventPayload{EventSeqn: c.localSeqn, EventSource: c.self}))
	return TriggerStarted
}

// ReceiveEvent handles an incoming EVENT broadcast.
func (c *Core) ReceiveEvent(p EventPayload) {
	if c.suppression.Prop.Armed() {
		c.metrics.EventSuppressed()
		return
	}

	incoming := EventID{Source: p.EventSource, Seqn: p.EventSeqn}
	if c.haveCurrentEvent && c.currentEvent == incoming {
		c.metrics.FrameDropped("duplicate_event")
		return
	}
	c.currentEvent = incoming
	c.haveCurrentEvent = true

	if c.role == RoleController {
		c.metrics.EventObserved(false)
		if c.callbacks.OnEvent != nil {
			c.callbacks.OnEvent(p.EventSource, p.EventSeqn)
		}
		return
	}

	c.metrics.EventObserved(false)
	c.suppression.Prop.Arm(c.timing.SuppressProp, func() {})
	c.eventForward.Arm(randDuration(0, c.timing.EventForwardDelay), func() {
		c.broadcastSend(EncodeEvent(p))
	})

	if c.role == RoleSensor {
		c.collectTimer.Arm(randDuration(c.timing.CollectStartDelayMin, c.timing.CollectStartDelayMax), c.onCollectTimerFire)
	}
}

func (c *Core) onCollectTimerFire() {
	if !c.haveCurrentEvent || c.Disconnected() {
		c.metrics.FrameDropped("disconnected")
		return
	}
	p := CollectPayload{
		EventSeqn: c.currentEvent.Seqn, EventSource: c.currentEvent.Source,
		Sender: c.self, Value: c.latestValue, Threshold: c.latestThreshold,
	}
	hdr := UnicastHeader{Type: UnicastCollect, Hops: 0, FinalReceiver: NullAddr}
	if err := c.buffer.Enqueue(hdr, c.CurrentParent(), EncodeCollect(hdr, p)); err != nil {
		c.metrics.FrameDropped("buffer_full")
		return
	}
	c.metrics.CollectSent()
}

// -------------------------------------------------------------------------
// Beacon/tree
// -------------------------------------------------------------------------

func (c *Core) onBeaconTimerFire() {
	c.broadcastSend(EncodeBeacon(BeaconPayload{Seqn: c.beaconSeqn, Hopn: 0}))
	c.metrics.BeaconSent()
	c.beaconSeqn++
	c.beaconTimer.Arm(c.timing.BeaconInterval, c.onBeaconTimerFire)
}

// ReceiveBeacon handles an incoming BEACON broadcast heard with the given
// RSSI.
func (c *Core) ReceiveBeacon(sender Addr, rssi int8, p BeaconPayload) {
	if c.role == RoleController || c.parents == nil {
		return
	}
	res := c.parents.ReceiveBeacon(sender, rssi, p.Seqn, p.Hopn)
	c.metrics.BeaconReceived(res.Accepted, res.BecameBest)
	if !res.Accepted || !res.BecameBest {
		return
	}
	delay := time.Duration(BeaconForwardDelay(int64(c.timing.BeaconForwardDelay)))
	seqn, hopn := res.NewSeqn, res.NewHopn
	c.beaconForward.Arm(delay, func() {
		c.broadcastSend(EncodeBeacon(BeaconPayload{Seqn: seqn, Hopn: hopn}))
		c.metrics.BeaconSent()
	})
}

// -------------------------------------------------------------------------
// Collect reception, controller aggregation
// -------------------------------------------------------------------------

func (c *Core) receiveCollect(immediateSender Addr, hdr UnicastHeader, p CollectPayload) {
	if c.parents != nil && !c.parents.Disconnected() && immediateSender == c.CurrentParent() {
		c.InvalidateTree()
		c.metrics.FrameDropped("loop_detected")
		return
	}

	c.forward.Learn(p.Sender, immediateSender, hdr.Hops)
	c.metrics.CollectReceived()

	if c.role == RoleController {
		c.receiveCollectAtController(p)
		return
	}

	if c.Disconnected() {
		c.metrics.FrameDropped("disconnected")
		return
	}
	if err := c.buffer.Enqueue(hdr, c.CurrentParent(), EncodeCollect(hdr, p)); err != nil {
		c.metrics.FrameDropped("buffer_full")
	}
}

func (c *Core) receiveCollectAtController(p CollectPayload) {
	event := EventID{Source: p.EventSource, Seqn: p.EventSeqn}
	if c.agg == nil || c.agg.event != event {
		c.agg = &aggregation{event: event, values: make(map[Addr]CollectPayload, len(c.sensors))}
		c.controllerWait.Arm(c.timing.ControllerCollectWait, c.onControllerWaitFire)
	}
	c.agg.values[p.Sender] = p

	if c.callbacks.OnCollect != nil {
		c.callbacks.OnCollect(p.EventSeqn, p.EventSource, p.Sender, p.Value, p.Threshold)
	}

	if len(c.agg.values) >= len(c.sensors) {
		c.controllerWait.Stop()
		c.finishAggregation()
	}
}

func (c *Core) onControllerWaitFire() { c.finishAggregation() }

func (c *Core) finishAggregation() {
	if c.agg == nil {
		return
	}
	agg := c.agg
	c.agg = nil
	if c.callbacks.OnAggregationComplete != nil {
		c.callbacks.OnAggregationComplete(agg.event, agg.values)
	}
}

// -------------------------------------------------------------------------
// Command dispatch/reception, emergency broadcast
// -------------------------------------------------------------------------

// Command issues an actuation directive toward receiver (etc_command,
// controller only).
func (c *Core) Command(receiver Addr, cmd Command, threshold uint32) CommandResult {
	hop, _, ok := c.forward.FirstHop(receiver)
	if !ok {
		return CommandNoRoute
	}
	source, seqn := NullAddr, uint16(0)
	if c.haveCurrentEvent {
		source, seqn = c.currentEvent.Source, c.currentEvent.Seqn
	}
	p := CommandPayload{EventSeqn: seqn, EventSource: source, Receiver: receiver, Cmd: cmd, Threshold: threshold}
	hdr := UnicastHeader{Type: UnicastCommand, Hops: 0, FinalReceiver: receiver}
	if err := c.buffer.Enqueue(hdr, hop, EncodeCommand(hdr, p)); err != nil {
		return CommandNoRoute
	}
	c.metrics.CommandSent()
	return CommandSent
}

func (c *Core) receiveCommand(immediateSender Addr, hdr UnicastHeader, p CommandPayload) {
	if hop, _, ok := c.forward.FirstHop(hdr.FinalReceiver); ok && hop == immediateSender {
		c.forward.RemoveHop(hdr.FinalReceiver, immediateSender)
		c.metrics.FrameDropped("loop_detected")
		c.metrics.RouteInvalidated()
	}

	if hdr.FinalReceiver == c.self {
		c.deliverCommand(p)
		return
	}

	hop, _, ok := c.forward.FirstHop(hdr.FinalReceiver)
	if !ok {
		c.emergencyBroadcast(p)
		return
	}
	if err := c.buffer.Enqueue(hdr, hop, EncodeCommand(hdr, p)); err != nil {
		c.metrics.FrameDropped("buffer_full")
	}
}

func (c *Core) deliverCommand(p CommandPayload) {
	key := commandKey{seqn: p.EventSeqn, source: p.EventSource, cmd: p.Cmd, threshold: p.Threshold}
	c.metrics.CommandReceived()
	if c.haveLastCommand && c.lastCommand == key {
		return // acknowledged, not re-actuated
	}
	c.lastCommand, c.haveLastCommand = key, true

	if c.callbacks.OnCommand != nil {
		c.callbacks.OnCommand(p.EventSeqn, p.EventSource, p.Cmd, p.Threshold)
	}
	c.suppression.PropEnd.Arm(c.timing.SuppressEnd, func() {
		c.suppression.Prop.Stop()
	})
}

func (c *Core) emergencyBroadcast(p CommandPayload) {
	c.metrics.EmergencyBroadcast()
	c.broadcastSend(EncodeEmergencyCommand(p))
}

func (c *Core) emergencyBroadcastFromFrame(frame []byte) {
	uf, err := DecodeUnicast(frame)
	if err != nil {
		c.metrics.FrameDropped("malformed")
		return
	}
	c.emergencyBroadcast(uf.Command)
}

// ReceiveEmergencyCommand handles an EMERGENCY_COMMAND broadcast.
func (c *Core) ReceiveEmergencyCommand(p CommandPayload) {
	if p.Receiver == c.self {
		c.deliverCommand(p)
		return
	}
	if c.emergencySuppress.Armed() {
		return
	}
	c.emergencySuppress.Arm(c.timing.EmergencySuppress, func() {})
	c.metrics.EmergencyBroadcast()
	c.broadcastSend(EncodeEmergencyCommand(p))
}

// -------------------------------------------------------------------------
// Forward discovery dispatch
// -------------------------------------------------------------------------

func (c *Core) ReceiveDiscoveryRequest(p DiscoveryPayload) {
	if c.discovery != nil {
		c.discovery.HandleRequest(p.Sensor, p.Distance)
	}
}

func (c *Core) ReceiveDiscoveryResponse(immediateSender Addr, p DiscoveryPayload) {
	if c.discovery != nil {
		c.discovery.HandleResponse(immediateSender, p.Sensor, p.Distance)
	}
}

// -------------------------------------------------------------------------
// Unicast dispatch entry point and buffer wiring
// -------------------------------------------------------------------------

// ReceiveUnicast decodes an inbound unicast frame, applies the hop counter
// and max-hops drop rule, and dispatches to the type-specific
// receive handler.
func (c *Core) ReceiveUnicast(immediateSender Addr, frame []byte) {
	uf, err := DecodeUnicast(frame)
	if err != nil {
		c.metrics.FrameDropped("malformed")
		return
	}
	if !OnReceiveHopIncrement(&uf.Header, c.limits.MaxHops) {
		c.metrics.FrameDropped("max_hops")
		return
	}

	switch uf.Header.Type {
	case UnicastCollect:
		c.receiveCollect(immediateSender, uf.Header, uf.Collect)
	case UnicastCommand:
		c.receiveCommand(immediateSender, uf.Header, uf.Command)
	}
}

// ReceiveBroadcastFrame decodes an inbound broadcast frame heard with the
// given RSSI and dispatches it to the matching receive handler. Unknown
// frame types are logged and dropped, never treated as an error.
func (c *Core) ReceiveBroadcastFrame(sender Addr, rssi int8, frame []byte) {
	bf, err := DecodeBroadcast(frame)
	if err != nil {
		c.metrics.FrameDropped("malformed")
		return
	}
	switch bf.Type {
	case BroadcastBeacon:
		c.ReceiveBeacon(sender, rssi, bf.Beacon)
	case BroadcastEvent:
		c.ReceiveEvent(bf.Event)
	case BroadcastForwardDiscoveryRequest:
		c.ReceiveDiscoveryRequest(bf.Discovery)
	case BroadcastForwardDiscoveryResponse:
		c.ReceiveDiscoveryResponse(sender, bf.Discovery)
	case BroadcastEmergencyCommand:
		c.ReceiveEmergencyCommand(bf.Command)
	default:
		c.metrics.FrameDropped("unknown_type")
	}
}

// OnSendStatus forwards a link-layer sent-status callback to the buffer.
func (c *Core) OnSendStatus(ok bool) { c.buffer.OnSendStatus(ok) }

func (c *Core) onBufferResult(entry *Entry, outcome SendOutcome) {
	c.metrics.UnicastOutcome(outcome)
	if outcome == OutcomeUndelivered {
		c.logger.Debug("unicast undelivered", "type", entry.Header.Type.String(), "final_receiver", entry.Header.FinalReceiver.String())
	}
}

// InvalidateTree applies an external parent-failure signal.
func (c *Core) InvalidateTree() {
	if c.parents != nil {
		c.parents.Invalidate()
		c.metrics.RouteInvalidated()
	}
}

// -------------------------------------------------------------------------
// BufferDeps adapter
// -------------------------------------------------------------------------

// coreBufferDeps adapts Core to the BufferDeps interface so buffer.go
// never reaches into Core's fields directly.
type coreBufferDeps struct {
	c           *Core
	unicastSend func(receiver Addr, frame []byte)
}

func (d coreBufferDeps) Disconnected() bool  { return d.c.Disconnected() }
func (d coreBufferDeps) CurrentParent() Addr { return d.c.CurrentParent() }
func (d coreBufferDeps) InvalidateTree()     { d.c.InvalidateTree() }

func (d coreBufferDeps) FirstHop(sensor Addr) (Addr, bool) {
	hop, _, ok := d.c.forward.FirstHop(sensor)
	return hop, ok
}

func (d coreBufferDeps) RemoveFirstHop(sensor Addr) {
	d.c.forward.RemoveFirst(sensor)
	d.c.metrics.RouteInvalidated()
}

func (d coreBufferDeps) NoRoute(finalReceiver Addr, frame []byte) {
	if d.c.discovery != nil {
		d.c.discovery.Request(finalReceiver)
		return
	}
	d.c.emergencyBroadcastFromFrame(frame)
}

func (d coreBufferDeps) Send(receiver Addr, frame []byte) { d.unicastSend(receiver, frame) }

func (d coreBufferDeps) IsController(addr Addr) bool { return d.c.IsController(addr) }

// -------------------------------------------------------------------------
// Jitter helper
// -------------------------------------------------------------------------

// randDuration returns a uniformly random duration in [min, max]. Not
// security-sensitive, so math/rand/v2 is used rather than crypto/rand
// (mirrors beacon.go's BeaconForwardDelay).
func randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1)) //nolint:gosec // G404: jitter, not security-sensitive
}
