package mesh

import "time"

// Discovery implements the optional forward-discovery request/response
// broadcast path: when a COMMAND has no known first_hop, a node may flood
// a FORWARD_DISCOVERY_REQUEST for the target sensor instead of falling
// straight back to emergency broadcast. Any node that already knows a
// route, or is the sensor itself, answers with a
// FORWARD_DISCOVERY_RESPONSE; the response floods back the same way an
// EVENT does, and every hop it crosses is learned into the forward table
// exactly as a COLLECT hop is learned.
//
// Per-sensor suppression timers bound the request storm the same way
// emergency-command propagation is bounded, so a flood only crosses each
// node once per round.
type Discovery struct {
	self         Addr
	maxHops      uint8
	window       time.Duration
	forward      *ForwardTable
	send         func(frame []byte)
	post         func(func())
	suppress     map[Addr]*Timer
	routeLearned func(sensor Addr)
}

// NewDiscovery creates a Discovery helper bound to forward for route
// lookups/learning and send for broadcasting request/response frames.
func NewDiscovery(self Addr, maxHops uint8, window time.Duration, forward *ForwardTable, send func([]byte), post func(func())) *Discovery {
	return &Discovery{
		self: self, maxHops: maxHops, window: window,
		forward: forward, send: send, post: post,
		suppress: make(map[Addr]*Timer),
	}
}

// OnRouteLearned registers fn to be called whenever HandleResponse learns a
// route for a sensor that had none before, so anything parked waiting on
// that route (a buffered COMMAND) can be resumed.
func (d *Discovery) OnRouteLearned(fn func(sensor Addr)) {
	d.routeLearned = fn
}

// Request starts a discovery round for sensor: a distance-0 broadcast
// request, used when first_hop(sensor) is absent.
func (d *Discovery) Request(sensor Addr) {
	d.send(EncodeDiscovery(BroadcastForwardDiscoveryRequest, DiscoveryPayload{Sensor: sensor, Distance: 0}))
}

// HandleRequest processes a received FORWARD_DISCOVERY_REQUEST for sensor
// carrying the hop count travelled so far.
func (d *Discovery) HandleRequest(sensor Addr, distance uint8) {
	if d.self == sensor {
		d.respond(sensor, 0)
		return
	}
	if _, dist, ok := d.forward.FirstHop(sensor); ok {
		d.respond(sensor, dist+1)
		return
	}
	if distance+1 >= d.maxHops {
		return
	}
	if d.isSuppressed(sensor) {
		return
	}
	d.arm(sensor)
	d.send(EncodeDiscovery(BroadcastForwardDiscoveryRequest, DiscoveryPayload{Sensor: sensor, Distance: distance + 1}))
}

func (d *Discovery) respond(sensor Addr, distance uint8) {
	d.send(EncodeDiscovery(BroadcastForwardDiscoveryResponse, DiscoveryPayload{Sensor: sensor, Distance: distance}))
}

// HandleResponse processes a received FORWARD_DISCOVERY_RESPONSE heard
// directly from immediateSender, learning the route and, if it improves
// on what was already known, propagating the response one hop further.
func (d *Discovery) HandleResponse(immediateSender, sensor Addr, distance uint8) {
	if d.self == sensor {
		return
	}
	_, existingDist, known := d.forward.FirstHop(sensor)
	improved := !known || distance+1 < existingDist
	d.forward.Learn(sensor, immediateSender, distance+1)
	if !known && d.routeLearned != nil {
		d.routeLearned(sensor)
	}
	if !improved {
		return
	}
	if distance+1 >= d.maxHops {
		return
	}
	if d.isSuppressed(sensor) {
		return
	}
	d.arm(sensor)
	d.respond(sensor, distance+1)
}

func (d *Discovery) isSuppressed(sensor Addr) bool {
	t, ok := d.suppress[sensor]
	return ok && t.Armed()
}

func (d *Discovery) arm(sensor Addr) {
	t, ok := d.suppress[sensor]
	if !ok {
		t = NewTimer(d.post)
		d.suppress[sensor] = t
	}
	t.Arm(d.window, func() {})
}
