package mesh

// DefaultForwardHopCapacity is the default bounded next-hop list size per
// sensor.
const DefaultForwardHopCapacity = 3

// ForwardHop is one candidate next-hop toward a sensor. A sensor's hops
// are ordered most recently learned first, whatever their distance.
type ForwardHop struct {
	HopAddr  Addr // NullAddr means an empty slot
	Distance uint8
}

func emptyForwardHop() ForwardHop { return ForwardHop{HopAddr: NullAddr} }

// ForwardTable is the reverse-path table: for each known sensor address,
// an ordered list of next-hops learned from collects and forward
// discoveries.
type ForwardTable struct {
	capacity int
	entries  map[Addr][]ForwardHop
}

// NewForwardTable creates an empty forward table with the given per-sensor
// hop-list capacity.
func NewForwardTable(capacity int) *ForwardTable {
	return &ForwardTable{capacity: capacity, entries: make(map[Addr][]ForwardHop)}
}

func (t *ForwardTable) slotsFor(sensor Addr) []ForwardHop {
	slots, ok := t.entries[sensor]
	if !ok {
		slots = make([]ForwardHop, t.capacity)
		for i := range slots {
			slots[i] = emptyForwardHop()
		}
		t.entries[sensor] = slots
	}
	return slots
}

// Learn records that sensor is reachable via hop at the given distance,
// making it the new primary next-hop. Any existing slot naming the same
// hop is removed first so the freshest observation is always primary
// while older observations are preserved as backups up to capacity.
func (t *ForwardTable) Learn(sensor, hop Addr, distance uint8) {
	slots := t.slotsFor(sensor)
	removeHopInPlace(slots, hop)
	copy(slots[1:], slots[:len(slots)-1])
	slots[0] = ForwardHop{HopAddr: hop, Distance: distance}
}

// RemoveFirst drops the current primary next-hop for sensor, shifting the
// backups up. Used on command-send failure.
func (t *ForwardTable) RemoveFirst(sensor Addr) {
	slots, ok := t.entries[sensor]
	if !ok {
		return
	}
	copy(slots, slots[1:])
	slots[len(slots)-1] = emptyForwardHop()
}

// RemoveHop removes hop from sensor's next-hop list wherever it appears,
// used when loop detection invalidates a specific route.
func (t *ForwardTable) RemoveHop(sensor, hop Addr) {
	slots, ok := t.entries[sensor]
	if !ok {
		return
	}
	removeHopInPlace(slots, hop)
}

func removeHopInPlace(slots []ForwardHop, hop Addr) {
	for i, s := range slots {
		if s.HopAddr == hop {
			copy(slots[i:], slots[i+1:])
			slots[len(slots)-1] = emptyForwardHop()
			return
		}
	}
}

// FirstHop returns the current primary next-hop for sensor and whether one
// exists ("none" in this table's vocabulary is reported as ok == false).
func (t *ForwardTable) FirstHop(sensor Addr) (hop Addr, distance uint8, ok bool) {
	slots, exists := t.entries[sensor]
	if !exists || slots[0].HopAddr.IsNull() {
		return NullAddr, 0, false
	}
	return slots[0].HopAddr, slots[0].Distance, true
}

// Hops returns a copy of the ordered next-hop list for sensor, for
// snapshots and tests.
func (t *ForwardTable) Hops(sensor Addr) []ForwardHop {
	slots, ok := t.entries[sensor]
	if !ok {
		return nil
	}
	out := make([]ForwardHop, len(slots))
	copy(out, slots)
	return out
}

// Sensors returns the set of sensor addresses the table has any knowledge
// of, for snapshots.
func (t *ForwardTable) Sensors() []Addr {
	out := make([]Addr, 0, len(t.entries))
	for sensor := range t.entries {
		out = append(out, sensor)
	}
	return out
}
