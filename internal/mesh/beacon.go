package mesh

import "math/rand/v2"

// DefaultParentCapacity is the default bounded parent-list size (one best
// parent plus K-1 backups).
const DefaultParentCapacity = 3

// MaxHopn marks an unused parent-list slot.
const MaxHopn = ^uint16(0)

// ParentEntry is one slot in a node's parent list.
type ParentEntry struct {
	ParentAddr Addr // NullAddr if unused
	Seqn       uint16
	Hopn       uint16 // MaxHopn if unused
	RSSI       int8
}

func emptyParentEntry() ParentEntry {
	return ParentEntry{ParentAddr: NullAddr, Hopn: MaxHopn}
}

// TieBreak reports whether candidate should be preferred over stored when
// both are at the same tree epoch and the same hop distance. The default
// policy is "strictly stronger RSSI wins"; it is kept as a swappable
// function value rather than an inline comparison so a deployment can
// substitute another policy (e.g. a link-quality estimator) without
// touching the insertion algorithm.
type TieBreak func(candidateRSSI, storedRSSI int8) bool

// StrongerRSSIWins is the default tie-break policy.
func StrongerRSSIWins(candidateRSSI, storedRSSI int8) bool {
	return candidateRSSI > storedRSSI
}

// ParentList is the bounded, best-first ordered set of candidate uplinks
// maintained by every non-controller node.
//
// Index 0 is always the current best parent; index 0's ParentAddr is null
// iff the node is disconnected. The controller does not use a ParentList
// at all, see Node.role.
type ParentList struct {
	entries  []ParentEntry
	tie      TieBreak
	rssiFloor int8
}

// NewParentList creates an empty parent list with the given capacity,
// tie-break policy, and RSSI drop floor (RSSI_THRESHOLD, default -95).
func NewParentList(capacity int, tie TieBreak, rssiFloor int8) *ParentList {
	if tie == nil {
		tie = StrongerRSSIWins
	}
	entries := make([]ParentEntry, capacity)
	for i := range entries {
		entries[i] = emptyParentEntry()
	}
	return &ParentList{entries: entries, tie: tie, rssiFloor: rssiFloor}
}

// Best returns the current best parent entry (index 0).
func (p *ParentList) Best() ParentEntry { return p.entries[0] }

// Disconnected reports whether the node currently has no parent.
func (p *ParentList) Disconnected() bool { return p.entries[0].ParentAddr.IsNull() }

// Entries returns a copy of the full ordered parent list, for snapshots.
func (p *ParentList) Entries() []ParentEntry {
	out := make([]ParentEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// BeaconResult reports what a received beacon did to the parent list.
type BeaconResult struct {
	Accepted  bool // false if dropped (weak RSSI, stale epoch, or not better)
	BecameBest bool // true if the candidate landed at index 0
	NewHopn   uint16
	NewSeqn   uint16
}

// ReceiveBeacon applies an incoming BEACON, heard from sender with the
// given RSSI and carrying (seqn, hopn), to the parent list. This
// implements the full tree-selection algorithm.
func (p *ParentList) ReceiveBeacon(sender Addr, rssi int8, seqn, hopn uint16) BeaconResult {
	if rssi < p.rssiFloor {
		return BeaconResult{}
	}

	candidate := ParentEntry{ParentAddr: sender, Seqn: seqn, Hopn: hopn + 1, RSSI: rssi}

	switch {
	case p.Disconnected():
		p.removeSender(sender)
		p.insertAt(0, candidate)
		return BeaconResult{Accepted: true, BecameBest: true, NewHopn: candidate.Hopn, NewSeqn: seqn}

	case seqn != 0 && seqnOlder(seqn, p.entries[0].Seqn):
		return BeaconResult{}

	// Epoch 0 supersedes any nonzero stored epoch, whatever seqnNewer says.
	case seqnNewer(seqn, p.entries[0].Seqn) || (seqn == 0 && p.entries[0].Seqn != 0):
		p.removeSender(sender)
		p.insertAt(0, candidate)
		return BeaconResult{Accepted: true, BecameBest: true, NewHopn: candidate.Hopn, NewSeqn: seqn}

	default: // same epoch: scan for the first index the candidate beats
		p.removeSender(sender)
		idx := p.findInsertionIndex(candidate)
		if idx < 0 {
			return BeaconResult{}
		}
		p.insertAt(idx, candidate)
		return BeaconResult{Accepted: true, BecameBest: idx == 0, NewHopn: candidate.Hopn, NewSeqn: seqn}
	}
}

// seqnOlder is the strict converse of seqnNewer; it does not mean "not
// newer", because equal epochs are neither older nor newer.
func seqnOlder(candidate, stored uint16) bool {
	return candidate != stored && seqnNewer(stored, candidate)
}

// removeSender deletes any existing entry for this physical parent so it
// never appears twice in the list, shifting the
// tail left and leaving an empty slot at the end.
func (p *ParentList) removeSender(sender Addr) {
	for i, e := range p.entries {
		if e.ParentAddr == sender {
			copy(p.entries[i:], p.entries[i+1:])
			p.entries[len(p.entries)-1] = emptyParentEntry()
			return
		}
	}
}

// findInsertionIndex returns the first index at which candidate is better
// than the stored entry under (hopn ASC, rssi via TieBreak), or -1 if the
// candidate is not better than any entry.
func (p *ParentList) findInsertionIndex(candidate ParentEntry) int {
	for i, e := range p.entries {
		if e.ParentAddr.IsNull() {
			return i
		}
		if candidate.Hopn < e.Hopn {
			return i
		}
		if candidate.Hopn == e.Hopn && p.tie(candidate.RSSI, e.RSSI) {
			return i
		}
	}
	return -1
}

// insertAt inserts candidate at idx, shifting entries right and dropping
// the worst (last) entry if the list is already full.
func (p *ParentList) insertAt(idx int, candidate ParentEntry) {
	copy(p.entries[idx+1:], p.entries[idx:len(p.entries)-1])
	p.entries[idx] = candidate
}

// Invalidate applies an external failure signal: the current best parent is known to be unreachable, so
// the list shifts left by one and the now-empty tail slot is reset. The
// next-best backup, if any, takes over without waiting for a new beacon
// epoch.
func (p *ParentList) Invalidate() {
	copy(p.entries, p.entries[1:])
	p.entries[len(p.entries)-1] = emptyParentEntry()
}

// BeaconForwardDelay returns a jittered one-shot delay before a node
// rebroadcasts its own beacon after adopting a new best parent. Randomness
// is not security-sensitive here, so math/rand/v2 is used rather than
// crypto/rand.
func BeaconForwardDelay(base int64) int64 {
	if base <= 0 {
		return base
	}
	return base/2 + rand.Int64N(base/2+1) //nolint:gosec // G404: jitter, not security-sensitive
}
