// Package policy implements the controller-side actuation policy that
// sits outside the ETC protocol itself. ETC drives it through
// Core.Callbacks.OnAggregationComplete and never depends on or enforces
// it.
package policy

import "github.com/dantte-lp/etcmesh/internal/mesh"

// Reading is one sensor's value/threshold pair at aggregation time.
type Reading struct {
	Value     uint32
	Threshold uint32
}

// Directive is one actuation decision to dispatch via Node.Command.
type Directive struct {
	Receiver  mesh.Addr
	Cmd       mesh.Command
	Threshold uint32
}

// Policy evaluates a set of per-sensor readings and returns the
// directives to issue.
type Policy interface {
	Evaluate(readings map[mesh.Addr]Reading) []Directive
}

// maxIterations bounds the fixed-point loop; the policy's state space is
// tiny (a handful of sensors) and each iteration strictly tightens a
// reading, so this is never reached in practice, it only guards against
// a pathological input from ever looping forever.
const maxIterations = 64

// FixedPoint is the default actuation policy: sensors
// whose value has drifted far ahead of the pack, or whose threshold has
// grown unreasonably large, are reset; sensors that tripped their own
// threshold get it raised relative to the quietest sensor in the set.
type FixedPoint struct {
	MaxDiff      uint32
	MaxThreshold uint32
}

// NewFixedPoint returns the default policy with the published constants
// (CONTROLLER_MAX_DIFF=10000, CONTROLLER_MAX_THRESHOLD=50000).
func NewFixedPoint() *FixedPoint {
	return &FixedPoint{MaxDiff: 10000, MaxThreshold: 50000}
}

// Evaluate runs the policy to a fixed point, re-checking needsReset and the
// threshold comparison against the updated state on every pass until a
// pass produces no further change.
func (p *FixedPoint) Evaluate(readings map[mesh.Addr]Reading) []Directive {
	state := make(map[mesh.Addr]Reading, len(readings))
	for addr, r := range readings {
		state[addr] = r
	}
	directives := make(map[mesh.Addr]Directive)

	for i := 0; i < maxIterations; i++ {
		changed := false
		minValue := minOf(state)

		for addr, r := range state {
			switch {
			case p.needsReset(state, addr, r):
				if d, ok := directives[addr]; !ok || d.Cmd != mesh.CommandReset {
					directives[addr] = Directive{Receiver: addr, Cmd: mesh.CommandReset, Threshold: p.MaxDiff}
					state[addr] = Reading{Value: 0, Threshold: p.MaxDiff}
					changed = true
				}

			case r.Value > r.Threshold:
				newThreshold := r.Threshold + minValue
				if d, ok := directives[addr]; !ok || d.Cmd != mesh.CommandThreshold || d.Threshold != newThreshold {
					directives[addr] = Directive{Receiver: addr, Cmd: mesh.CommandThreshold, Threshold: newThreshold}
					state[addr] = Reading{Value: r.Value, Threshold: newThreshold}
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	out := make([]Directive, 0, len(directives))
	for _, d := range directives {
		out = append(out, d)
	}
	return out
}

func (p *FixedPoint) needsReset(state map[mesh.Addr]Reading, addr mesh.Addr, r Reading) bool {
	if r.Threshold > p.MaxThreshold {
		return true
	}
	for other, or := range state {
		if other == addr {
			continue
		}
		if r.Value >= or.Value+p.MaxDiff {
			return true
		}
	}
	return false
}

func minOf(state map[mesh.Addr]Reading) uint32 {
	first := true
	var min uint32
	for _, r := range state {
		if first || r.Value < min {
			min = r.Value
			first = false
		}
	}
	return min
}
