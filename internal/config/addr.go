package config

import (
	"encoding/hex"
	"fmt"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

// ParseAddr decodes a 2-byte hex-encoded node address literal (e.g.
// "01ff") into a mesh.Addr.
func ParseAddr(s string) (mesh.Addr, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return mesh.Addr{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddrLiteral, s, err)
	}
	if len(b) != mesh.AddrLen {
		return mesh.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddrLiteral, s)
	}
	return mesh.Addr{b[0], b[1]}, nil
}

// Sensors decodes every entry of Topology.Sensors, returning an error from
// the first malformed literal.
func (c *Config) Sensors() ([]mesh.Addr, error) {
	out := make([]mesh.Addr, 0, len(c.Topology.Sensors))
	for _, s := range c.Topology.Sensors {
		addr, err := ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// SelfAddr decodes Topology.Self.
func (c *Config) SelfAddr() (mesh.Addr, error) { return ParseAddr(c.Topology.Self) }

// ControllerAddr decodes Topology.Controller.
func (c *Config) ControllerAddr() (mesh.Addr, error) { return ParseAddr(c.Topology.Controller) }

// MeshTiming converts TimingConfig into mesh.Timing.
func (c *Config) MeshTiming() mesh.Timing {
	t := c.Timing
	return mesh.Timing{
		BeaconInterval:        t.BeaconInterval,
		BeaconForwardDelay:     t.BeaconForwardDelay,
		EventForwardDelay:     t.EventForwardDelay,
		CollectStartDelayMin:  t.CollectStartDelayMin,
		CollectStartDelayMax:  t.CollectStartDelayMax,
		ControllerCollectWait: t.ControllerCollectWait,
		SuppressNew:           t.SuppressNew,
		SuppressProp:          t.SuppressProp,
		SuppressEnd:           t.SuppressEnd,
		DiscoverySuppress:     t.DiscoverySuppress,
		EmergencySuppress:     t.EmergencySuppress,
	}
}

// MeshLimits converts MeshConfig into mesh.Limits.
func (c *Config) MeshLimits() mesh.Limits {
	m := c.Mesh
	return mesh.Limits{
		ParentCapacity:   m.ParentCapacity,
		ForwardCapacity:  m.ForwardCapacity,
		BufferCapacity:   len(c.Topology.Sensors),
		MaxSend:          m.MaxSend,
		MaxHops:          m.MaxHops,
		RSSIThreshold:    m.RSSIThreshold,
		DiscoveryEnabled: m.DiscoveryEnabled,
	}
}
