// Package config manages etcd node configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration structures
// -------------------------------------------------------------------------

// Config holds the complete etcd node configuration.
type Config struct {
	Server   ServerConfig  `koanf:"server"`
	Metrics  MetricsConfig `koanf:"metrics"`
	Log      LogConfig     `koanf:"log"`
	Mesh     MeshConfig    `koanf:"mesh"`
	Timing   TimingConfig  `koanf:"timing"`
	Topology TopologyConfig `koanf:"topology"`
}

// ServerConfig holds the control-plane HTTP server configuration.
type ServerConfig struct {
	// Addr is the control-plane listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MeshConfig holds the fixed protocol capacities and guard thresholds
// that are decided once at startup rather than renegotiated at runtime.
type MeshConfig struct {
	// ParentCapacity is the bounded parent-list size (default 3).
	ParentCapacity int `koanf:"parent_capacity"`
	// ForwardCapacity is the bounded per-sensor next-hop list size (default 3).
	ForwardCapacity int `koanf:"forward_capacity"`
	// MaxSend is the number of link-level tries before last-chance applies
	// (default 1).
	MaxSend int `koanf:"max_send"`
	// MaxHops drops a unicast frame once its hop counter reaches this value.
	MaxHops uint8 `koanf:"max_hops"`
	// RSSIThreshold is the weak-link drop floor in dBm (default -95).
	RSSIThreshold int8 `koanf:"rssi_threshold"`
	// DiscoveryEnabled toggles the forward-discovery request/response
	// broadcast path; when false, a missing route falls straight back to
	// emergency broadcast.
	DiscoveryEnabled bool `koanf:"discovery_enabled"`
}

// TimingConfig holds the protocol's configurable delays, expressed as
// parseable durations (e.g., "30s").
type TimingConfig struct {
	BeaconInterval        time.Duration `koanf:"beacon_interval"`
	BeaconForwardDelay     time.Duration `koanf:"beacon_forward_delay"`
	EventForwardDelay     time.Duration `koanf:"event_forward_delay"`
	CollectStartDelayMin  time.Duration `koanf:"collect_start_delay_min"`
	CollectStartDelayMax  time.Duration `koanf:"collect_start_delay_max"`
	ControllerCollectWait time.Duration `koanf:"controller_collect_wait"`
	SuppressNew           time.Duration `koanf:"suppress_new"`
	SuppressProp          time.Duration `koanf:"suppress_prop"`
	SuppressEnd           time.Duration `koanf:"suppress_end"`
	DiscoverySuppress     time.Duration `koanf:"discovery_suppress"`
	EmergencySuppress     time.Duration `koanf:"emergency_suppress"`
}

// TopologyConfig declares the static mesh membership: the controller
// address, the fixed sensor set, and this node's own address.
type TopologyConfig struct {
	// Self is this node's own two-byte address, hex-encoded ("aabb").
	Self string `koanf:"self"`
	// Controller is the controller's address, hex-encoded.
	Controller string `koanf:"controller"`
	// Sensors lists every sensor address, hex-encoded.
	Sensors []string `koanf:"sensors"`
	// ChannelBase selects the radio channel pair: ChannelBase for
	// broadcast, ChannelBase+1 for unicast.
	ChannelBase int `koanf:"channel_base"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mesh: MeshConfig{
			ParentCapacity:   3,
			ForwardCapacity:  3,
			MaxSend:          1,
			MaxHops:          8,
			RSSIThreshold:    -95,
			DiscoveryEnabled: false,
		},
		Timing: TimingConfig{
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
		},
		Topology: TopologyConfig{
			ChannelBase: 0,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for etcd configuration.
// Variables are named ETCD_<section>_<key>, e.g., ETCD_SERVER_ADDR.
const envPrefix = "ETCD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ETCD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	ETCD_SERVER_ADDR        -> server.addr
//	ETCD_METRICS_ADDR       -> metrics.addr
//	ETCD_LOG_LEVEL          -> log.level
//	ETCD_TOPOLOGY_SELF      -> topology.self
//	ETCD_TOPOLOGY_CONTROLLER -> topology.controller
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ETCD_SERVER_ADDR -> server.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.addr":                     defaults.Server.Addr,
		"metrics.addr":                    defaults.Metrics.Addr,
		"metrics.path":                    defaults.Metrics.Path,
		"log.level":                       defaults.Log.Level,
		"log.format":                      defaults.Log.Format,
		"mesh.parent_capacity":            defaults.Mesh.ParentCapacity,
		"mesh.forward_capacity":           defaults.Mesh.ForwardCapacity,
		"mesh.max_send":                   defaults.Mesh.MaxSend,
		"mesh.max_hops":                   defaults.Mesh.MaxHops,
		"mesh.rssi_threshold":             defaults.Mesh.RSSIThreshold,
		"mesh.discovery_enabled":          defaults.Mesh.DiscoveryEnabled,
		"timing.beacon_interval":          defaults.Timing.BeaconInterval.String(),
		"timing.beacon_forward_delay":     defaults.Timing.BeaconForwardDelay.String(),
		"timing.event_forward_delay":      defaults.Timing.EventForwardDelay.String(),
		"timing.collect_start_delay_min":  defaults.Timing.CollectStartDelayMin.String(),
		"timing.collect_start_delay_max":  defaults.Timing.CollectStartDelayMax.String(),
		"timing.controller_collect_wait":  defaults.Timing.ControllerCollectWait.String(),
		"timing.suppress_new":             defaults.Timing.SuppressNew.String(),
		"timing.suppress_prop":            defaults.Timing.SuppressProp.String(),
		"timing.suppress_end":             defaults.Timing.SuppressEnd.String(),
		"timing.discovery_suppress":       defaults.Timing.DiscoverySuppress.String(),
		"timing.emergency_suppress":       defaults.Timing.EmergencySuppress.String(),
		"topology.channel_base":           defaults.Topology.ChannelBase,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyServerAddr    = errors.New("server.addr must not be empty")
	ErrInvalidMaxSend     = errors.New("mesh.max_send must be >= 1")
	ErrInvalidMaxHops     = errors.New("mesh.max_hops must be >= 1")
	ErrEmptySelf          = errors.New("topology.self must not be empty")
	ErrEmptyController    = errors.New("topology.controller must not be empty")
	ErrInvalidAddrLiteral = errors.New("address must be exactly 2 hex bytes")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return ErrEmptyServerAddr
	}
	if cfg.Mesh.MaxSend < 1 {
		return ErrInvalidMaxSend
	}
	if cfg.Mesh.MaxHops < 1 {
		return ErrInvalidMaxHops
	}
	if cfg.Topology.Self == "" {
		return ErrEmptySelf
	}
	if cfg.Topology.Controller == "" {
		return ErrEmptyController
	}
	if _, err := ParseAddr(cfg.Topology.Self); err != nil {
		return fmt.Errorf("topology.self: %w", err)
	}
	if _, err := ParseAddr(cfg.Topology.Controller); err != nil {
		return fmt.Errorf("topology.controller: %w", err)
	}
	for i, s := range cfg.Topology.Sensors {
		if _, err := ParseAddr(s); err != nil {
			return fmt.Errorf("topology.sensors[%d]: %w", i, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
