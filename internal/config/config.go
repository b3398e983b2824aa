// Package config manages goldp daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/goldp/internal/lde"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete goldp configuration.
type Config struct {
	API       APIConfig        `koanf:"api"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Log       LogConfig        `koanf:"log"`
	LDP       LDPConfig        `koanf:"ldp"`
	MP2MP     MP2MPConfig      `koanf:"mp2mp"`
	FIB       FIBConfig        `koanf:"fib"`
	Feeds     FeedsConfig      `koanf:"feeds"`
	Neighbors []NeighborConfig `koanf:"neighbors"`
}

// APIConfig holds the ConnectRPC inspection server configuration.
type APIConfig struct {
	// Addr is the listen address (e.g., ":50061").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json", "text" or "console".
	Format string `koanf:"format"`
	// File, when set, receives a JSON copy of every record.
	File string `koanf:"file"`
}

// LDPConfig holds the label distribution parameters.
type LDPConfig struct {
	// RouterID is the LSR ID of this node (IPv4 dotted quad).
	RouterID string `koanf:"router_id"`

	// ExplicitNullIPv4 and ExplicitNullIPv6 advertise explicit null
	// instead of implicit null for connected prefixes. Reloadable.
	ExplicitNullIPv4 bool `koanf:"explicit_null_ipv4"`
	ExplicitNullIPv6 bool `koanf:"explicit_null_ipv6"`

	// LabelMin and LabelMax bound the local label range.
	LabelMin uint32 `koanf:"label_min"`
	LabelMax uint32 `koanf:"label_max"`

	// GCInterval is the LIB garbage collection period.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCEnabled runs the periodic LIB garbage collection. Reloadable.
	GCEnabled bool `koanf:"gc_enabled"`
}

// MP2MPConfig holds the multipoint tree parameters (RFC 6388).
type MP2MPConfig struct {
	// Role is "root", "transit" or "leaf".
	Role string `koanf:"role"`

	HoldTime    time.Duration `koanf:"hold_time"`
	SwitchDelay time.Duration `koanf:"switch_delay"`

	// Join lists root prefixes of trees joined as a local member.
	Join []string `koanf:"join"`
}

// FIBConfig selects the label FIB backend.
type FIBConfig struct {
	// Backend is "netlink" or "none".
	Backend string `koanf:"backend"`
	// Protocol is the route protocol number stamped on installed routes.
	Protocol int `koanf:"protocol"`
	// Metric is the metric of labelled prefix routes. It must undercut
	// the IGP metric for labelled forwarding to take effect.
	Metric int `koanf:"metric"`
}

// FeedsConfig selects the route sources feeding the engine.
type FeedsConfig struct {
	// Netlink subscribes to kernel unicast route changes.
	Netlink bool        `koanf:"netlink"`
	GoBGP   GoBGPConfig `koanf:"gobgp"`
}

// GoBGPConfig holds the GoBGP best-path feed configuration.
type GoBGPConfig struct {
	Enabled bool `koanf:"enabled"`
	// Addr is the GoBGP gRPC API address (e.g., "127.0.0.1:50051").
	Addr string `koanf:"addr"`
}

// NeighborConfig describes a statically established LDP peer. Each entry
// brings a neighbor up at startup.
type NeighborConfig struct {
	PeerID    uint32   `koanf:"peer_id"`
	RouterID  string   `koanf:"router_id"`
	Addresses []string `koanf:"addresses"`
	IPv4      bool     `koanf:"ipv4"`
	IPv6      bool     `koanf:"ipv6"`
}

// NeighborInfo converts the entry into the engine's neighbor description.
func (nc NeighborConfig) NeighborInfo() (lde.NeighborInfo, error) {
	rid, err := netip.ParseAddr(nc.RouterID)
	if err != nil {
		return lde.NeighborInfo{}, fmt.Errorf("parse neighbor %d router_id %q: %w", nc.PeerID, nc.RouterID, err)
	}
	info := lde.NeighborInfo{
		PeerID:    lde.PeerID(nc.PeerID),
		RouterID:  rid,
		V4Enabled: nc.IPv4,
		V6Enabled: nc.IPv6,
	}
	for _, s := range nc.Addresses {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return lde.NeighborInfo{}, fmt.Errorf("parse neighbor %d address %q: %w", nc.PeerID, s, err)
		}
		info.Addresses = append(info.Addresses, addr)
	}
	return info, nil
}

// EngineConfig converts the ldp and mp2mp sections into lde.Config.
func (c *Config) EngineConfig() (lde.Config, error) {
	rid, err := netip.ParseAddr(c.LDP.RouterID)
	if err != nil {
		return lde.Config{}, fmt.Errorf("parse ldp.router_id %q: %w", c.LDP.RouterID, err)
	}
	role, err := lde.ParseRole(c.MP2MP.Role)
	if err != nil {
		return lde.Config{}, err
	}
	return lde.Config{
		RouterID:       rid,
		ExplicitNullV4: c.LDP.ExplicitNullIPv4,
		ExplicitNullV6: c.LDP.ExplicitNullIPv6,
		LabelMin:       lde.Label(c.LDP.LabelMin),
		LabelMax:       lde.Label(c.LDP.LabelMax),
		Role:           role,
		HoldTime:       c.MP2MP.HoldTime,
		SwitchDelay:    c.MP2MP.SwitchDelay,
	}, nil
}

// JoinFECs parses mp2mp.join into prefix FECs.
func (c *Config) JoinFECs() ([]lde.FEC, error) {
	out := make([]lde.FEC, 0, len(c.MP2MP.Join))
	for _, s := range c.MP2MP.Join {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("parse mp2mp.join %q: %w", s, err)
		}
		out = append(out, lde.PrefixFEC(p))
	}
	return out, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultFIBProtocol is the route protocol number of goldp routes.
const DefaultFIBProtocol = 199

// DefaultFIBMetric is the default metric of labelled prefix routes.
const DefaultFIBMetric = 10

// DefaultConfig returns a Config populated with defaults. The router ID has
// no sensible default and must be configured.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":50061",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		LDP: LDPConfig{
			LabelMin:   uint32(lde.DefaultLabelMin),
			LabelMax:   uint32(lde.LabelMax),
			GCInterval: lde.DefaultGCInterval,
			GCEnabled:  true,
		},
		MP2MP: MP2MPConfig{
			Role:        "transit",
			HoldTime:    lde.DefaultHoldTime,
			SwitchDelay: lde.DefaultSwitchDelay,
		},
		FIB: FIBConfig{
			Backend:  "netlink",
			Protocol: DefaultFIBProtocol,
			Metric:   DefaultFIBMetric,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for goldp configuration.
// Variables are named GOLDP_<section>_<key>, e.g., GOLDP_LDP_ROUTER_ID.
const envPrefix = "GOLDP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOLDP_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOLDP_API_ADDR            -> api.addr
//	GOLDP_LOG_LEVEL           -> log.level
//	GOLDP_LDP_ROUTER_ID       -> ldp.router_id
//	GOLDP_LDP_LABEL_MIN       -> ldp.label_min
//	GOLDP_FEEDS_GOBGP_ADDR    -> feeds.gobgp.addr
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := defaultMap(DefaultConfig())
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper(defaults)), nil); err != nil {
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

// envKeyMapper returns a mapper turning GOLDP_LDP_LABEL_MIN into
// ldp.label_min. Keys contain underscores themselves, so the variable is
// matched against the known keys; unknown variables split at the first
// underscore.
func envKeyMapper(known map[string]any) func(string) string {
	flat := make(map[string]string, len(known))
	for key := range known {
		flat[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := flat[s]; ok {
			return key
		}
		return strings.Replace(s, "_", ".", 1)
	}
}

// defaultMap flattens the default config into koanf keys.
func defaultMap(d *Config) map[string]any {
	return map[string]any{
		"api.addr":               d.API.Addr,
		"metrics.addr":           d.Metrics.Addr,
		"metrics.path":           d.Metrics.Path,
		"log.level":              d.Log.Level,
		"log.format":             d.Log.Format,
		"log.file":               d.Log.File,
		"ldp.router_id":          d.LDP.RouterID,
		"ldp.explicit_null_ipv4": d.LDP.ExplicitNullIPv4,
		"ldp.explicit_null_ipv6": d.LDP.ExplicitNullIPv6,
		"ldp.label_min":          d.LDP.LabelMin,
		"ldp.label_max":          d.LDP.LabelMax,
		"ldp.gc_interval":        d.LDP.GCInterval.String(),
		"ldp.gc_enabled":         d.LDP.GCEnabled,
		"mp2mp.role":             d.MP2MP.Role,
		"mp2mp.hold_time":        d.MP2MP.HoldTime.String(),
		"mp2mp.switch_delay":     d.MP2MP.SwitchDelay.String(),
		"fib.backend":            d.FIB.Backend,
		"fib.protocol":           d.FIB.Protocol,
		"fib.metric":             d.FIB.Metric,
		"feeds.netlink":          d.Feeds.Netlink,
		"feeds.gobgp.enabled":    d.Feeds.GoBGP.Enabled,
		"feeds.gobgp.addr":       d.Feeds.GoBGP.Addr,
	}
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrInvalidRouterID indicates a missing or non-IPv4 ldp.router_id.
	ErrInvalidRouterID = errors.New("ldp.router_id must be an IPv4 address")

	// ErrInvalidLabelRange indicates ldp.label_min/label_max outside
	// 16-1048575 or inverted.
	ErrInvalidLabelRange = errors.New("ldp label range must satisfy 16 <= label_min <= label_max <= 1048575")

	// ErrInvalidGCInterval indicates a non-positive ldp.gc_interval.
	ErrInvalidGCInterval = errors.New("ldp.gc_interval must be > 0")

	// ErrInvalidRole indicates an unknown mp2mp.role.
	ErrInvalidRole = errors.New("mp2mp.role must be root, transit or leaf")

	// ErrInvalidJoinPrefix indicates an unparsable mp2mp.join entry.
	ErrInvalidJoinPrefix = errors.New("mp2mp.join entry is not a prefix")

	// ErrInvalidLogFormat indicates an unknown log.format.
	ErrInvalidLogFormat = errors.New("log.format must be json, text or console")

	// ErrInvalidFIBBackend indicates an unknown fib.backend.
	ErrInvalidFIBBackend = errors.New("fib.backend must be netlink or none")

	// ErrInvalidFIBProtocol indicates a route protocol outside 1-255.
	ErrInvalidFIBProtocol = errors.New("fib.protocol must be between 1 and 255")

	// ErrInvalidFIBMetric indicates a negative route metric.
	ErrInvalidFIBMetric = errors.New("fib.metric must not be negative")

	// ErrEmptyGoBGPAddr indicates the GoBGP feed is enabled without an address.
	ErrEmptyGoBGPAddr = errors.New("feeds.gobgp.addr must be set when the feed is enabled")

	// ErrInvalidNeighbor indicates a malformed neighbors entry.
	ErrInvalidNeighbor = errors.New("invalid neighbor")

	// ErrDuplicatePeerID indicates two neighbors share a peer ID.
	ErrDuplicatePeerID = errors.New("duplicate neighbor peer_id")
)

// ValidLogFormats lists the recognized log.format values.
var ValidLogFormats = map[string]bool{
	"json":    true,
	"text":    true,
	"console": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if !ValidLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	rid, err := netip.ParseAddr(cfg.LDP.RouterID)
	if err != nil || !rid.Is4() {
		return fmt.Errorf("ldp.router_id %q: %w", cfg.LDP.RouterID, ErrInvalidRouterID)
	}

	if cfg.LDP.LabelMin <= uint32(lde.LabelReservedMax) ||
		cfg.LDP.LabelMax > uint32(lde.LabelMax) ||
		cfg.LDP.LabelMin > cfg.LDP.LabelMax {
		return fmt.Errorf("ldp label range %d-%d: %w", cfg.LDP.LabelMin, cfg.LDP.LabelMax, ErrInvalidLabelRange)
	}

	if cfg.LDP.GCInterval <= 0 {
		return ErrInvalidGCInterval
	}

	if _, err := lde.ParseRole(cfg.MP2MP.Role); err != nil {
		return fmt.Errorf("mp2mp.role %q: %w", cfg.MP2MP.Role, ErrInvalidRole)
	}

	for i, s := range cfg.MP2MP.Join {
		if _, err := netip.ParsePrefix(s); err != nil {
			return fmt.Errorf("mp2mp.join[%d] %q: %w", i, s, ErrInvalidJoinPrefix)
		}
	}

	switch cfg.FIB.Backend {
	case "netlink", "none":
	default:
		return fmt.Errorf("fib.backend %q: %w", cfg.FIB.Backend, ErrInvalidFIBBackend)
	}
	if cfg.FIB.Protocol <= 0 || cfg.FIB.Protocol > 255 {
		return fmt.Errorf("fib.protocol %d: %w", cfg.FIB.Protocol, ErrInvalidFIBProtocol)
	}
	if cfg.FIB.Metric < 0 {
		return fmt.Errorf("fib.metric %d: %w", cfg.FIB.Metric, ErrInvalidFIBMetric)
	}

	if cfg.Feeds.GoBGP.Enabled && cfg.Feeds.GoBGP.Addr == "" {
		return ErrEmptyGoBGPAddr
	}

	return validateNeighbors(cfg.Neighbors)
}

// validateNeighbors checks each static neighbor entry for correctness.
func validateNeighbors(nbrs []NeighborConfig) error {
	seen := make(map[uint32]struct{}, len(nbrs))

	for i, nc := range nbrs {
		if nc.PeerID == 0 {
			return fmt.Errorf("neighbors[%d]: peer_id must be nonzero: %w", i, ErrInvalidNeighbor)
		}
		if _, err := nc.NeighborInfo(); err != nil {
			return fmt.Errorf("neighbors[%d]: %w: %w", i, ErrInvalidNeighbor, err)
		}
		if !nc.IPv4 && !nc.IPv6 {
			return fmt.Errorf("neighbors[%d]: no address family enabled: %w", i, ErrInvalidNeighbor)
		}
		if _, dup := seen[nc.PeerID]; dup {
			return fmt.Errorf("neighbors[%d] peer_id %d: %w", i, nc.PeerID, ErrDuplicatePeerID)
		}
		seen[nc.PeerID] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
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
