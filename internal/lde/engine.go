package lde

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/gaissmai/bart"
)

// Default engine parameters.
const (
	// DefaultGCInterval is the LIB garbage collection period.
	DefaultGCInterval = 300 * time.Second

	// DefaultHoldTime and DefaultSwitchDelay seed new MP2MP extension
	// blocks.
	DefaultHoldTime    = 5 * time.Second
	DefaultSwitchDelay = 5 * time.Second

	// DefaultLabelMin is the first label above the reserved range.
	DefaultLabelMin = LabelReservedMax + 1
)

// ErrMissingCollaborator indicates NewEngine was called without a kernel or
// session collaborator.
var ErrMissingCollaborator = errors.New("missing collaborator")

// ErrInvalidRole indicates an unknown MP2MP role name.
var ErrInvalidRole = errors.New("invalid mp2mp role")

// Role is the fixed position of this node in MP2MP trees.
type Role uint8

const (
	// RoleTransit merges downstream mappings and forwards them toward
	// the root.
	RoleTransit Role = iota

	// RoleRoot terminates downstream mappings and originates the
	// upstream merge.
	RoleRoot

	// RoleLeaf terminates upstream mappings.
	RoleLeaf
)

// String returns "transit", "root" or "leaf".
func (r Role) String() string {
	switch r {
	case RoleTransit:
		return "transit"
	case RoleRoot:
		return "root"
	case RoleLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole parses a role name as accepted in configuration.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "transit", "switch", "":
		return RoleTransit, nil
	case "root":
		return RoleRoot, nil
	case "leaf":
		return RoleLeaf, nil
	default:
		return 0, fmt.Errorf("parse role %q: %w", s, ErrInvalidRole)
	}
}

// Config holds the engine parameters.
type Config struct {
	RouterID netip.Addr

	// ExplicitNullV4 and ExplicitNullV6 select explicit instead of
	// implicit null as the egress label of connected prefixes.
	ExplicitNullV4 bool
	ExplicitNullV6 bool

	LabelMin Label
	LabelMax Label

	Role        Role
	HoldTime    time.Duration
	SwitchDelay time.Duration
}

// DefaultConfig returns a Config with the full unreserved label range and
// the default MP2MP timers.
func DefaultConfig() Config {
	return Config{
		LabelMin:    DefaultLabelMin,
		LabelMax:    LabelMax,
		Role:        RoleTransit,
		HoldTime:    DefaultHoldTime,
		SwitchDelay: DefaultSwitchDelay,
	}
}

// EngineOption configures optional Engine parameters.
type EngineOption func(*Engine)

// WithMetrics sets the MetricsReporter. If mr is nil, a no-op reporter is
// used.
func WithMetrics(mr MetricsReporter) EngineOption {
	return func(e *Engine) {
		if mr != nil {
			e.metrics = mr
		}
	}
}

// WithPseudowire replaces the built-in pseudowire negotiation.
func WithPseudowire(pw Pseudowire) EngineOption {
	return func(e *Engine) {
		if pw != nil {
			e.pw = pw
		}
	}
}

// Engine is the label distribution engine. It owns the FEC database, the
// neighbor table and the label allocator.
//
// Engine is not safe for concurrent use: every method must be called from
// the goroutine running the Loop, which serializes events.
type Engine struct {
	cfg Config

	fecs      *FECDB
	nbrs      map[PeerID]*Neighbor
	addrIndex *bart.Table[PeerID]
	labels    *LabelAllocator

	// members holds the MP2MP trees joined locally. It survives garbage
	// collection of the tree's FEC node.
	members map[FEC]struct{}

	kernel  Kernel
	session Session
	pw      Pseudowire
	metrics MetricsReporter

	logger *slog.Logger
}

// NewEngine creates an engine with empty state.
func NewEngine(cfg Config, kernel Kernel, session Session, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if kernel == nil || session == nil {
		return nil, ErrMissingCollaborator
	}
	labels, err := NewLabelAllocator(cfg.LabelMin, cfg.LabelMax)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	if cfg.HoldTime == 0 {
		cfg.HoldTime = DefaultHoldTime
	}
	if cfg.SwitchDelay == 0 {
		cfg.SwitchDelay = DefaultSwitchDelay
	}

	e := &Engine{
		cfg:       cfg,
		fecs:      NewFECDB(logger),
		nbrs:      make(map[PeerID]*Neighbor),
		addrIndex: new(bart.Table[PeerID]),
		labels:    labels,
		members:   make(map[FEC]struct{}),
		kernel:    kernel,
		session:   session,
		pw:        defaultPseudowire{},
		metrics:   noopMetrics{},
		logger:    logger.With(slog.String("component", "lde.engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FECs returns the FEC database. Callers outside the loop goroutine must
// not use it.
func (e *Engine) FECs() *FECDB {
	return e.fecs
}

// Neighbor returns the neighbor with the given peer ID, or nil.
func (e *Engine) Neighbor(peer PeerID) *Neighbor {
	return e.nbrs[peer]
}

// Shutdown drops all neighbors and FEC nodes and returns their labels to
// the allocator.
func (e *Engine) Shutdown() {
	clear(e.nbrs)
	e.addrIndex = new(bart.Table[PeerID])
	e.fecs.Clear(e.destroyNode)
	e.reportGauges()
}

func (e *Engine) destroyNode(n *FECNode) {
	e.releaseLocalLabel(n)
	n.Data = nil
	n.Nexthops = nil
}

// reportGauges publishes the size gauges. The loop calls it after every
// event.
func (e *Engine) reportGauges() {
	e.metrics.SetFECs(e.fecs.Len())
	e.metrics.SetNeighbors(len(e.nbrs))
	e.metrics.SetLabelsAllocated(e.labels.Len())
}

// -------------------------------------------------------------------------
// Labels
// -------------------------------------------------------------------------

// egressLabel returns the label advertised for connected FECs of the type.
func (e *Engine) egressLabel(t FECType) Label {
	switch t {
	case FECTypeIPv4:
		if e.cfg.ExplicitNullV4 {
			return LabelIPv4ExplicitNull
		}
	case FECTypeIPv6:
		if e.cfg.ExplicitNullV6 {
			return LabelIPv6ExplicitNull
		}
	default:
		panic(fatalf("egress label: unexpected fec type %s", t))
	}
	return LabelImplicitNull
}

// assignLabel allocates a fresh local label. Running out of labels is
// fatal: the FEC could not be advertised consistently.
func (e *Engine) assignLabel() Label {
	l, err := e.labels.Allocate()
	if err != nil {
		panic(fatalf("assign label: %v", err))
	}
	return l
}

func (e *Engine) releaseLocalLabel(n *FECNode) {
	if l := n.LocalLabel; l != NoLabel && !l.IsEgress() {
		if !e.labels.IsAllocated(l) {
			e.logger.Warn("releasing label not in the allocated set",
				slog.String("fec", n.FEC.String()),
				slog.String("label", l.String()),
			)
		}
		e.labels.Release(l)
	}
	n.LocalLabel = NoLabel
}

// -------------------------------------------------------------------------
// Kernel
// -------------------------------------------------------------------------

func (e *Engine) fibEntry(n *FECNode, nh *Nexthop) FIBEntry {
	return FIBEntry{
		FEC:         n.FEC,
		LocalLabel:  n.LocalLabel,
		RemoteLabel: nh.RemoteLabel,
		AF:          nh.AF,
		Nexthop:     nh.Addr,
		Priority:    nh.Priority,
	}
}

func (e *Engine) fibInstall(n *FECNode, nh *Nexthop) {
	e.kernel.Install(e.fibEntry(n, nh))
	e.metrics.IncFIBChange(FIBOpInstall)
}

func (e *Engine) fibUninstall(n *FECNode, nh *Nexthop) {
	e.kernel.Uninstall(e.fibEntry(n, nh))
	e.metrics.IncFIBChange(FIBOpUninstall)
}

// findOrAddNode returns the node for fec, indexing a new one if needed.
func (e *Engine) findOrAddNode(fec FEC) *FECNode {
	if n := e.fecs.Find(fec); n != nil {
		return n
	}
	n := newFECNode(fec)
	if err := e.fecs.Insert(n); err != nil {
		panic(fatalf("add fec: %v", err))
	}
	return n
}

// -------------------------------------------------------------------------
// Kernel route events
// -------------------------------------------------------------------------

// RouteAdded processes a kernel route add for one nexthop of a FEC.
func (e *Engine) RouteAdded(r Route) {
	n := e.findOrAddNode(r.FEC)
	if n.findNexthop(r.AF, r.Nexthop, r.Priority) != nil {
		return
	}

	if n.FEC.Type == FECTypePWID {
		n.Data = r.PW
	}

	// A joined tree whose node was collected gets its extension back.
	if _, member := e.members[n.FEC]; member {
		e.mp2mpExt(n)
	}

	if n.MP2MP() != nil {
		n.addNexthop(r.AF, r.Nexthop, r.Priority)
		e.mp2mpResync(n)
		return
	}

	if n.LocalLabel == NoLabel {
		if r.Connected {
			n.LocalLabel = e.egressLabel(n.FEC.Type)
		} else {
			n.LocalLabel = e.assignLabel()
		}

		// FEC.1: perform LSR label distribution procedure.
		for _, nbr := range e.neighbors() {
			e.sendMapping(nbr, n)
		}
	}

	nh := n.addNexthop(r.AF, r.Nexthop, r.Priority)
	e.fibInstall(n, nh)

	var nbr *Neighbor
	switch n.FEC.Type {
	case FECTypeIPv4, FECTypeIPv6:
		nbr = e.nbrByAddr(nh.Addr)
	case FECTypePWID:
		nbr = e.nbrByLSRID(n.FEC.LSRID)
	}
	if nbr == nil {
		return
	}

	// FEC.2, FEC.5: a mapping that arrived before the route.
	if me, ok := nbr.recvMap.get(n.FEC); ok {
		e.checkMapping(nbr, *me)
	}
}

// RouteRemoved processes a kernel route delete for one nexthop of a FEC.
// Unknown FECs and nexthops are ignored.
func (e *Engine) RouteRemoved(r Route) {
	n := e.fecs.Find(r.FEC)
	if n == nil {
		return
	}
	nh := n.findNexthop(r.AF, r.Nexthop, r.Priority)
	if nh == nil {
		return
	}

	e.fibUninstall(n, nh)
	n.deleteNexthop(nh)
	if len(n.Nexthops) > 0 {
		return
	}

	if ext := n.MP2MP(); ext != nil {
		e.mp2mpWithdrawAll(n)
		ext.MBB |= MBBSendMapping
		e.releaseLocalLabel(n)
		return
	}

	e.withdrawAll(n)
	e.releaseLocalLabel(n)
	if n.FEC.Type == FECTypePWID {
		n.Data = nil
	}
}

// -------------------------------------------------------------------------
// Operator and configuration events
// -------------------------------------------------------------------------

// RequestMapping sends a label request for fec to the peer, unless one is
// already pending.
func (e *Engine) RequestMapping(peer PeerID, fec FEC, msgID uint32) error {
	nbr, ok := e.nbrs[peer]
	if !ok {
		return ErrUnknownNeighbor
	}
	if _, pending := nbr.sentReq.get(fec); pending {
		return nil
	}
	r := nbr.addRequest(fec, msgID, true)
	e.session.SendRequest(peer, *r)
	e.metrics.IncMessageSent(MsgTypeLabelRequest.String())
	return nil
}

// SetExplicitNull switches the egress label of the address family between
// explicit and implicit null. Connected FECs of that family are withdrawn
// with their old label and re-advertised with the new one.
func (e *Engine) SetExplicitNull(af AF, enabled bool) {
	var fecType FECType
	switch af {
	case AFIPv4:
		if e.cfg.ExplicitNullV4 == enabled {
			return
		}
		e.cfg.ExplicitNullV4 = enabled
		fecType = FECTypeIPv4
	case AFIPv6:
		if e.cfg.ExplicitNullV6 == enabled {
			return
		}
		e.cfg.ExplicitNullV6 = enabled
		fecType = FECTypeIPv6
	default:
		return
	}

	newLabel := e.egressLabel(fecType)
	nbrs := e.neighbors()
	e.fecs.Ascend(func(n *FECNode) bool {
		if n.FEC.Type != fecType || !n.LocalLabel.IsEgress() {
			return true
		}
		if n.LocalLabel == newLabel {
			return true
		}

		e.withdrawAll(n)
		for _, nh := range n.Nexthops {
			e.fibUninstall(n, nh)
		}
		n.LocalLabel = newLabel
		for _, nh := range n.Nexthops {
			e.fibInstall(n, nh)
		}
		for _, nbr := range nbrs {
			e.sendMapping(nbr, n)
		}
		return true
	})
	for _, nbr := range nbrs {
		e.session.SendMappingEnd(nbr.PeerID)
	}

	e.logger.Info("egress label changed",
		slog.String("af", af.String()),
		slog.String("label", newLabel.String()),
	)
}
