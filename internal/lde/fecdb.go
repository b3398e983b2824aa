package lde

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"
)

// Nexthop is a kernel nexthop of a FEC, learned from a route add event.
type Nexthop struct {
	AF       AF
	Addr     netip.Addr
	Priority uint8

	// RemoteLabel is the label the downstream neighbor owning Addr
	// advertised for the FEC, or NoLabel.
	RemoteLabel Label
}

// FECData is the per-FEC-type extension of a FEC node: *PWControl for
// pseudowire FECs, *MP2MPExt for prefix FECs carrying an MP2MP tree.
type FECData interface {
	fecData()
}

// PWControl is the pseudowire control block handed over by the pseudowire
// collaborator with the route add of a PWid FEC. The engine records the
// remote parameters learned from mappings in it.
type PWControl struct {
	Name     string
	LocalMTU uint16

	// ControlWordConfigured enables the control word locally;
	// ControlWord is the negotiated result.
	ControlWordConfigured bool
	ControlWord           bool

	// StatusTLV enables PW status signaling in sent mappings.
	StatusTLV bool

	RemoteGroup  uint32
	RemoteMTU    uint16
	RemoteStatus uint32
}

func (*PWControl) fecData() {}

// MBBFlags is the make-before-break state of an MP2MP extension block.
type MBBFlags uint8

const (
	// MBBSendMapping marks a node whose upstream mapping set must be
	// (re)built by the next processing pass.
	MBBSendMapping MBBFlags = 1 << iota
)

// String returns the flag names separated by '|', or "none".
func (f MBBFlags) String() string {
	if f&MBBSendMapping != 0 {
		return "send-mapping"
	}
	return "none"
}

// MP2MPExt is the multipoint extension block of a FEC node.
type MP2MPExt struct {
	MBB         MBBFlags
	HoldTime    time.Duration
	SwitchDelay time.Duration

	// Member is set when the local node joined the tree as a receiver.
	Member bool
}

func (*MP2MPExt) fecData() {}

// FECNode is the authoritative record of one FEC.
type FECNode struct {
	FEC        FEC
	LocalLabel Label
	Nexthops   []*Nexthop
	Data       FECData

	// recvFrom and sentTo hold the peers with a received or sent mapping
	// record for this FEC. The records live in the Neighbor collections.
	recvFrom map[PeerID]struct{}
	sentTo   map[PeerID]struct{}
}

func newFECNode(fec FEC) *FECNode {
	return &FECNode{
		FEC:        fec,
		LocalLabel: NoLabel,
		recvFrom:   make(map[PeerID]struct{}),
		sentTo:     make(map[PeerID]struct{}),
	}
}

// PW returns the pseudowire control block, or nil.
func (n *FECNode) PW() *PWControl {
	pw, _ := n.Data.(*PWControl)
	return pw
}

// MP2MP returns the multipoint extension block, or nil.
func (n *FECNode) MP2MP() *MP2MPExt {
	ext, _ := n.Data.(*MP2MPExt)
	return ext
}

// ReceivedFrom returns the peers that sent a mapping for this FEC, in
// ascending order.
func (n *FECNode) ReceivedFrom() []PeerID {
	return sortedPeers(n.recvFrom)
}

// SentTo returns the peers we sent a mapping to, in ascending order.
func (n *FECNode) SentTo() []PeerID {
	return sortedPeers(n.sentTo)
}

// reclaimable reports whether the node holds no nexthop and no mapping.
func (n *FECNode) reclaimable() bool {
	return len(n.Nexthops) == 0 && len(n.recvFrom) == 0 && len(n.sentTo) == 0
}

func (n *FECNode) findNexthop(af AF, addr netip.Addr, prio uint8) *Nexthop {
	for _, nh := range n.Nexthops {
		if nh.AF == af && nh.Addr == addr && nh.Priority == prio {
			return nh
		}
	}
	return nil
}

func (n *FECNode) addNexthop(af AF, addr netip.Addr, prio uint8) *Nexthop {
	nh := &Nexthop{AF: af, Addr: addr, Priority: prio, RemoteLabel: NoLabel}
	n.Nexthops = append(n.Nexthops, nh)
	return nh
}

func (n *FECNode) deleteNexthop(nh *Nexthop) {
	n.Nexthops = slices.DeleteFunc(n.Nexthops, func(x *Nexthop) bool { return x == nh })
}

func sortedPeers(set map[PeerID]struct{}) []PeerID {
	out := make([]PeerID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// -------------------------------------------------------------------------
// FEC database
// -------------------------------------------------------------------------

// FECDB is the ordered index of FEC nodes. Traversal follows CompareFEC.
type FECDB struct {
	t      *fecTable[*FECNode]
	logger *slog.Logger
}

// NewFECDB creates an empty FEC database.
func NewFECDB(logger *slog.Logger) *FECDB {
	return &FECDB{
		t:      newFECTable[*FECNode](),
		logger: logger.With(slog.String("component", "lde.fecdb")),
	}
}

// Find returns the node for fec, or nil.
func (db *FECDB) Find(fec FEC) *FECNode {
	n, _ := db.t.get(fec)
	return n
}

// Insert indexes n. Callers must Find first: an equal key already in the
// index yields ErrDuplicateFEC.
func (db *FECDB) Insert(n *FECNode) error {
	if !db.t.insert(n.FEC, n) {
		return fmt.Errorf("insert %s: %w", n.FEC, ErrDuplicateFEC)
	}
	return nil
}

// Remove drops fec from the index. A missing key is logged and reported
// as ErrFECNotFound; it never aborts the caller.
func (db *FECDB) Remove(fec FEC) error {
	if _, ok := db.t.remove(fec); !ok {
		db.logger.Warn("remove of unindexed fec", slog.String("fec", fec.String()))
		return fmt.Errorf("remove %s: %w", fec, ErrFECNotFound)
	}
	return nil
}

// Clear empties the index, calling destroy for every node in FEC order.
func (db *FECDB) Clear(destroy func(*FECNode)) {
	if destroy != nil {
		db.t.ascend(func(_ FEC, n *FECNode) bool {
			destroy(n)
			return true
		})
	}
	db.t.clear()
}

// Ascend calls fn for every node in FEC order until fn returns false.
// fn may mutate the nodes but not the index.
func (db *FECDB) Ascend(fn func(*FECNode) bool) {
	db.t.ascend(func(_ FEC, n *FECNode) bool {
		return fn(n)
	})
}

// Nodes returns every node in FEC order. Use it instead of Ascend when the
// walk inserts or removes index entries.
func (db *FECDB) Nodes() []*FECNode {
	out := make([]*FECNode, 0, db.t.len())
	db.t.ascend(func(_ FEC, n *FECNode) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Len returns the number of indexed FECs.
func (db *FECDB) Len() int {
	return db.t.len()
}
