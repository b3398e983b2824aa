package lde

import (
	"net/netip"
	"time"
)

// RemoteBinding is a mapping received from a neighbor, as shown in dumps.
type RemoteBinding struct {
	PeerID   PeerID
	RouterID netip.Addr
	Label    Label
	Kind     MapKind

	// InUse is set when a nexthop of the FEC carries the label.
	InUse bool
}

// LIBEntry is the LIB view of one FEC.
type LIBEntry struct {
	FEC        FEC
	LocalLabel Label
	Remote     []RemoteBinding
}

// LSPEntry is the forwarding view of one FEC.
type LSPEntry struct {
	FEC        FEC
	LocalLabel Label
	Nexthops   []Nexthop
}

// MP2MPBinding is one sent or received mapping of an MP2MP tree.
type MP2MPBinding struct {
	PeerID   PeerID
	RouterID netip.Addr
	Label    Label
	Kind     MapKind
}

// MP2MPEntry is the control block view of one MP2MP tree. Upstream lists
// the mappings sent, Downstream the mappings received.
type MP2MPEntry struct {
	FEC         FEC
	LocalLabel  Label
	MBB         MBBFlags
	Member      bool
	HoldTime    time.Duration
	SwitchDelay time.Duration
	Upstream    []MP2MPBinding
	Downstream  []MP2MPBinding
}

// NeighborEntry is the label state summary of one neighbor.
type NeighborEntry struct {
	PeerID        PeerID
	RouterID      netip.Addr
	V4Enabled     bool
	V6Enabled     bool
	Addresses     []netip.Addr
	RecvMappings  int
	SentMappings  int
	RecvRequests  int
	SentRequests  int
	SentWithdraws int
}

// DumpLIB lists every FEC with its local label and received mappings.
func (e *Engine) DumpLIB() []LIBEntry {
	var out []LIBEntry
	e.fecs.Ascend(func(n *FECNode) bool {
		entry := LIBEntry{FEC: n.FEC, LocalLabel: n.LocalLabel}
		for _, peer := range n.ReceivedFrom() {
			nbr := e.nbrs[peer]
			if nbr == nil {
				continue
			}
			me, ok := nbr.recvMap.get(n.FEC)
			if !ok {
				continue
			}
			rb := RemoteBinding{PeerID: peer, RouterID: nbr.RouterID, Label: me.Label, Kind: me.Kind}
			for _, nh := range n.Nexthops {
				if nh.RemoteLabel == me.Label && (nbr.HasAddress(nh.Addr) || n.FEC.Type == FECTypePWID) {
					rb.InUse = true
					break
				}
			}
			entry.Remote = append(entry.Remote, rb)
		}
		out = append(out, entry)
		return true
	})
	return out
}

// DumpLSP lists every FEC with nexthops and the labels they carry.
func (e *Engine) DumpLSP() []LSPEntry {
	var out []LSPEntry
	e.fecs.Ascend(func(n *FECNode) bool {
		if len(n.Nexthops) == 0 {
			return true
		}
		entry := LSPEntry{FEC: n.FEC, LocalLabel: n.LocalLabel}
		for _, nh := range n.Nexthops {
			entry.Nexthops = append(entry.Nexthops, *nh)
		}
		out = append(out, entry)
		return true
	})
	return out
}

// DumpMP2MP lists every FEC carrying an MP2MP tree.
func (e *Engine) DumpMP2MP() []MP2MPEntry {
	var out []MP2MPEntry
	e.fecs.Ascend(func(n *FECNode) bool {
		ext := n.MP2MP()
		if ext == nil {
			return true
		}
		entry := MP2MPEntry{
			FEC:         n.FEC,
			LocalLabel:  n.LocalLabel,
			MBB:         ext.MBB,
			Member:      ext.Member,
			HoldTime:    ext.HoldTime,
			SwitchDelay: ext.SwitchDelay,
			Upstream:    e.bindings(n, n.SentTo(), true),
			Downstream:  e.bindings(n, n.ReceivedFrom(), false),
		}
		out = append(out, entry)
		return true
	})
	return out
}

func (e *Engine) bindings(n *FECNode, peers []PeerID, sent bool) []MP2MPBinding {
	var out []MP2MPBinding
	for _, peer := range peers {
		nbr := e.nbrs[peer]
		if nbr == nil {
			continue
		}
		t := nbr.recvMap
		if sent {
			t = nbr.sentMap
		}
		me, ok := t.get(n.FEC)
		if !ok {
			continue
		}
		out = append(out, MP2MPBinding{PeerID: peer, RouterID: nbr.RouterID, Label: me.Label, Kind: me.Kind})
	}
	return out
}

// DumpNeighbors lists every neighbor by peer ID.
func (e *Engine) DumpNeighbors() []NeighborEntry {
	nbrs := e.neighbors()
	out := make([]NeighborEntry, 0, len(nbrs))
	for _, nbr := range nbrs {
		out = append(out, NeighborEntry{
			PeerID:        nbr.PeerID,
			RouterID:      nbr.RouterID,
			V4Enabled:     nbr.V4Enabled,
			V6Enabled:     nbr.V6Enabled,
			Addresses:     nbr.Addresses(),
			RecvMappings:  nbr.recvMap.len(),
			SentMappings:  nbr.sentMap.len(),
			RecvRequests:  nbr.recvReq.len(),
			SentRequests:  nbr.sentReq.len(),
			SentWithdraws: nbr.sentWdraw.len(),
		})
	}
	return out
}
