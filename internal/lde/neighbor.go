package lde

import (
	"log/slog"
	"net/netip"
	"slices"
)

// Neighbor is the label state kept for one LDP peer: the address family
// capabilities, the advertised interface addresses and five FEC-keyed
// collections. Records hold FEC keys by value, so neighbor state may
// precede or outlive the FEC node it concerns.
type Neighbor struct {
	PeerID    PeerID
	RouterID  netip.Addr
	V4Enabled bool
	V6Enabled bool

	addrs map[netip.Addr]struct{}

	recvReq   *fecTable[*Request]
	sentReq   *fecTable[*Request]
	recvMap   *fecTable[*Mapping]
	sentMap   *fecTable[*Mapping]
	sentWdraw *fecTable[*Withdraw]
}

func newNeighbor(info NeighborInfo) *Neighbor {
	return &Neighbor{
		PeerID:    info.PeerID,
		RouterID:  info.RouterID,
		V4Enabled: info.V4Enabled,
		V6Enabled: info.V6Enabled,
		addrs:     make(map[netip.Addr]struct{}),
		recvReq:   newFECTable[*Request](),
		sentReq:   newFECTable[*Request](),
		recvMap:   newFECTable[*Mapping](),
		sentMap:   newFECTable[*Mapping](),
		sentWdraw: newFECTable[*Withdraw](),
	}
}

// HasAddress reports whether addr is one of the neighbor's interface
// addresses.
func (n *Neighbor) HasAddress(addr netip.Addr) bool {
	_, ok := n.addrs[addr.Unmap()]
	return ok
}

// Addresses returns the neighbor's interface addresses in ascending order.
func (n *Neighbor) Addresses() []netip.Addr {
	out := make([]netip.Addr, 0, len(n.addrs))
	for a := range n.addrs {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return out
}

// ReceivedMapping returns a copy of the mapping received for fec.
func (n *Neighbor) ReceivedMapping(fec FEC) (Mapping, bool) {
	return lookupCopy(n.recvMap, fec)
}

// SentMapping returns a copy of the mapping sent for fec.
func (n *Neighbor) SentMapping(fec FEC) (Mapping, bool) {
	return lookupCopy(n.sentMap, fec)
}

// ReceivedRequest returns a copy of the pending request received for fec.
func (n *Neighbor) ReceivedRequest(fec FEC) (Request, bool) {
	return lookupCopy(n.recvReq, fec)
}

// SentRequest returns a copy of the pending request sent for fec.
func (n *Neighbor) SentRequest(fec FEC) (Request, bool) {
	return lookupCopy(n.sentReq, fec)
}

// SentWithdraw returns a copy of the unacknowledged withdraw sent for fec.
func (n *Neighbor) SentWithdraw(fec FEC) (Withdraw, bool) {
	return lookupCopy(n.sentWdraw, fec)
}

func lookupCopy[V any](t *fecTable[*V], fec FEC) (V, bool) {
	p, ok := t.get(fec)
	if !ok {
		var zero V
		return zero, false
	}
	return *p, true
}

func (n *Neighbor) afEnabled(af AF) bool {
	switch af {
	case AFIPv4:
		return n.V4Enabled
	case AFIPv6:
		return n.V6Enabled
	default:
		return false
	}
}

// -------------------------------------------------------------------------
// Per-neighbor collections
// -------------------------------------------------------------------------

// addMapping returns the received (sent=false) or sent (sent=true) mapping
// record of node's FEC, creating it if needed. The node tracks the peer so
// that the garbage collector sees the record.
func (n *Neighbor) addMapping(node *FECNode, sent bool) *Mapping {
	t, set := n.recvMap, node.recvFrom
	if sent {
		t, set = n.sentMap, node.sentTo
	}
	if me, ok := t.get(node.FEC); ok {
		return me
	}
	me := &Mapping{FEC: node.FEC, Label: NoLabel, Peer: n.PeerID}
	t.set(node.FEC, me)
	set[n.PeerID] = struct{}{}
	return me
}

// deleteMapping removes the received or sent mapping record for fec.
// node may be nil when the FEC is not indexed.
func (n *Neighbor) deleteMapping(node *FECNode, fec FEC, sent bool) {
	t := n.recvMap
	if sent {
		t = n.sentMap
	}
	t.remove(fec)
	if node == nil {
		return
	}
	if sent {
		delete(node.sentTo, n.PeerID)
	} else {
		delete(node.recvFrom, n.PeerID)
	}
}

// addRequest records a received (sent=false) or sent (sent=true) request.
func (n *Neighbor) addRequest(fec FEC, msgID uint32, sent bool) *Request {
	t := n.recvReq
	if sent {
		t = n.sentReq
	}
	r := &Request{FEC: fec, Peer: n.PeerID, MsgID: msgID}
	t.set(fec, r)
	return r
}

func (n *Neighbor) deleteRequest(fec FEC, sent bool) {
	if sent {
		n.sentReq.remove(fec)
	} else {
		n.recvReq.remove(fec)
	}
}

// addWithdraw records a withdraw sent for fec, overwriting any older one.
func (n *Neighbor) addWithdraw(fec FEC, label Label, kind MapKind) *Withdraw {
	w := &Withdraw{FEC: fec, Peer: n.PeerID, Label: label, Kind: kind}
	n.sentWdraw.set(fec, w)
	return w
}

func (n *Neighbor) deleteWithdraw(fec FEC) {
	n.sentWdraw.remove(fec)
}

// -------------------------------------------------------------------------
// Neighbor lifecycle
// -------------------------------------------------------------------------

// NeighborUp creates the label state of a peer whose session became
// operational, indexes its addresses and advertises every FEC holding a
// local label, followed by the end-of-mapping marker.
func (e *Engine) NeighborUp(info NeighborInfo) error {
	if _, ok := e.nbrs[info.PeerID]; ok {
		return ErrDuplicateNeighbor
	}

	nbr := newNeighbor(info)
	e.nbrs[nbr.PeerID] = nbr
	e.logger.Info("neighbor up",
		slog.Uint64("peer_id", uint64(nbr.PeerID)),
		slog.String("router_id", nbr.RouterID.String()),
	)

	for _, addr := range info.Addresses {
		e.addAddress(nbr, addr)
	}

	e.snapshot(nbr)
	return nil
}

// snapshot sends the current LIB to a new neighbor.
func (e *Engine) snapshot(nbr *Neighbor) {
	e.fecs.Ascend(func(n *FECNode) bool {
		if n.LocalLabel != NoLabel && n.MP2MP() == nil {
			e.sendMapping(nbr, n)
		}
		return true
	})
	e.session.SendMappingEnd(nbr.PeerID)
}

// NeighborDown tears down all label state learned from or sent to the peer.
// FIB entries that used its labels are uninstalled and MP2MP trees are
// pruned as if the peer had withdrawn every multipoint mapping.
func (e *Engine) NeighborDown(peer PeerID) error {
	nbr, ok := e.nbrs[peer]
	if !ok {
		return ErrUnknownNeighbor
	}

	for _, n := range e.fecs.Nodes() {
		if rec, ok := nbr.recvMap.get(n.FEC); ok && rec.Kind.Multipoint() && n.MP2MP() != nil {
			e.mp2mpPrune(nbr, n, *rec, false)
		}
	}

	e.fecs.Ascend(func(n *FECNode) bool {
		for _, nh := range n.Nexthops {
			switch n.FEC.Type {
			case FECTypeIPv4, FECTypeIPv6:
				if !nbr.HasAddress(nh.Addr) {
					continue
				}
			case FECTypePWID:
				if n.FEC.LSRID != nbr.RouterID {
					continue
				}
				if pw := n.PW(); pw != nil {
					pw.reset()
				}
			default:
				panic(fatalf("neighbor down: unexpected fec type %s", n.FEC.Type))
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}
		delete(n.recvFrom, peer)
		delete(n.sentTo, peer)
		return true
	})

	for addr := range nbr.addrs {
		e.addrIndex.Delete(hostPrefix(addr))
	}
	delete(e.nbrs, peer)
	if f, ok := e.session.(PeerForgetter); ok {
		f.Forget(peer)
	}

	e.logger.Info("neighbor down",
		slog.Uint64("peer_id", uint64(peer)),
		slog.String("router_id", nbr.RouterID.String()),
	)
	return nil
}

// AddressAdd records an interface address advertised by the peer and
// re-evaluates FECs whose nexthop is that address.
func (e *Engine) AddressAdd(peer PeerID, addr netip.Addr) error {
	nbr, ok := e.nbrs[peer]
	if !ok {
		return ErrUnknownNeighbor
	}
	e.addAddress(nbr, addr)
	return nil
}

func (e *Engine) addAddress(nbr *Neighbor, addr netip.Addr) {
	addr = addr.Unmap()
	if nbr.HasAddress(addr) {
		return
	}
	nbr.addrs[addr] = struct{}{}
	e.addrIndex.Insert(hostPrefix(addr), nbr.PeerID)

	for _, n := range e.fecs.Nodes() {
		if !slices.ContainsFunc(n.Nexthops, func(nh *Nexthop) bool { return nh.Addr == addr }) {
			continue
		}
		if n.MP2MP() != nil {
			e.mp2mpResync(n)
			continue
		}
		if me, ok := nbr.recvMap.get(n.FEC); ok {
			e.checkMapping(nbr, *me)
		}
	}
}

// AddressDel removes an interface address of the peer and uninstalls the
// FIB entries of nexthops at that address.
func (e *Engine) AddressDel(peer PeerID, addr netip.Addr) error {
	nbr, ok := e.nbrs[peer]
	if !ok {
		return ErrUnknownNeighbor
	}
	addr = addr.Unmap()
	if !nbr.HasAddress(addr) {
		return nil
	}

	e.fecs.Ascend(func(n *FECNode) bool {
		for _, nh := range n.Nexthops {
			if nh.Addr != addr {
				continue
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}
		return true
	})

	delete(nbr.addrs, addr)
	e.addrIndex.Delete(hostPrefix(addr))
	return nil
}

// nbrByAddr resolves the neighbor owning an interface address.
func (e *Engine) nbrByAddr(addr netip.Addr) *Neighbor {
	addr = addr.Unmap()
	id, ok := e.addrIndex.Lookup(addr)
	if !ok {
		return nil
	}
	nbr := e.nbrs[id]
	if nbr == nil || !nbr.HasAddress(addr) {
		return nil
	}
	return nbr
}

// nbrByLSRID resolves the neighbor whose router ID is id.
func (e *Engine) nbrByLSRID(id netip.Addr) *Neighbor {
	for _, nbr := range e.nbrs {
		if nbr.RouterID == id {
			return nbr
		}
	}
	return nil
}

// neighbors returns every neighbor ordered by peer ID.
func (e *Engine) neighbors() []*Neighbor {
	out := make([]*Neighbor, 0, len(e.nbrs))
	for _, nbr := range e.nbrs {
		out = append(out, nbr)
	}
	slices.SortFunc(out, func(a, b *Neighbor) int { return cmpInt(int(a.PeerID), int(b.PeerID)) })
	return out
}

func hostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}
