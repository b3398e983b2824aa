package lde

import "log/slog"

// groupWildcard reports a PWid message without an explicit PW ID. Group
// wildcards are not implemented; such messages are dropped.
func (e *Engine) groupWildcard(nbr *Neighbor, m Mapping, t MsgType) bool {
	if m.FEC.Type != FECTypePWID || m.Flags&FlagPWID != 0 {
		return false
	}
	e.logger.Debug("ignoring pw group wildcard",
		slog.Uint64("peer_id", uint64(nbr.PeerID)),
		slog.String("type", t.String()),
		slog.Uint64("group_id", uint64(m.PWGroupID)),
	)
	return true
}

// CheckRelease processes a Label Release received from peer (RFC 5036
// Appendix A.1.4).
func (e *Engine) CheckRelease(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelRelease)
	if nbr == nil {
		return ErrUnknownNeighbor
	}
	if e.groupWildcard(nbr, m, MsgTypeLabelRelease) {
		return nil
	}
	fec := mapFEC(nbr, m)

	// LRl.1: the withdraw record may outlive the FEC node.
	n := e.fecs.Find(fec)
	e.release(nbr, n, fec, m.Label)
	return nil
}

// CheckReleaseWildcard processes a Label Release carrying the Wildcard
// FEC: it applies to every FEC with state toward peer.
func (e *Engine) CheckReleaseWildcard(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelRelease)
	if nbr == nil {
		return ErrUnknownNeighbor
	}

	seen := make(map[FEC]struct{})
	for _, fec := range append(nbr.sentWdraw.keys(), nbr.sentMap.keys()...) {
		if _, ok := seen[fec]; ok {
			continue
		}
		seen[fec] = struct{}{}
		e.release(nbr, e.fecs.Find(fec), fec, m.Label)
	}
	return nil
}

// release applies LRl.3 - LRl.6 for one FEC. node may be nil.
func (e *Engine) release(nbr *Neighbor, n *FECNode, fec FEC, label Label) {
	// LRl.3 - LRl.4: a pending withdraw is acknowledged.
	if w, ok := nbr.sentWdraw.get(fec); ok &&
		(label == NoLabel || (w.Label != NoLabel && label == w.Label)) {
		nbr.deleteWithdraw(fec)
	}

	// LRl.6
	if me, ok := nbr.sentMap.get(fec); ok && label.matches(me.Label) {
		nbr.deleteMapping(n, fec, true)
	}

	// LRl.11 - LRl.13 are unnecessary: labels leave the FIB as soon as
	// the FEC becomes unreachable.
}

// CheckWithdraw processes a Label Withdraw received from peer (RFC 5036
// Appendix A.1.5). Every processed withdraw is acknowledged with a
// release.
func (e *Engine) CheckWithdraw(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelWithdraw)
	if nbr == nil {
		return ErrUnknownNeighbor
	}
	if e.groupWildcard(nbr, m, MsgTypeLabelWithdraw) {
		return nil
	}
	fec := mapFEC(nbr, m)
	n := e.fecs.Find(fec)

	if m.Kind.Multipoint() && n != nil && n.MP2MP() != nil {
		e.checkMP2MPWithdraw(nbr, n, m)
		return nil
	}

	// LWd.1
	if n != nil {
		for _, nh := range n.Nexthops {
			switch n.FEC.Type {
			case FECTypeIPv4, FECTypeIPv6:
				if !nbr.HasAddress(nh.Addr) {
					continue
				}
			case FECTypePWID:
				if n.PW() == nil {
					continue
				}
			default:
				panic(fatalf("check withdraw: unexpected fec type %s", n.FEC.Type))
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}
	}

	// LWd.2
	e.sendRelease(nbr, fec, m.Label, m.Kind)

	// LWd.3 - LWd.4
	if me, ok := nbr.recvMap.get(fec); ok && m.Label.matches(me.Label) {
		nbr.deleteMapping(n, fec, false)
	}
	return nil
}

// CheckWithdrawWildcard processes a Label Withdraw carrying the Wildcard
// FEC: every FEC is withdrawn by peer and one release acknowledges it.
func (e *Engine) CheckWithdrawWildcard(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelWithdraw)
	if nbr == nil {
		return ErrUnknownNeighbor
	}

	// LWd.2
	e.sendWildcardRelease(nbr, m.Label, m.Kind)

	for _, n := range e.fecs.Nodes() {
		// LWd.1, left to the pruning below for MP2MP trees.
		for _, nh := range n.Nexthops {
			if n.MP2MP() != nil {
				break
			}
			switch n.FEC.Type {
			case FECTypeIPv4, FECTypeIPv6:
				if !nbr.HasAddress(nh.Addr) {
					continue
				}
			case FECTypePWID:
				if n.FEC.LSRID != nbr.RouterID {
					continue
				}
			default:
				panic(fatalf("check withdraw wildcard: unexpected fec type %s", n.FEC.Type))
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}

		// LWd.3 - LWd.4
		me, ok := nbr.recvMap.get(n.FEC)
		if !ok || !m.Label.matches(me.Label) {
			continue
		}
		if me.Kind.Multipoint() && n.MP2MP() != nil {
			e.mp2mpPrune(nbr, n, *me, true)
			continue
		}
		nbr.deleteMapping(n, n.FEC, false)
	}
	return nil
}
