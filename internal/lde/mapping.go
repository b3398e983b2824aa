package lde

import "log/slog"

// mapFEC normalizes the FEC of a received message: a PWid FEC is keyed by
// the router ID of the neighbor that signaled it.
func mapFEC(nbr *Neighbor, m Mapping) FEC {
	if m.FEC.Type == FECTypePWID {
		m.FEC.LSRID = nbr.RouterID
	}
	return m.FEC
}

func (e *Engine) received(peer PeerID, t MsgType) *Neighbor {
	nbr, ok := e.nbrs[peer]
	if !ok {
		e.logger.Warn("message from unknown neighbor",
			slog.Uint64("peer_id", uint64(peer)),
			slog.String("type", t.String()),
		)
		return nil
	}
	e.metrics.IncMessageReceived(t.String())
	return nbr
}

// CheckMapping processes a Label Mapping received from peer (RFC 5036
// Appendix A.1.2).
func (e *Engine) CheckMapping(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelMapping)
	if nbr == nil {
		return ErrUnknownNeighbor
	}
	m.FEC = mapFEC(nbr, m)
	m.Peer = peer
	e.checkMapping(nbr, m)
	return nil
}

func (e *Engine) checkMapping(nbr *Neighbor, m Mapping) {
	n := e.findOrAddNode(m.FEC)

	if m.Kind.Multipoint() {
		e.checkMP2MPMapping(nbr, n, m)
		return
	}

	// LMp.1 - LMp.2
	_, pending := nbr.sentReq.get(n.FEC)
	if pending {
		nbr.deleteRequest(n.FEC, true)
	}

	// RFC 4447 control word and status negotiation.
	if n.FEC.Type == FECTypePWID && !e.pw.Negotiate(nbr, n, m) {
		return
	}

	// LMp.3 - LMp.8: loop detection is unnecessary for frame-mode MPLS.

	// LMp.9 - LMp.10
	if me, ok := nbr.recvMap.get(n.FEC); ok && me.Label != m.Label && !pending {
		// LMp.10a
		e.sendRelease(nbr, n.FEC, me.Label, me.Kind)

		// Walk every nexthop: with multipath more than one may belong
		// to the neighbor.
		for _, nh := range n.Nexthops {
			if !nbr.HasAddress(nh.Addr) {
				continue
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}
	}

	// LMp.11 - LMp.12, LMp.15
	msgSource := false
	for _, nh := range n.Nexthops {
		switch n.FEC.Type {
		case FECTypeIPv4, FECTypeIPv6:
			if !nbr.HasAddress(nh.Addr) {
				continue
			}
			nh.RemoteLabel = m.Label
			e.fibInstall(n, nh)
		case FECTypePWID:
			pw := n.PW()
			if pw == nil {
				continue
			}
			pw.RemoteGroup = m.PWGroupID
			if m.Flags&FlagPWIfMTU != 0 {
				pw.RemoteMTU = m.PWIfMTU
			}
			if m.Flags&FlagPWStatus != 0 {
				pw.RemoteStatus = m.PWStatus
			}
			nh.RemoteLabel = m.Label
			if e.pw.Usable(pw, nh) {
				e.fibInstall(n, nh)
			}
		default:
			panic(fatalf("check mapping: unexpected fec type %s", n.FEC.Type))
		}
		msgSource = true
	}

	// LMp.13, LMp.16: record the mapping from this peer.
	me := nbr.addMapping(n, false)
	*me = m

	if !msgSource {
		// LMp.13: liberal label retention keeps the mapping for later.
		e.logger.Debug("mapping retained",
			slog.String("fec", n.FEC.String()),
			slog.Uint64("peer_id", uint64(nbr.PeerID)),
			slog.String("label", m.Label.String()),
		)
	}

	// LMp.17 - LMp.27 are loop detection, LMp.28 - LMp.30 are unnecessary
	// for a merge capable LSR.
}

// CheckRequest processes a Label Request received from peer (RFC 5036
// Appendix A.1.1). The policy is Request Never: a mapping is sent right
// away or a notification explains why not.
func (e *Engine) CheckRequest(peer PeerID, m Mapping) error {
	nbr := e.received(peer, MsgTypeLabelRequest)
	if nbr == nil {
		return ErrUnknownNeighbor
	}
	fec := mapFEC(nbr, m)

	// LRq.1: loop detection is skipped.

	// LRq.2
	// A tree FEC carries no unicast binding to answer with.
	n := e.fecs.Find(fec)
	if n == nil || len(n.Nexthops) == 0 || n.MP2MP() != nil || n.LocalLabel == NoLabel {
		// LRq.5
		e.sendNotification(nbr, Status{Code: StatusNoRoute, MsgID: m.MsgID, MsgType: MsgTypeLabelRequest})
		return nil
	}

	// LRq.3 - LRq.4
	for _, nh := range n.Nexthops {
		switch n.FEC.Type {
		case FECTypeIPv4, FECTypeIPv6:
			if nbr.HasAddress(nh.Addr) {
				e.sendNotification(nbr, Status{Code: StatusLoopDetected, MsgID: m.MsgID, MsgType: MsgTypeLabelRequest})
				return nil
			}
		}
	}

	// LRq.6 - LRq.7: duplicate request.
	if _, dup := nbr.recvReq.get(fec); dup {
		return nil
	}

	// LRq.8 - LRq.9
	nbr.addRequest(fec, m.MsgID, false)
	e.sendMapping(nbr, n)

	// LRq.10 - LRq.12: nothing to do with Request Never and merging.
	return nil
}
