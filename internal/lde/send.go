package lde

import "log/slog"

// sendMapping advertises the node's local label to nbr and records it
// (RFC 5036 Appendix A.1.1, SL.1 - SL.5). A pending request from nbr for
// the FEC is answered and cleared.
func (e *Engine) sendMapping(nbr *Neighbor, n *FECNode) {
	m := Mapping{FEC: n.FEC, Kind: MapUnicast, Peer: nbr.PeerID}

	switch n.FEC.Type {
	case FECTypeIPv4, FECTypeIPv6:
		if !nbr.afEnabled(n.FEC.AF()) {
			return
		}
	case FECTypePWID:
		pw := n.PW()
		if pw == nil || n.FEC.LSRID != nbr.RouterID {
			// not the remote end of the pseudowire
			return
		}
		m.Flags |= FlagPWID | FlagPWIfMTU
		m.PWIfMTU = pw.LocalMTU
		if pw.ControlWord {
			m.Flags |= FlagPWControlWord
		}
		if pw.StatusTLV {
			m.Flags |= FlagPWStatus
			m.PWStatus = PWStatusForwarding
		}
	default:
		panic(fatalf("send mapping: unexpected fec type %s", n.FEC.Type))
	}
	m.Label = n.LocalLabel

	// SL.6 - SL.7
	if req, ok := nbr.recvReq.get(n.FEC); ok {
		m.RequestID = req.MsgID
		m.Flags |= FlagRequestID
		nbr.deleteRequest(n.FEC, false)
	}

	e.session.SendMapping(nbr.PeerID, m)
	e.metrics.IncMessageSent(MsgTypeLabelMapping.String())

	me := nbr.addMapping(n, true)
	*me = m
}

// withdrawAll withdraws the local label of n from every neighbor holding a
// mapping for it.
func (e *Engine) withdrawAll(n *FECNode) {
	for _, peer := range n.SentTo() {
		if nbr := e.nbrs[peer]; nbr != nil {
			e.sendWithdraw(nbr, n, n.LocalLabel, MapUnicast, nil)
		}
	}
}

// sendWithdraw withdraws label for n from nbr and records the withdraw
// until the peer releases it (SWd.1 - SWd.2).
func (e *Engine) sendWithdraw(nbr *Neighbor, n *FECNode, label Label, kind MapKind, st *Status) {
	m := Mapping{FEC: n.FEC, Label: label, Kind: kind, Peer: nbr.PeerID}
	switch n.FEC.Type {
	case FECTypeIPv4, FECTypeIPv6:
		if !nbr.afEnabled(n.FEC.AF()) {
			return
		}
	case FECTypePWID:
		if n.FEC.LSRID != nbr.RouterID {
			return
		}
		m.Flags |= FlagPWID
	default:
		panic(fatalf("send withdraw: unexpected fec type %s", n.FEC.Type))
	}

	e.session.SendWithdraw(nbr.PeerID, m, st)
	e.metrics.IncMessageSent(MsgTypeLabelWithdraw.String())
	nbr.addWithdraw(n.FEC, label, kind)
}

// sendRelease releases label for fec back to nbr.
func (e *Engine) sendRelease(nbr *Neighbor, fec FEC, label Label, kind MapKind) {
	m := Mapping{FEC: fec, Label: label, Kind: kind, Peer: nbr.PeerID}
	if fec.Type == FECTypePWID {
		m.Flags |= FlagPWID
	}
	e.session.SendRelease(nbr.PeerID, m)
	e.metrics.IncMessageSent(MsgTypeLabelRelease.String())
}

// sendWildcardRelease releases label for every FEC back to nbr.
func (e *Engine) sendWildcardRelease(nbr *Neighbor, label Label, kind MapKind) {
	m := Mapping{Label: label, Kind: kind, Flags: FlagWildcard, Peer: nbr.PeerID}
	e.session.SendRelease(nbr.PeerID, m)
	e.metrics.IncMessageSent(MsgTypeLabelRelease.String())
}

func (e *Engine) sendNotification(nbr *Neighbor, st Status) {
	e.logger.Debug("sending notification",
		slog.Uint64("peer_id", uint64(nbr.PeerID)),
		slog.String("status", st.Code.String()),
		slog.Uint64("msg_id", uint64(st.MsgID)),
	)
	e.session.SendNotification(nbr.PeerID, st)
	e.metrics.IncMessageSent(MsgTypeNotification.String())
	e.metrics.IncNotificationSent(st.Code.String())
}
