package lde

import "log/slog"

// MP2MP label distribution (RFC 6388), layered on prefix FEC nodes.
//
// A downstream mapping (D) is advertised by a child toward the root, an
// upstream mapping (U) by a parent back to a child. The node keeps the
// following invariants per tree:
//
//   - our D to the parent exists iff some child sent us a D or the local
//     node is a member of the tree;
//   - our U to a child exists only while that child's D exists;
//   - the FIB binding local label -> parent's U label exists only while
//     the parent's U exists.
//
// The first processing pass after the MBBSendMapping flag is raised
// assigns the local label, installs the upstream binding and advertises U
// to every child. Later passes only add U for children lacking one, so
// any number of children share a single upstream label.

// mp2mpExt returns the extension block of n, attaching one on first use.
//
// The tree shares the node with unicast state and a neighbor keeps a single
// received mapping per FEC. A unicast mapping from the parent therefore
// replaces its U: the U label is released and the FIB binding follows the
// unicast label.
func (e *Engine) mp2mpExt(n *FECNode) *MP2MPExt {
	if ext := n.MP2MP(); ext != nil {
		return ext
	}
	if n.FEC.Type == FECTypePWID {
		panic(fatalf("mp2mp: %s cannot carry a multipoint tree", n.FEC))
	}
	_, member := e.members[n.FEC]
	ext := &MP2MPExt{
		MBB:         MBBSendMapping,
		HoldTime:    e.cfg.HoldTime,
		SwitchDelay: e.cfg.SwitchDelay,
		Member:      member,
	}
	n.Data = ext
	return ext
}

// parent returns the neighbor owning the first nexthop toward the root.
func (e *Engine) parent(n *FECNode) *Neighbor {
	if e.cfg.Role == RoleRoot {
		return nil
	}
	for _, nh := range n.Nexthops {
		if nbr := e.nbrByAddr(nh.Addr); nbr != nil {
			return nbr
		}
	}
	return nil
}

// children returns the neighbors that sent a D for n, by peer ID.
func (e *Engine) children(n *FECNode) []*Neighbor {
	var out []*Neighbor
	for _, peer := range n.ReceivedFrom() {
		nbr := e.nbrs[peer]
		if nbr == nil {
			continue
		}
		if rec, ok := nbr.recvMap.get(n.FEC); ok && rec.Kind == MapMP2MPDown {
			out = append(out, nbr)
		}
	}
	return out
}

func sentKind(nbr *Neighbor, fec FEC, kind MapKind) (*Mapping, bool) {
	me, ok := nbr.sentMap.get(fec)
	if !ok || me.Kind != kind {
		return nil, false
	}
	return me, true
}

func (e *Engine) checkMP2MPMapping(nbr *Neighbor, n *FECNode, m Mapping) {
	ext := e.mp2mpExt(n)

	prevLabel := NoLabel
	if prev, ok := nbr.recvMap.get(n.FEC); ok && prev.Kind == m.Kind {
		prevLabel = prev.Label
	}
	me := nbr.addMapping(n, false)
	*me = m

	switch m.Kind {
	case MapMP2MPDown:
		if e.cfg.Role == RoleRoot {
			e.processUpstream(n)
			return
		}
		e.sendDownstreamMapping(n)
		e.processUpstream(n)
	case MapMP2MPUp:
		if p := e.parent(n); p == nil || p.PeerID != nbr.PeerID {
			e.logger.Debug("mp2mp upstream mapping from non-parent retained",
				slog.String("fec", n.FEC.String()),
				slog.Uint64("peer_id", uint64(nbr.PeerID)),
			)
			return
		}
		if prevLabel != m.Label {
			ext.MBB |= MBBSendMapping
		}
		e.processUpstream(n)
	}
}

// sendDownstreamMapping advertises our D to the parent when a child or
// local membership requires it and it is not already advertised.
func (e *Engine) sendDownstreamMapping(n *FECNode) {
	if e.cfg.Role == RoleRoot {
		return
	}
	ext := n.MP2MP()
	if !ext.Member && len(e.children(n)) == 0 {
		return
	}
	p := e.parent(n)
	if p == nil {
		e.logger.Debug("mp2mp downstream mapping pending: no neighbor toward root",
			slog.String("fec", n.FEC.String()),
		)
		return
	}
	if n.LocalLabel == NoLabel {
		n.LocalLabel = e.assignLabel()
	}
	if sent, ok := sentKind(p, n.FEC, MapMP2MPDown); ok && sent.Label == n.LocalLabel {
		return
	}
	e.sendMP2MPMapping(p, n, MapMP2MPDown)
}

// processUpstream merges the children's D into one upstream binding and
// answers them with U.
func (e *Engine) processUpstream(n *FECNode) {
	ext := n.MP2MP()

	var (
		p  *Neighbor
		up *Mapping
	)
	if e.cfg.Role != RoleRoot {
		if p = e.parent(n); p == nil {
			return
		}
		rec, ok := p.recvMap.get(n.FEC)
		if !ok || rec.Kind != MapMP2MPUp {
			return
		}
		up = rec
	}
	children := e.children(n)
	if e.cfg.Role == RoleRoot && len(children) == 0 {
		return
	}

	full := ext.MBB&MBBSendMapping != 0
	if full {
		e.metrics.IncMP2MPUpstreamPass()
		if n.LocalLabel == NoLabel {
			n.LocalLabel = e.assignLabel()
		}
		if up != nil {
			for _, nh := range n.Nexthops {
				if !p.HasAddress(nh.Addr) {
					continue
				}
				nh.RemoteLabel = up.Label
				e.fibInstall(n, nh)
			}
		}
		ext.MBB &^= MBBSendMapping
		e.logger.Debug("mp2mp upstream pass",
			slog.String("fec", n.FEC.String()),
			slog.String("label", n.LocalLabel.String()),
			slog.Int("children", len(children)),
		)
	}

	if e.cfg.Role == RoleLeaf {
		return
	}
	for _, child := range children {
		if !full {
			if sent, ok := sentKind(child, n.FEC, MapMP2MPUp); ok && sent.Label == n.LocalLabel {
				continue
			}
		}
		e.sendMP2MPMapping(child, n, MapMP2MPUp)
	}
}

func (e *Engine) sendMP2MPMapping(nbr *Neighbor, n *FECNode, kind MapKind) {
	if !nbr.afEnabled(n.FEC.AF()) {
		return
	}
	m := Mapping{FEC: n.FEC, Label: n.LocalLabel, Kind: kind, Peer: nbr.PeerID}
	e.session.SendMapping(nbr.PeerID, m)
	e.metrics.IncMessageSent(MsgTypeLabelMapping.String())

	me := nbr.addMapping(n, true)
	*me = m
}

// mp2mpWithdraw withdraws the mapping we sent to nbr. Unlike unicast
// withdraws the sent record is dropped right away; the withdraw record
// waits for the release.
func (e *Engine) mp2mpWithdraw(nbr *Neighbor, n *FECNode) {
	sent, ok := nbr.sentMap.get(n.FEC)
	if !ok {
		return
	}
	label, kind := sent.Label, sent.Kind
	nbr.deleteMapping(n, n.FEC, true)
	e.sendWithdraw(nbr, n, label, kind, nil)
}

func (e *Engine) mp2mpWithdrawAll(n *FECNode) {
	for _, peer := range n.SentTo() {
		if nbr := e.nbrs[peer]; nbr != nil {
			e.mp2mpWithdraw(nbr, n)
		}
	}
}

func (e *Engine) checkMP2MPWithdraw(nbr *Neighbor, n *FECNode, m Mapping) {
	if rec, ok := nbr.recvMap.get(n.FEC); ok && rec.Kind == m.Kind && m.Label.matches(rec.Label) {
		e.mp2mpPrune(nbr, n, *rec, true)
	}

	// LWd.2
	e.sendRelease(nbr, n.FEC, m.Label, m.Kind)
}

// mp2mpPrune removes the mapping rec received from nbr and tears down the
// state it justified. With notify unset nbr is going away and receives
// nothing.
func (e *Engine) mp2mpPrune(nbr *Neighbor, n *FECNode, rec Mapping, notify bool) {
	ext := e.mp2mpExt(n)
	nbr.deleteMapping(n, n.FEC, false)

	switch rec.Kind {
	case MapMP2MPDown:
		if notify {
			if _, ok := sentKind(nbr, n.FEC, MapMP2MPUp); ok {
				e.mp2mpWithdraw(nbr, n)
			}
		}
		if len(e.children(n)) > 0 {
			return
		}

		for _, peer := range n.SentTo() {
			other := e.nbrs[peer]
			if other == nil || (other == nbr && !notify) {
				continue
			}
			if _, ok := sentKind(other, n.FEC, MapMP2MPUp); ok {
				e.mp2mpWithdraw(other, n)
			}
		}
		if !ext.Member && e.cfg.Role != RoleRoot {
			e.withdrawDownstream(n, nbr, notify)
		}
		ext.MBB |= MBBSendMapping

	case MapMP2MPUp:
		for _, nh := range n.Nexthops {
			if !nbr.HasAddress(nh.Addr) || nh.RemoteLabel == NoLabel {
				continue
			}
			e.fibUninstall(n, nh)
			nh.RemoteLabel = NoLabel
		}
		ext.MBB |= MBBSendMapping

		if notify && !ext.Member && len(e.children(n)) == 0 {
			if _, ok := sentKind(nbr, n.FEC, MapMP2MPDown); ok {
				e.mp2mpWithdraw(nbr, n)
			}
		}
	}
}

// withdrawDownstream withdraws every D we sent for n. The departing
// neighbor is skipped unless notify is set.
func (e *Engine) withdrawDownstream(n *FECNode, departing *Neighbor, notify bool) {
	for _, peer := range n.SentTo() {
		nbr := e.nbrs[peer]
		if nbr == nil || (nbr == departing && !notify) {
			continue
		}
		if _, ok := sentKind(nbr, n.FEC, MapMP2MPDown); ok {
			e.mp2mpWithdraw(nbr, n)
		}
	}
}

// mp2mpResync re-evaluates a tree after its route toward the root changed:
// a D sent to a neighbor that is no longer the parent is withdrawn, then
// pending D and U advertisements are retried.
func (e *Engine) mp2mpResync(n *FECNode) {
	p := e.parent(n)
	for _, peer := range n.SentTo() {
		nbr := e.nbrs[peer]
		if nbr == nil || nbr == p {
			continue
		}
		if _, ok := sentKind(nbr, n.FEC, MapMP2MPDown); ok {
			e.mp2mpWithdraw(nbr, n)
		}
	}
	e.sendDownstreamMapping(n)
	e.processUpstream(n)
}

// JoinMP2MP makes the local node a member of the tree identified by fec.
// A non-root member advertises D toward the root even without children.
func (e *Engine) JoinMP2MP(fec FEC) error {
	if fec.Type == FECTypePWID {
		return ErrNotMultipoint
	}
	if _, ok := e.members[fec]; ok {
		return nil
	}
	e.members[fec] = struct{}{}

	n := e.findOrAddNode(fec)
	ext := e.mp2mpExt(n)
	ext.Member = true
	e.sendDownstreamMapping(n)
	e.processUpstream(n)

	e.logger.Info("joined mp2mp tree",
		slog.String("fec", fec.String()),
		slog.String("role", e.cfg.Role.String()),
	)
	return nil
}

// LeaveMP2MP ends local membership of the tree. Our D is withdrawn unless
// children still need it.
func (e *Engine) LeaveMP2MP(fec FEC) error {
	if _, ok := e.members[fec]; !ok {
		return nil
	}
	delete(e.members, fec)

	n := e.fecs.Find(fec)
	if n == nil || n.MP2MP() == nil {
		return nil
	}
	n.MP2MP().Member = false
	if e.cfg.Role != RoleRoot && len(e.children(n)) == 0 {
		e.withdrawDownstream(n, nil, true)
	}

	e.logger.Info("left mp2mp tree", slog.String("fec", fec.String()))
	return nil
}

// Members returns the FECs joined with JoinMP2MP.
func (e *Engine) Members() []FEC {
	out := make([]FEC, 0, len(e.members))
	for fec := range e.members {
		out = append(out, fec)
	}
	return sortFECs(out)
}
