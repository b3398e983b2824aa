package lde

import "net/netip"

// Route is a normalized kernel route event for one (FEC, nexthop) pair.
type Route struct {
	FEC      FEC
	AF       AF
	Nexthop  netip.Addr
	Priority uint8

	// Connected marks a directly connected prefix; its local label is the
	// egress label.
	Connected bool

	// PW is the pseudowire control block of a PWid FEC route.
	PW *PWControl
}

// FIBEntry is one label binding pushed to the kernel: packets arriving with
// LocalLabel are switched to Nexthop with RemoteLabel (NoLabel when the
// downstream binding is unknown, which installs the ingress route only).
type FIBEntry struct {
	FEC         FEC
	LocalLabel  Label
	RemoteLabel Label
	AF          AF
	Nexthop     netip.Addr
	Priority    uint8
}

// RouteSink consumes route events from a routing feed. *Engine implements
// it directly; feeds running on their own goroutines use Loop.RouteSink.
type RouteSink interface {
	RouteAdded(r Route)
	RouteRemoved(r Route)
}

var _ RouteSink = (*Engine)(nil)

// Kernel receives FIB change instructions. Calls are one-way: the kernel
// collaborator owns error handling and retries.
type Kernel interface {
	Install(e FIBEntry)
	Uninstall(e FIBEntry)
}

// Session delivers protocol messages to LDP peers. Calls are one-way.
type Session interface {
	// SendMapping sends a Label Mapping message.
	SendMapping(peer PeerID, m Mapping)

	// SendMappingEnd marks the end of the initial mapping stream sent to
	// a newly operational peer.
	SendMappingEnd(peer PeerID)

	// SendRequest sends a Label Request message.
	SendRequest(peer PeerID, r Request)

	// SendWithdraw sends a Label Withdraw message. st is nil unless a
	// Status TLV must be attached.
	SendWithdraw(peer PeerID, m Mapping, st *Status)

	// SendRelease sends a Label Release message.
	SendRelease(peer PeerID, m Mapping)

	// SendNotification sends a Notification message.
	SendNotification(peer PeerID, st Status)
}

// PeerForgetter is implemented by sessions that keep per-peer state. The
// engine calls Forget once the neighbor is gone.
type PeerForgetter interface {
	Forget(peer PeerID)
}

// Pseudowire negotiates PWid FEC parameters (RFC 4447).
type Pseudowire interface {
	// Negotiate checks a received PWid mapping against the local control
	// block. Returning false drops the mapping. Mappings for a
	// pseudowire without a control block yet are accepted.
	Negotiate(nbr *Neighbor, node *FECNode, m Mapping) bool

	// Usable reports whether the pseudowire may be installed on nh.
	Usable(pw *PWControl, nh *Nexthop) bool
}

// PWStatusForwarding is the PW status value of a forwarding pseudowire
// (RFC 4447 Section 5.4.2).
const PWStatusForwarding uint32 = 0

func (pw *PWControl) reset() {
	pw.RemoteGroup = 0
	pw.RemoteMTU = 0
	pw.RemoteStatus = PWStatusForwarding
	pw.ControlWord = pw.ControlWordConfigured
}

// defaultPseudowire implements control word negotiation (RFC 4447 Section
// 6.2) and the MTU and status checks gating FIB installation.
type defaultPseudowire struct{}

func (defaultPseudowire) Negotiate(_ *Neighbor, node *FECNode, m Mapping) bool {
	pw := node.PW()
	if pw == nil {
		return true
	}
	if m.Flags&FlagPWControlWord != 0 {
		if !pw.ControlWordConfigured {
			return false
		}
		pw.ControlWord = true
	} else {
		pw.ControlWord = false
	}
	return true
}

func (defaultPseudowire) Usable(pw *PWControl, nh *Nexthop) bool {
	if nh.RemoteLabel == NoLabel {
		return false
	}
	if pw.RemoteMTU != 0 && pw.LocalMTU != 0 && pw.RemoteMTU != pw.LocalMTU {
		return false
	}
	return pw.RemoteStatus == PWStatusForwarding
}
