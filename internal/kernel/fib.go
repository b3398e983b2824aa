package kernel

import (
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/dantte-lp/goldp/internal/lde"
)

// DefaultMetric is the route metric of labelled FTN routes. It must be
// lower than the IGP metric of the same prefix for the labelled route to
// be preferred.
const DefaultMetric = 10

// RouteWriter is the subset of *netlink.Handle used to program routes.
type RouteWriter interface {
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
}

// -------------------------------------------------------------------------
// FIB: lde.Kernel over rtnetlink
// -------------------------------------------------------------------------

// hop is one labelled nexthop of an ILM or FTN entry.
type hop struct {
	nexthop netip.Addr
	label   lde.Label
}

// FIB implements lde.Kernel by writing MPLS routes through a RouteWriter.
//
// Multipath bindings are merged: every nexthop installed for the same local
// label (ILM) or prefix (FTN) becomes one leg of a single multipath route.
// Write errors are logged and the intended state is kept, so the next
// change to the same entry retries the whole route.
type FIB struct {
	mu  sync.Mutex
	ilm map[lde.Label][]hop
	ftn map[netip.Prefix][]hop

	nl       RouteWriter
	protocol netlink.RouteProtocol
	metric   int
	logger   *slog.Logger
}

// FIBOption configures optional FIB parameters.
type FIBOption func(*FIB)

// WithMetric sets the FTN route metric.
func WithMetric(metric int) FIBOption {
	return func(f *FIB) {
		f.metric = metric
	}
}

// NewFIB creates a FIB writing through w. Routes are tagged with protocol
// so Watcher can recognize and skip them.
func NewFIB(w RouteWriter, protocol int, logger *slog.Logger, opts ...FIBOption) *FIB {
	f := &FIB{
		ilm:      make(map[lde.Label][]hop),
		ftn:      make(map[netip.Prefix][]hop),
		nl:       w,
		protocol: netlink.RouteProtocol(protocol),
		metric:   DefaultMetric,
		logger:   logger.With(slog.String("component", "kernel.fib")),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

var _ lde.Kernel = (*FIB)(nil)

// Install adds the labelled paths of e.
func (f *FIB) Install(e lde.FIBEntry) {
	if !f.programmable(e) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ilmLabel(e.LocalLabel) && e.RemoteLabel != lde.NoLabel {
		f.ilm[e.LocalLabel] = upsert(f.ilm[e.LocalLabel], hop{e.Nexthop, e.RemoteLabel})
		f.syncILM(e.LocalLabel)
	}
	if ftnLabel(e.RemoteLabel) {
		f.ftn[e.FEC.Prefix] = upsert(f.ftn[e.FEC.Prefix], hop{e.Nexthop, e.RemoteLabel})
		f.syncFTN(e.FEC.Prefix)
	}
}

// Uninstall removes the labelled paths of e. Unknown entries are ignored.
func (f *FIB) Uninstall(e lde.FIBEntry) {
	if !f.programmable(e) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if hops, ok := f.ilm[e.LocalLabel]; ok {
		if hops, ok = remove(hops, e.Nexthop); ok {
			f.ilm[e.LocalLabel] = hops
			f.syncILM(e.LocalLabel)
		}
	}
	if hops, ok := f.ftn[e.FEC.Prefix]; ok {
		if hops, ok = remove(hops, e.Nexthop); ok {
			f.ftn[e.FEC.Prefix] = hops
			f.syncFTN(e.FEC.Prefix)
		}
	}
}

// Len returns the number of ILM and FTN entries currently programmed.
func (f *FIB) Len() (ilm, ftn int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ilm), len(f.ftn)
}

func (f *FIB) programmable(e lde.FIBEntry) bool {
	switch {
	case e.FEC.Type == lde.FECTypePWID:
		// Pseudowire forwarding belongs to the dataplane owning the
		// attachment circuit.
		f.logger.Debug("skipped pseudowire binding", slog.String("fec", e.FEC.String()))
		return false
	case !e.Nexthop.IsValid() || e.Nexthop.IsUnspecified():
		return false
	}
	return true
}

// syncILM writes or deletes the MPLS route of label. Must hold f.mu.
func (f *FIB) syncILM(label lde.Label) {
	hops := f.ilm[label]
	route := f.ilmRoute(label, hops)
	if len(hops) == 0 {
		delete(f.ilm, label)
		f.write("del", route, f.nl.RouteDel)
		return
	}
	f.write("replace", route, f.nl.RouteReplace)
}

// syncFTN writes or deletes the labelled route of prefix. Must hold f.mu.
func (f *FIB) syncFTN(prefix netip.Prefix) {
	hops := f.ftn[prefix]
	route := f.ftnRoute(prefix, hops)
	if len(hops) == 0 {
		delete(f.ftn, prefix)
		f.write("del", route, f.nl.RouteDel)
		return
	}
	f.write("replace", route, f.nl.RouteReplace)
}

func (f *FIB) write(op string, route *netlink.Route, fn func(*netlink.Route) error) {
	if err := fn(route); err != nil {
		f.logger.Warn("route write failed",
			slog.String("op", op),
			slog.String("route", route.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	f.logger.Debug("route written", slog.String("op", op), slog.String("route", route.String()))
}

// -------------------------------------------------------------------------
// Route construction
// -------------------------------------------------------------------------

func (f *FIB) ilmRoute(label lde.Label, hops []hop) *netlink.Route {
	dst := int(label)
	route := &netlink.Route{
		Family:   netlink.FAMILY_MPLS,
		MPLSDst:  &dst,
		Protocol: f.protocol,
	}
	switch len(hops) {
	case 0:
	case 1:
		route.NewDst = swapTo(hops[0].label)
		route.Via = via(hops[0].nexthop)
	default:
		for _, h := range hops {
			route.MultiPath = append(route.MultiPath, &netlink.NexthopInfo{
				NewDst: swapTo(h.label),
				Via:    via(h.nexthop),
			})
		}
	}
	return route
}

func (f *FIB) ftnRoute(prefix netip.Prefix, hops []hop) *netlink.Route {
	route := &netlink.Route{
		Dst:      ipNet(prefix),
		Protocol: f.protocol,
		Priority: f.metric,
	}
	switch len(hops) {
	case 0:
	case 1:
		route.Gw = net.IP(hops[0].nexthop.AsSlice())
		route.Encap = &netlink.MPLSEncap{Labels: []int{int(hops[0].label)}}
	default:
		for _, h := range hops {
			route.MultiPath = append(route.MultiPath, &netlink.NexthopInfo{
				Gw:    net.IP(h.nexthop.AsSlice()),
				Encap: &netlink.MPLSEncap{Labels: []int{int(h.label)}},
			})
		}
	}
	return route
}

// ilmLabel reports whether packets can arrive with label: reserved labels
// are never allocated to FECs.
func ilmLabel(label lde.Label) bool {
	return label != lde.NoLabel && label > lde.LabelReservedMax
}

// ftnLabel reports whether label must be pushed at ingress. Implicit null
// leaves the plain IP route in charge.
func ftnLabel(label lde.Label) bool {
	switch label {
	case lde.NoLabel, lde.LabelImplicitNull:
		return false
	}
	return label == lde.LabelIPv4ExplicitNull || label == lde.LabelIPv6ExplicitNull ||
		label > lde.LabelReservedMax
}

// swapTo returns the outgoing label stack, nil (pop) for implicit null.
func swapTo(label lde.Label) netlink.Destination {
	if label == lde.LabelImplicitNull {
		return nil
	}
	return &netlink.MPLSDestination{Labels: []int{int(label)}}
}

func via(addr netip.Addr) *netlink.Via {
	family := netlink.FAMILY_V6
	if addr.Is4() {
		family = netlink.FAMILY_V4
	}
	return &netlink.Via{AddrFamily: family, Addr: net.IP(addr.AsSlice())}
}

func ipNet(p netip.Prefix) *net.IPNet {
	bits := 128
	if p.Addr().Is4() {
		bits = 32
	}
	return &net.IPNet{
		IP:   net.IP(p.Masked().Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), bits),
	}
}

// upsert adds h or updates the label of its nexthop, keeping hops sorted.
func upsert(hops []hop, h hop) []hop {
	i, found := slices.BinarySearchFunc(hops, h.nexthop, cmpHop)
	if found {
		hops[i].label = h.label
		return hops
	}
	return slices.Insert(hops, i, h)
}

func remove(hops []hop, nexthop netip.Addr) ([]hop, bool) {
	i, found := slices.BinarySearchFunc(hops, nexthop, cmpHop)
	if !found {
		return hops, false
	}
	return slices.Delete(hops, i, i+1), true
}

func cmpHop(h hop, addr netip.Addr) int {
	return h.nexthop.Compare(addr)
}
