package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/goldp/internal/lde"
)

// updateQueueSize is the route update channel capacity.
const updateQueueSize = 256

// ErrSubscriptionClosed is returned by Watcher.Run when the kernel closes
// the route subscription.
var ErrSubscriptionClosed = errors.New("route subscription closed")

// SubscribeFunc starts a route subscription delivering updates on ch until
// done is closed. It matches netlink.RouteSubscribeWithOptions.
type SubscribeFunc func(ch chan<- netlink.RouteUpdate, done <-chan struct{}, opts netlink.RouteSubscribeOptions) error

// -------------------------------------------------------------------------
// Watcher: kernel route feed
// -------------------------------------------------------------------------

// Watcher turns main table unicast routes into engine route events. Routes
// tagged with the FIB's own protocol are skipped.
type Watcher struct {
	sink      lde.RouteSink
	subscribe SubscribeFunc
	protocol  netlink.RouteProtocol
	logger    *slog.Logger
}

// WatcherOption configures optional Watcher parameters.
type WatcherOption func(*Watcher)

// WithSubscribeFunc replaces the rtnetlink subscription, for tests.
func WithSubscribeFunc(fn SubscribeFunc) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.subscribe = fn
		}
	}
}

// NewWatcher creates a Watcher delivering events to sink. protocol is the
// route protocol the FIB writes with.
func NewWatcher(sink lde.RouteSink, protocol int, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		sink:      sink,
		subscribe: netlink.RouteSubscribeWithOptions,
		protocol:  netlink.RouteProtocol(protocol),
		logger:    logger.With(slog.String("component", "kernel.watch")),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run subscribes to route updates, replaying the existing table first, and
// forwards them until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	updates := make(chan netlink.RouteUpdate, updateQueueSize)
	done := make(chan struct{})
	defer close(done)

	err := w.subscribe(updates, done, netlink.RouteSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			w.logger.Warn("route subscription error", slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to route updates: %w", err)
	}
	w.logger.Info("watching kernel routes", slog.Int("protocol", int(w.protocol)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return ErrSubscriptionClosed
			}
			w.handle(u)
		}
	}
}

func (w *Watcher) handle(u netlink.RouteUpdate) {
	var deliver func(lde.Route)
	switch u.Type {
	case unix.RTM_NEWROUTE:
		deliver = w.sink.RouteAdded
	case unix.RTM_DELROUTE:
		deliver = w.sink.RouteRemoved
	default:
		return
	}
	if u.Protocol == w.protocol {
		return
	}
	for _, r := range ConvertRoute(&u.Route) {
		deliver(r)
	}
}

// ConvertRoute splits a main table unicast IPv4 or IPv6 route into one
// engine route per nexthop. Other routes yield nil. A route without a
// gateway is directly connected.
func ConvertRoute(route *netlink.Route) []lde.Route {
	if route.Table != 0 && route.Table != unix.RT_TABLE_MAIN {
		return nil
	}
	if route.Type != 0 && route.Type != unix.RTN_UNICAST {
		return nil
	}

	prefix, ok := routePrefix(route)
	if !ok {
		return nil
	}
	fec := lde.PrefixFEC(prefix)
	af := lde.AddrAF(prefix.Addr())
	prio := priority(route.Priority)

	gws := []net.IP{route.Gw}
	if len(route.MultiPath) > 0 {
		gws = gws[:0]
		for _, nh := range route.MultiPath {
			gws = append(gws, nh.Gw)
		}
	}

	out := make([]lde.Route, 0, len(gws))
	for _, gw := range gws {
		r := lde.Route{FEC: fec, AF: af, Priority: prio}
		if addr, ok := netip.AddrFromSlice(gw); ok {
			r.Nexthop = addr.Unmap()
		} else {
			r.Connected = true
			r.Nexthop = unspecified(af)
		}
		if lde.AddrAF(r.Nexthop) != af {
			continue
		}
		out = append(out, r)
	}
	return out
}

// routePrefix returns the destination of route. A nil Dst is the default
// route of the route's family.
func routePrefix(route *netlink.Route) (netip.Prefix, bool) {
	if route.Dst == nil {
		switch route.Family {
		case netlink.FAMILY_V4:
			return netip.PrefixFrom(netip.IPv4Unspecified(), 0), true
		case netlink.FAMILY_V6:
			return netip.PrefixFrom(netip.IPv6Unspecified(), 0), true
		}
		return netip.Prefix{}, false
	}

	addr, ok := netip.AddrFromSlice(route.Dst.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	ones, bits := route.Dst.Mask.Size()
	if bits != addr.BitLen() {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, ones).Masked(), true
}

func unspecified(af lde.AF) netip.Addr {
	if af == lde.AFIPv4 {
		return netip.IPv4Unspecified()
	}
	return netip.IPv6Unspecified()
}

// priority folds the kernel route metric into the engine's range.
func priority(metric int) uint8 {
	return uint8(min(max(metric, 0), 255))
}
