package gobgp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"

	"github.com/dantte-lp/goldp/internal/lde"
)

const (
	// DefaultRetryInterval is the delay before a failed watch is reopened.
	DefaultRetryInterval = 5 * time.Second

	// DefaultPriority is the route priority of BGP-learned nexthops.
	DefaultPriority uint8 = 20
)

var (
	// ErrUnsupportedFamily indicates a path outside IPv4/IPv6 unicast.
	ErrUnsupportedFamily = errors.New("unsupported address family")

	// ErrMalformedPath indicates a path whose NLRI or nexthop cannot be
	// decoded.
	ErrMalformedPath = errors.New("malformed path")
)

// -------------------------------------------------------------------------
// Feed: BGP best paths to engine route events
// -------------------------------------------------------------------------

// Feed watches GoBGP best paths and forwards them to a route sink.
//
// Each watch event carries the complete best nexthop set of every prefix it
// mentions; the feed diffs it against the set it forwarded before and emits
// the adds and removes. When the watch fails, every forwarded route is
// removed until the reopened watch dumps the table again.
type Feed struct {
	client   Client
	sink     lde.RouteSink
	retry    time.Duration
	priority uint8
	logger   *slog.Logger

	// routes is owned by the Run goroutine.
	routes map[lde.FEC]map[netip.Addr]lde.Route
}

// FeedOption configures optional Feed parameters.
type FeedOption func(*Feed)

// WithRetryInterval sets the delay before a failed watch is reopened.
func WithRetryInterval(d time.Duration) FeedOption {
	return func(f *Feed) {
		if d > 0 {
			f.retry = d
		}
	}
}

// WithPriority sets the route priority of forwarded nexthops.
func WithPriority(p uint8) FeedOption {
	return func(f *Feed) {
		f.priority = p
	}
}

// NewFeed creates a feed reading from client and writing to sink.
func NewFeed(client Client, sink lde.RouteSink, logger *slog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		client:   client,
		sink:     sink,
		retry:    DefaultRetryInterval,
		priority: DefaultPriority,
		logger:   logger.With(slog.String("component", "gobgp.feed")),
		routes:   make(map[lde.FEC]map[netip.Addr]lde.Route),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run watches best paths until ctx is cancelled, reopening the watch after
// failures.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.client.WatchBestPaths(ctx, f.apply)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = ErrStreamEnded
		}

		f.logger.Warn("best path watch failed",
			slog.String("error", err.Error()),
			slog.Duration("retry", f.retry),
		)
		f.flush()

		t := time.NewTimer(f.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Len returns the number of prefixes currently forwarded. It must not be
// called while Run is active.
func (f *Feed) Len() int {
	return len(f.routes)
}

func (f *Feed) apply(paths []*apipb.Path) {
	sets := make(map[lde.FEC]map[netip.Addr]struct{})
	var order []lde.FEC

	for _, p := range paths {
		fec, nexthops, err := ConvertPath(p)
		if err != nil {
			if !errors.Is(err, ErrUnsupportedFamily) {
				f.logger.Debug("skipped path", slog.String("error", err.Error()))
			}
			continue
		}
		set, ok := sets[fec]
		if !ok {
			set = make(map[netip.Addr]struct{})
			sets[fec] = set
			order = append(order, fec)
		}
		if p.GetIsWithdraw() {
			continue
		}
		for _, nh := range nexthops {
			set[nh] = struct{}{}
		}
	}

	for _, fec := range order {
		f.replace(fec, sets[fec])
	}
}

// replace makes the forwarded nexthops of fec equal to want.
func (f *Feed) replace(fec lde.FEC, want map[netip.Addr]struct{}) {
	have := f.routes[fec]
	for _, addr := range sortedAddrs(have) {
		if _, keep := want[addr]; !keep {
			f.sink.RouteRemoved(have[addr])
			delete(have, addr)
		}
	}

	for _, addr := range sortedAddrs(want) {
		if _, ok := have[addr]; ok {
			continue
		}
		if have == nil {
			have = make(map[netip.Addr]lde.Route)
			f.routes[fec] = have
		}
		r := lde.Route{FEC: fec, AF: lde.AddrAF(addr), Nexthop: addr, Priority: f.priority}
		have[addr] = r
		f.sink.RouteAdded(r)
	}

	if len(have) == 0 {
		delete(f.routes, fec)
	}
}

// flush removes every forwarded route.
func (f *Feed) flush() {
	for fec := range f.routes {
		f.replace(fec, nil)
	}
}

func sortedAddrs[V any](m map[netip.Addr]V) []netip.Addr {
	return slices.SortedFunc(maps.Keys(m), netip.Addr.Compare)
}

// -------------------------------------------------------------------------
// Path decoding
// -------------------------------------------------------------------------

// ConvertPath decodes the prefix and nexthops of an IPv4 or IPv6 unicast
// path. Withdrawn paths may carry no nexthop.
func ConvertPath(p *apipb.Path) (lde.FEC, []netip.Addr, error) {
	fam := p.GetFamily()
	if fam.GetSafi() != apipb.Family_SAFI_UNICAST ||
		(fam.GetAfi() != apipb.Family_AFI_IP && fam.GetAfi() != apipb.Family_AFI_IP6) {
		return lde.FEC{}, nil, fmt.Errorf("%w: %v/%v", ErrUnsupportedFamily, fam.GetAfi(), fam.GetSafi())
	}

	var nlri apipb.IPAddressPrefix
	if err := p.GetNlri().UnmarshalTo(&nlri); err != nil {
		return lde.FEC{}, nil, fmt.Errorf("%w: nlri: %w", ErrMalformedPath, err)
	}
	addr, err := netip.ParseAddr(nlri.GetPrefix())
	if err != nil {
		return lde.FEC{}, nil, fmt.Errorf("%w: prefix %q: %w", ErrMalformedPath, nlri.GetPrefix(), err)
	}
	prefix, err := addr.Prefix(int(nlri.GetPrefixLen()))
	if err != nil {
		return lde.FEC{}, nil, fmt.Errorf("%w: prefix length %d: %w", ErrMalformedPath, nlri.GetPrefixLen(), err)
	}
	fec := lde.PrefixFEC(prefix)

	var nexthops []netip.Addr
	for _, a := range p.GetPattrs() {
		msg, err := a.UnmarshalNew()
		if err != nil {
			continue
		}
		var raw string
		switch attr := msg.(type) {
		case *apipb.NextHopAttribute:
			raw = attr.GetNextHop()
		case *apipb.MpReachNLRIAttribute:
			// The global address comes first; a link-local one may follow.
			if nhs := attr.GetNextHops(); len(nhs) > 0 {
				raw = nhs[0]
			}
		default:
			continue
		}
		nh, err := netip.ParseAddr(raw)
		if err != nil {
			return lde.FEC{}, nil, fmt.Errorf("%w: nexthop %q: %w", ErrMalformedPath, raw, err)
		}
		nh = nh.Unmap()
		if nh.Is4() != prefix.Addr().Is4() {
			continue
		}
		nexthops = append(nexthops, nh)
	}

	if len(nexthops) == 0 && !p.GetIsWithdraw() {
		return lde.FEC{}, nil, fmt.Errorf("%w: %s has no usable nexthop", ErrMalformedPath, prefix)
	}
	return fec, nexthops, nil
}
