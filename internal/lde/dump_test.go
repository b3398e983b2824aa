package lde_test

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/goldp/internal/lde"
)

func TestDumpLIB(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)
	h.routeAdd(fec10, "192.0.2.1", false)
	h.mapping(t, peerA, lde.Mapping{FEC: fec10, Label: 100})
	h.mapping(t, peerB, lde.Mapping{FEC: fec10, Label: 200})

	want := []lde.LIBEntry{{
		FEC:        fec10,
		LocalLabel: 16,
		Remote: []lde.RemoteBinding{
			{PeerID: peerA, RouterID: nbrA.RouterID, Label: 100, InUse: true},
			{PeerID: peerB, RouterID: nbrB.RouterID, Label: 200},
		},
	}}
	if diff := cmp.Diff(want, h.e.DumpLIB(), cmpOpts); diff != "" {
		t.Errorf("DumpLIB() mismatch (-want +got):\n%s", diff)
	}

	wantLSP := []lde.LSPEntry{{
		FEC:        fec10,
		LocalLabel: 16,
		Nexthops:   []lde.Nexthop{{AF: lde.AFIPv4, Addr: ip("192.0.2.1"), RemoteLabel: 100}},
	}}
	if diff := cmp.Diff(wantLSP, h.e.DumpLSP(), cmpOpts); diff != "" {
		t.Errorf("DumpLSP() mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpMP2MP(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setRole(lde.RoleRoot))
	h.up(t, nbrB)
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})

	want := []lde.MP2MPEntry{{
		FEC:         fecTree,
		LocalLabel:  16,
		HoldTime:    lde.DefaultHoldTime,
		SwitchDelay: lde.DefaultSwitchDelay,
		Upstream:    []lde.MP2MPBinding{{PeerID: peerB, RouterID: nbrB.RouterID, Label: 16, Kind: lde.MapMP2MPUp}},
		Downstream:  []lde.MP2MPBinding{{PeerID: peerB, RouterID: nbrB.RouterID, Label: 500, Kind: lde.MapMP2MPDown}},
	}}
	if diff := cmp.Diff(want, h.e.DumpMP2MP(), cmpOpts); diff != "" {
		t.Errorf("DumpMP2MP() mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpNeighbors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrB, nbrA)
	h.routeAdd(fec10, "192.0.2.1", false)
	h.mapping(t, peerB, lde.Mapping{FEC: fec10, Label: 200})

	want := []lde.NeighborEntry{
		{
			PeerID: peerA, RouterID: nbrA.RouterID, V4Enabled: true,
			Addresses:    []netip.Addr{ip("192.0.2.1"), ip("192.0.2.2")},
			SentMappings: 1,
		},
		{
			PeerID: peerB, RouterID: nbrB.RouterID, V4Enabled: true,
			Addresses:    []netip.Addr{ip("198.51.100.2")},
			RecvMappings: 1, SentMappings: 1,
		},
	}
	if diff := cmp.Diff(want, h.e.DumpNeighbors(), cmpOpts); diff != "" {
		t.Errorf("DumpNeighbors() mismatch (-want +got):\n%s", diff)
	}
}
