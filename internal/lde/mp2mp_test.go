package lde_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/goldp/internal/lde"
)

// fecTree identifies an MP2MP tree rooted at 10.9.9.9.
var fecTree = v4FEC("10.9.9.9/32")

func mp(peer lde.PeerID, kind lde.MapKind, label lde.Label) sentMsg {
	return sentMsg{Op: "mapping", Peer: peer, Mapping: lde.Mapping{FEC: fecTree, Label: label, Kind: kind, Peer: peer}}
}

func mpWithdraw(peer lde.PeerID, kind lde.MapKind, label lde.Label) sentMsg {
	m := mp(peer, kind, label)
	m.Op = "withdraw"
	return m
}

func mpRelease(peer lde.PeerID, kind lde.MapKind, label lde.Label) sentMsg {
	m := mp(peer, kind, label)
	m.Op = "release"
	return m
}

func (h *harness) mp2mpWithdraw(t *testing.T, peer lde.PeerID, kind lde.MapKind, label lde.Label) {
	t.Helper()
	if err := h.e.CheckWithdraw(peer, lde.Mapping{FEC: fecTree, Label: label, Kind: kind}); err != nil {
		t.Fatalf("CheckWithdraw: %v", err)
	}
}

func (h *harness) sentKind(peer lde.PeerID, kind lde.MapKind) (lde.Mapping, bool) {
	nbr := h.e.Neighbor(peer)
	if nbr == nil {
		return lde.Mapping{}, false
	}
	m, ok := nbr.SentMapping(fecTree)
	if !ok || m.Kind != kind {
		return lde.Mapping{}, false
	}
	return m, true
}

func (h *harness) recvKind(peer lde.PeerID, kind lde.MapKind) bool {
	m, ok := h.e.Neighbor(peer).ReceivedMapping(fecTree)
	return ok && m.Kind == kind
}

func setRole(r lde.Role) func(*lde.Config) {
	return func(c *lde.Config) { c.Role = r }
}

// TestMP2MPRootMerge: two downstream mappings at the root share one
// upstream label and one processing pass, whatever their order.
func TestMP2MPRootMerge(t *testing.T) {
	t.Parallel()

	for _, order := range [][]lde.PeerID{{peerB, peerC}, {peerC, peerB}} {
		t.Run(fmt.Sprintf("first-%d", order[0]), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, setRole(lde.RoleRoot))
			h.up(t, nbrB, nbrC)

			labels := map[lde.PeerID]lde.Label{peerB: 500, peerC: 600}
			for _, peer := range order {
				h.mapping(t, peer, lde.Mapping{FEC: fecTree, Label: labels[peer], Kind: lde.MapMP2MPDown})
			}

			want := []sentMsg{
				mp(order[0], lde.MapMP2MPUp, 16),
				mp(order[1], lde.MapMP2MPUp, 16),
			}
			if diff := cmp.Diff(want, h.s.take(), cmpOpts); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
			if got := h.m.passes(); got != 1 {
				t.Errorf("upstream passes = %d, want 1", got)
			}
			if calls := h.k.take(); len(calls) != 0 {
				t.Errorf("root installed fib entries: %v", calls)
			}
		})
	}
}

// TestMP2MPTransit walks a transit node through tree setup and teardown.
func TestMP2MPTransit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB, nbrC)

	// Downstream mapping before any route toward the root.
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	if msgs := h.s.take(); len(msgs) != 0 {
		t.Fatalf("mapping sent without a parent: %+v", msgs)
	}

	h.routeAdd(fecTree, "192.0.2.1", false)
	if diff := cmp.Diff([]sentMsg{mp(peerA, lde.MapMP2MPDown, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Fatalf("after route (-want +got):\n%s", diff)
	}
	if calls := h.k.take(); len(calls) != 0 {
		t.Fatalf("fib changed before upstream mapping: %v", calls)
	}

	// Upstream mapping from a non-parent is only retained.
	h.mapping(t, peerC, lde.Mapping{FEC: fecTree, Label: 900, Kind: lde.MapMP2MPUp})
	if msgs := h.s.take(); len(msgs) != 0 {
		t.Fatalf("non-parent upstream mapping produced %+v", msgs)
	}
	if err := h.e.CheckWithdraw(peerC, lde.Mapping{FEC: fecTree, Label: 900, Kind: lde.MapMP2MPUp}); err != nil {
		t.Fatal(err)
	}
	h.reset()

	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	if diff := cmp.Diff([]sentMsg{mp(peerB, lde.MapMP2MPUp, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after upstream (-want +got):\n%s", diff)
	}
	wantFIB := []fibCall{fib("install", fecTree, 16, 700, "192.0.2.1")}
	if diff := cmp.Diff(wantFIB, h.k.take(), cmpOpts); diff != "" {
		t.Errorf("fib mismatch (-want +got):\n%s", diff)
	}

	// A second child joins the existing merge.
	h.mapping(t, peerC, lde.Mapping{FEC: fecTree, Label: 600, Kind: lde.MapMP2MPDown})
	if diff := cmp.Diff([]sentMsg{mp(peerC, lde.MapMP2MPUp, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after second child (-want +got):\n%s", diff)
	}
	if got := h.m.passes(); got != 1 {
		t.Errorf("upstream passes = %d, want 1", got)
	}

	h.mp2mpWithdraw(t, peerB, lde.MapMP2MPDown, 500)
	want := []sentMsg{
		mpWithdraw(peerB, lde.MapMP2MPUp, 16),
		mpRelease(peerB, lde.MapMP2MPDown, 500),
	}
	if diff := cmp.Diff(want, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after first child leaves (-want +got):\n%s", diff)
	}

	h.mp2mpWithdraw(t, peerC, lde.MapMP2MPDown, 600)
	want = []sentMsg{
		mpWithdraw(peerC, lde.MapMP2MPUp, 16),
		mpWithdraw(peerA, lde.MapMP2MPDown, 16),
		mpRelease(peerC, lde.MapMP2MPDown, 600),
	}
	if diff := cmp.Diff(want, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after last child leaves (-want +got):\n%s", diff)
	}

	h.mp2mpWithdraw(t, peerA, lde.MapMP2MPUp, 700)
	if diff := cmp.Diff([]sentMsg{mpRelease(peerA, lde.MapMP2MPUp, 700)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after upstream withdraw (-want +got):\n%s", diff)
	}
	wantFIB = []fibCall{fib("uninstall", fecTree, 16, 700, "192.0.2.1")}
	if diff := cmp.Diff(wantFIB, h.k.take(), cmpOpts); diff != "" {
		t.Errorf("fib mismatch (-want +got):\n%s", diff)
	}
	if got := h.node(t, fecTree).MP2MP().MBB; got != lde.MBBSendMapping {
		t.Errorf("MBB = %s, want send-mapping", got)
	}
}

// TestMP2MPLeafJoin: a member leaf advertises D without children and
// installs the upstream binding without answering with U.
func TestMP2MPLeafJoin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setRole(lde.RoleLeaf))
	h.up(t, nbrA, nbrB)

	if err := h.e.JoinMP2MP(fecTree); err != nil {
		t.Fatalf("JoinMP2MP: %v", err)
	}
	h.routeAdd(fecTree, "192.0.2.1", false)
	if diff := cmp.Diff([]sentMsg{mp(peerA, lde.MapMP2MPDown, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Fatalf("after join (-want +got):\n%s", diff)
	}

	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	if msgs := h.s.take(); len(msgs) != 0 {
		t.Errorf("leaf sent %+v", msgs)
	}
	wantFIB := []fibCall{fib("install", fecTree, 16, 700, "192.0.2.1")}
	if diff := cmp.Diff(wantFIB, h.k.take(), cmpOpts); diff != "" {
		t.Errorf("fib mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]lde.FEC{fecTree}, h.e.Members(), cmpOpts); diff != "" {
		t.Errorf("Members() mismatch (-want +got):\n%s", diff)
	}
	if !h.node(t, fecTree).MP2MP().Member {
		t.Error("extension not marked as member")
	}
}

// TestMP2MPLeave withdraws D once neither membership nor children need it.
func TestMP2MPLeave(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)
	if err := h.e.JoinMP2MP(fecTree); err != nil {
		t.Fatal(err)
	}
	h.routeAdd(fecTree, "192.0.2.1", false)
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	h.reset()

	// B still needs the tree.
	if err := h.e.LeaveMP2MP(fecTree); err != nil {
		t.Fatal(err)
	}
	if msgs := h.s.take(); len(msgs) != 0 {
		t.Errorf("leave with a child sent %+v", msgs)
	}

	if err := h.e.JoinMP2MP(fecTree); err != nil {
		t.Fatal(err)
	}
	h.mp2mpWithdraw(t, peerB, lde.MapMP2MPDown, 500)
	if _, ok := h.sentKind(peerA, lde.MapMP2MPDown); !ok {
		t.Fatal("member withdrew its downstream mapping")
	}
	h.reset()

	if err := h.e.LeaveMP2MP(fecTree); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]sentMsg{mpWithdraw(peerA, lde.MapMP2MPDown, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after leave (-want +got):\n%s", diff)
	}
	if got := h.e.Members(); len(got) != 0 {
		t.Errorf("Members() = %v, want empty", got)
	}
}

func TestJoinMP2MPRejectsPseudowire(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.e.JoinMP2MP(lde.PWIDFEC(5, 1, ip("1.1.1.1")))
	if !errors.Is(err, lde.ErrNotMultipoint) {
		t.Errorf("JoinMP2MP(pwid) error = %v, want ErrNotMultipoint", err)
	}
}

// TestMP2MPRouteRemoved withdraws everything sent for the tree when the
// route toward the root disappears.
func TestMP2MPRouteRemoved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	h.routeAdd(fecTree, "192.0.2.1", false)
	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	h.reset()

	h.routeDel(fecTree, "192.0.2.1")

	want := []sentMsg{
		mpWithdraw(peerA, lde.MapMP2MPDown, 16),
		mpWithdraw(peerB, lde.MapMP2MPUp, 16),
	}
	if diff := cmp.Diff(want, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	n := h.node(t, fecTree)
	if n.LocalLabel != lde.NoLabel {
		t.Errorf("local label = %s, want unassigned", n.LocalLabel)
	}
	if n.MP2MP() == nil || n.MP2MP().MBB != lde.MBBSendMapping {
		t.Error("extension block lost or not pending")
	}
}

// TestMP2MPNeighborDown prunes a departing child without messaging it.
func TestMP2MPNeighborDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	h.routeAdd(fecTree, "192.0.2.1", false)
	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	h.reset()

	if err := h.e.NeighborDown(peerB); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]sentMsg{mpWithdraw(peerA, lde.MapMP2MPDown, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

// TestMP2MPEventOrderInvariants applies every ordering of a transit
// node's tree events and checks the tree invariants after each step.
func TestMP2MPEventOrderInvariants(t *testing.T) {
	t.Parallel()

	type event struct {
		name     string
		peer     lde.PeerID
		kind     lde.MapKind
		label    lde.Label
		withdraw bool
	}
	events := []event{
		{"D-B", peerB, lde.MapMP2MPDown, 500, false},
		{"D-C", peerC, lde.MapMP2MPDown, 600, false},
		{"U-A", peerA, lde.MapMP2MPUp, 700, false},
		{"WD-B", peerB, lde.MapMP2MPDown, 500, true},
		{"WD-C", peerC, lde.MapMP2MPDown, 600, true},
		{"WU-A", peerA, lde.MapMP2MPUp, 700, true},
	}

	for _, perm := range permutations(len(events)) {
		names := make([]string, len(perm))
		for i, idx := range perm {
			names[i] = events[idx].name
		}
		t.Run(strings.Join(names, ","), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.up(t, nbrA, nbrB, nbrC)
			h.routeAdd(fecTree, "192.0.2.1", false)
			h.reset()

			for _, idx := range perm {
				ev := events[idx]
				m := lde.Mapping{FEC: fecTree, Label: ev.label, Kind: ev.kind}
				if ev.withdraw {
					if err := h.e.CheckWithdraw(ev.peer, m); err != nil {
						t.Fatal(err)
					}
					rel := filterOp(h.s.take(), "release")
					if len(rel) != 1 || rel[0].Peer != ev.peer {
						t.Fatalf("%s: releases = %+v, want one to peer %d", ev.name, rel, ev.peer)
					}
				} else {
					h.mapping(t, ev.peer, m)
				}
				checkTreeInvariants(t, h, ev.name)
			}
		})
	}
}

func checkTreeInvariants(t *testing.T, h *harness, step string) {
	t.Helper()

	hasChild := h.recvKind(peerB, lde.MapMP2MPDown) || h.recvKind(peerC, lde.MapMP2MPDown)
	if _, sent := h.sentKind(peerA, lde.MapMP2MPDown); sent != hasChild {
		t.Errorf("%s: D to parent sent = %v, children present = %v", step, sent, hasChild)
	}
	for _, child := range []lde.PeerID{peerB, peerC} {
		if _, sent := h.sentKind(child, lde.MapMP2MPUp); sent && !h.recvKind(child, lde.MapMP2MPDown) {
			t.Errorf("%s: U to %d without its D", step, child)
		}
	}
	for _, nh := range h.node(t, fecTree).Nexthops {
		if nh.RemoteLabel != lde.NoLabel && !h.recvKind(peerA, lde.MapMP2MPUp) {
			t.Errorf("%s: upstream binding %s installed without U from parent", step, nh.RemoteLabel)
		}
	}
}

// permutations returns every ordering of 0..n-1 (Heap's algorithm).
func permutations(n int) [][]int {
	a := make([]int, n)
	for i := range a {
		a[i] = i
	}
	out := [][]int{append([]int(nil), a...)}
	c := make([]int, n)
	for i := 1; i < n; {
		if c[i] < i {
			if i%2 == 0 {
				a[0], a[i] = a[i], a[0]
			} else {
				a[c[i]], a[i] = a[i], a[c[i]]
			}
			out = append(out, append([]int(nil), a...))
			c[i]++
			i = 1
		} else {
			c[i] = 0
			i++
		}
	}
	return out
}

// TestMP2MPRequestForTreeFEC: a label request for a tree FEC is answered
// with no-route, never with a unicast mapping.
func TestMP2MPRequestForTreeFEC(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)

	// A U from a non-parent creates the tree node without a local label.
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	h.routeAdd(fecTree, "192.0.2.1", false)
	if got := h.node(t, fecTree).LocalLabel; got != lde.NoLabel {
		t.Fatalf("local label = %v, want none", got)
	}
	h.reset()

	if err := h.e.CheckRequest(peerB, lde.Mapping{FEC: fecTree, MsgID: 7}); err != nil {
		t.Fatalf("CheckRequest: %v", err)
	}
	want := []sentMsg{{Op: "notification", Peer: peerB, Status: lde.Status{
		Code: lde.StatusNoRoute, MsgID: 7, MsgType: lde.MsgTypeLabelRequest,
	}}}
	if diff := cmp.Diff(want, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

// TestMP2MPUnicastMappingFromParent: a unicast mapping from the parent
// replaces its upstream mapping for the FEC.
func TestMP2MPUnicastMappingFromParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA, nbrB)
	h.mapping(t, peerB, lde.Mapping{FEC: fecTree, Label: 500, Kind: lde.MapMP2MPDown})
	h.routeAdd(fecTree, "192.0.2.1", false)
	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 700, Kind: lde.MapMP2MPUp})
	wantFIB := []fibCall{fib("install", fecTree, 16, 700, "192.0.2.1")}
	if diff := cmp.Diff(wantFIB, h.k.take(), cmpOpts); diff != "" {
		t.Fatalf("upstream fib mismatch (-want +got):\n%s", diff)
	}
	h.reset()

	h.mapping(t, peerA, lde.Mapping{FEC: fecTree, Label: 800})

	releases := filterOp(h.s.take(), "release")
	if diff := cmp.Diff([]sentMsg{mpRelease(peerA, lde.MapMP2MPUp, 700)}, releases, cmpOpts); diff != "" {
		t.Errorf("releases mismatch (-want +got):\n%s", diff)
	}
	wantFIB = []fibCall{
		fib("uninstall", fecTree, 16, 700, "192.0.2.1"),
		fib("install", fecTree, 16, 800, "192.0.2.1"),
	}
	if diff := cmp.Diff(wantFIB, h.k.take(), cmpOpts); diff != "" {
		t.Errorf("fib mismatch (-want +got):\n%s", diff)
	}
	if h.recvKind(peerA, lde.MapMP2MPUp) {
		t.Error("parent upstream mapping still recorded")
	}
	if !h.recvKind(peerA, lde.MapUnicast) {
		t.Error("parent unicast mapping not recorded")
	}
	if h.node(t, fecTree).MP2MP() == nil {
		t.Error("tree extension dropped")
	}
}
