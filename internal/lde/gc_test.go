package lde_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/goldp/internal/lde"
)

func TestGarbageCollectRetainedMapping(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA)
	h.mapping(t, peerA, lde.Mapping{FEC: fec10, Label: 100})

	if got := h.e.GarbageCollect(); got != 0 {
		t.Fatalf("GarbageCollect() = %d with a retained mapping, want 0", got)
	}

	if err := h.e.CheckWithdraw(peerA, lde.Mapping{FEC: fec10, Label: 100}); err != nil {
		t.Fatal(err)
	}
	if got := h.e.GarbageCollect(); got != 1 {
		t.Errorf("GarbageCollect() = %d, want 1", got)
	}
	if got := h.e.FECs().Len(); got != 0 {
		t.Errorf("FECs().Len() = %d, want 0", got)
	}
	if h.m.gcReclaimed != 1 {
		t.Errorf("reclaimed metric = %d, want 1", h.m.gcReclaimed)
	}
}

// TestGarbageCollectWaitsForRelease keeps a withdrawn FEC until the peer
// releases the label it was sent.
func TestGarbageCollectWaitsForRelease(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA)
	h.routeAdd(fec10, "192.0.2.1", false)
	h.routeDel(fec10, "192.0.2.1")

	if got := h.e.GarbageCollect(); got != 0 {
		t.Fatalf("GarbageCollect() = %d before release, want 0", got)
	}
	if err := h.e.CheckRelease(peerA, lde.Mapping{FEC: fec10, Label: 16}); err != nil {
		t.Fatal(err)
	}
	if got := h.e.GarbageCollect(); got != 1 {
		t.Errorf("GarbageCollect() = %d after release, want 1", got)
	}
	// The withdraw was acknowledged before the node went away.
	if _, ok := h.e.Neighbor(peerA).SentWithdraw(fec10); ok {
		t.Error("sent withdraw left after release")
	}
}

// TestGarbageCollectKeepsMembership: collecting an idle tree node does
// not forget that the tree was joined.
func TestGarbageCollectKeepsMembership(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.up(t, nbrA)
	if err := h.e.JoinMP2MP(fecTree); err != nil {
		t.Fatal(err)
	}
	if got := h.e.GarbageCollect(); got != 1 {
		t.Fatalf("GarbageCollect() = %d, want 1", got)
	}
	if diff := cmp.Diff([]lde.FEC{fecTree}, h.e.Members(), cmpOpts); diff != "" {
		t.Fatalf("Members() mismatch (-want +got):\n%s", diff)
	}

	h.routeAdd(fecTree, "192.0.2.1", false)
	if diff := cmp.Diff([]sentMsg{mp(peerA, lde.MapMP2MPDown, 16)}, h.s.take(), cmpOpts); diff != "" {
		t.Errorf("after route (-want +got):\n%s", diff)
	}
}
