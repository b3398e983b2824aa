package lde_test

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/dantte-lp/goldp/internal/lde"
)

// randomFECs returns n FECs of every type with deliberately narrow value
// ranges so that collisions and near-equal keys are frequent.
func randomFECs(r *rand.Rand, n int) []lde.FEC {
	out := make([]lde.FEC, 0, n)
	for range n {
		switch r.IntN(3) {
		case 0:
			a := netip.AddrFrom4([4]byte{10, byte(r.IntN(4)), byte(r.IntN(4)), 0})
			out = append(out, lde.IPv4FEC(netip.PrefixFrom(a, 16+r.IntN(9))))
		case 1:
			var b [16]byte
			b[0], b[1], b[15] = 0x20, 0x01, byte(r.IntN(4))
			out = append(out, lde.IPv6FEC(netip.PrefixFrom(netip.AddrFrom16(b), 120+r.IntN(9))))
		default:
			lsr := netip.AddrFrom4([4]byte{1, 1, 1, byte(r.IntN(3))})
			out = append(out, lde.PWIDFEC(uint16(4+r.IntN(2)), uint32(r.IntN(4)), lsr))
		}
	}
	return out
}

// TestCompareFECTotalOrder checks antisymmetry, transitivity and
// consistency with equality over random FEC triples.
func TestCompareFECTotalOrder(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	fecs := randomFECs(r, 200)

	for i, a := range fecs {
		for _, b := range fecs[i:] {
			ab, ba := lde.CompareFEC(a, b), lde.CompareFEC(b, a)
			if ab != -ba {
				t.Fatalf("compare(%s, %s) = %d, reverse = %d", a, b, ab, ba)
			}
			if (ab == 0) != (a == b) {
				t.Fatalf("compare(%s, %s) = %d but equality is %v", a, b, ab, a == b)
			}
		}
	}

	for range 2000 {
		a, b, c := fecs[r.IntN(len(fecs))], fecs[r.IntN(len(fecs))], fecs[r.IntN(len(fecs))]
		if lde.CompareFEC(a, b) <= 0 && lde.CompareFEC(b, c) <= 0 && lde.CompareFEC(a, c) > 0 {
			t.Fatalf("not transitive: %s <= %s <= %s but %s > %s", a, b, c, a, c)
		}
	}
}

// TestCompareFECOrderRules pins the documented ordering rules.
func TestCompareFECOrderRules(t *testing.T) {
	t.Parallel()

	lsr := ip("1.1.1.1")
	tests := []struct {
		name string
		a, b lde.FEC
	}{
		{"ipv4 before ipv6", v4FEC("200.0.0.0/8"), lde.IPv6FEC(pfx("::/0"))},
		{"ipv6 before pwid", lde.IPv6FEC(pfx("ffff::/16")), lde.PWIDFEC(0, 0, lsr)},
		{"prefix value first", v4FEC("10.0.0.0/24"), v4FEC("10.0.1.0/23")},
		{"then prefix length", v4FEC("10.0.0.0/8"), v4FEC("10.0.0.0/24")},
		{"pw type first", lde.PWIDFEC(4, 9, lsr), lde.PWIDFEC(5, 1, lsr)},
		{"then pw id", lde.PWIDFEC(5, 1, ip("9.9.9.9")), lde.PWIDFEC(5, 2, lsr)},
		{"then lsr id", lde.PWIDFEC(5, 1, lsr), lde.PWIDFEC(5, 1, ip("2.2.2.2"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := lde.CompareFEC(tt.a, tt.b); got != -1 {
				t.Errorf("CompareFEC(%s, %s) = %d, want -1", tt.a, tt.b, got)
			}
		})
	}
}

// TestPrefixFECMasksHostBits verifies that FEC identity ignores host bits.
func TestPrefixFECMasksHostBits(t *testing.T) {
	t.Parallel()

	if a, b := lde.PrefixFEC(pfx("10.0.0.7/24")), v4FEC("10.0.0.0/24"); a != b {
		t.Errorf("PrefixFEC(10.0.0.7/24) = %s, want %s", a, b)
	}
	if got := lde.PrefixFEC(pfx("2001:db8::1/64")).Type; got != lde.FECTypeIPv6 {
		t.Errorf("PrefixFEC(v6).Type = %s, want ipv6", got)
	}
}

// TestFECDBTraversalOrder inserts random keys after a find miss and checks
// that no insert reports a duplicate and traversal is non-decreasing.
func TestFECDBTraversalOrder(t *testing.T) {
	t.Parallel()

	db := lde.NewFECDB(discardLogger())
	r := rand.New(rand.NewPCG(3, 4))

	distinct := make(map[lde.FEC]struct{})
	for _, fec := range randomFECs(r, 500) {
		if db.Find(fec) != nil {
			continue
		}
		n := &lde.FECNode{FEC: fec, LocalLabel: lde.NoLabel}
		if err := db.Insert(n); err != nil {
			t.Fatalf("Insert(%s) after find miss: %v", fec, err)
		}
		distinct[fec] = struct{}{}
	}

	if db.Len() != len(distinct) {
		t.Fatalf("Len() = %d, want %d", db.Len(), len(distinct))
	}

	var prev *lde.FECNode
	count := 0
	db.Ascend(func(n *lde.FECNode) bool {
		if prev != nil && lde.CompareFEC(prev.FEC, n.FEC) >= 0 {
			t.Fatalf("traversal out of order: %s then %s", prev.FEC, n.FEC)
		}
		prev = n
		count++
		return true
	})
	if count != len(distinct) {
		t.Errorf("traversal visited %d nodes, want %d", count, len(distinct))
	}
}

// TestFECDBInsertRemove covers the duplicate and not-found reports.
func TestFECDBInsertRemove(t *testing.T) {
	t.Parallel()

	db := lde.NewFECDB(discardLogger())
	fec := v4FEC("10.0.0.0/24")

	if err := db.Insert(&lde.FECNode{FEC: fec}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := db.Insert(&lde.FECNode{FEC: fec}); !errors.Is(err, lde.ErrDuplicateFEC) {
		t.Errorf("second Insert error = %v, want ErrDuplicateFEC", err)
	}
	if err := db.Remove(fec); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := db.Remove(fec); !errors.Is(err, lde.ErrFECNotFound) {
		t.Errorf("second Remove error = %v, want ErrFECNotFound", err)
	}
	if db.Find(fec) != nil {
		t.Error("Find after Remove returned a node")
	}
}

// TestFECDBClearCallsDestructor verifies Clear visits every node once.
func TestFECDBClearCallsDestructor(t *testing.T) {
	t.Parallel()

	db := lde.NewFECDB(discardLogger())
	for _, s := range []string{"10.0.0.0/24", "10.0.1.0/24", "10.0.2.0/24"} {
		if err := db.Insert(&lde.FECNode{FEC: v4FEC(s)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	destroyed := 0
	db.Clear(func(*lde.FECNode) { destroyed++ })
	if destroyed != 3 {
		t.Errorf("destructor called %d times, want 3", destroyed)
	}
	if db.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", db.Len())
	}
}

// TestUnknownFECTypeIsFatal verifies that an unknown FEC type panics with
// a FatalError.
func TestUnknownFECTypeIsFatal(t *testing.T) {
	t.Parallel()

	defer func() {
		r := recover()
		fe, ok := r.(*lde.FatalError)
		if !ok {
			t.Fatalf("recovered %v, want *lde.FatalError", r)
		}
		if !errors.Is(fe, lde.ErrFatal) {
			t.Errorf("FatalError does not wrap ErrFatal")
		}
	}()
	bad := lde.FEC{Type: lde.FECType(9)}
	lde.CompareFEC(bad, bad)
}
