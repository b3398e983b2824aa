package lde

import "github.com/google/btree"

// btreeDegree is the B-tree node degree for FEC-keyed tables.
const btreeDegree = 16

// fecEntry is a (key, value) pair stored in a fecTable.
type fecEntry[V any] struct {
	fec FEC
	val V
}

// fecTable is an ordered map from FEC to V. It backs the FEC database and
// every per-neighbor collection, so all of them agree on FEC identity
// through CompareFEC.
type fecTable[V any] struct {
	t *btree.BTreeG[fecEntry[V]]
}

func newFECTable[V any]() *fecTable[V] {
	return &fecTable[V]{
		t: btree.NewG(btreeDegree, func(a, b fecEntry[V]) bool {
			return CompareFEC(a.fec, b.fec) < 0
		}),
	}
}

// get returns the value stored for fec.
func (t *fecTable[V]) get(fec FEC) (V, bool) {
	e, ok := t.t.Get(fecEntry[V]{fec: fec})
	return e.val, ok
}

// insert adds fec unless an equal key is present. It reports whether the
// value was inserted.
func (t *fecTable[V]) insert(fec FEC, v V) bool {
	if t.t.Has(fecEntry[V]{fec: fec}) {
		return false
	}
	t.t.ReplaceOrInsert(fecEntry[V]{fec: fec, val: v})
	return true
}

// set inserts or overwrites the value for fec.
func (t *fecTable[V]) set(fec FEC, v V) {
	t.t.ReplaceOrInsert(fecEntry[V]{fec: fec, val: v})
}

// remove deletes fec and reports whether it was present.
func (t *fecTable[V]) remove(fec FEC) (V, bool) {
	e, ok := t.t.Delete(fecEntry[V]{fec: fec})
	return e.val, ok
}

// ascend calls fn for every entry in FEC order until fn returns false.
// fn must not mutate the table; collect keys first when deleting.
func (t *fecTable[V]) ascend(fn func(FEC, V) bool) {
	t.t.Ascend(func(e fecEntry[V]) bool {
		return fn(e.fec, e.val)
	})
}

// keys returns every key in FEC order.
func (t *fecTable[V]) keys() []FEC {
	out := make([]FEC, 0, t.t.Len())
	t.t.Ascend(func(e fecEntry[V]) bool {
		out = append(out, e.fec)
		return true
	})
	return out
}

func (t *fecTable[V]) len() int {
	return t.t.Len()
}

func (t *fecTable[V]) clear() {
	t.t.Clear(false)
}
