package lde_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/goldp/internal/lde"
)

// TestNewLabelAllocatorRange rejects reserved or inverted ranges.
func TestNewLabelAllocatorRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lo, hi lde.Label
		ok     bool
	}{
		{"full range", 16, lde.LabelMax, true},
		{"single label", 100, 100, true},
		{"reserved min", 15, 100, false},
		{"above max", 16, lde.LabelMax + 1, false},
		{"inverted", 200, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := lde.NewLabelAllocator(tt.lo, tt.hi)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, lde.ErrInvalidLabelRange) {
				t.Errorf("error = %v, want ErrInvalidLabelRange", err)
			}
		})
	}
}

// TestLabelAllocatorSequentialWrap verifies sequential allocation, reuse
// only after wrap-around, and exhaustion.
func TestLabelAllocatorSequentialWrap(t *testing.T) {
	t.Parallel()

	a, err := lde.NewLabelAllocator(16, 18)
	if err != nil {
		t.Fatalf("NewLabelAllocator: %v", err)
	}

	for want := lde.Label(16); want <= 18; want++ {
		got, err := a.Allocate()
		if err != nil || got != want {
			t.Fatalf("Allocate() = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := a.Allocate(); !errors.Is(err, lde.ErrLabelSpaceExhausted) {
		t.Fatalf("Allocate on full range error = %v, want ErrLabelSpaceExhausted", err)
	}

	a.Release(17)
	if a.IsAllocated(17) {
		t.Error("17 still allocated after Release")
	}
	if got, _ := a.Allocate(); got != 17 {
		t.Errorf("Allocate after release = %d, want 17", got)
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3", a.Len())
	}
}

// TestLabelString renders the special values by name.
func TestLabelString(t *testing.T) {
	t.Parallel()

	tests := map[lde.Label]string{
		lde.NoLabel:               "-",
		lde.LabelImplicitNull:     "imp-null",
		lde.LabelIPv4ExplicitNull: "exp-null",
		lde.LabelIPv6ExplicitNull: "exp-null",
		100:                       "100",
	}
	for l, want := range tests {
		if got := l.String(); got != want {
			t.Errorf("Label(%d).String() = %q, want %q", uint32(l), got, want)
		}
	}
}
