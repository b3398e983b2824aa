package lde

import (
	"errors"
	"fmt"
	"strconv"
)

// Label is an MPLS label value (20 bits on the wire).
type Label uint32

// Reserved and sentinel label values (RFC 3032 Section 2.1).
const (
	// LabelIPv4ExplicitNull is the IPv4 Explicit NULL label.
	LabelIPv4ExplicitNull Label = 0

	// LabelIPv6ExplicitNull is the IPv6 Explicit NULL label.
	LabelIPv6ExplicitNull Label = 2

	// LabelImplicitNull is the Implicit NULL label used for penultimate
	// hop popping.
	LabelImplicitNull Label = 3

	// LabelReservedMax is the highest reserved label value.
	LabelReservedMax Label = 15

	// LabelMax is the highest encodable label value.
	LabelMax Label = 1<<20 - 1

	// NoLabel marks an unassigned label. In release and withdraw
	// processing it acts as a wildcard matching any label.
	NoLabel Label = 0xffffffff
)

// String formats the label, rendering the special values by name.
func (l Label) String() string {
	switch l {
	case NoLabel:
		return "-"
	case LabelIPv4ExplicitNull, LabelIPv6ExplicitNull:
		return "exp-null"
	case LabelImplicitNull:
		return "imp-null"
	default:
		return strconv.FormatUint(uint64(l), 10)
	}
}

// IsEgress reports whether l is one of the egress (null) labels.
func (l Label) IsEgress() bool {
	return l == LabelIPv4ExplicitNull || l == LabelIPv6ExplicitNull || l == LabelImplicitNull
}

// matches reports whether a label from a release or withdraw message
// selects the recorded label. NoLabel in the message matches anything.
func (l Label) matches(recorded Label) bool {
	return l == NoLabel || l == recorded
}

// ErrLabelSpaceExhausted indicates that every label in the configured range
// is bound to a FEC.
var ErrLabelSpaceExhausted = errors.New("label space exhausted")

// ErrInvalidLabelRange indicates a label range outside the unreserved space
// or with min greater than max.
var ErrInvalidLabelRange = errors.New("invalid label range")

// LabelAllocator hands out local labels from a fixed range.
//
// Allocation is sequential with wrap-around: a released label is reused only
// after the cursor has gone around the whole range, which keeps a label that
// was just withdrawn from peers out of circulation for as long as possible.
// The allocator is owned by the engine and is not safe for concurrent use.
type LabelAllocator struct {
	min, max  Label
	next      Label
	allocated map[Label]struct{}
}

// NewLabelAllocator creates an allocator for the inclusive range [lo, hi].
func NewLabelAllocator(lo, hi Label) (*LabelAllocator, error) {
	if lo <= LabelReservedMax || hi > LabelMax || lo > hi {
		return nil, fmt.Errorf("label range %d-%d: %w", lo, hi, ErrInvalidLabelRange)
	}
	return &LabelAllocator{
		min:       lo,
		max:       hi,
		next:      lo,
		allocated: make(map[Label]struct{}),
	}, nil
}

// Allocate returns a label that is not currently allocated.
func (a *LabelAllocator) Allocate() (Label, error) {
	size := uint64(a.max-a.min) + 1
	if uint64(len(a.allocated)) >= size {
		return NoLabel, fmt.Errorf("allocate label in %d-%d: %w", a.min, a.max, ErrLabelSpaceExhausted)
	}

	for {
		l := a.next
		if a.next == a.max {
			a.next = a.min
		} else {
			a.next++
		}
		if _, used := a.allocated[l]; !used {
			a.allocated[l] = struct{}{}
			return l, nil
		}
	}
}

// Release returns a label to the pool. Releasing a label that was not
// allocated, or a reserved label, is a no-op.
func (a *LabelAllocator) Release(l Label) {
	delete(a.allocated, l)
}

// IsAllocated reports whether l is currently allocated.
func (a *LabelAllocator) IsAllocated(l Label) bool {
	_, ok := a.allocated[l]
	return ok
}

// Len returns the number of allocated labels.
func (a *LabelAllocator) Len() int {
	return len(a.allocated)
}
