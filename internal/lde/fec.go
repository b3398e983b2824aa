package lde

import (
	"fmt"
	"net/netip"
	"slices"
)

// FECType discriminates the FEC variants.
type FECType uint8

const (
	// FECTypeIPv4 is an IPv4 prefix FEC element (RFC 5036 Section 3.4.1).
	FECTypeIPv4 FECType = iota

	// FECTypeIPv6 is an IPv6 prefix FEC element.
	FECTypeIPv6

	// FECTypePWID is a PWid FEC element (RFC 4447 Section 5.2).
	FECTypePWID
)

// String returns the human-readable name of the FEC type.
func (t FECType) String() string {
	switch t {
	case FECTypeIPv4:
		return "ipv4"
	case FECTypeIPv6:
		return "ipv6"
	case FECTypePWID:
		return "pwid"
	default:
		return fmt.Sprintf("FECType(%d)", uint8(t))
	}
}

// FEC is a Forwarding Equivalence Class key. Only the fields of the variant
// selected by Type are meaningful; the constructors leave the others zero so
// that FEC values can be compared with ==.
type FEC struct {
	Type FECType

	// Prefix is set for FECTypeIPv4 and FECTypeIPv6. It is always masked.
	Prefix netip.Prefix

	// PWType, PWID and LSRID are set for FECTypePWID.
	PWType uint16
	PWID   uint32
	LSRID  netip.Addr
}

// IPv4FEC returns the FEC for an IPv4 prefix.
func IPv4FEC(p netip.Prefix) FEC {
	return FEC{Type: FECTypeIPv4, Prefix: p.Masked()}
}

// IPv6FEC returns the FEC for an IPv6 prefix.
func IPv6FEC(p netip.Prefix) FEC {
	return FEC{Type: FECTypeIPv6, Prefix: p.Masked()}
}

// PrefixFEC returns the IPv4 or IPv6 FEC matching the prefix family.
func PrefixFEC(p netip.Prefix) FEC {
	if p.Addr().Is4() {
		return IPv4FEC(p)
	}
	return IPv6FEC(p)
}

// PWIDFEC returns the FEC for a pseudowire signaled with the PWid FEC element.
func PWIDFEC(pwType uint16, pwID uint32, lsrID netip.Addr) FEC {
	return FEC{Type: FECTypePWID, PWType: pwType, PWID: pwID, LSRID: lsrID}
}

// AF returns the address family the FEC belongs to. Pseudowires are
// signaled over IPv4 LSR-IDs.
func (f FEC) AF() AF {
	switch f.Type {
	case FECTypeIPv4, FECTypePWID:
		return AFIPv4
	case FECTypeIPv6:
		return AFIPv6
	default:
		panic(fatalf("fec af: unexpected fec type %s", f.Type))
	}
}

// String formats the FEC for logs and dumps.
func (f FEC) String() string {
	switch f.Type {
	case FECTypeIPv4, FECTypeIPv6:
		return f.Prefix.String()
	case FECTypePWID:
		return fmt.Sprintf("pwid %d (type %d) lsr-id %s", f.PWID, f.PWType, f.LSRID)
	default:
		return fmt.Sprintf("unknown fec type %d", uint8(f.Type))
	}
}

// CompareFEC defines the total order of the FEC index: first by type, then by
// prefix value and length for address FECs, or by PW type, PW ID and LSR-ID
// for pseudowires. It returns -1, 0 or +1.
func CompareFEC(a, b FEC) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}

	switch a.Type {
	case FECTypeIPv4, FECTypeIPv6:
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return cmpInt(a.Prefix.Bits(), b.Prefix.Bits())
	case FECTypePWID:
		if a.PWType != b.PWType {
			return cmpInt(int(a.PWType), int(b.PWType))
		}
		if a.PWID != b.PWID {
			if a.PWID < b.PWID {
				return -1
			}
			return 1
		}
		return a.LSRID.Compare(b.LSRID)
	default:
		panic(fatalf("compare fec: unexpected fec type %s", a.Type))
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// AF is an address family for nexthops and neighbor capabilities.
type AF uint8

const (
	// AFIPv4 is the IPv4 address family.
	AFIPv4 AF = iota + 1

	// AFIPv6 is the IPv6 address family.
	AFIPv6
)

// String returns "ipv4" or "ipv6".
func (af AF) String() string {
	switch af {
	case AFIPv4:
		return "ipv4"
	case AFIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("AF(%d)", uint8(af))
	}
}

// AddrAF returns the address family of addr.
func AddrAF(addr netip.Addr) AF {
	if addr.Unmap().Is4() {
		return AFIPv4
	}
	return AFIPv6
}

func sortFECs(fecs []FEC) []FEC {
	slices.SortFunc(fecs, CompareFEC)
	return fecs
}
