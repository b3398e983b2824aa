package lde

import (
	"fmt"
	"net/netip"
)

// PeerID is the stable identifier the session layer assigns to an LDP peer.
type PeerID uint32

// MsgType is an LDP message type code (RFC 5036 Section 3.5).
type MsgType uint16

// LDP label distribution message types.
const (
	MsgTypeNotification  MsgType = 0x0001
	MsgTypeLabelMapping  MsgType = 0x0400
	MsgTypeLabelRequest  MsgType = 0x0401
	MsgTypeLabelWithdraw MsgType = 0x0402
	MsgTypeLabelRelease  MsgType = 0x0403
)

// String returns the short name used in logs and metric labels.
func (t MsgType) String() string {
	switch t {
	case MsgTypeNotification:
		return "notification"
	case MsgTypeLabelMapping:
		return "mapping"
	case MsgTypeLabelRequest:
		return "request"
	case MsgTypeLabelWithdraw:
		return "withdraw"
	case MsgTypeLabelRelease:
		return "release"
	default:
		return fmt.Sprintf("MsgType(0x%04x)", uint16(t))
	}
}

// StatusCode is an LDP status code carried in a Status TLV.
type StatusCode uint32

// Status codes signaled by the label distribution procedures.
const (
	StatusSuccess      StatusCode = 0x00000000
	StatusLoopDetected StatusCode = 0x0000000B
	StatusNoRoute      StatusCode = 0x0000000D
	StatusUnknownFEC   StatusCode = 0x00000014
	StatusPWStatus     StatusCode = 0x00000028
)

// String returns the status name.
func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusLoopDetected:
		return "loop-detected"
	case StatusNoRoute:
		return "no-route"
	case StatusUnknownFEC:
		return "unknown-fec"
	case StatusPWStatus:
		return "pw-status"
	default:
		return fmt.Sprintf("StatusCode(0x%08x)", uint32(c))
	}
}

// Status is the content of a Status TLV: the code plus the message ID and
// type of the message it refers to.
type Status struct {
	Code    StatusCode
	MsgID   uint32
	MsgType MsgType
}

// MapKind distinguishes unicast mappings from the two MP2MP directions.
type MapKind uint8

const (
	// MapUnicast is an ordinary prefix or PWid mapping.
	MapUnicast MapKind = iota

	// MapMP2MPUp is an upstream MP2MP mapping, advertised by a parent
	// toward a child (RFC 6388 Section 3.3).
	MapMP2MPUp

	// MapMP2MPDown is a downstream MP2MP mapping, advertised by a child
	// toward the root.
	MapMP2MPDown
)

// String returns "unicast", "mp2mp-up" or "mp2mp-down".
func (k MapKind) String() string {
	switch k {
	case MapUnicast:
		return "unicast"
	case MapMP2MPUp:
		return "mp2mp-up"
	case MapMP2MPDown:
		return "mp2mp-down"
	default:
		return fmt.Sprintf("MapKind(%d)", uint8(k))
	}
}

// Multipoint reports whether k is one of the MP2MP directions.
func (k MapKind) Multipoint() bool {
	return k == MapMP2MPUp || k == MapMP2MPDown
}

// MapFlags marks which optional fields of a Mapping are present.
type MapFlags uint8

const (
	// FlagPWID is set when a PWid FEC carries an explicit PW ID. Without
	// it the FEC is a group wildcard.
	FlagPWID MapFlags = 1 << iota

	// FlagPWIfMTU is set when the interface MTU parameter is present.
	FlagPWIfMTU

	// FlagPWStatus is set when a PW Status TLV is present.
	FlagPWStatus

	// FlagPWControlWord is the C-bit of the PWid FEC element.
	FlagPWControlWord

	// FlagRequestID is set when the mapping answers a label request and
	// RequestID carries the request's message ID.
	FlagRequestID

	// FlagWildcard marks a withdraw or release carrying the Wildcard FEC
	// element (RFC 5036 Section 3.4.1): it applies to every FEC and the
	// FEC field is unset.
	FlagWildcard
)

// Mapping is a label mapping record. The same type describes what a peer
// told us (received) and what we told a peer (sent). Peer is the source of
// a received record and the destination of a sent one.
//
// Label is also used for the label carried by withdraw and release
// messages, where NoLabel means "any label".
type Mapping struct {
	FEC   FEC
	Label Label
	Kind  MapKind
	Flags MapFlags
	Peer  PeerID
	MsgID uint32

	// RequestID is the message ID of the label request this mapping
	// answers. Valid when FlagRequestID is set.
	RequestID uint32

	// Pseudowire parameters (RFC 4447 Section 5.2).
	PWGroupID uint32
	PWIfMTU   uint16
	PWStatus  uint32
}

// Request is a label request record.
type Request struct {
	FEC   FEC
	Peer  PeerID
	MsgID uint32
}

// Withdraw is a record of a label withdraw sent to a peer and not yet
// acknowledged by a release.
type Withdraw struct {
	FEC   FEC
	Peer  PeerID
	Label Label
	Kind  MapKind
}

// NeighborInfo describes a peer whose session reached Operational state.
type NeighborInfo struct {
	PeerID    PeerID
	RouterID  netip.Addr
	V4Enabled bool
	V6Enabled bool
	Addresses []netip.Addr
}
