package server

import (
	"fmt"
	"net/netip"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/goldp/internal/lde"
	"github.com/dantte-lp/goldp/internal/outbox"
)

// entriesStruct wraps list as {"entries": list}.
func entriesStruct(list []any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{"entries": list})
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return s, nil
}

// Field values are restricted to the types structpb.NewValue accepts.
// Labels are rendered by name so that "imp-null" and "-" survive JSON.

func fecFields(f lde.FEC) map[string]any {
	m := map[string]any{
		"type": f.Type.String(),
		"fec":  f.String(),
	}
	if f.Type == lde.FECTypePWID {
		m["pw_type"] = uint32(f.PWType)
		m["pw_id"] = f.PWID
		m["lsr_id"] = f.LSRID.String()
	}
	return m
}

func libEntry(e lde.LIBEntry) map[string]any {
	m := fecFields(e.FEC)
	m["local_label"] = e.LocalLabel.String()
	remote := make([]any, 0, len(e.Remote))
	for _, r := range e.Remote {
		remote = append(remote, map[string]any{
			"peer_id":   uint32(r.PeerID),
			"router_id": r.RouterID.String(),
			"label":     r.Label.String(),
			"kind":      r.Kind.String(),
			"in_use":    r.InUse,
		})
	}
	m["remote"] = remote
	return m
}

func lspEntry(e lde.LSPEntry) map[string]any {
	m := fecFields(e.FEC)
	m["local_label"] = e.LocalLabel.String()
	nexthops := make([]any, 0, len(e.Nexthops))
	for _, nh := range e.Nexthops {
		nexthops = append(nexthops, map[string]any{
			"af":           nh.AF.String(),
			"nexthop":      nh.Addr.String(),
			"priority":     uint32(nh.Priority),
			"remote_label": nh.RemoteLabel.String(),
		})
	}
	m["nexthops"] = nexthops
	return m
}

func mp2mpEntry(e lde.MP2MPEntry) map[string]any {
	m := fecFields(e.FEC)
	m["local_label"] = e.LocalLabel.String()
	m["mbb"] = e.MBB.String()
	m["member"] = e.Member
	m["hold_time"] = e.HoldTime.String()
	m["switch_delay"] = e.SwitchDelay.String()
	m["upstream"] = bindingList(e.Upstream)
	m["downstream"] = bindingList(e.Downstream)
	return m
}

func bindingList(bs []lde.MP2MPBinding) []any {
	out := make([]any, 0, len(bs))
	for _, b := range bs {
		out = append(out, map[string]any{
			"peer_id":   uint32(b.PeerID),
			"router_id": b.RouterID.String(),
			"label":     b.Label.String(),
			"kind":      b.Kind.String(),
		})
	}
	return out
}

func neighborEntry(e lde.NeighborEntry) map[string]any {
	return map[string]any{
		"peer_id":        uint32(e.PeerID),
		"router_id":      e.RouterID.String(),
		"ipv4":           e.V4Enabled,
		"ipv6":           e.V6Enabled,
		"addresses":      addrList(e.Addresses),
		"recv_mappings":  e.RecvMappings,
		"sent_mappings":  e.SentMappings,
		"recv_requests":  e.RecvRequests,
		"sent_requests":  e.SentRequests,
		"sent_withdraws": e.SentWithdraws,
	}
}

func addrList(addrs []netip.Addr) []any {
	out := make([]any, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func messageEntry(msg outbox.Message) map[string]any {
	m := map[string]any{
		"time":    msg.Time.UTC().Format(time.RFC3339Nano),
		"peer_id": uint32(msg.Peer),
		"op":      msg.Op,
	}
	switch msg.Op {
	case outbox.OpMapping, outbox.OpWithdraw, outbox.OpRelease:
		if msg.Mapping.Flags&lde.FlagWildcard != 0 {
			m["fec"] = "wildcard"
		} else {
			m["fec"] = msg.Mapping.FEC.String()
		}
		m["label"] = msg.Mapping.Label.String()
		m["kind"] = msg.Mapping.Kind.String()
		if msg.Mapping.Flags&lde.FlagRequestID != 0 {
			m["request_id"] = msg.Mapping.RequestID
		}
	case outbox.OpRequest:
		m["fec"] = msg.Request.FEC.String()
		m["msg_id"] = msg.Request.MsgID
	}
	if msg.Status != nil {
		m["status"] = msg.Status.Code.String()
	}
	return m
}
