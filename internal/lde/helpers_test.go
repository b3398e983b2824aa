package lde_test

import (
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/goldp/internal/lde"
)

// cmpOpts lets cmp compare the netip value types embedded in FECs.
var cmpOpts = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pfx(s string) netip.Prefix { return netip.MustParsePrefix(s) }

func ip(s string) netip.Addr { return netip.MustParseAddr(s) }

func v4FEC(s string) lde.FEC { return lde.IPv4FEC(pfx(s)) }

// -------------------------------------------------------------------------
// Fake collaborators
// -------------------------------------------------------------------------

type fibCall struct {
	Op    string
	Entry lde.FIBEntry
}

type fakeKernel struct {
	mu    sync.Mutex
	calls []fibCall
}

func (k *fakeKernel) Install(e lde.FIBEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, fibCall{Op: "install", Entry: e})
}

func (k *fakeKernel) Uninstall(e lde.FIBEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, fibCall{Op: "uninstall", Entry: e})
}

// take returns the recorded calls and forgets them.
func (k *fakeKernel) take() []fibCall {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := k.calls
	k.calls = nil
	return out
}

type sentMsg struct {
	Op      string
	Peer    lde.PeerID
	Mapping lde.Mapping
	Request lde.Request
	Status  lde.Status
}

type fakeSession struct {
	mu        sync.Mutex
	msgs      []sentMsg
	forgotten []lde.PeerID
}

func (s *fakeSession) record(m sentMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *fakeSession) SendMapping(peer lde.PeerID, m lde.Mapping) {
	s.record(sentMsg{Op: "mapping", Peer: peer, Mapping: m})
}

func (s *fakeSession) SendMappingEnd(peer lde.PeerID) {
	s.record(sentMsg{Op: "mapping-end", Peer: peer})
}

func (s *fakeSession) SendRequest(peer lde.PeerID, r lde.Request) {
	s.record(sentMsg{Op: "request", Peer: peer, Request: r})
}

func (s *fakeSession) SendWithdraw(peer lde.PeerID, m lde.Mapping, st *lde.Status) {
	msg := sentMsg{Op: "withdraw", Peer: peer, Mapping: m}
	if st != nil {
		msg.Status = *st
	}
	s.record(msg)
}

func (s *fakeSession) SendRelease(peer lde.PeerID, m lde.Mapping) {
	s.record(sentMsg{Op: "release", Peer: peer, Mapping: m})
}

func (s *fakeSession) SendNotification(peer lde.PeerID, st lde.Status) {
	s.record(sentMsg{Op: "notification", Peer: peer, Status: st})
}

func (s *fakeSession) Forget(peer lde.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, peer)
}

func (s *fakeSession) forgottenPeers() []lde.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.forgotten)
}

func (s *fakeSession) take() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

// ops returns only the messages with the given operation.
func filterOp(msgs []sentMsg, op string) []sentMsg {
	var out []sentMsg
	for _, m := range msgs {
		if m.Op == op {
			out = append(out, m)
		}
	}
	return out
}

type fakeMetrics struct {
	mu             sync.Mutex
	upstreamPasses int
	gcReclaimed    int
	fecs           int
	received       map[string]int
}

func (m *fakeMetrics) SetFECs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fecs = n
}

func (m *fakeMetrics) SetNeighbors(int)       {}
func (m *fakeMetrics) SetLabelsAllocated(int) {}

func (m *fakeMetrics) IncMessageReceived(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.received == nil {
		m.received = make(map[string]int)
	}
	m.received[t]++
}

func (m *fakeMetrics) IncMessageSent(string) {}
func (m *fakeMetrics) IncFIBChange(string)   {}

func (m *fakeMetrics) AddGCReclaimed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcReclaimed += n
}

func (m *fakeMetrics) IncMP2MPUpstreamPass() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreamPasses++
}

func (m *fakeMetrics) IncNotificationSent(string) {}

func (m *fakeMetrics) passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upstreamPasses
}

// -------------------------------------------------------------------------
// Harness
// -------------------------------------------------------------------------

const (
	peerA lde.PeerID = 1
	peerB lde.PeerID = 2
	peerC lde.PeerID = 3
)

// Neighbor A owns 192.0.2.1 and 192.0.2.2, B owns 198.51.100.2, C owns
// 203.0.113.3.
var (
	nbrA = lde.NeighborInfo{
		PeerID: peerA, RouterID: ip("1.1.1.1"), V4Enabled: true,
		Addresses: []netip.Addr{ip("192.0.2.1"), ip("192.0.2.2")},
	}
	nbrB = lde.NeighborInfo{
		PeerID: peerB, RouterID: ip("2.2.2.2"), V4Enabled: true,
		Addresses: []netip.Addr{ip("198.51.100.2")},
	}
	nbrC = lde.NeighborInfo{
		PeerID: peerC, RouterID: ip("3.3.3.3"), V4Enabled: true,
		Addresses: []netip.Addr{ip("203.0.113.3")},
	}
)

type harness struct {
	e *lde.Engine
	k *fakeKernel
	s *fakeSession
	m *fakeMetrics
}

func newHarness(t *testing.T, mutate ...func(*lde.Config)) *harness {
	t.Helper()

	cfg := lde.DefaultConfig()
	cfg.RouterID = ip("10.255.0.1")
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{k: &fakeKernel{}, s: &fakeSession{}, m: &fakeMetrics{}}
	e, err := lde.NewEngine(cfg, h.k, h.s, discardLogger(), lde.WithMetrics(h.m))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.e = e
	return h
}

// up brings neighbors up and drops the messages sent on the way.
func (h *harness) up(t *testing.T, infos ...lde.NeighborInfo) {
	t.Helper()
	for _, info := range infos {
		if err := h.e.NeighborUp(info); err != nil {
			t.Fatalf("NeighborUp(%d): %v", info.PeerID, err)
		}
	}
	h.s.take()
	h.k.take()
}

func (h *harness) routeAdd(fec lde.FEC, nexthop string, connected bool) {
	h.e.RouteAdded(lde.Route{FEC: fec, AF: lde.AFIPv4, Nexthop: ip(nexthop), Connected: connected})
}

func (h *harness) routeDel(fec lde.FEC, nexthop string) {
	h.e.RouteRemoved(lde.Route{FEC: fec, AF: lde.AFIPv4, Nexthop: ip(nexthop)})
}

func (h *harness) mapping(t *testing.T, peer lde.PeerID, m lde.Mapping) {
	t.Helper()
	if err := h.e.CheckMapping(peer, m); err != nil {
		t.Fatalf("CheckMapping: %v", err)
	}
}

func (h *harness) node(t *testing.T, fec lde.FEC) *lde.FECNode {
	t.Helper()
	n := h.e.FECs().Find(fec)
	if n == nil {
		t.Fatalf("fec %s not indexed", fec)
	}
	return n
}

func (h *harness) reset() {
	h.s.take()
	h.k.take()
}
