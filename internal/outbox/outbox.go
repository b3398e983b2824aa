// Package outbox is the session collaborator of the label distribution
// engine. It records every outbound LDP message per neighbor for
// inspection.
package outbox

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dantte-lp/goldp/internal/lde"
)

// DefaultDepth is the number of recent messages kept per neighbor.
const DefaultDepth = 64

// Message operations recorded by the outbox.
const (
	OpMapping      = "mapping"
	OpMappingEnd   = "mapping-end"
	OpRequest      = "request"
	OpWithdraw     = "withdraw"
	OpRelease      = "release"
	OpNotification = "notification"
)

// Message is one outbound message as handed to the session layer.
type Message struct {
	Time time.Time
	Peer lde.PeerID
	Op   string

	// Mapping carries the FEC and label of mapping, withdraw and release
	// messages.
	Mapping lde.Mapping

	// Request is set for label requests.
	Request lde.Request

	// Status is the attached Status TLV of withdraws and notifications.
	Status *lde.Status
}

// Outbox implements lde.Session.
type Outbox struct {
	mu     sync.Mutex
	recent map[lde.PeerID][]Message
	counts map[lde.PeerID]map[string]uint64

	depth  int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures optional Outbox parameters.
type Option func(*Outbox)

// WithDepth sets how many recent messages are kept per neighbor.
func WithDepth(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.depth = n
		}
	}
}

// WithClock sets the time source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an empty outbox.
func New(logger *slog.Logger, opts ...Option) *Outbox {
	o := &Outbox{
		recent: make(map[lde.PeerID][]Message),
		counts: make(map[lde.PeerID]map[string]uint64),
		depth:  DefaultDepth,
		now:    time.Now,
		logger: logger.With(slog.String("component", "outbox")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var (
	_ lde.Session       = (*Outbox)(nil)
	_ lde.PeerForgetter = (*Outbox)(nil)
)

// SendMapping records a Label Mapping message.
func (o *Outbox) SendMapping(peer lde.PeerID, m lde.Mapping) {
	o.record(Message{Peer: peer, Op: OpMapping, Mapping: m})
}

// SendMappingEnd records the end of the initial mapping stream.
func (o *Outbox) SendMappingEnd(peer lde.PeerID) {
	o.record(Message{Peer: peer, Op: OpMappingEnd})
}

// SendRequest records a Label Request message.
func (o *Outbox) SendRequest(peer lde.PeerID, r lde.Request) {
	o.record(Message{Peer: peer, Op: OpRequest, Request: r})
}

// SendWithdraw records a Label Withdraw message.
func (o *Outbox) SendWithdraw(peer lde.PeerID, m lde.Mapping, st *lde.Status) {
	msg := Message{Peer: peer, Op: OpWithdraw, Mapping: m}
	if st != nil {
		s := *st
		msg.Status = &s
	}
	o.record(msg)
}

// SendRelease records a Label Release message.
func (o *Outbox) SendRelease(peer lde.PeerID, m lde.Mapping) {
	o.record(Message{Peer: peer, Op: OpRelease, Mapping: m})
}

// SendNotification records a Notification message.
func (o *Outbox) SendNotification(peer lde.PeerID, st lde.Status) {
	o.record(Message{Peer: peer, Op: OpNotification, Status: &st})
}

func (o *Outbox) record(msg Message) {
	msg.Time = o.now()

	o.mu.Lock()
	msgs := append(o.recent[msg.Peer], msg)
	if len(msgs) > o.depth {
		msgs = slices.Delete(msgs, 0, len(msgs)-o.depth)
	}
	o.recent[msg.Peer] = msgs

	c := o.counts[msg.Peer]
	if c == nil {
		c = make(map[string]uint64)
		o.counts[msg.Peer] = c
	}
	c[msg.Op]++
	o.mu.Unlock()

	attrs := []slog.Attr{
		slog.Uint64("peer", uint64(msg.Peer)),
		slog.String("op", msg.Op),
	}
	switch msg.Op {
	case OpMapping, OpWithdraw, OpRelease:
		attrs = append(attrs,
			slog.String("fec", msg.Mapping.FEC.String()),
			slog.String("label", msg.Mapping.Label.String()),
			slog.String("kind", msg.Mapping.Kind.String()),
		)
	case OpRequest:
		attrs = append(attrs, slog.String("fec", msg.Request.FEC.String()))
	}
	if msg.Status != nil {
		attrs = append(attrs, slog.String("status", msg.Status.Code.String()))
	}
	o.logger.LogAttrs(context.Background(), slog.LevelDebug, "sent message", attrs...)
}

// Recent returns the recent messages sent to peer, oldest first.
func (o *Outbox) Recent(peer lde.PeerID) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.recent[peer])
}

// Counts returns the number of messages sent to peer per operation.
func (o *Outbox) Counts(peer lde.PeerID) map[string]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.counts[peer])
}

// Peers returns every peer a message was sent to, in ascending order.
func (o *Outbox) Peers() []lde.PeerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Sorted(maps.Keys(o.counts))
}

// Forget drops the history of peer. The engine calls it when the
// session with peer goes down.
func (o *Outbox) Forget(peer lde.PeerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.recent, peer)
	delete(o.counts, peer)
}
