// Package server implements the ConnectRPC inspection API of the LDP daemon.
//
// The service carries generic protobuf messages: requests are
// google.protobuf.Empty or google.protobuf.Struct, responses are
// google.protobuf.Struct documents with an "entries" list, so the API works
// with any Connect, gRPC or gRPC-Web client without generated stubs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/goldp/internal/lde"
	"github.com/dantte-lp/goldp/internal/outbox"
)

// ServiceName is the fully qualified name of the inspection service.
const ServiceName = "goldp.v1.LdeService"

// Procedure paths of the inspection service.
const (
	DumpLIBProcedure        = "/" + ServiceName + "/DumpLIB"
	DumpLSPProcedure        = "/" + ServiceName + "/DumpLSP"
	DumpMP2MPProcedure      = "/" + ServiceName + "/DumpMP2MP"
	DumpNeighborsProcedure  = "/" + ServiceName + "/DumpNeighbors"
	ListMessagesProcedure   = "/" + ServiceName + "/ListMessages"
	JoinMP2MPProcedure      = "/" + ServiceName + "/JoinMP2MP"
	LeaveMP2MPProcedure     = "/" + ServiceName + "/LeaveMP2MP"
	GarbageCollectProcedure = "/" + ServiceName + "/GarbageCollect"
)

var (
	// ErrMissingField indicates a request without a required field.
	ErrMissingField = errors.New("missing request field")

	// ErrInvalidField indicates a request field with an unusable value.
	ErrInvalidField = errors.New("invalid request field")
)

// Runner executes a function on the engine's event loop. *lde.Loop
// implements it.
type Runner interface {
	Do(ctx context.Context, fn func(*lde.Engine) error) error
}

// History exposes recorded outbound messages. *outbox.Outbox implements it.
type History interface {
	Peers() []lde.PeerID
	Recent(peer lde.PeerID) []outbox.Message
	Counts(peer lde.PeerID) map[string]uint64
}

// LDEServer serves engine dumps and operator actions. Every engine access
// runs on the event loop, so responses are consistent snapshots.
type LDEServer struct {
	runner  Runner
	history History
	logger  *slog.Logger
}

// New creates the inspection service and returns its path prefix and HTTP
// handler. history may be nil, in which case ListMessages returns no
// entries.
func New(runner Runner, history History, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &LDEServer{
		runner:  runner,
		history: history,
		logger:  logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.Handle(DumpLIBProcedure, connect.NewUnaryHandlerSimple(DumpLIBProcedure, s.DumpLIB, opts...))
	mux.Handle(DumpLSPProcedure, connect.NewUnaryHandlerSimple(DumpLSPProcedure, s.DumpLSP, opts...))
	mux.Handle(DumpMP2MPProcedure, connect.NewUnaryHandlerSimple(DumpMP2MPProcedure, s.DumpMP2MP, opts...))
	mux.Handle(DumpNeighborsProcedure, connect.NewUnaryHandlerSimple(DumpNeighborsProcedure, s.DumpNeighbors, opts...))
	mux.Handle(ListMessagesProcedure, connect.NewUnaryHandlerSimple(ListMessagesProcedure, s.ListMessages, opts...))
	mux.Handle(JoinMP2MPProcedure, connect.NewUnaryHandlerSimple(JoinMP2MPProcedure, s.JoinMP2MP, opts...))
	mux.Handle(LeaveMP2MPProcedure, connect.NewUnaryHandlerSimple(LeaveMP2MPProcedure, s.LeaveMP2MP, opts...))
	mux.Handle(GarbageCollectProcedure, connect.NewUnaryHandlerSimple(GarbageCollectProcedure, s.GarbageCollect, opts...))

	return "/" + ServiceName + "/", mux
}

// -------------------------------------------------------------------------
// Dumps
// -------------------------------------------------------------------------

// DumpLIB returns the label information base: every FEC with its local
// label and the mappings received for it.
func (s *LDEServer) DumpLIB(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return dump(ctx, s, (*lde.Engine).DumpLIB, libEntry)
}

// DumpLSP returns every FEC with its nexthops and their remote labels.
func (s *LDEServer) DumpLSP(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return dump(ctx, s, (*lde.Engine).DumpLSP, lspEntry)
}

// DumpMP2MP returns the control blocks of every MP2MP tree.
func (s *LDEServer) DumpMP2MP(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return dump(ctx, s, (*lde.Engine).DumpMP2MP, mp2mpEntry)
}

// DumpNeighbors returns the label state summary of every neighbor.
func (s *LDEServer) DumpNeighbors(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return dump(ctx, s, (*lde.Engine).DumpNeighbors, neighborEntry)
}

func dump[T any](ctx context.Context, s *LDEServer, fn func(*lde.Engine) []T, conv func(T) map[string]any) (*structpb.Struct, error) {
	var entries []T
	err := s.runner.Do(ctx, func(e *lde.Engine) error {
		entries = fn(e)
		return nil
	})
	if err != nil {
		return nil, loopError(err)
	}

	list := make([]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, conv(e))
	}
	return entriesStruct(list)
}

// ListMessages returns the recent outbound messages. An optional "peer_id"
// field restricts the result to one neighbor.
func (s *LDEServer) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return entriesStruct(nil)
	}

	peers := s.history.Peers()
	if v, ok := req.GetFields()["peer_id"]; ok {
		id := v.GetNumberValue()
		if id < 0 || id > float64(^uint32(0)) || id != float64(uint32(id)) {
			return nil, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("peer_id %v: %w", id, ErrInvalidField))
		}
		peers = []lde.PeerID{lde.PeerID(id)}
	}

	var list []any
	for _, peer := range peers {
		for _, m := range s.history.Recent(peer) {
			list = append(list, messageEntry(m))
		}
	}
	return entriesStruct(list)
}

// -------------------------------------------------------------------------
// Operator actions
// -------------------------------------------------------------------------

// JoinMP2MP makes the local node a member of the tree named by the
// "prefix" field.
func (s *LDEServer) JoinMP2MP(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fec, err := prefixField(req)
	if err != nil {
		return nil, err
	}
	if err := s.runner.Do(ctx, func(e *lde.Engine) error { return e.JoinMP2MP(fec) }); err != nil {
		return nil, engineError(err)
	}
	s.logger.InfoContext(ctx, "joined mp2mp tree by request", slog.String("fec", fec.String()))
	return &emptypb.Empty{}, nil
}

// LeaveMP2MP ends local membership of the tree named by "prefix".
func (s *LDEServer) LeaveMP2MP(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fec, err := prefixField(req)
	if err != nil {
		return nil, err
	}
	if err := s.runner.Do(ctx, func(e *lde.Engine) error { return e.LeaveMP2MP(fec) }); err != nil {
		return nil, engineError(err)
	}
	s.logger.InfoContext(ctx, "left mp2mp tree by request", slog.String("fec", fec.String()))
	return &emptypb.Empty{}, nil
}

// GarbageCollect runs a sweep immediately and reports the number of FEC
// nodes reclaimed.
func (s *LDEServer) GarbageCollect(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var n int
	if err := s.runner.Do(ctx, func(e *lde.Engine) error {
		n = e.GarbageCollect()
		return nil
	}); err != nil {
		return nil, loopError(err)
	}
	return structpb.NewStruct(map[string]any{"reclaimed": n})
}

func prefixField(req *structpb.Struct) (lde.FEC, error) {
	v, ok := req.GetFields()["prefix"]
	if !ok || v.GetStringValue() == "" {
		return lde.FEC{}, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("prefix: %w", ErrMissingField))
	}
	p, err := netip.ParsePrefix(v.GetStringValue())
	if err != nil {
		return lde.FEC{}, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("prefix %q: %w: %w", v.GetStringValue(), ErrInvalidField, err))
	}
	return lde.PrefixFEC(p), nil
}

// -------------------------------------------------------------------------
// Error mapping
// -------------------------------------------------------------------------

func loopError(err error) error {
	switch {
	case errors.Is(err, lde.ErrLoopStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func engineError(err error) error {
	switch {
	case errors.Is(err, lde.ErrNotMultipoint):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, lde.ErrUnknownNeighbor):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return loopError(err)
	}
}
