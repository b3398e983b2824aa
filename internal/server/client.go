package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the inspection service.
type Client struct {
	dumpLIB        *connect.Client[emptypb.Empty, structpb.Struct]
	dumpLSP        *connect.Client[emptypb.Empty, structpb.Struct]
	dumpMP2MP      *connect.Client[emptypb.Empty, structpb.Struct]
	dumpNeighbors  *connect.Client[emptypb.Empty, structpb.Struct]
	listMessages   *connect.Client[structpb.Struct, structpb.Struct]
	joinMP2MP      *connect.Client[structpb.Struct, emptypb.Empty]
	leaveMP2MP     *connect.Client[structpb.Struct, emptypb.Empty]
	garbageCollect *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the service at baseURL
// (e.g. "http://127.0.0.1:50061").
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		dumpLIB:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+DumpLIBProcedure, opts...),
		dumpLSP:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+DumpLSPProcedure, opts...),
		dumpMP2MP:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+DumpMP2MPProcedure, opts...),
		dumpNeighbors:  connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+DumpNeighborsProcedure, opts...),
		listMessages:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListMessagesProcedure, opts...),
		joinMP2MP:      connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+JoinMP2MPProcedure, opts...),
		leaveMP2MP:     connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+LeaveMP2MPProcedure, opts...),
		garbageCollect: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GarbageCollectProcedure, opts...),
	}
}

// Entries is one decoded dump: a list of JSON-like objects.
type Entries []map[string]any

// DumpLIB fetches the label information base.
func (c *Client) DumpLIB(ctx context.Context) (Entries, error) {
	return callDump(ctx, c.dumpLIB, "dump lib")
}

// DumpLSP fetches the forwarding view.
func (c *Client) DumpLSP(ctx context.Context) (Entries, error) {
	return callDump(ctx, c.dumpLSP, "dump lsp")
}

// DumpMP2MP fetches the MP2MP control blocks.
func (c *Client) DumpMP2MP(ctx context.Context) (Entries, error) {
	return callDump(ctx, c.dumpMP2MP, "dump mp2mp")
}

// DumpNeighbors fetches the neighbor summaries.
func (c *Client) DumpNeighbors(ctx context.Context) (Entries, error) {
	return callDump(ctx, c.dumpNeighbors, "dump neighbors")
}

// ListMessages fetches recent outbound messages, for every peer when peer
// is nil.
func (c *Client) ListMessages(ctx context.Context, peer *uint32) (Entries, error) {
	fields := map[string]any{}
	if peer != nil {
		fields["peer_id"] = *peer
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	resp, err := c.listMessages.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return decodeEntries(resp.Msg), nil
}

// JoinMP2MP joins the tree named by prefix.
func (c *Client) JoinMP2MP(ctx context.Context, prefix string) error {
	return callPrefix(ctx, c.joinMP2MP, prefix, "join mp2mp")
}

// LeaveMP2MP leaves the tree named by prefix.
func (c *Client) LeaveMP2MP(ctx context.Context, prefix string) error {
	return callPrefix(ctx, c.leaveMP2MP, prefix, "leave mp2mp")
}

// GarbageCollect runs a sweep and returns the number of reclaimed FECs.
func (c *Client) GarbageCollect(ctx context.Context) (int, error) {
	resp, err := c.garbageCollect.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return 0, fmt.Errorf("garbage collect: %w", err)
	}
	return int(resp.Msg.GetFields()["reclaimed"].GetNumberValue()), nil
}

func callDump(ctx context.Context, c *connect.Client[emptypb.Empty, structpb.Struct], op string) (Entries, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeEntries(resp.Msg), nil
}

func callPrefix(ctx context.Context, c *connect.Client[structpb.Struct, emptypb.Empty], prefix, op string) error {
	req, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := c.CallUnary(ctx, connect.NewRequest(req)); err != nil {
		return fmt.Errorf("%s %s: %w", op, prefix, err)
	}
	return nil
}

func decodeEntries(s *structpb.Struct) Entries {
	list := s.GetFields()["entries"].GetListValue().AsSlice()
	out := make(Entries, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
