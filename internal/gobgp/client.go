// Package gobgp feeds BGP best paths learned by a GoBGP instance into the
// label distribution engine through GoBGP's gRPC API.
//
// Every best path becomes one route event per nexthop, so BGP-learned
// prefixes get labels bound exactly like kernel routes.
package gobgp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP gRPC operations needed by the route feed.
type Client interface {
	// WatchBestPaths streams best path changes, starting with a dump of
	// the current table, and calls fn with the paths of each event. It
	// blocks until the stream ends or ctx is cancelled.
	WatchBestPaths(ctx context.Context, fn func([]*apipb.Path)) error

	// Close releases the underlying gRPC connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")

	// ErrStreamEnded indicates GoBGP closed the watch stream.
	ErrStreamEnded = errors.New("gobgp watch stream ended")
)

// -------------------------------------------------------------------------
// GRPCClient: production GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient connects to GoBGP's gRPC API and implements the Client interface.
//
// The underlying gRPC connection uses insecure credentials (plaintext) because
// GoBGP's API is typically accessed on localhost in production deployments.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGRPCClient creates a GoBGP gRPC client for addr. grpc.NewClient does
// not block; connectivity is verified by the first RPC.
func NewGRPCClient(addr string, logger *slog.Logger) (*GRPCClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "gobgp.client"),
			slog.String("addr", addr),
		),
	}

	client.logger.Info("gobgp gRPC client created")

	return client, nil
}

// WatchBestPaths opens a best path watch with an initial table dump.
func (c *GRPCClient) WatchBestPaths(ctx context.Context, fn func([]*apipb.Path)) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("watch best paths: %w", ErrClientClosed)
	}
	c.mu.RUnlock()

	stream, err := c.api.WatchEvent(ctx, &apipb.WatchEventRequest{
		Table: &apipb.WatchEventRequest_Table{
			Filters: []*apipb.WatchEventRequest_Table_Filter{
				{Type: apipb.WatchEventRequest_Table_Filter_BEST, Init: true},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("watch best paths: %w", err)
	}

	c.logger.Debug("watching best paths")

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("watch best paths: %w", ErrStreamEnded)
		}
		if err != nil {
			return fmt.Errorf("watch best paths: %w", err)
		}
		if paths := resp.GetTable().GetPaths(); len(paths) > 0 {
			fn(paths)
		}
	}
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	c.logger.Info("gobgp gRPC client closed")

	return nil
}
