package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goldp/internal/server"
)

// dumpCmd builds a command printing one dump of the engine state.
func dumpCmd(use, short string, v view, fetch func(context.Context) (server.Entries, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			entries, err := fetch(ctx)
			if err != nil {
				return err
			}

			out, err := formatEntries(v, entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format %s: %w", use, err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- lib ---

func libCmd() *cobra.Command {
	return dumpCmd("lib", "Show the label information base", viewLIB,
		func(ctx context.Context) (server.Entries, error) {
			return client.DumpLIB(ctx)
		})
}

// --- lsp ---

func lspCmd() *cobra.Command {
	return dumpCmd("lsp", "Show local labels and their nexthops", viewLSP,
		func(ctx context.Context) (server.Entries, error) {
			return client.DumpLSP(ctx)
		})
}

// --- neighbor ---

func neighborCmd() *cobra.Command {
	cmd := dumpCmd("neighbor", "Show operational neighbors", viewNeighbors,
		func(ctx context.Context) (server.Entries, error) {
			return client.DumpNeighbors(ctx)
		})
	cmd.Aliases = []string{"neighbors"}
	return cmd
}

// --- messages ---

func messagesCmd() *cobra.Command {
	var peer uint32

	cmd := dumpCmd("messages", "Show recent messages sent to neighbors", viewMessages,
		func(ctx context.Context) (server.Entries, error) {
			if peer == 0 {
				return client.ListMessages(ctx, nil)
			}
			return client.ListMessages(ctx, &peer)
		})
	cmd.Flags().Uint32Var(&peer, "peer", 0, "only show messages for this peer id")

	return cmd
}

// --- gc ---

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run a garbage collection sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			n, err := client.GarbageCollect(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Reclaimed %d FEC(s)\n", n)

			return nil
		},
	}
}
