package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goldp/internal/server"
)

func mp2mpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mp2mp",
		Short: "Inspect and manage MP2MP trees",
	}

	cmd.AddCommand(dumpCmd("show", "Show MP2MP trees", viewMP2MP,
		func(ctx context.Context) (server.Entries, error) {
			return client.DumpMP2MP(ctx)
		}))
	cmd.AddCommand(mp2mpMemberCmd("join", "Join the MP2MP tree rooted at <prefix>",
		func(ctx context.Context, prefix string) error {
			return client.JoinMP2MP(ctx, prefix)
		}))
	cmd.AddCommand(mp2mpMemberCmd("leave", "Leave the MP2MP tree rooted at <prefix>",
		func(ctx context.Context, prefix string) error {
			return client.LeaveMP2MP(ctx, prefix)
		}))

	return cmd
}

func mp2mpMemberCmd(verb, short string, call func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <prefix>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := call(ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("MP2MP %s %s: ok\n", verb, args[0])

			return nil
		},
	}
}
