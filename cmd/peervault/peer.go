package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage paired peers",
}

var peerInviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Generate an invite ticket for a new peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		defer v.close(ctx)

		ticket, err := v.transport.GenerateInvite()
		if err != nil {
			return fmt.Errorf("generate invite: %w", err)
		}
		fmt.Println(ticket)
		return nil
	},
}

var peerAddCmd = &cobra.Command{
	Use:   "add <ticket>",
	Short: "Pair with a peer using an invite ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nickname, _ := cmd.Flags().GetString("nickname")

		ctx := context.Background()
		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		defer v.close(ctx)

		if err := v.peers.Initialize(ctx); err != nil {
			return fmt.Errorf("start peer manager: %w", err)
		}

		rec, err := v.peers.AddPeer(ctx, args[0], nickname)
		if err != nil {
			return fmt.Errorf("pair with peer: %w", err)
		}
		fmt.Printf("paired with %s (%s)\n", rec.NodeID, rec.Nickname)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paired peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		defer v.close(ctx)

		if err := v.peers.Initialize(ctx); err != nil {
			return fmt.Errorf("start peer manager: %w", err)
		}

		peers := v.peers.GetPeers()
		if len(peers) == 0 {
			fmt.Println("no paired peers")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE ID\tNICKNAME\tSTATE\tTRUSTED\tLAST SYNCED")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", p.NodeID, p.Nickname, p.State, p.Trusted, formatTime(p.LastSyncedAt))
		}
		return w.Flush()
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove <node-id>",
	Short: "Remove a paired peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		defer v.close(ctx)

		if err := v.peers.Initialize(ctx); err != nil {
			return fmt.Errorf("start peer manager: %w", err)
		}

		if err := v.peers.RemovePeer(ctx, args[0]); err != nil {
			return fmt.Errorf("remove peer: %w", err)
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func init() {
	peerAddCmd.Flags().String("nickname", "", "display name for this peer")

	peerCmd.AddCommand(peerInviteCmd)
	peerCmd.AddCommand(peerAddCmd)
	peerCmd.AddCommand(peerListCmd)
	peerCmd.AddCommand(peerRemoveCmd)
}
