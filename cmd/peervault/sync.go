package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync pass against every trusted peer",
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

		if err := v.peers.SyncAll(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		fmt.Println("sync complete")
		return nil
	},
}
