package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect compacted history and orphaned blobs",
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one garbage collection pass now, ignoring the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		defer v.close(ctx)

		result, err := v.gc.Run(ctx)
		if err != nil {
			return fmt.Errorf("run gc: %w", err)
		}

		if result.Skipped != "" {
			fmt.Printf("skipped: %s\n", result.Skipped)
			return nil
		}
		fmt.Printf("tombstones pruned: %d\n", result.TombstonesPruned)
		fmt.Printf("blobs reclaimed:   %d\n", result.BlobsReclaimed)
		fmt.Printf("bytes reclaimed:   %d\n", result.BytesReclaimed)
		return nil
	},
}

func init() {
	gcCmd.AddCommand(gcRunCmd)
}
