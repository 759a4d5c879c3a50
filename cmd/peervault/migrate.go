package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/robcohen/peervault/pkg/migration"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect the on-disk schema version",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current and latest schema versions without migrating",
	Long: `status opens the vault's database directly without starting any
of the sync machinery, for inspection before a schema upgrade. Use the
standalone peervault-migrate binary to actually apply migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		dbPath := filepath.Join(cfg.DataDir, "peervault.db")
		store, err := storage.NewBoltAdapter(dbPath)
		if err != nil {
			return fmt.Errorf("open vault database: %w", err)
		}
		defer store.Close()

		runner, err := migration.NewRunner(migration.Migrations)
		if err != nil {
			return fmt.Errorf("invalid migration chain: %w", err)
		}

		current := 0
		raw, err := store.Read(ctx, storage.KeySchemaVersion)
		switch {
		case err == nil:
			v, parseErr := strconv.Atoi(string(raw))
			if parseErr != nil {
				return fmt.Errorf("stored schema version %q is not a number: %w", raw, parseErr)
			}
			current = v
		case err == peverr.ErrNotFound:
			// fresh vault, schema version 0
		default:
			return fmt.Errorf("read schema version: %w", err)
		}

		fmt.Printf("current schema version: %d\n", current)
		fmt.Printf("latest schema version:  %d\n", runner.LatestVersion())
		switch {
		case current == runner.LatestVersion():
			fmt.Println("status: up to date")
		case current > runner.LatestVersion():
			fmt.Println("status: newer-schema; this binary is older than the vault's data, refusing to run")
		default:
			fmt.Println("status: migration available; run peervault-migrate to apply")
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
}
