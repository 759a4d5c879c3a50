// Command peervault-migrate runs PeerVault's schema migration chain
// against a vault's data directory, outside the main daemon — for
// operators who want to migrate before starting peervault, or inspect
// the current schema version without touching the store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/robcohen/peervault/pkg/migration"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
)

var (
	dataDir = flag.String("data-dir", defaultDataDir(), "vault data directory")
	dryRun  = flag.Bool("dry-run", false, "report what would migrate without writing anything")
	status  = flag.Bool("status", false, "print the current and latest schema versions and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("PeerVault Migration Tool")
	log.Println("========================")

	dbPath := filepath.Join(*dataDir, "peervault.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("vault database not found at %s", dbPath)
	}

	store, err := storage.NewBoltAdapter(dbPath)
	if err != nil {
		log.Fatalf("failed to open vault database: %v", err)
	}
	defer store.Close()

	runner, err := migration.NewRunner(migration.Migrations)
	if err != nil {
		log.Fatalf("invalid migration chain: %v", err)
	}

	ctx := context.Background()

	if *status {
		printStatus(ctx, store, runner)
		return
	}

	if *dryRun {
		log.Printf("dry run: would migrate toward schema version %d", runner.LatestVersion())
		return
	}

	result := runner.Run(ctx, store, func(percent int, message string) {
		log.Printf("[%3d%%] %s", percent, message)
	})

	switch result.Status {
	case migration.StatusUpToDate:
		log.Println("vault is already at the latest schema version")
	case migration.StatusOK:
		log.Printf("migration complete, applied: %v", result.MigrationsRun)
	case migration.StatusFailed:
		log.Fatalf("migration failed and was rolled back: %v", result.Error)
	}
}

func printStatus(ctx context.Context, store storage.Adapter, runner *migration.Runner) {
	current := 0
	raw, err := store.Read(ctx, storage.KeySchemaVersion)
	switch {
	case err == nil:
		v, parseErr := strconv.Atoi(string(raw))
		if parseErr != nil {
			log.Fatalf("stored schema version %q is not a number: %v", raw, parseErr)
		}
		current = v
	case err == peverr.ErrNotFound:
		// No version written yet: a fresh vault, schema version 0.
	default:
		log.Fatalf("failed to read schema version: %v", err)
	}
	log.Printf("current schema version: %d", current)
	log.Printf("latest schema version:  %d", runner.LatestVersion())
	switch {
	case current == runner.LatestVersion():
		log.Println("status: up to date")
	case current > runner.LatestVersion():
		log.Println("status: newer-schema; this binary is older than the vault's data, refusing to run")
	default:
		log.Println("status: migration available, run without --status to apply")
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".peervault")
	}
	return ".peervault"
}
