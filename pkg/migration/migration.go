// Package migration implements MigrationRunner: a monotonically
// versioned, forward-only schema migrator with pre-migration backup
// and restore-on-failure, grounded on a
// cmd/warren-migrate backup-then-migrate CLI shape, generalized into
// a reusable runner any storage.Adapter can be migrated through.
package migration

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
)

// ProgressFunc reports migration progress as a percentage in [0,100]
// and a human-readable message. Called in non-decreasing percentage
// order across a single Run.
type ProgressFunc func(percent int, message string)

// Context is what a Migration's Migrate function is given to work with.
type Context struct {
	Store      storage.Adapter
	OnProgress ProgressFunc
}

// Migration describes one schema step. ToVersion must equal
// FromVersion+1; Migrate must be safe to rerun from FromVersion
// (idempotent), since a crash mid-chain leaves schemaVersion at
// FromVersion and a later Run retries this same step.
type Migration struct {
	FromVersion int
	ToVersion   int
	Description string
	Migrate     func(ctx context.Context, mctx *Context) error
}

// Status is the outcome of a Run.
type Status string

const (
	StatusUpToDate Status = "up-to-date"
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
)

// Result summarizes one Run call.
type Result struct {
	Status        Status
	MigrationsRun []int // ToVersion of each migration applied, in order
	Error         error
}

// Runner holds an ordered, validated chain of migrations.
type Runner struct {
	migrations []Migration
}

// NewRunner validates that migrations form a contiguous chain
// 0->1->2->...->N (after sorting by FromVersion) and returns a Runner
// over it. A gap, overlap, or non-zero start is a programmer error.
func NewRunner(migrations []Migration) (*Runner, error) {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FromVersion < sorted[j].FromVersion })

	for i, m := range sorted {
		if m.ToVersion != m.FromVersion+1 {
			return nil, peverr.Fatalf("migration %d: toVersion must be fromVersion+1, got %d->%d", i, m.FromVersion, m.ToVersion)
		}
		if i == 0 && m.FromVersion != 0 {
			return nil, peverr.Fatalf("migration chain must start at version 0, starts at %d", m.FromVersion)
		}
		if i > 0 && m.FromVersion != sorted[i-1].ToVersion {
			return nil, peverr.Fatalf("migration chain has a gap: %d->%d followed by %d->%d",
				sorted[i-1].FromVersion, sorted[i-1].ToVersion, m.FromVersion, m.ToVersion)
		}
	}
	return &Runner{migrations: sorted}, nil
}

// LatestVersion returns the chain's final toVersion, N.
func (r *Runner) LatestVersion() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].ToVersion
}

func currentVersion(ctx context.Context, store storage.Adapter) (int, error) {
	raw, err := store.Read(ctx, storage.KeySchemaVersion)
	if err != nil {
		if err == peverr.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, peverr.MalformedWrap(err, "parse stored schema version %q", raw)
	}
	return v, nil
}

func writeVersion(ctx context.Context, store storage.Adapter, v int) error {
	return store.Write(ctx, storage.KeySchemaVersion, []byte(strconv.Itoa(v)))
}

// Run advances store's schema from its current version to the
// latest version in the chain, backing up every key before each
// migration and restoring from that backup if the migration fails.
func (r *Runner) Run(ctx context.Context, store storage.Adapter, onProgress ProgressFunc) Result {
	logger := log.WithComponent("migration")
	if onProgress == nil {
		onProgress = func(int, string) {}
	}

	current, err := currentVersion(ctx, store)
	if err != nil {
		return Result{Status: StatusFailed, Error: err}
	}

	latest := r.LatestVersion()
	if current == latest {
		onProgress(100, "already up to date")
		return Result{Status: StatusUpToDate}
	}
	if current > latest {
		err := peverr.Fatalf("store schema version %d is newer than this binary's latest known version %d", current, latest)
		onProgress(0, "newer-schema")
		return Result{Status: StatusFailed, Error: err}
	}

	pending := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		if m.FromVersion >= current {
			pending = append(pending, m)
		}
	}

	var run []int
	for i, m := range pending {
		percent := i * 100 / len(pending)
		onProgress(percent, fmt.Sprintf("running migration %d->%d: %s", m.FromVersion, m.ToVersion, m.Description))

		if err := backup(ctx, store, m.ToVersion); err != nil {
			logger.Warn().Err(err).Int("to_version", m.ToVersion).Msg("backup had errors, continuing best-effort")
		}

		mctx := &Context{Store: store, OnProgress: func(p int, msg string) {
			onProgress(percent+p/len(pending), msg)
		}}
		if err := m.Migrate(ctx, mctx); err != nil {
			restoreErr := restore(ctx, store, m.ToVersion)
			if restoreErr != nil {
				logger.Error().Err(restoreErr).Int("to_version", m.ToVersion).Msg("restore after failed migration also failed")
			}
			return Result{Status: StatusFailed, MigrationsRun: run, Error: peverr.Fatalf("migration %d->%d failed: %v", m.FromVersion, m.ToVersion, err)}
		}
		if err := writeVersion(ctx, store, m.ToVersion); err != nil {
			return Result{Status: StatusFailed, MigrationsRun: run, Error: err}
		}
		metrics.MigrationsAppliedTotal.WithLabelValues(strconv.Itoa(m.ToVersion)).Inc()
		run = append(run, m.ToVersion)
	}

	for _, m := range pending {
		if err := clearBackup(ctx, store, m.ToVersion); err != nil {
			logger.Warn().Err(err).Int("to_version", m.ToVersion).Msg("failed to clear migration backup")
		}
	}

	onProgress(100, "migration chain complete")
	return Result{Status: StatusOK, MigrationsRun: run}
}

func backup(ctx context.Context, store storage.Adapter, toVersion int) error {
	keys, err := store.List(ctx, "")
	if err != nil {
		return err
	}
	prefix := storage.MigrationBackupPrefix(toVersion)
	var firstErr error
	for _, k := range keys {
		v, err := store.Read(ctx, k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := store.Write(ctx, prefix+k, v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func restore(ctx context.Context, store storage.Adapter, toVersion int) error {
	prefix := storage.MigrationBackupPrefix(toVersion)
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	var firstErr error
	for _, k := range keys {
		v, err := store.Read(ctx, k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		original := k[len(prefix):]
		if err := store.Write(ctx, original, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func clearBackup(ctx context.Context, store storage.Adapter, toVersion int) error {
	prefix := storage.MigrationBackupPrefix(toVersion)
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
