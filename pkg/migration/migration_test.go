package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
)

func newTestStore(t *testing.T) *storage.BoltAdapter {
	t.Helper()
	a, err := storage.NewBoltAdapter(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRunnerRejectsNonContiguousChain(t *testing.T) {
	_, err := NewRunner([]Migration{
		{FromVersion: 0, ToVersion: 1, Migrate: noop},
		{FromVersion: 2, ToVersion: 3, Migrate: noop},
	})
	require.Error(t, err)
}

func TestNewRunnerRejectsNonZeroStart(t *testing.T) {
	_, err := NewRunner([]Migration{
		{FromVersion: 1, ToVersion: 2, Migrate: noop},
	})
	require.Error(t, err)
}

func noop(ctx context.Context, mctx *Context) error { return nil }

func TestRunUpToDateWhenAlreadyAtLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := NewRunner([]Migration{{FromVersion: 0, ToVersion: 1, Migrate: noop}})
	require.NoError(t, err)

	res := r.Run(ctx, store, nil)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, []int{1}, res.MigrationsRun)

	res = r.Run(ctx, store, nil)
	require.Equal(t, StatusUpToDate, res.Status)
	require.Empty(t, res.MigrationsRun)
}

func TestRunFromZeroToTwoAppliesBothInOrderWithProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var applied []int
	var percents []int

	r, err := NewRunner([]Migration{
		{FromVersion: 0, ToVersion: 1, Description: "add field", Migrate: func(ctx context.Context, mctx *Context) error {
			applied = append(applied, 1)
			return mctx.Store.Write(ctx, "migrated-to-1", []byte("yes"))
		}},
		{FromVersion: 1, ToVersion: 2, Description: "add index", Migrate: func(ctx context.Context, mctx *Context) error {
			applied = append(applied, 2)
			return mctx.Store.Write(ctx, "migrated-to-2", []byte("yes"))
		}},
	})
	require.NoError(t, err)

	res := r.Run(ctx, store, func(percent int, message string) {
		percents = append(percents, percent)
	})

	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, []int{1, 2}, res.MigrationsRun)
	require.Equal(t, []int{1, 2}, applied)

	raw, err := store.Read(ctx, storage.KeySchemaVersion)
	require.NoError(t, err)
	require.Equal(t, "2", string(raw))

	for i := 1; i < len(percents); i++ {
		require.LessOrEqual(t, percents[i-1], percents[i], "progress must be non-decreasing")
	}
}

func TestFailedMigrationRestoresAndLeavesVersionUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Write(ctx, "existing-key", []byte("original")))

	r, err := NewRunner([]Migration{
		{FromVersion: 0, ToVersion: 1, Migrate: func(ctx context.Context, mctx *Context) error {
			require.NoError(t, mctx.Store.Write(ctx, "existing-key", []byte("corrupted")))
			return errors.New("boom")
		}},
	})
	require.NoError(t, err)

	res := r.Run(ctx, store, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Error(t, res.Error)

	_, err = store.Read(ctx, storage.KeySchemaVersion)
	require.ErrorIs(t, err, peverr.ErrNotFound)

	raw, err := store.Read(ctx, "existing-key")
	require.NoError(t, err)
	require.Equal(t, "original", string(raw))
}

func TestRunFailsWhenStoreSchemaIsNewerThanRunner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, writeVersion(ctx, store, 5))

	r, err := NewRunner([]Migration{{FromVersion: 0, ToVersion: 1, Migrate: noop}})
	require.NoError(t, err)

	res := r.Run(ctx, store, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Error(t, res.Error)
	require.Empty(t, res.MigrationsRun)

	raw, err := store.Read(ctx, storage.KeySchemaVersion)
	require.NoError(t, err)
	require.Equal(t, "5", string(raw), "a refused newer-schema run must not touch the stored version")
}
