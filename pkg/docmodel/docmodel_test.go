package docmodel

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robcohen/peervault/pkg/engine"
	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/storage"
	"github.com/robcohen/peervault/pkg/types"
)

func newTestStore(t *testing.T) *storage.BoltAdapter {
	t.Helper()
	a, err := storage.NewBoltAdapter(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestManager(t *testing.T, replica types.ReplicaID) *Manager {
	t.Helper()
	mgr := New(engine.New(replica), newTestStore(t), nil)
	require.NoError(t, mgr.Initialize(context.Background()))
	return mgr
}

func TestInitializeAssignsVaultID(t *testing.T) {
	mgr := newTestManager(t, "replica-a")
	require.NotEmpty(t, mgr.GetVaultID())
}

func TestSaveAndReinitializeRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mgr := New(engine.New("replica-a"), store, nil)
	require.NoError(t, mgr.Initialize(ctx))
	vaultID := mgr.GetVaultID()

	_, err := mgr.CreateFile("/notes/todo.txt")
	require.NoError(t, err)
	require.NoError(t, mgr.SetTextContent("/notes/todo.txt", "buy milk"))
	require.NoError(t, mgr.Save(ctx))

	reopened := New(engine.New("replica-a"), store, nil)
	require.NoError(t, reopened.Initialize(ctx))
	require.Equal(t, vaultID, reopened.GetVaultID())

	text, err := reopened.GetTextContent("/notes/todo.txt")
	require.NoError(t, err)
	require.Equal(t, "buy milk", text)
}

func TestCreateFileCreatesMissingAncestors(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	id, err := mgr.CreateFile("/a/b/c.txt")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	meta, ok := mgr.GetFileMeta("/a")
	require.True(t, ok)
	require.Equal(t, types.NodeKindFolder, meta.Kind)

	meta, ok = mgr.GetFileMeta("/a/b")
	require.True(t, ok)
	require.Equal(t, types.NodeKindFolder, meta.Kind)

	meta, ok = mgr.GetFileMeta("/a/b/c.txt")
	require.True(t, ok)
	require.Equal(t, types.NodeKindFile, meta.Kind)
}

func TestSetTextContentIsIdempotent(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	require.NoError(t, mgr.SetTextContent("/doc.txt", "v1"))
	require.NoError(t, mgr.SetTextContent("/doc.txt", "v2"))
	require.NoError(t, mgr.SetTextContent("/doc.txt", "v2"))

	text, err := mgr.GetTextContent("/doc.txt")
	require.NoError(t, err)
	require.Equal(t, "v2", text)

	paths := mgr.ListAllPaths()
	count := 0
	for _, p := range paths {
		if p == "/doc.txt" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestCreateBinarySetsBlobHashAndMimeType(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	id, err := mgr.CreateBinary("/images/pic.png", "deadbeef", 4096, "image/png")
	require.NoError(t, err)

	meta, ok := mgr.GetFileMeta("/images/pic.png")
	require.True(t, ok)
	require.Equal(t, id, meta.ID)
	require.Equal(t, types.NodeKindBinary, meta.Kind)
	require.Equal(t, "deadbeef", meta.BlobHash)
	require.Equal(t, int64(4096), meta.Size)
	require.Equal(t, "image/png", meta.MimeType)
}

func TestMoveAndRename(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	_, err := mgr.CreateFolder("/archive")
	require.NoError(t, err)
	_, err = mgr.CreateFile("/doc.txt")
	require.NoError(t, err)

	require.NoError(t, mgr.Move("/doc.txt", "/archive"))
	_, ok := mgr.GetFileMeta("/doc.txt")
	require.False(t, ok)
	_, ok = mgr.GetFileMeta("/archive/doc.txt")
	require.True(t, ok)

	require.NoError(t, mgr.Rename("/archive/doc.txt", "notes.txt"))
	_, ok = mgr.GetFileMeta("/archive/doc.txt")
	require.False(t, ok)
	_, ok = mgr.GetFileMeta("/archive/notes.txt")
	require.True(t, ok)
}

func TestDeleteAndUndeletePreserveContent(t *testing.T) {
	mgr := newTestManager(t, "replica-a")
	require.NoError(t, mgr.SetTextContent("/doc.txt", "hello"))

	require.NoError(t, mgr.Delete("/doc.txt"))
	meta, ok := mgr.GetFileMeta("/doc.txt")
	require.True(t, ok)
	require.True(t, meta.Deleted)

	require.NoError(t, mgr.Undelete("/doc.txt"))
	meta, ok = mgr.GetFileMeta("/doc.txt")
	require.True(t, ok)
	require.False(t, meta.Deleted)

	text, err := mgr.GetTextContent("/doc.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestImportLocalOriginProducesNoEditRecords(t *testing.T) {
	mgr := newTestManager(t, "replica-a")
	require.NoError(t, mgr.SetTextContent("/doc.txt", "hello"))

	full, err := mgr.ExportFull()
	require.NoError(t, err)

	res, err := mgr.Import(full, ImportOrigin{Local: true})
	require.NoError(t, err)
	require.Empty(t, res.Edits)
}

func TestImportRemoteOriginProducesEditRecords(t *testing.T) {
	source := newTestManager(t, "replica-a")
	_, err := source.CreateFile("/shared.txt")
	require.NoError(t, err)
	require.NoError(t, source.SetTextContent("/shared.txt", "from peer b"))

	dest := newTestManager(t, "replica-b")
	full, err := source.ExportFull()
	require.NoError(t, err)

	res, err := dest.Import(full, ImportOrigin{PeerID: "replica-a"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Edits)
	for _, e := range res.Edits {
		require.Equal(t, "replica-a", e.PeerID)
	}

	text, err := dest.GetTextContent("/shared.txt")
	require.NoError(t, err)
	require.Equal(t, "from peer b", text)
}

func TestSetTextContentEmitsDocumentChangedEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	mgr := New(engine.New("replica-a"), newTestStore(t), broker)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.SetTextContent("/doc.txt", "hello"))

	evt := <-sub
	require.Equal(t, events.EventDocumentChanged, evt.Type)
	require.Equal(t, "/doc.txt", evt.Path)
}

func TestCheckoutToFrontiersReturnsHistoricalSnapshot(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	require.NoError(t, mgr.SetTextContent("/doc.txt", "v1"))
	f1 := mgr.CurrentFrontiers()

	require.NoError(t, mgr.SetTextContent("/doc.txt", "v2"))

	snap, err := mgr.CheckoutToFrontiers(f1)
	require.NoError(t, err)

	var found bool
	for _, meta := range snap.Paths {
		if meta.Kind != types.NodeKindFile {
			continue
		}
		text, ok := snap.Text(meta.ID)
		if ok && text == "v1" {
			found = true
		}
	}
	require.True(t, found)
}

func TestGetVersionHistoryOrdersNewestFirst(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	require.NoError(t, mgr.SetTextContent("/a.txt", "1"))
	require.NoError(t, mgr.SetTextContent("/b.txt", "2"))
	require.NoError(t, mgr.SetTextContent("/c.txt", "3"))

	hist := mgr.GetVersionHistory(2)
	require.Len(t, hist, 2)
	require.GreaterOrEqual(t, hist[0].Lamport, hist[1].Lamport)
}

func TestLiveBlobHashesExcludesDeletedAndNonBinaryNodes(t *testing.T) {
	mgr := newTestManager(t, "replica-a")

	_, err := mgr.CreateBinary("/photo.png", "hash-1", 1024, "image/png")
	require.NoError(t, err)
	_, err = mgr.CreateBinary("/removed.png", "hash-2", 2048, "image/png")
	require.NoError(t, err)
	_, err = mgr.CreateFile("/notes.txt")
	require.NoError(t, err)
	require.NoError(t, mgr.Delete("/removed.png"))

	hashes := mgr.LiveBlobHashes()
	require.ElementsMatch(t, []string{"hash-1"}, hashes)
}
