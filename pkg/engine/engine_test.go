package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robcohen/peervault/pkg/types"
)

func syncOnce(t *testing.T, a, b *ReplicaEngine) {
	t.Helper()
	full, err := a.ExportFull()
	require.NoError(t, err)
	_, err = b.Import(full)
	require.NoError(t, err)
	full, err = b.ExportFull()
	require.NoError(t, err)
	_, err = a.Import(full)
	require.NoError(t, err)
}

func TestConcurrentEditsConverge(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))

	fileID, err := a.CreateNode("", "notes.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, a.SetText(fileID, "abc"))
	syncOnce(t, a, b)

	text, err := b.GetText(fileID)
	require.NoError(t, err)
	require.Equal(t, "abc", text)

	require.NoError(t, a.SetText(fileID, "abcX"))
	require.NoError(t, b.SetText(fileID, "Yabc"))

	syncOnce(t, a, b)

	aText, err := a.GetText(fileID)
	require.NoError(t, err)
	bText, err := b.GetText(fileID)
	require.NoError(t, err)
	require.Equal(t, aText, bText)
	require.Equal(t, "YabcX", aText)
}

func TestDeleteVsEditRacePreservesContent(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))

	fileID, err := a.CreateNode("", "draft.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, a.SetText(fileID, "hello"))
	syncOnce(t, a, b)

	require.NoError(t, a.SetDeleted(fileID, true))
	require.NoError(t, b.SetText(fileID, "hello world"))

	syncOnce(t, a, b)

	aMeta, ok := a.Node(fileID)
	require.True(t, ok)
	bMeta, ok := b.Node(fileID)
	require.True(t, ok)
	require.Equal(t, aMeta.Deleted, bMeta.Deleted)
	require.True(t, aMeta.Deleted)

	aText, err := a.GetText(fileID)
	require.NoError(t, err)
	bText, err := b.GetText(fileID)
	require.NoError(t, err)
	require.Equal(t, "hello world", aText)
	require.Equal(t, aText, bText)
}

func TestOfflineDivergenceThenReconnect(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))

	folderID, err := a.CreateNode("", "docs", types.NodeKindFolder)
	require.NoError(t, err)
	syncOnce(t, a, b)

	_, err = a.CreateNode(folderID, "a-only.txt", types.NodeKindFile)
	require.NoError(t, err)
	_, err = b.CreateNode(folderID, "b-only.txt", types.NodeKindFile)
	require.NoError(t, err)

	syncOnce(t, a, b)

	require.Equal(t, len(a.AllNodes()), len(b.AllNodes()))
	require.Len(t, a.AllNodes(), 3)
}

func TestImportIsIdempotent(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))

	fileID, err := a.CreateNode("", "f.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, a.SetText(fileID, "content"))

	update, err := a.ExportFull()
	require.NoError(t, err)

	_, err = b.Import(update)
	require.NoError(t, err)
	firstVersion := b.Version()

	_, err = b.Import(update)
	require.NoError(t, err)
	require.True(t, b.Version().Equal(firstVersion))

	text, err := b.GetText(fileID)
	require.NoError(t, err)
	require.Equal(t, "content", text)
}

func TestImportOrderCommutes(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))
	c := New(types.ReplicaID("c"))

	fileID, err := a.CreateNode("", "f.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, a.SetText(fileID, "x"))
	updateA, err := a.ExportFull()
	require.NoError(t, err)

	nodeID, err := b.CreateNode("", "g.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, b.SetText(nodeID, "y"))
	updateB, err := b.ExportFull()
	require.NoError(t, err)

	// c applies A then B, a reference replica applies B then A.
	_, err = c.Import(updateA)
	require.NoError(t, err)
	_, err = c.Import(updateB)
	require.NoError(t, err)

	ref := New(types.ReplicaID("ref"))
	_, err = ref.Import(updateB)
	require.NoError(t, err)
	_, err = ref.Import(updateA)
	require.NoError(t, err)

	require.True(t, c.Version().Equal(ref.Version()))
	require.ElementsMatch(t, nodeIDs(c.AllNodes()), nodeIDs(ref.AllNodes()))
}

func nodeIDs(nodes []types.NodeMeta) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestVaultIDFrozenAfterFirstSet(t *testing.T) {
	e := New(types.ReplicaID("a"))
	require.NoError(t, e.SetVaultID("vault-1"))
	require.Error(t, e.SetVaultID("vault-2"))
	require.Equal(t, "vault-1", e.VaultID())
}

func TestSetParentRejectsCycle(t *testing.T) {
	e := New(types.ReplicaID("a"))
	parent, err := e.CreateNode("", "parent", types.NodeKindFolder)
	require.NoError(t, err)
	child, err := e.CreateNode(parent, "child", types.NodeKindFolder)
	require.NoError(t, err)

	err = e.SetParent(parent, child)
	require.Error(t, err)
}

func TestConcurrentCrossReplicaMovesDontCreateCycle(t *testing.T) {
	a := New(types.ReplicaID("a"))
	b := New(types.ReplicaID("b"))

	folderA, err := a.CreateNode("", "a", types.NodeKindFolder)
	require.NoError(t, err)
	folderB, err := a.CreateNode("", "b", types.NodeKindFolder)
	require.NoError(t, err)
	syncOnce(t, a, b)

	// Each replica only sees its own graph, so each passes its own
	// local cycle check: a moves "a" under "b", b concurrently moves
	// "b" under "a". Merged together these would form a->b->a.
	require.NoError(t, a.SetParent(folderA, folderB))
	require.NoError(t, b.SetParent(folderB, folderA))

	syncOnce(t, a, b)

	aMeta, ok := a.Node(folderA)
	require.True(t, ok)
	aMetaB, ok := a.Node(folderB)
	require.True(t, ok)
	bMeta, ok := b.Node(folderA)
	require.True(t, ok)
	bMetaB, ok := b.Node(folderB)
	require.True(t, ok)

	require.Equal(t, aMeta.ParentID, bMeta.ParentID, "both replicas must converge on the same parent for a")
	require.Equal(t, aMetaB.ParentID, bMetaB.ParentID, "both replicas must converge on the same parent for b")

	// Whichever edge won, the result must be a tree: walking parent
	// pointers from either node must terminate at the root.
	for _, id := range []string{folderA, folderB} {
		seen := map[string]bool{}
		cur := id
		for cur != "" {
			require.False(t, seen[cur], "cycle detected while walking ancestry from %s", id)
			seen[cur] = true
			n, ok := a.Node(cur)
			require.True(t, ok)
			cur = n.ParentID
		}
	}
}

func TestCheckoutReturnsHistoricalView(t *testing.T) {
	e := New(types.ReplicaID("a"))
	fileID, err := e.CreateNode("", "f.txt", types.NodeKindFile)
	require.NoError(t, err)
	require.NoError(t, e.SetText(fileID, "v1"))
	midFrontiers := e.Frontiers()

	require.NoError(t, e.SetText(fileID, "v1 and more"))

	snap, err := e.Checkout(midFrontiers)
	require.NoError(t, err)
	text, ok := snap.Text(fileID)
	require.True(t, ok)
	require.Equal(t, "v1", text)

	live, err := e.GetText(fileID)
	require.NoError(t, err)
	require.Equal(t, "v1 and more", live)
}
