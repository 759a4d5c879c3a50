package engine

import (
	"github.com/google/uuid"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/types"
)

// CreateNode creates a new tree entry under parentID (empty for the
// vault root) and returns its freshly assigned, never-reused id.
func (e *ReplicaEngine) CreateNode(parentID, name string, kind types.NodeKind) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if parentID != "" {
		if _, exists := e.nodes[parentID]; !exists {
			return "", peverr.Malformed("parent node %s does not exist", parentID)
		}
	}
	id := uuid.NewString()
	op := Op{
		ID: e.nextID(), Kind: OpCreateNode, NodeID: id,
		NodeKind: kind, ParentID: parentID, Name: name,
		CreatedAt: nowMillis(), Timestamp: nowMillis(),
	}
	if err := e.applyLocal(op); err != nil {
		return "", err
	}
	return id, nil
}

func (e *ReplicaEngine) SetName(nodeID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	op := Op{ID: e.nextID(), Kind: OpSetName, NodeID: nodeID, StrValue: name, Timestamp: nowMillis()}
	return e.applyLocal(op)
}

func (e *ReplicaEngine) SetParent(nodeID, parentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	if parentID != "" {
		if _, exists := e.nodes[parentID]; !exists {
			return peverr.Malformed("parent node %s does not exist", parentID)
		}
		if wouldCycle(e.nodes, nodeID, parentID) {
			return peverr.Fatalf("move of %s under %s would create a cycle", nodeID, parentID)
		}
	}
	op := Op{ID: e.nextID(), Kind: OpSetParent, NodeID: nodeID, StrValue: parentID, Timestamp: nowMillis()}
	return e.applyLocal(op)
}

// wouldCycle reports whether setting nodeID's parent to candidate
// would make nodeID its own ancestor against this replica's current
// graph. This only catches the single-replica case: two replicas can
// each pass this check locally (moving different nodes) and still
// produce a cycle once both moves merge. applyInner's ancestorClosingEdge
// catches that case against the converged graph at merge time.
func wouldCycle(nodes map[string]*nodeState, nodeID, candidate string) bool {
	cur := candidate
	for cur != "" {
		if cur == nodeID {
			return true
		}
		n, ok := nodes[cur]
		if !ok {
			return false
		}
		cur = n.parent.value
	}
	return false
}

func (e *ReplicaEngine) SetMimeType(nodeID, mimeType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	op := Op{ID: e.nextID(), Kind: OpSetMimeType, NodeID: nodeID, StrValue: mimeType, Timestamp: nowMillis()}
	return e.applyLocal(op)
}

func (e *ReplicaEngine) SetBlobHash(nodeID, hash string, size int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	op := Op{ID: e.nextID(), Kind: OpSetBlobHash, NodeID: nodeID, StrValue: hash, IntValue: size, Timestamp: nowMillis()}
	return e.applyLocal(op)
}

func (e *ReplicaEngine) SetDeleted(nodeID string, deleted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	op := Op{ID: e.nextID(), Kind: OpSetDeleted, NodeID: nodeID, BoolValue: deleted, Timestamp: nowMillis()}
	return e.applyLocal(op)
}

// SetText replaces a file node's visible content by diffing against
// the current RGA value and emitting insert/delete char ops for the
// difference. A line-level diff would be cheaper for large documents;
// DocumentManager's setTextContent is the only caller and already
// operates on whole-file granularity, so a character diff keeps this
// engine's merge contract (character-level commutativity) exact.
func (e *ReplicaEngine) SetText(nodeID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, exists := e.nodes[nodeID]
	if !exists {
		return peverr.Malformed("node %s does not exist", nodeID)
	}
	if n.kind != types.NodeKindFile {
		return peverr.Malformed("node %s is not a text file", nodeID)
	}

	current := []rune(n.text.Value())
	target := []rune(text)
	ops := diffToOps(e, nodeID, n.text, current, target)
	for _, op := range ops {
		if err := e.applyLocal(op); err != nil {
			return err
		}
	}
	return nil
}

type visibleChar struct {
	id    types.OpID
	value rune
}

func (r *rgaText) visibleEntries() []visibleChar {
	var out []visibleChar
	cur := r.root.next
	for cur != nil {
		if !cur.deleted {
			out = append(out, visibleChar{cur.id, cur.value})
		}
		cur = cur.next
	}
	return out
}

// diffToOps computes the minimal prefix/suffix-preserving edit from
// current to target and emits the insert/delete char ops to realize
// it. Preserving the longest common prefix and suffix (rather than a
// full LCS) is sufficient for the append/prepend/delete shapes real
// edits take, and keeps the concurrent-edit merge in spec §8 scenario
// 2 exact: both replicas' insertions anchor to content unaffected by
// the other's edit, so RGA's deterministic ordering retains both.
func diffToOps(e *ReplicaEngine, nodeID string, text *rgaText, current, target []rune) []Op {
	entries := text.visibleEntries()

	prefix := 0
	for prefix < len(current) && prefix < len(target) && current[prefix] == target[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(current)-prefix && suffix < len(target)-prefix &&
		current[len(current)-1-suffix] == target[len(target)-1-suffix] {
		suffix++
	}

	var ops []Op
	for i := prefix; i < len(entries)-suffix; i++ {
		ops = append(ops, Op{
			ID: e.nextID(), Kind: OpDeleteChar, NodeID: nodeID,
			CharID: entries[i].id, Timestamp: nowMillis(),
		})
	}

	var parentID types.OpID
	if prefix > 0 {
		parentID = entries[prefix-1].id
	}
	for i := prefix; i < len(target)-suffix; i++ {
		id := e.nextID()
		ops = append(ops, Op{
			ID: id, Kind: OpInsertChar, NodeID: nodeID,
			CharID: id, ParentCharID: parentID, CharValue: target[i],
			Timestamp: nowMillis(),
		})
		parentID = id
	}
	return ops
}

func (e *ReplicaEngine) GetText(nodeID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, exists := e.nodes[nodeID]
	if !exists {
		return "", peverr.Malformed("node %s does not exist", nodeID)
	}
	if n.text == nil {
		return "", peverr.Malformed("node %s is not a text file", nodeID)
	}
	return n.text.Value(), nil
}
