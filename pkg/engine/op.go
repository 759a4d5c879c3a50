package engine

import (
	"errors"
	"time"

	"github.com/robcohen/peervault/pkg/types"
)

// OpKind tags the variant of a replicated operation.
type OpKind string

const (
	OpSetVaultID  OpKind = "set-vault-id"
	OpCreateNode  OpKind = "create-node"
	OpSetName     OpKind = "set-name"
	OpSetParent   OpKind = "set-parent"
	OpSetMimeType OpKind = "set-mime-type"
	OpSetBlobHash OpKind = "set-blob-hash"
	OpSetDeleted  OpKind = "set-deleted"
	OpInsertChar  OpKind = "insert-char"
	OpDeleteChar  OpKind = "delete-char"
)

// Op is one entry in a replica's operation log. Only the fields
// relevant to Kind are populated; this flattened shape (rather than a
// Go interface per kind) keeps JSON encoding simple and matches the
// teacher's own flattened Command{Op, Data} pattern in its FSM.
type Op struct {
	ID        types.OpID `json:"id"`
	Kind      OpKind     `json:"kind"`
	NodeID    string     `json:"nodeId,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	// set-vault-id
	VaultID string `json:"vaultId,omitempty"`

	// create-node
	NodeKind  types.NodeKind `json:"nodeKind,omitempty"`
	ParentID  string         `json:"parentId,omitempty"`
	Name      string         `json:"name,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`

	// set-name / set-parent / set-mime-type / set-blob-hash
	StrValue string `json:"strValue,omitempty"`
	IntValue int64  `json:"intValue,omitempty"`

	// set-deleted
	BoolValue bool `json:"boolValue,omitempty"`

	// insert-char / delete-char (within NodeID's text)
	CharID       types.OpID `json:"charId,omitempty"`
	ParentCharID types.OpID `json:"parentCharId,omitempty"`
	CharValue    rune       `json:"charValue,omitempty"`
}

// errOrphan signals that op's causal parent hasn't been integrated
// yet; the caller buffers it and retries after more ops land.
var errOrphan = errors.New("op is a causal orphan")

// ancestorClosingEdge walks candidate's current parent chain looking
// for nodeID. Concurrent moves validate against cycles locally (see
// wouldCycle), but two replicas can each pass their own local check
// and still produce a cycle once both moves are merged — e.g. replica
// A moves X under Y while replica B concurrently moves Y under X.
// Detecting that here, against the converged graph, is what closes
// that gap: if the chain from candidate reaches nodeID, setting
// nodeID's parent to candidate would close a loop. It returns the id
// of the node whose existing parent edge closes that loop and the
// OpID that wrote it, so applyInner can break the tie by total order
// the same way every replica will. The visited set guards against an
// already-corrupt graph turning this walk into an infinite loop.
func (e *ReplicaEngine) ancestorClosingEdge(nodeID, candidate string) (closingNode string, closingWriter types.OpID, found bool) {
	n, ok := e.nodes[candidate]
	if !ok {
		return "", types.OpID{}, false
	}
	visited := map[string]bool{candidate: true}
	prev := candidate
	cur := n.parent.value
	for cur != "" {
		if cur == nodeID {
			return prev, e.nodes[prev].parent.writer, true
		}
		if visited[cur] {
			return prev, types.OpID{}, true
		}
		visited[cur] = true
		next, ok := e.nodes[cur]
		if !ok {
			return "", types.OpID{}, false
		}
		prev = cur
		cur = next.parent.value
	}
	return "", types.OpID{}, false
}

// apply applies a single op to engine state. The bool return reports
// whether the op produced an observable change (used to decide
// whether to report the node as changed to the caller).
func (e *ReplicaEngine) apply(op Op) (bool, error) {
	changed, err := e.applyInner(op)
	if changed && op.NodeID != "" {
		if n := e.nodes[op.NodeID]; n != nil {
			n.touch(op.Timestamp)
		}
	}
	return changed, err
}

func (e *ReplicaEngine) applyInner(op Op) (bool, error) {
	switch op.Kind {
	case OpSetVaultID:
		return e.vaultID.apply(op.VaultID, op.ID), nil

	case OpCreateNode:
		if _, exists := e.nodes[op.NodeID]; exists {
			return false, nil // idempotent replay
		}
		if op.ParentID != "" {
			if _, exists := e.nodes[op.ParentID]; !exists {
				return false, errOrphan
			}
		}
		n := newNodeState(op.NodeID, op.NodeKind, op.CreatedAt)
		n.parent.apply(op.ParentID, op.ID)
		n.name.apply(op.Name, op.ID)
		e.nodes[op.NodeID] = n
		return true, nil

	case OpSetName:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		return n.name.apply(op.StrValue, op.ID), nil

	case OpSetParent:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		if op.StrValue != "" {
			if op.StrValue == op.NodeID {
				return false, nil // a node can never be its own parent
			}
			if _, exists := e.nodes[op.StrValue]; !exists {
				return false, errOrphan
			}
			if closingNode, closingWriter, wouldCycle := e.ancestorClosingEdge(op.NodeID, op.StrValue); wouldCycle {
				if !op.ID.Greater(closingWriter) {
					// The edge already in the tree was written more
					// recently than this move; drop the move instead
					// of closing the loop. Both replicas detect the
					// same closing edge from the converged graph, so
					// they reach the same verdict regardless of which
					// op they merged first.
					return false, nil
				}
				// This move outranks the edge that would have closed
				// the loop: detach it so the graph stays a tree.
				e.nodes[closingNode].parent = regString{writer: op.ID}
			}
		}
		return n.parent.apply(op.StrValue, op.ID), nil

	case OpSetMimeType:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		return n.mimeType.apply(op.StrValue, op.ID), nil

	case OpSetBlobHash:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		changedHash := n.blobHash.apply(op.StrValue, op.ID)
		changedSize := n.size.apply(op.IntValue, op.ID)
		return changedHash || changedSize, nil

	case OpSetDeleted:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		return n.deleted.apply(op.BoolValue, op.ID), nil

	case OpInsertChar:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		return n.text.insert(op.CharID, op.ParentCharID, op.CharValue)

	case OpDeleteChar:
		n := e.nodes[op.NodeID]
		if n == nil {
			return false, errOrphan
		}
		return n.text.tombstone(op.CharID)

	default:
		return false, nil
	}
}
