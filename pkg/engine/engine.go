// Package engine implements the pluggable CRDT engine trait DocumentManager
// drives (spec §9: "WASM-hosted CRDT engine -> pluggable engine trait") and
// ReplicaEngine, the reference implementation: an operation-log CRDT
// combining last-writer-wins registers for node metadata with a
// per-file RGA (Replicated Growable Array) for text content, grounded
// on the retrieval pack's gocrdt RGA implementation.
package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/types"
)

// Engine is the narrow contract DocumentManager drives. Any
// implementation satisfying the five merge-contract properties of
// spec §4.1 is substitutable; tests exercise this interface so a
// double is a legal replacement for ReplicaEngine.
type Engine interface {
	ExportFull() ([]byte, error)
	ExportDelta(from types.VersionVector) ([]byte, error)
	Import(update []byte) (ImportResult, error)
	Version() types.VersionVector
	Frontiers() types.Frontiers
	Checkout(f types.Frontiers) (Snapshot, error)
	History(limit int) []HistoryEntry
	Commit() error

	// Local mutation surface, driven by DocumentManager.
	CreateNode(parentID, name string, kind types.NodeKind) (string, error)
	SetName(nodeID, name string) error
	SetParent(nodeID, parentID string) error
	SetMimeType(nodeID, mimeType string) error
	SetBlobHash(nodeID, hash string, size int64) error
	SetText(nodeID, text string) error
	GetText(nodeID string) (string, error)
	SetDeleted(nodeID string, deleted bool) error
	Node(nodeID string) (types.NodeMeta, bool)
	AllNodes() []types.NodeMeta
	VaultID() string
	SetVaultID(id string) error
	DocumentSize() (int, error)
	Compact(cutoff types.VersionVector) int
	OpCount() int
}

// ImportResult is returned by Import: the set of node ids whose
// observable state changed as a result of applying update.
type ImportResult struct {
	ChangedNodeIDs []string
}

// ReplicaEngine is the reference Engine implementation.
type ReplicaEngine struct {
	mu sync.Mutex

	replica types.ReplicaID
	clock   uint64

	vaultID   regString
	nodes     map[string]*nodeState
	ops       []Op
	// version[r] is the highest clock of any op known from replica r,
	// for fast version/frontier lookups.
	version types.VersionVector
}

// New creates an empty ReplicaEngine for the given local replica identity.
func New(replica types.ReplicaID) *ReplicaEngine {
	return &ReplicaEngine{
		replica: replica,
		nodes:   make(map[string]*nodeState),
		version: make(types.VersionVector),
	}
}

func (e *ReplicaEngine) nextID() types.OpID {
	e.clock++
	return types.OpID{Clock: e.clock, Replica: e.replica}
}

// applyLocal appends an op produced locally, applies it, and advances
// this replica's version entry.
func (e *ReplicaEngine) applyLocal(op Op) error {
	if _, err := e.apply(op); err != nil {
		return err
	}
	e.ops = append(e.ops, op)
	if op.ID.Clock > e.version[op.ID.Replica] {
		e.version[op.ID.Replica] = op.ID.Clock
	}
	return nil
}

func (e *ReplicaEngine) VaultID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vaultID.value
}

// SetVaultID assigns the vault id once; per invariant I6 it is frozen
// at first commit and any attempt to change it fails.
func (e *ReplicaEngine) SetVaultID(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vaultID.writer != (types.OpID{}) {
		return peverr.Fatalf("vaultId is already set to %q", e.vaultID.value)
	}
	op := Op{ID: e.nextID(), Kind: OpSetVaultID, VaultID: id}
	return e.applyLocal(op)
}

func (e *ReplicaEngine) Version() types.VersionVector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version.Clone()
}

// OpCount returns the number of ops currently in the log, the limit a
// caller passes to History to walk the whole thing.
func (e *ReplicaEngine) OpCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ops)
}

// Frontiers returns one OpID per contributing replica at its current tip.
func (e *ReplicaEngine) Frontiers() types.Frontiers {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := make(types.Frontiers, 0, len(e.version))
	for r, c := range e.version {
		f = append(f, types.OpID{Clock: c, Replica: r})
	}
	return f.Sorted()
}

func (e *ReplicaEngine) Commit() error {
	// Local ops are applied and recorded eagerly; Commit is the hook
	// a storage-backed engine would use to flush a write-ahead buffer.
	// ReplicaEngine has no such buffer, so this is a no-op.
	return nil
}

// ExportFull serializes the entire op log.
func (e *ReplicaEngine) ExportFull() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(e.ops)
}

// ExportDelta serializes ops not yet reflected in from.
func (e *ReplicaEngine) ExportDelta(from types.VersionVector) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var delta []Op
	for _, op := range e.ops {
		if op.ID.Clock > from[op.ID.Replica] {
			delta = append(delta, op)
		}
	}
	return json.Marshal(delta)
}

// Import applies a serialized batch of ops (as produced by ExportFull
// or ExportDelta). Already-known ops are skipped (idempotence);
// ops whose causal dependency hasn't arrived yet are buffered until it
// does (commutativity/causal consistency), mirroring the reference RGA's
// pendingOrphans mechanism, generalized across node creation and text ops.
func (e *ReplicaEngine) Import(update []byte) (ImportResult, error) {
	var remoteOps []Op
	if err := json.Unmarshal(update, &remoteOps); err != nil {
		return ImportResult{}, peverr.MalformedWrap(err, "decode update")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[types.OpID]bool, len(e.ops))
	for _, op := range e.ops {
		known[op.ID] = true
	}

	var changed []string
	pending := remoteOps
	for len(pending) > 0 {
		progressed := false
		var stillPending []Op
		for _, op := range pending {
			if known[op.ID] {
				continue
			}
			ok, err := e.apply(op)
			if err != nil {
				if err == errOrphan {
					stillPending = append(stillPending, op)
					continue
				}
				return ImportResult{}, err
			}
			known[op.ID] = true
			e.ops = append(e.ops, op)
			if op.ID.Clock > e.version[op.ID.Replica] {
				e.version[op.ID.Replica] = op.ID.Clock
			}
			if op.ID.Clock > e.clock {
				e.clock = op.ID.Clock
			}
			progressed = true
			if ok && op.NodeID != "" {
				changed = append(changed, op.NodeID)
			}
		}
		if !progressed {
			// remaining ops depend on parents that never arrived in
			// this batch; they'll be retried on a future import.
			break
		}
		pending = stillPending
	}

	return ImportResult{ChangedNodeIDs: changed}, nil
}

func (e *ReplicaEngine) Node(nodeID string) (types.NodeMeta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[nodeID]
	if !ok {
		return types.NodeMeta{}, false
	}
	return n.toMeta(), true
}

func (e *ReplicaEngine) AllNodes() []types.NodeMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.NodeMeta, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, n.toMeta())
	}
	return out
}

func (e *ReplicaEngine) DocumentSize() (int, error) {
	b, err := e.ExportFull()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Compact discards every op dominated by cutoff (op.ID.Clock <=
// cutoff[op.ID.Replica]) from the log ExportFull/ExportDelta/History
// and Checkout replay from. Materialized node and text state is
// untouched: every surviving replica has already merged these ops
// (that's what makes cutoff safe to pass in), so discarding them only
// gives up the ability to Checkout a Frontiers point older than
// cutoff, which is exactly GarbageCollector's compaction trade.
func (e *ReplicaEngine) Compact(cutoff types.VersionVector) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.ops[:0]
	removed := 0
	for _, op := range e.ops {
		if op.ID.Clock <= cutoff[op.ID.Replica] {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	e.ops = kept
	return removed
}

func nowMillis() time.Time {
	return time.Now()
}
