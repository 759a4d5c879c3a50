package engine

import (
	"time"

	"github.com/robcohen/peervault/pkg/types"
)

// HistoryEntry is one point in the document's version history, as
// returned newest-first by History.
type HistoryEntry struct {
	Frontiers types.Frontiers
	PeerID    types.ReplicaID
	Lamport   uint64
	Timestamp time.Time
}

// History returns up to limit entries, newest first. Each entry's
// Frontiers is the version vector as of that op, so checking out an
// entry's Frontiers reproduces the document exactly as it stood
// immediately after that op was applied.
func (e *ReplicaEngine) History(limit int) []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || len(e.ops) == 0 {
		return nil
	}

	vv := make(types.VersionVector)
	snapshots := make([]types.VersionVector, len(e.ops))
	for i, op := range e.ops {
		if op.ID.Clock > vv[op.ID.Replica] {
			vv[op.ID.Replica] = op.ID.Clock
		}
		snapshots[i] = vv.Clone()
	}

	out := make([]HistoryEntry, 0, limit)
	for i := len(e.ops) - 1; i >= 0 && len(out) < limit; i-- {
		op := e.ops[i]
		f := make(types.Frontiers, 0, len(snapshots[i]))
		for r, c := range snapshots[i] {
			f = append(f, types.OpID{Clock: c, Replica: r})
		}
		out = append(out, HistoryEntry{
			Frontiers: f.Sorted(),
			PeerID:    op.ID.Replica,
			Lamport:   op.ID.Clock,
			Timestamp: op.Timestamp,
		})
	}
	return out
}
