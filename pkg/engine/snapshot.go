package engine

import (
	"strings"

	"github.com/robcohen/peervault/pkg/types"
)

// Snapshot is a read-only historical view produced by Checkout. It
// never aliases the live engine's state: Checkout replays the op log
// into a fresh, unlocked tree rather than returning a pointer into the
// document being edited, so a long-lived Snapshot cannot block or be
// corrupted by concurrent local mutation.
type Snapshot struct {
	VaultID string
	Paths   map[string]types.NodeMeta
	texts   map[string]string
}

// Text returns a file node's content as of this snapshot.
func (s Snapshot) Text(nodeID string) (string, bool) {
	t, ok := s.texts[nodeID]
	return t, ok
}

// Checkout replays the op log up to the version vector implied by f
// into a throwaway engine and returns the resulting tree as a
// Snapshot. Ops whose causal parent falls outside f are buffered the
// same way Import buffers them and simply never integrate, which is
// the correct historical behavior: a frontier is only ever requested
// for a point the exporting replica itself once reached, so every
// dependency of a kept op is guaranteed to already be kept.
func (e *ReplicaEngine) Checkout(f types.Frontiers) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := make(types.VersionVector, len(f))
	for _, id := range f {
		if id.Clock > target[id.Replica] {
			target[id.Replica] = id.Clock
		}
	}

	temp := &ReplicaEngine{nodes: make(map[string]*nodeState), version: make(types.VersionVector)}

	pending := make([]Op, 0, len(e.ops))
	for _, op := range e.ops {
		if op.ID.Clock <= target[op.ID.Replica] {
			pending = append(pending, op)
		}
	}

	for len(pending) > 0 {
		progressed := false
		var stillPending []Op
		for _, op := range pending {
			if _, err := temp.apply(op); err != nil {
				if err == errOrphan {
					stillPending = append(stillPending, op)
					continue
				}
				return Snapshot{}, err
			}
			progressed = true
		}
		if !progressed {
			break
		}
		pending = stillPending
	}

	return newSnapshot(temp), nil
}

func newSnapshot(e *ReplicaEngine) Snapshot {
	paths := make(map[string]types.NodeMeta, len(e.nodes))
	texts := make(map[string]string)
	for id, n := range e.nodes {
		paths[pathOf(e.nodes, id)] = n.toMeta()
		if n.text != nil {
			texts[id] = n.text.Value()
		}
	}
	return Snapshot{VaultID: e.vaultID.value, Paths: paths, texts: texts}
}

// pathOf derives a node's slash-separated path by walking parent
// registers to the root. Concurrent moves can leave this path
// ambiguous at the name level (invariant I5 treats that as an
// advisory conflict, not an error), so this is a best-effort display
// path, not a stable identifier — nodeID remains that.
func pathOf(nodes map[string]*nodeState, id string) string {
	var parts []string
	cur := id
	for cur != "" {
		n, ok := nodes[cur]
		if !ok {
			break
		}
		parts = append([]string{n.name.value}, parts...)
		cur = n.parent.value
	}
	return "/" + strings.Join(parts, "/")
}
