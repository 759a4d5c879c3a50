package engine

import (
	"time"

	"github.com/robcohen/peervault/pkg/types"
)

// regString/regBool/regInt64 are last-writer-wins registers tagged by
// the OpID of their last writer; ties are broken the same way
// concurrent RGA siblings are (higher clock, then replica), so every
// replica's registers converge to the same value regardless of
// application order.
type regString struct {
	value  string
	writer types.OpID
}

func (r *regString) apply(v string, id types.OpID) bool {
	if r.writer != (types.OpID{}) && !id.Greater(r.writer) {
		return false
	}
	r.value, r.writer = v, id
	return true
}

type regBool struct {
	value  bool
	writer types.OpID
}

func (r *regBool) apply(v bool, id types.OpID) bool {
	if r.writer != (types.OpID{}) && !id.Greater(r.writer) {
		return false
	}
	r.value, r.writer = v, id
	return true
}

type regInt64 struct {
	value  int64
	writer types.OpID
}

func (r *regInt64) apply(v int64, id types.OpID) bool {
	if r.writer != (types.OpID{}) && !id.Greater(r.writer) {
		return false
	}
	r.value, r.writer = v, id
	return true
}

// nodeState is the replicated record for one vault tree entry. kind
// and createdAt are immutable after creation (invariant I2); every
// other field is an LWW register, except file content which is backed
// by a per-node RGA for character-level merge.
type nodeState struct {
	id        string
	kind      types.NodeKind
	createdAt time.Time

	parent   regString
	name     regString
	mimeType regString
	blobHash regString
	deleted  regBool
	size     regInt64
	mtime    time.Time // highest op timestamp applied to this node so far

	text *rgaText // non-nil only for NodeKindFile
}

// touch advances mtime monotonically with each applied op, satisfying
// invariant I3 (ctime <= mtime) since createdAt is fixed at construction.
func (n *nodeState) touch(at time.Time) {
	if at.After(n.mtime) {
		n.mtime = at
	}
}

func newNodeState(id string, kind types.NodeKind, createdAt time.Time) *nodeState {
	n := &nodeState{id: id, kind: kind, createdAt: createdAt}
	if kind == types.NodeKindFile {
		n.text = newRGAText()
	}
	return n
}

func (n *nodeState) toMeta() types.NodeMeta {
	m := types.NodeMeta{
		ID:         n.id,
		Kind:       n.kind,
		ParentID:   n.parent.value,
		Name:       n.name.value,
		MimeType:   n.mimeType.value,
		BlobHash:   n.blobHash.value,
		Size:       n.size.value,
		CreatedAt:  n.createdAt,
		Deleted:    n.deleted.value,
	}
	if n.text != nil {
		m.Size = int64(len(n.text.Value()))
	}
	if n.mtime.IsZero() {
		m.ModifiedAt = n.createdAt
	} else {
		m.ModifiedAt = n.mtime
	}
	return m
}

func (n *nodeState) clone() *nodeState {
	out := &nodeState{
		id: n.id, kind: n.kind, createdAt: n.createdAt, mtime: n.mtime,
		parent: n.parent, name: n.name, mimeType: n.mimeType,
		blobHash: n.blobHash, deleted: n.deleted, size: n.size,
	}
	if n.text != nil {
		out.text = n.text.clone()
	}
	return out
}
