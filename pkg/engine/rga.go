package engine

import "github.com/robcohen/peervault/pkg/types"

// charNode is one element of a file's replicated text sequence,
// grounded directly on the retrieval pack's gocrdt RGA: a Lamport id,
// a tombstone flag instead of physical deletion, and a parent pointer
// used only during integration (not for traversal — traversal follows
// next, built by integrate's deterministic sibling ordering).
type charNode struct {
	id       types.OpID
	parentID types.OpID
	value    rune
	deleted  bool
	next     *charNode
}

// rgaText is a per-node Replicated Growable Array holding one file's
// collaborative text content. Every PeerVault file node owns one.
type rgaText struct {
	root           *charNode
	registry       map[types.OpID]*charNode
	pendingOrphans map[types.OpID][]pendingChar
}

type pendingChar struct {
	id       types.OpID
	parentID types.OpID
	value    rune
	deleted  bool
}

func newRGAText() *rgaText {
	root := &charNode{}
	return &rgaText{
		root:           root,
		registry:       map[types.OpID]*charNode{{}: root},
		pendingOrphans: make(map[types.OpID][]pendingChar),
	}
}

// insert integrates a remotely- or locally-produced character. It
// returns (true, nil) if the character was integrated now, or
// (false, nil) if it was buffered awaiting its parent (idempotent
// replay of an already-known id also returns false).
func (r *rgaText) insert(id, parentID types.OpID, value rune) (bool, error) {
	if _, exists := r.registry[id]; exists {
		return false, nil
	}
	return r.integrateOrBuffer(pendingChar{id: id, parentID: parentID, value: value}), nil
}

// tombstone marks a character deleted without removing it from the
// linked list, so concurrent operations referencing it still resolve.
func (r *rgaText) tombstone(id types.OpID) (bool, error) {
	n, ok := r.registry[id]
	if !ok {
		return false, nil
	}
	if n.deleted {
		return false, nil
	}
	n.deleted = true
	return true, nil
}

func (r *rgaText) integrateOrBuffer(c pendingChar) bool {
	parent, ok := r.registry[c.parentID]
	if !ok {
		r.pendingOrphans[c.parentID] = append(r.pendingOrphans[c.parentID], c)
		return false
	}
	node := &charNode{id: c.id, parentID: c.parentID, value: c.value, deleted: c.deleted}
	r.integrate(parent, node)

	if orphans, has := r.pendingOrphans[c.id]; has {
		delete(r.pendingOrphans, c.id)
		for _, child := range orphans {
			r.integrateOrBuffer(child)
		}
	}
	return true
}

// integrate performs the deterministic pointer-linking math: siblings
// sharing a parent are ordered by OpID so every replica converges to
// the same linearization regardless of arrival order. Every node
// directly after parent with a greater id (a greater sibling or one of
// its descendants, whose Lamport ids are greater still) is skipped, so
// a sibling's whole subtree stays contiguous.
func (r *rgaText) integrate(parent, newNode *charNode) {
	prev := parent
	current := parent.next
	for current != nil && current.id.Greater(newNode.id) {
		prev = current
		current = current.next
	}
	newNode.next = current
	prev.next = newNode
	r.registry[newNode.id] = newNode
}

// Value returns the linearized visible text, skipping tombstones.
func (r *rgaText) Value() string {
	var out []rune
	cur := r.root.next
	for cur != nil {
		if !cur.deleted {
			out = append(out, cur.value)
		}
		cur = cur.next
	}
	return string(out)
}

// clone deep-copies the text state into an independent rgaText.
// Checkout does not use it; it replays the op log instead.
func (r *rgaText) clone() *rgaText {
	out := newRGAText()
	cur := r.root.next
	var prevID types.OpID
	for cur != nil {
		out.integrateOrBuffer(pendingChar{id: cur.id, parentID: cur.parentID, value: cur.value, deleted: cur.deleted})
		prevID = cur.id
		cur = cur.next
	}
	_ = prevID
	return out
}
