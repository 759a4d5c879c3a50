// Package engine implements PeerVault's replicated document model: a
// tree of vault nodes whose metadata fields merge with last-writer-wins
// semantics and whose file content merges character-by-character via a
// per-node RGA (Replicated Growable Array). The Engine interface is the
// narrow, swappable contract DocumentManager drives; ReplicaEngine is
// the reference implementation, grounded on the retrieval pack's gocrdt
// RGA generalized from one whole-document sequence to one sequence per
// file node plus a separate LWW-register tree.
package engine
