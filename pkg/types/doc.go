/*
Package types defines the core data structures shared across PeerVault.

This package has no behavior of its own: it holds the replicated
document model's primitives (VersionVector, Frontiers, OpID, NodeMeta),
the peer roster record (PeerRecord), and the records other components
persist or exchange on the wire (ConflictRecord, BlobMeta, GCResult,
VaultEvent). Invite tickets themselves are parsed and signed by
pkg/transport, which owns their wire shape.

All types are JSON-serializable, since every storage record and wire
frame in this module is encoded with encoding/json.
*/
package types
