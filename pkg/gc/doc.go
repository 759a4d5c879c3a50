// Package gc implements GarbageCollector: the compaction pass that
// prunes op-log history no longer needed for replay and reclaims
// blob storage no node references anymore.
//
// Compaction is optionally gated on peer consensus: when enabled, a
// cutoff is only trusted once every connected, trusted peer has
// already seen it, so running a compacted replica's ExportDelta
// against a peer that hasn't caught up never silently drops data that
// peer still needs.
package gc
