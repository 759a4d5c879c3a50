// Package syncsession drives the per-peer wire protocol over an
// already-connected pkg/transport.Stream: handshake, initial
// version-vector exchange, blob catch-up, then a steady state of
// incremental updates and acks until the stream disconnects or the
// caller cancels.
//
// A Session never dials or accepts a connection itself — PeerManager
// owns that via pkg/transport — and never touches pkg/conflict
// directly, reporting remote edits through an optional callback
// instead so the two packages can evolve independently.
package syncsession
