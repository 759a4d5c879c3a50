// Package peer implements PeerManager: the roster of known peers, the
// invite-ticket pairing flow, and the scheduling of per-peer
// pkg/syncsession.Session instances over pkg/transport.
//
// PeerManager owns at most one live Session per roster entry. It
// accepts inbound connections, pins them against the roster by
// certificate fingerprint, and dials outbound connections either on
// demand (SyncPeer/SyncAll) or on an autosync timer. MalformedInput
// and Fatal errors surfaced by a Session bubble here, per spec's
// propagation policy, and the offending peer is marked errored rather
// than silently retried.
package peer
