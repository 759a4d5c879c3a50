/*
Package events provides an in-memory event broker for PeerVault's
pub/sub notifications: peer lifecycle, sync completion, conflict
detection, and garbage collection all flow through one non-blocking
fan-out bus so UIs and logging can subscribe without coupling to the
components that produce these events.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop                                            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 50 each)                     │
	│                                                             │
	│  Event Types:                                              │
	│    Peer:      pairing-requested/accepted/denied,           │
	│               connected, disconnected, synced, error       │
	│    Status:    status.change                                │
	│    Conflict:  conflict.detected, conflict.resolved         │
	│    GC:        gc.completed                                 │
	│    Migration: migration.applied                            │
	└────────────────────────────────────────────────────────────┘

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventPeerSynced:
				log.Info().Str("peer", event.NodeID).Msg(event.Message)
			case events.EventConflictDetected:
				log.Warn().Str("path", event.Path).Msg(event.Message)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventPeerSynced,
		NodeID:  peerID,
		Message: "sync completed",
	})

# Delivery semantics

Publish is non-blocking and best-effort: a full subscriber buffer skips
that subscriber rather than stalling the broadcast loop, so a slow
subscriber (e.g. a UI that stopped reading) never backpressures
PeerManager's sync loop. Nothing here is durable — a subscriber that
needs a permanent audit trail must persist events itself as they
arrive, since Stop() does not flush to disk.
*/
package events
