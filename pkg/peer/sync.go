package peer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/syncsession"
	"github.com/robcohen/peervault/pkg/types"
)

// SyncPeer ensures a session exists for nodeID and waits for it to
// reach idle (initial sync and blob catch-up complete). If a session
// is already live, it waits on that one rather than dialing a second
// connection.
func (m *Manager) SyncPeer(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	ps, live := m.sessions[nodeID]
	rec, known := m.roster[nodeID]
	ticket := m.tickets[nodeID]
	m.mu.Unlock()

	if !known {
		return peverr.Malformed("unknown peer %q", nodeID)
	}
	if !rec.Trusted {
		return peverr.Malformed("peer %q is not trusted", nodeID)
	}

	if !live {
		if ticket == "" {
			return peverr.Fatalf("no cached invite ticket for peer %q; cannot redial", nodeID)
		}
		m.setState(nodeID, types.PeerStateConnecting)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		stream, err := m.transport.Connect(connectCtx, ticket)
		cancel()
		if err != nil {
			m.setState(nodeID, types.PeerStateError)
			m.emitError(nodeID, err)
			return err
		}
		sess := syncsession.New(stream, m.docs, m.blobs, m.broker, m.docs.GetVaultID(), m.cfg.Session, m.recordEdits)
		ps = m.runSession(context.Background(), nodeID, sess)
	}

	select {
	case <-ps.sess.Idle():
		return nil
	case err := <-ps.done:
		return err
	case <-ctx.Done():
		return peverr.Cancel()
	}
}

// runSession registers sess under nodeID and drives it to completion
// in a background goroutine, returning the bookkeeping handle used by
// both inbound and outbound callers.
func (m *Manager) runSession(parent context.Context, nodeID string, sess *syncsession.Session) *peerSession {
	sessCtx, cancel := context.WithCancel(parent)
	ps := &peerSession{sess: sess, cancel: cancel, done: make(chan error, 1)}

	m.mu.Lock()
	m.sessions[nodeID] = ps
	m.mu.Unlock()

	m.setState(nodeID, types.PeerStateSyncing)
	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerConnected, NodeID: nodeID})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := sess.Run(sessCtx)
		m.onSessionDone(nodeID, sess, err)
		ps.done <- err
	}()
	return ps
}

func (m *Manager) onSessionDone(nodeID string, sess *syncsession.Session, err error) {
	m.mu.Lock()
	delete(m.sessions, nodeID)
	m.mu.Unlock()

	if err != nil {
		m.setState(nodeID, types.PeerStateError)
		m.emitError(nodeID, err)
	} else {
		m.recordSynced(nodeID, sess.LastPeerAck())
		m.setState(nodeID, types.PeerStateDisconnected)
	}
	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerDisconnected, NodeID: nodeID})
	}
}

// recordSynced marks nodeID as synced and records the version vector
// it last acknowledged, so GetPeerSyncStates reflects real progress
// instead of an always-zero placeholder.
func (m *Manager) recordSynced(nodeID string, ack types.VersionVector) {
	m.mu.Lock()
	rec, ok := m.roster[nodeID]
	if ok {
		rec.LastSyncedAt = time.Now()
		rec.State = types.PeerStateSynced
		if ack != nil {
			rec.LastSeenVersion = ack
		}
	}
	m.mu.Unlock()
	if ok && m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerSynced, NodeID: nodeID})
	}
}

// SyncAll runs SyncPeer concurrently across every trusted peer,
// bounded to cfg.MaxConcurrentSyncs in-flight at once. One peer's
// failure does not cancel the others' in-flight syncs; errors are
// logged, not returned.
func (m *Manager) SyncAll(ctx context.Context) error {
	limit := m.cfg.MaxConcurrentSyncs
	if limit <= 0 {
		limit = 8
	}

	peers := m.GetPeers()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, rec := range peers {
		if !rec.Trusted {
			continue
		}
		nodeID := rec.NodeID
		g.Go(func() error {
			if err := m.SyncPeer(gctx, nodeID); err != nil {
				m.logger.Warn().Err(err).Str("peer", nodeID).Msg("sync failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// GetPeerSyncStates returns every trusted peer's last-acknowledged
// version vector, the input GarbageCollector uses to compute the
// causal consensus floor for compaction. A trusted peer that has
// never synced is reported with an empty vector rather than omitted,
// so intersecting against it correctly floors compaction to "nothing
// yet" instead of silently skipping a peer GC doesn't know about.
func (m *Manager) GetPeerSyncStates() map[string]types.VersionVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.VersionVector, len(m.roster))
	for id, rec := range m.roster {
		if rec.Trusted {
			out[id] = rec.LastSeenVersion.Clone()
		}
	}
	return out
}

func (m *Manager) autosyncLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.AutoSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.SyncAll(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("autosync pass failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
