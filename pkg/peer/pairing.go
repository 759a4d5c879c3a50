package peer

import (
	"context"
	"time"

	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/syncsession"
	"github.com/robcohen/peervault/pkg/transport"
	"github.com/robcohen/peervault/pkg/types"
)

// AddPeer parses ticket, records an untrusted roster entry, and asks
// the local TrustPrompt to accept or deny it (auto-accept if none is
// configured). Accepted peers are marked Trusted and an initial sync
// is kicked off; the mutual handshake runs inside that sync's session,
// after the trust decision.
func (m *Manager) AddPeer(ctx context.Context, ticket, nickname string) (types.PeerRecord, error) {
	parsed, err := transport.ParseTicket(ticket)
	if err != nil {
		return types.PeerRecord{}, peverr.MalformedWrap(err, "parse invite ticket")
	}
	if parsed.NodeID == m.transport.NodeID() {
		return types.PeerRecord{}, peverr.Malformed("cannot pair with self")
	}

	m.mu.Lock()
	if existing, ok := m.roster[parsed.NodeID]; ok {
		m.mu.Unlock()
		return *existing, nil
	}
	rec := &types.PeerRecord{
		NodeID:          parsed.NodeID,
		Nickname:        nickname,
		Addresses:       parsed.Addresses,
		CertFingerprint: parsed.Fingerprint,
		State:           types.PeerStateDisconnected,
		FirstSeen:       time.Now(),
	}
	m.roster[parsed.NodeID] = rec
	m.tickets[parsed.NodeID] = ticket
	m.mu.Unlock()

	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerPairingRequested, NodeID: rec.NodeID})
	}

	accept := true
	if m.trust != nil {
		accept = m.trust(*rec)
	}

	m.mu.Lock()
	rec.Trusted = accept
	m.mu.Unlock()

	if !accept {
		if m.broker != nil {
			m.broker.Publish(&events.Event{Type: events.EventPeerPairingDenied, NodeID: rec.NodeID})
		}
		if err := m.saveRoster(ctx); err != nil {
			return *rec, err
		}
		return *rec, nil
	}

	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerPairingAccepted, NodeID: rec.NodeID})
	}
	if err := m.saveRoster(ctx); err != nil {
		return *rec, err
	}

	if err := m.SyncPeer(ctx, rec.NodeID); err != nil {
		m.logger.Warn().Err(err).Str("peer", rec.NodeID).Msg("initial sync after pairing failed")
	}
	out, _ := m.GetPeer(rec.NodeID)
	return out, nil
}

// acceptLoop accepts inbound transport connections and pins each one
// against the roster by certificate fingerprint.
func (m *Manager) acceptLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		stream, err := m.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		go m.handleInbound(ctx, stream)
	}
}

func (m *Manager) handleInbound(ctx context.Context, stream transport.Stream) {
	fp, ok := stream.(transport.FingerprintedStream)
	if !ok {
		_ = stream.Close()
		return
	}
	fingerprint := fp.PeerCertFingerprint()

	m.mu.Lock()
	var nodeID string
	var trusted bool
	for id, rec := range m.roster {
		if rec.CertFingerprint == fingerprint {
			nodeID = id
			trusted = rec.Trusted
			break
		}
	}
	m.mu.Unlock()

	if nodeID == "" || !trusted {
		m.logger.Warn().Str("fingerprint", fingerprint).Msg("rejecting inbound connection from unpaired or untrusted peer")
		_ = stream.Close()
		return
	}

	m.mu.Lock()
	if _, live := m.sessions[nodeID]; live {
		m.mu.Unlock()
		_ = stream.Close() // one live session per peer; the existing one wins
		return
	}
	m.mu.Unlock()

	sess := syncsession.New(stream, m.docs, m.blobs, m.broker, m.docs.GetVaultID(), m.cfg.Session, m.recordEdits)
	m.runSession(ctx, nodeID, sess)
}
