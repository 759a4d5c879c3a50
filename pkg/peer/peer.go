package peer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robcohen/peervault/pkg/blobstore"
	"github.com/robcohen/peervault/pkg/conflict"
	"github.com/robcohen/peervault/pkg/docmodel"
	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
	"github.com/robcohen/peervault/pkg/syncsession"
	"github.com/robcohen/peervault/pkg/transport"
	"github.com/robcohen/peervault/pkg/types"
)

// Config tunes a Manager's session defaults and scheduling.
type Config struct {
	// AutoSyncInterval re-invokes SyncAll on this period when
	// positive. Zero relies entirely on unsolicited update frames
	// produced by local edits.
	AutoSyncInterval time.Duration

	// MaxConcurrentSyncs bounds SyncAll's fan-out.
	MaxConcurrentSyncs int

	// Session is handed to every syncsession.Session this Manager
	// creates.
	Session syncsession.Config
}

// DefaultConfig returns a Config with sane defaults and autosync
// disabled.
func DefaultConfig(localNodeID string) Config {
	return Config{
		MaxConcurrentSyncs: 8,
		Session:            syncsession.DefaultConfig(localNodeID),
	}
}

// TrustPrompt lets the embedder approve or deny a newly discovered
// peer out of band. The pairing ceremony itself is left to the
// embedder; TrustPrompt is the hook it uses to drive an Accept/Deny
// UI. A nil TrustPrompt auto-accepts
// every pairing request.
type TrustPrompt func(candidate types.PeerRecord) bool

// rosterEntry is the persisted shape backing storage.KeyPeers: the
// public PeerRecord plus the raw invite ticket needed to redial,
// since transport.Transport.Connect takes a ticket rather than a bare
// address. The ticket is internal bookkeeping, not
// part of the peer record the rest of the system observes.
type rosterEntry struct {
	Record types.PeerRecord `json:"record"`
	Ticket string           `json:"ticket"`
}

type peerSession struct {
	sess   *syncsession.Session
	cancel context.CancelFunc
	done   chan error
}

// Manager is the reference PeerManager: roster, pairing, and
// scheduling of per-peer sync sessions, grounded on a TokenManager
// roster-map-plus-mutex shape generalized from ephemeral join tokens
// to a persisted peer roster.
type Manager struct {
	cfg Config

	transport transport.Transport
	docs      *docmodel.Manager
	blobs     *blobstore.Store
	store     storage.Adapter
	broker    *events.Broker
	conflicts *conflict.Tracker
	trust     TrustPrompt
	logger    zerolog.Logger

	mu       sync.Mutex
	roster   map[string]*types.PeerRecord
	tickets  map[string]string
	sessions map[string]*peerSession

	wg             sync.WaitGroup
	acceptCancel   context.CancelFunc
	autosyncCancel context.CancelFunc
}

// New wires a Manager around its collaborators. conflicts and trust
// may be nil: without a Tracker, remote edits are simply not recorded
// for conflict detection; without a TrustPrompt, pairing auto-accepts.
func New(cfg Config, t transport.Transport, docs *docmodel.Manager, blobs *blobstore.Store, store storage.Adapter, broker *events.Broker, conflicts *conflict.Tracker, trust TrustPrompt) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: t,
		docs:      docs,
		blobs:     blobs,
		store:     store,
		broker:    broker,
		conflicts: conflicts,
		trust:     trust,
		logger:    log.WithComponent("peer"),
		roster:    make(map[string]*types.PeerRecord),
		tickets:   make(map[string]string),
		sessions:  make(map[string]*peerSession),
	}
}

// Initialize loads the peer roster from storage, starts the
// transport, and begins accepting inbound connections (and, if
// configured, the autosync loop).
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.transport.Initialize(ctx); err != nil {
		return err
	}
	if err := m.loadRoster(ctx); err != nil {
		return err
	}

	acceptCtx, acceptCancel := context.WithCancel(context.Background())
	m.acceptCancel = acceptCancel
	m.wg.Add(1)
	go m.acceptLoop(acceptCtx)

	if m.cfg.AutoSyncInterval > 0 {
		autoCtx, autoCancel := context.WithCancel(context.Background())
		m.autosyncCancel = autoCancel
		m.wg.Add(1)
		go m.autosyncLoop(autoCtx)
	}
	return nil
}

// Shutdown cancels the accept and autosync loops, drains every live
// session (bounded by a cancellation deadline), persists the
// roster, and releases the transport.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.acceptCancel != nil {
		m.acceptCancel()
	}
	if m.autosyncCancel != nil {
		m.autosyncCancel()
	}

	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.sessions))
	for _, ps := range m.sessions {
		sessions = append(sessions, ps)
	}
	m.mu.Unlock()

	for _, ps := range sessions {
		ps.cancel()
		select {
		case <-ps.done:
		case <-time.After(5 * time.Second):
		}
	}
	m.wg.Wait()

	if err := m.saveRoster(ctx); err != nil {
		return err
	}
	return m.transport.Shutdown(ctx)
}

// GetPeers returns a snapshot of the full roster.
func (m *Manager) GetPeers() []types.PeerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PeerRecord, 0, len(m.roster))
	for _, rec := range m.roster {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GetPeer returns one roster entry by node id.
func (m *Manager) GetPeer(nodeID string) (types.PeerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.roster[nodeID]
	if !ok {
		return types.PeerRecord{}, false
	}
	return *rec, true
}

// RemovePeer closes any live session for nodeID and deletes its
// roster entry.
func (m *Manager) RemovePeer(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	ps, hasSession := m.sessions[nodeID]
	_, hasRecord := m.roster[nodeID]
	delete(m.roster, nodeID)
	delete(m.tickets, nodeID)
	delete(m.sessions, nodeID)
	m.mu.Unlock()

	if !hasRecord {
		return peverr.Malformed("unknown peer %q", nodeID)
	}
	if hasSession {
		ps.cancel()
		<-ps.done
	}
	return m.saveRoster(ctx)
}

// GenerateInvite issues an opaque ticket bound to the local node id.
func (m *Manager) GenerateInvite() (string, error) {
	return m.transport.GenerateInvite()
}

// PeerCountsByState satisfies metrics.PeerSource.
func (m *Manager) PeerCountsByState() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.roster {
		counts[string(rec.State)]++
	}
	return counts
}

func (m *Manager) loadRoster(ctx context.Context) error {
	raw, err := m.store.Read(ctx, storage.KeyPeers)
	if err != nil {
		if peverr.Is(err, peverr.Transient) {
			return err
		}
		return nil // no roster persisted yet
	}
	var entries []rosterEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return peverr.MalformedWrap(err, "unmarshal peer roster")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		rec := entries[i].Record
		rec.State = types.PeerStateDisconnected // no live session survives a restart
		m.roster[rec.NodeID] = &rec
		if entries[i].Ticket != "" {
			m.tickets[rec.NodeID] = entries[i].Ticket
		}
	}
	return nil
}

func (m *Manager) saveRoster(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]rosterEntry, 0, len(m.roster))
	for id, rec := range m.roster {
		entries = append(entries, rosterEntry{Record: *rec, Ticket: m.tickets[id]})
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Record.NodeID < entries[j].Record.NodeID })
	raw, err := json.Marshal(entries)
	if err != nil {
		return peverr.Fatalf("marshal peer roster: %v", err)
	}
	return m.store.Write(ctx, storage.KeyPeers, raw)
}

func (m *Manager) setState(nodeID string, state types.PeerState) {
	m.mu.Lock()
	rec, ok := m.roster[nodeID]
	if ok {
		rec.State = state
		rec.LastSeen = time.Now()
	}
	m.mu.Unlock()
	if ok && m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventStatusChange, NodeID: nodeID, Message: string(state)})
	}
}

func (m *Manager) emitError(nodeID string, err error) {
	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventPeerError, NodeID: nodeID, Message: err.Error()})
	}
}

// recordEdits feeds remote edits observed by a Session into the
// conflict tracker, decoupling pkg/syncsession from pkg/conflict.
func (m *Manager) recordEdits(edits []docmodel.EditRecord) {
	if m.conflicts == nil {
		return
	}
	for _, e := range edits {
		peerName := e.PeerID
		if rec, ok := m.GetPeer(e.PeerID); ok && rec.Nickname != "" {
			peerName = rec.Nickname
		}
		m.conflicts.RecordEdit(e.Path, e.PeerID, peerName, e.Timestamp)
	}
}
