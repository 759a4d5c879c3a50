// Package docmodel implements DocumentManager: the single owner of a
// vault's replicated document. Every tree mutation, serialization, and
// version query the rest of the system needs goes through Manager; no
// other package touches an engine.Engine directly, mirroring the
// teacher's pattern of a single Manager owning its FSM and store.
package docmodel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robcohen/peervault/pkg/engine"
	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
	"github.com/robcohen/peervault/pkg/types"
)

// ImportOrigin tags where update bytes being imported came from.
// Local imports (replaying one's own exported state, e.g. after
// reloading a snapshot) never produce edit records; remote imports
// attribute every changed path to the sending peer.
type ImportOrigin struct {
	Local  bool
	PeerID string
}

// EditRecord is one observed remote edit, the raw material
// ConflictTracker accumulates per path.
type EditRecord struct {
	Path      string
	PeerID    string
	Timestamp time.Time
}

// ImportResult is what DocumentManager.Import reports back to its
// caller (SyncSession): which paths changed, and which remote edits
// were observed doing it.
type ImportResult struct {
	ChangedPaths []string
	Edits        []EditRecord
}

// Manager owns the single replicated document for a vault.
type Manager struct {
	mu     sync.Mutex
	eng    engine.Engine
	store  storage.Adapter
	broker *events.Broker
}

// New wraps an engine and a storage adapter. broker may be nil if the
// embedder doesn't need document-change notifications.
func New(eng engine.Engine, store storage.Adapter, broker *events.Broker) *Manager {
	return &Manager{eng: eng, store: store, broker: broker}
}

// Initialize opens the persisted snapshot if present, otherwise
// creates an empty document with a fresh vaultId.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.store.Read(ctx, storage.KeySnapshot)
	if err != nil {
		if peverr.Is(err, peverr.Transient) {
			return err
		}
		// Not found (or any non-transient read failure): start fresh.
		return m.eng.SetVaultID(uuid.NewString())
	}
	if _, err := m.eng.Import(snapshot); err != nil {
		return err
	}
	if m.eng.VaultID() == "" {
		return m.eng.SetVaultID(uuid.NewString())
	}
	return nil
}

// Save persists the current full state to storage under
// peervault-snapshot.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	full, err := m.eng.ExportFull()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.store.Write(ctx, storage.KeySnapshot, full)
}

func (m *Manager) GetVaultID() string {
	return m.eng.VaultID()
}

// DocumentSize returns the serialized size in bytes, satisfying
// metrics.DocumentSource.
func (m *Manager) DocumentSize() (int, error) {
	return m.eng.DocumentSize()
}

func (m *Manager) CurrentVersion() types.VersionVector {
	return m.eng.Version()
}

func (m *Manager) CurrentFrontiers() types.Frontiers {
	return m.eng.Frontiers()
}

// Compact discards op-log history dominated by cutoff, per
// GarbageCollector's compaction pass. It does not persist; the caller
// is expected to Save afterward.
func (m *Manager) Compact(cutoff types.VersionVector) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eng.Compact(cutoff)
}

// HistoryAsOf returns the version vector as of the most recent history
// entry at or before cutoff, the time-based floor GarbageCollector
// compacts against. false if every entry postdates cutoff (nothing is
// old enough yet).
func (m *Manager) HistoryAsOf(cutoff time.Time) (types.VersionVector, bool) {
	m.mu.Lock()
	count := m.eng.OpCount()
	entries := m.eng.History(count)
	m.mu.Unlock()

	for _, e := range entries {
		if !e.Timestamp.After(cutoff) {
			vv := make(types.VersionVector, len(e.Frontiers))
			for _, id := range e.Frontiers {
				if id.Clock > vv[id.Replica] {
					vv[id.Replica] = id.Clock
				}
			}
			return vv, true
		}
	}
	return nil, false
}

// GetVersionHistory returns up to limit history entries, newest first.
func (m *Manager) GetVersionHistory(limit int) []engine.HistoryEntry {
	return m.eng.History(limit)
}

// CheckoutToFrontiers returns a read-only view of the document at
// historical frontiers f without mutating the live document.
func (m *Manager) CheckoutToFrontiers(f types.Frontiers) (engine.Snapshot, error) {
	return m.eng.Checkout(f)
}

// ExportFull serializes the entire document.
func (m *Manager) ExportFull() ([]byte, error) {
	return m.eng.ExportFull()
}

// ExportDelta serializes the ops a peer at version from hasn't seen.
func (m *Manager) ExportDelta(from types.VersionVector) ([]byte, error) {
	return m.eng.ExportDelta(from)
}

// Import applies update bytes produced by ExportFull/ExportDelta,
// returning the changed paths and, for remote origins, one edit
// record per changed path attributing it to the sending peer.
func (m *Manager) Import(update []byte, origin ImportOrigin) (ImportResult, error) {
	m.mu.Lock()
	res, err := m.eng.Import(update)
	if err != nil {
		m.mu.Unlock()
		return ImportResult{}, err
	}
	paths := m.pathsForNodeIDsLocked(res.ChangedNodeIDs)
	m.mu.Unlock()

	result := ImportResult{ChangedPaths: paths}
	if !origin.Local {
		now := time.Now()
		result.Edits = make([]EditRecord, len(paths))
		for i, p := range paths {
			result.Edits[i] = EditRecord{Path: p, PeerID: origin.PeerID, Timestamp: now}
		}
	}
	m.emitChanged(paths)
	return result, nil
}

func (m *Manager) emitChanged(paths []string) {
	if m.broker == nil {
		return
	}
	for _, p := range paths {
		m.broker.Publish(&events.Event{Type: events.EventDocumentChanged, Path: p, Message: "document path changed"})
	}
}
