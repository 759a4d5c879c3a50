// Package conflict implements ConflictTracker: a sliding-window
// detector that flags a path as conflicted when edits from two or
// more distinct peers land within the same trailing window, grounded
// on an events.Broker subscribe/publish shape generalized
// from process-wide events to per-path conflict records.
package conflict

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
	"github.com/robcohen/peervault/pkg/types"
)

// Config bounds the tracker's memory and detection window.
type Config struct {
	WindowMS        int64
	MaxTrackedFiles int
	MaxConflicts    int
}

// DefaultConfig matches the source system's parameters.
func DefaultConfig() Config {
	return Config{WindowMS: 60_000, MaxTrackedFiles: 1000, MaxConflicts: 500}
}

type editEntry struct {
	peerID    string
	peerName  string
	timestamp time.Time
}

// Listener observes newly detected or updated conflicts. A listener
// that panics is recovered and logged; it does not stop delivery to
// the remaining listeners.
type Listener func(types.ConflictRecord)

// Tracker is the reference ConflictTracker implementation.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	recentEdits map[string][]editEntry      // path -> edits, newest appended last
	conflicts   map[string]*types.ConflictRecord // path -> conflict

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewTracker creates a Tracker with the given bounds.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:         cfg,
		recentEdits: make(map[string][]editEntry),
		conflicts:   make(map[string]*types.ConflictRecord),
		listeners:   make(map[int]Listener),
	}
}

// RecordEdit appends an edit for path by peerID, pruning entries
// older than 2xWINDOW and checking whether the path now has edits
// from >=2 distinct peers within WINDOW of timestamp ("now" for
// deterministic replay in tests). If so, it emits or updates that
// path's conflict and notifies every registered listener.
func (t *Tracker) RecordEdit(path, peerID, peerName string, timestamp time.Time) {
	t.mu.Lock()

	window := time.Duration(t.cfg.WindowMS) * time.Millisecond
	entries := append(t.recentEdits[path], editEntry{peerID, peerName, timestamp})
	entries = pruneOlderThan(entries, timestamp.Add(-2*window))
	t.recentEdits[path] = entries
	t.evictTrackedFilesLocked()

	cutoff := timestamp.Add(-window)
	peerNames := make(map[string]string)
	var first, last time.Time
	for _, e := range entries {
		if e.timestamp.Before(cutoff) {
			continue
		}
		peerNames[e.peerID] = e.peerName
		if first.IsZero() || e.timestamp.Before(first) {
			first = e.timestamp
		}
		if e.timestamp.After(last) {
			last = e.timestamp
		}
	}

	var notify *types.ConflictRecord
	if len(peerNames) >= 2 {
		notify = t.upsertConflictLocked(path, peerNames, first, last)
	}
	t.mu.Unlock()

	if notify != nil {
		t.dispatch(*notify)
	}
}

func pruneOlderThan(entries []editEntry, cutoff time.Time) []editEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if !e.timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// evictTrackedFilesLocked drops the 10% of tracked paths with the
// oldest latest-edit timestamp once recentEdits exceeds MaxTrackedFiles.
func (t *Tracker) evictTrackedFilesLocked() {
	if len(t.recentEdits) <= t.cfg.MaxTrackedFiles {
		return
	}
	type lastSeen struct {
		path string
		at   time.Time
	}
	seen := make([]lastSeen, 0, len(t.recentEdits))
	for path, entries := range t.recentEdits {
		if len(entries) == 0 {
			continue
		}
		seen = append(seen, lastSeen{path, entries[len(entries)-1].timestamp})
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i].at.Before(seen[j].at) })

	n := len(seen) / 10
	if n == 0 {
		n = 1
	}
	for i := 0; i < n && i < len(seen); i++ {
		delete(t.recentEdits, seen[i].path)
	}
}

// evictConflictsLocked drops resolved entries first (oldest-first),
// then unresolved (oldest-first), once conflicts exceeds MaxConflicts.
func (t *Tracker) evictConflictsLocked() {
	if len(t.conflicts) <= t.cfg.MaxConflicts {
		return
	}
	var resolved, unresolved []*types.ConflictRecord
	for _, c := range t.conflicts {
		if c.Resolved {
			resolved = append(resolved, c)
		} else {
			unresolved = append(unresolved, c)
		}
	}
	byLastEdit := func(s []*types.ConflictRecord) {
		sort.Slice(s, func(i, j int) bool { return s[i].LastEditAt.Before(s[j].LastEditAt) })
	}
	byLastEdit(resolved)
	byLastEdit(unresolved)

	n := len(t.conflicts) / 10
	if n == 0 {
		n = 1
	}
	drop := func(s []*types.ConflictRecord) {
		for _, c := range s {
			if n == 0 {
				return
			}
			delete(t.conflicts, c.Path)
			n--
		}
	}
	drop(resolved)
	drop(unresolved)
}

func (t *Tracker) upsertConflictLocked(path string, peerNames map[string]string, first, last time.Time) *types.ConflictRecord {
	peers := make([]string, 0, len(peerNames))
	for id := range peerNames {
		peers = append(peers, id)
	}
	sort.Strings(peers)

	c, ok := t.conflicts[path]
	if !ok {
		c = &types.ConflictRecord{ID: uuid.NewString(), Path: path, Kind: types.ConflictConcurrentEdit}
		t.conflicts[path] = c
		t.evictConflictsLocked()
		metrics.ConflictsTotal.WithLabelValues(string(c.Kind)).Inc()
	}
	c.Peers = peers
	c.FirstEditAt = first
	c.LastEditAt = last
	c.Resolved = false

	cp := *c
	return &cp
}

// GetConflict returns path's conflict if unresolved.
func (t *Tracker) GetConflict(path string) (types.ConflictRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conflicts[path]
	if !ok || c.Resolved {
		return types.ConflictRecord{}, false
	}
	return *c, true
}

// GetConflicts returns every unresolved conflict.
func (t *Tracker) GetConflicts() []types.ConflictRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.ConflictRecord, 0, len(t.conflicts))
	for _, c := range t.conflicts {
		if !c.Resolved {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ResolveConflict marks path's conflict resolved, retaining it for audit.
func (t *Tracker) ResolveConflict(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conflicts[path]; ok {
		c.Resolved = true
	}
}

// ClearConflicts discards every tracked conflict.
func (t *Tracker) ClearConflicts() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conflicts = make(map[string]*types.ConflictRecord)
}

// Reset discards all tracked edits and conflicts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recentEdits = make(map[string][]editEntry)
	t.conflicts = make(map[string]*types.ConflictRecord)
}

// OnConflict registers a listener, returning an unsubscribe func.
func (t *Tracker) OnConflict(cb Listener) func() {
	t.listenersMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = cb
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners, id)
		t.listenersMu.Unlock()
	}
}

func (t *Tracker) dispatch(rec types.ConflictRecord) {
	t.listenersMu.Lock()
	cbs := make([]Listener, 0, len(t.listeners))
	for _, cb := range t.listeners {
		cbs = append(cbs, cb)
	}
	t.listenersMu.Unlock()

	for _, cb := range cbs {
		t.invoke(cb, rec)
	}
}

func (t *Tracker) invoke(cb Listener, rec types.ConflictRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("conflict").Error().
				Interface("panic", r).
				Str("path", rec.Path).
				Msg("conflict listener panicked")
		}
	}()
	cb(rec)
}
