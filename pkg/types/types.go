package types

import (
	"fmt"
	"sort"
	"time"
)

// ReplicaID identifies a single vault replica (one device/install of a peer).
type ReplicaID string

// VersionVector maps each replica that has contributed operations to the
// highest Lamport clock value seen from that replica.
type VersionVector map[ReplicaID]uint64

// Clone returns a deep copy of the vector.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Dominates reports whether v has seen everything other has seen.
func (v VersionVector) Dominates(other VersionVector) bool {
	for replica, clock := range other {
		if v[replica] < clock {
			return false
		}
	}
	return true
}

// Equal reports whether the two vectors agree on every replica's clock.
func (v VersionVector) Equal(other VersionVector) bool {
	if len(v) != len(other) {
		return false
	}
	for replica, clock := range v {
		if other[replica] != clock {
			return false
		}
	}
	return true
}

// Merge returns the pointwise maximum of v and other, used when joining
// two peers' views of history (spec invariant: merge is commutative and
// associative regardless of arrival order).
func (v VersionVector) Merge(other VersionVector) VersionVector {
	out := v.Clone()
	for replica, clock := range other {
		if clock > out[replica] {
			out[replica] = clock
		}
	}
	return out
}

// Frontiers is the set of operation IDs with no known causal successor —
// the CRDT equivalent of "HEAD" in a version-vector history.
type Frontiers []OpID

// Sorted returns a copy ordered for deterministic comparison/serialization.
func (f Frontiers) Sorted() Frontiers {
	out := make(Frontiers, len(f))
	copy(out, f)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Replica != out[j].Replica {
			return out[i].Replica < out[j].Replica
		}
		return out[i].Clock < out[j].Clock
	})
	return out
}

// OpID is a Lamport identifier: (logical clock, replica) gives every
// operation a total order that every replica agrees on once merged.
type OpID struct {
	Clock   uint64
	Replica ReplicaID
}

// Greater implements the tie-break used to linearize concurrent siblings:
// higher clock wins, replica ID breaks ties so all replicas converge.
func (id OpID) Greater(other OpID) bool {
	if id.Clock != other.Clock {
		return id.Clock > other.Clock
	}
	return id.Replica > other.Replica
}

func (id OpID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Replica)
}

// NodeKind distinguishes the three kinds of vault tree node.
type NodeKind string

const (
	NodeKindFile   NodeKind = "file"
	NodeKindFolder NodeKind = "folder"
	NodeKindBinary NodeKind = "binary"
)

// NodeMeta is the replicated metadata record for one vault tree entry.
// Path-affecting fields (ParentID, Name), the payload fields and the
// Deleted flag all use last-writer-wins register semantics inside the
// engine. Deleting a node sets that flag rather than removing the node,
// so a later write of Deleted=false restores it.
type NodeMeta struct {
	ID         string    `json:"id"`
	Kind       NodeKind  `json:"kind"`
	ParentID   string    `json:"parentId"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	BlobHash   string    `json:"blobHash,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Deleted    bool      `json:"deleted"`
}

// PeerState is the transient connection state of a roster entry,
// distinct from the durable Trusted pairing decision.
type PeerState string

const (
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateSyncing      PeerState = "syncing"
	PeerStateSynced       PeerState = "synced"
	PeerStateError        PeerState = "error"
)

// PeerRecord is one entry in a vault's peer roster.
type PeerRecord struct {
	NodeID          string        `json:"nodeId"`
	Nickname        string        `json:"nickname,omitempty"`
	Hostname        string        `json:"hostname,omitempty"`
	Addresses       []string      `json:"addresses"`
	CertFingerprint string        `json:"certFingerprint"`
	Trusted         bool          `json:"trusted"`
	State           PeerState     `json:"state"`
	FirstSeen       time.Time     `json:"firstSeen"`
	LastSeen        time.Time     `json:"lastSeen,omitempty"`
	LastSyncedAt    time.Time     `json:"lastSyncedAt,omitempty"`
	LastSeenVersion VersionVector `json:"lastSeenVersion,omitempty"`
	BytesSent       int64         `json:"bytesSent"`
	BytesReceived   int64         `json:"bytesReceived"`
}

// ConflictKind distinguishes the shapes of conflict ConflictTracker detects.
type ConflictKind string

const (
	ConflictConcurrentEdit   ConflictKind = "concurrent-edit"
	ConflictEditDeleteRace   ConflictKind = "edit-delete-race"
	ConflictConcurrentRename ConflictKind = "concurrent-rename"
	ConflictConcurrentMove   ConflictKind = "concurrent-move"
)

// ConflictRecord describes one detected multi-peer conflict on a path.
type ConflictRecord struct {
	ID          string       `json:"id"`
	Path        string       `json:"path"`
	NodeID      string       `json:"nodeId"`
	Kind        ConflictKind `json:"kind"`
	Peers       []string     `json:"peers"`
	FirstEditAt time.Time    `json:"firstEditAt"`
	LastEditAt  time.Time    `json:"lastEditAt"`
	Resolved    bool         `json:"resolved"`
}

// BlobMeta is the refcounted, content-addressed record BlobStore keeps
// for every distinct binary payload in the vault.
type BlobMeta struct {
	Hash      string    `json:"hash"` // sha256 hex digest, content address
	Size      int64     `json:"size"`
	RefCount  int       `json:"refCount"`
	MimeType  string    `json:"mimeType,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// GCResult summarizes one GarbageCollector run.
type GCResult struct {
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	TombstonesPruned int      `json:"tombstonesPruned"`
	BlobsReclaimed  int       `json:"blobsReclaimed"`
	BytesReclaimed  int64     `json:"bytesReclaimed"`
	Skipped         string    `json:"skipped,omitempty"` // reason compaction was skipped: disabled, below size threshold, or no old-enough history
}

// VaultEvent is the payload carried by pkg/events for vault-domain
// lifecycle notifications (see pkg/events for the EventType enum).
type VaultEvent struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	NodeID    string            `json:"nodeId,omitempty"`
	Path      string            `json:"path,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}
