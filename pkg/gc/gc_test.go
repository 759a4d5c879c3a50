package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robcohen/peervault/pkg/types"
)

type fakeDocs struct {
	size         int
	sizeErr      error
	historyVV    types.VersionVector
	historyOK    bool
	compactCalls []types.VersionVector
	compactN     int
	saveCalls    int
	saveErr      error
	live         []string
}

func (f *fakeDocs) DocumentSize() (int, error) { return f.size, f.sizeErr }

func (f *fakeDocs) CurrentVersion() types.VersionVector { return nil }

func (f *fakeDocs) Compact(cutoff types.VersionVector) int {
	f.compactCalls = append(f.compactCalls, cutoff)
	return f.compactN
}

func (f *fakeDocs) HistoryAsOf(cutoff time.Time) (types.VersionVector, bool) {
	return f.historyVV, f.historyOK
}

func (f *fakeDocs) LiveBlobHashes() []string { return f.live }

func (f *fakeDocs) Save(ctx context.Context) error {
	f.saveCalls++
	return f.saveErr
}

type fakeBlobs struct {
	hashes    []string
	meta      map[string]*types.BlobMeta
	released  []string
	releaseErr map[string]error
	listErr   error
}

func (f *fakeBlobs) List(ctx context.Context) ([]string, error) {
	return f.hashes, f.listErr
}

func (f *fakeBlobs) GetMeta(ctx context.Context, hash string) (*types.BlobMeta, error) {
	m, ok := f.meta[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeBlobs) Release(ctx context.Context, hash string) error {
	if err, ok := f.releaseErr[hash]; ok {
		return err
	}
	f.released = append(f.released, hash)
	return nil
}

type fakePeers struct {
	states map[string]types.VersionVector
}

func (f *fakePeers) GetPeerSyncStates() map[string]types.VersionVector { return f.states }

func newTestCollector(cfg Config, docs DocumentSource, blobs BlobSource, peers PeerSource) *Collector {
	return NewCollector(cfg, docs, blobs, peers, nil)
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := newTestCollector(cfg, &fakeDocs{}, &fakeBlobs{}, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "disabled", res.Skipped)
}

func TestRunSkipsBelowMaxDocSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 64
	docs := &fakeDocs{size: 1024}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "below max-doc-size threshold", res.Skipped)
}

func TestRunSkipsWhenNoHistoryOldEnough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	docs := &fakeDocs{size: 1 << 20, historyOK: false}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "no history older than min-history-days", res.Skipped)
	require.Empty(t, docs.compactCalls)
}

func TestRunCompactsAndSaves(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = false
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		compactN:  4,
	}
	blobs := &fakeBlobs{}
	c := newTestCollector(cfg, docs, blobs, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	require.Equal(t, 4, res.TombstonesPruned)
	require.Len(t, docs.compactCalls, 1)
	require.Equal(t, types.VersionVector{"replica-a": 10}, docs.compactCalls[0])
	require.Equal(t, 1, docs.saveCalls)
}

func TestRunSkipsSaveWhenNothingCompacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = false
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		compactN:  0,
	}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.TombstonesPruned)
	require.Equal(t, 0, docs.saveCalls)
}

func TestRunConsensusFloorsToZeroWithUnsyncedPeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = true
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		compactN:  0,
	}
	peers := &fakePeers{states: map[string]types.VersionVector{
		"peer-unsynced": {},
	}}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, peers)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, docs.compactCalls, 1)
	require.Equal(t, types.VersionVector{"replica-a": 0}, docs.compactCalls[0])
}

func TestRunConsensusAllowsWhenPeersCaughtUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = true
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		compactN:  2,
	}
	peers := &fakePeers{states: map[string]types.VersionVector{
		"peer-synced": {"replica-a": 20},
	}}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, peers)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.VersionVector{"replica-a": 10}, docs.compactCalls[0])
	require.Equal(t, 2, res.TombstonesPruned)
}

func TestRunReclaimsOrphanBlobsAndSkipsLive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = false
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		live:      []string{"hash-live"},
	}
	blobs := &fakeBlobs{
		hashes: []string{"hash-live", "hash-orphan"},
		meta: map[string]*types.BlobMeta{
			"hash-orphan": {Hash: "hash-orphan", Size: 2048},
		},
	}
	c := newTestCollector(cfg, docs, blobs, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.BlobsReclaimed)
	require.Equal(t, int64(2048), res.BytesReclaimed)
	require.Equal(t, []string{"hash-orphan"}, blobs.released)
}

func TestRunContinuesPastReleaseErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = false
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
	}
	blobs := &fakeBlobs{
		hashes: []string{"hash-bad", "hash-good"},
		meta: map[string]*types.BlobMeta{
			"hash-bad":  {Hash: "hash-bad", Size: 100},
			"hash-good": {Hash: "hash-good", Size: 200},
		},
		releaseErr: map[string]error{"hash-bad": errors.New("boom")},
	}
	c := newTestCollector(cfg, docs, blobs, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.BlobsReclaimed)
	require.Equal(t, int64(200), res.BytesReclaimed)
	require.Equal(t, []string{"hash-good"}, blobs.released)
}

func TestRunIsCancelSafeBeforeCompaction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocSizeMB = 0
	cfg.RequirePeerConsensus = false
	docs := &fakeDocs{
		size:      1 << 20,
		historyVV: types.VersionVector{"replica-a": 10},
		historyOK: true,
		compactN:  4,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCollector(cfg, docs, &fakeBlobs{}, nil)
	_, err := c.Run(ctx)
	require.Error(t, err)
	require.Empty(t, docs.compactCalls)
	require.Equal(t, 0, docs.saveCalls)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Enabled = false
	docs := &fakeDocs{size: 0}
	c := newTestCollector(cfg, docs, &fakeBlobs{}, nil)

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
}
