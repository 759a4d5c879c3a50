package gc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
	"github.com/robcohen/peervault/pkg/types"
)

// DocumentSource is the document-manager view Collector compacts.
type DocumentSource interface {
	CurrentVersion() types.VersionVector
	DocumentSize() (int, error)
	Compact(cutoff types.VersionVector) int
	HistoryAsOf(cutoff time.Time) (types.VersionVector, bool)
	LiveBlobHashes() []string
	Save(ctx context.Context) error
}

// BlobSource is the blob-store view Collector reclaims against.
type BlobSource interface {
	List(ctx context.Context) ([]string, error)
	GetMeta(ctx context.Context, hash string) (*types.BlobMeta, error)
	Release(ctx context.Context, hash string) error
}

// PeerSource is the roster view Collector consults for consensus,
// satisfied by PeerManager's GetPeerSyncStates.
type PeerSource interface {
	GetPeerSyncStates() map[string]types.VersionVector
}

// Config tunes one Collector's compaction thresholds.
type Config struct {
	Enabled              bool
	MaxDocSizeMB         int
	MinHistoryDays       int
	RequirePeerConsensus bool
	Interval             time.Duration
}

// DefaultConfig returns conservative defaults: compaction off until
// the document crosses 64MB, a 30-day history floor, consensus
// required before compacting, run once a day.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxDocSizeMB:         64,
		MinHistoryDays:       30,
		RequirePeerConsensus: true,
		Interval:             24 * time.Hour,
	}
}

// Collector runs GarbageCollector passes on an interval, grounded on
// pkg/metrics.Collector's ticker shape.
type Collector struct {
	cfg    Config
	docs   DocumentSource
	blobs  BlobSource
	peers  PeerSource
	broker *events.Broker
	logger zerolog.Logger

	stopCh chan struct{}
}

// NewCollector wires a Collector. peers may be nil, which disables
// RequirePeerConsensus regardless of cfg (there is nothing to reach
// consensus with).
func NewCollector(cfg Config, docs DocumentSource, blobs BlobSource, peers PeerSource, broker *events.Broker) *Collector {
	return &Collector{
		cfg:    cfg,
		docs:   docs,
		blobs:  blobs,
		peers:  peers,
		broker: broker,
		logger: log.WithComponent("gc"),
		stopCh: make(chan struct{}),
	}
}

// Start begins running Run on cfg.Interval. A zero Interval disables
// the ticker; Run can still be called directly (e.g. from a CLI
// "gc run" command).
func (c *Collector) Start() {
	if c.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := c.Run(context.Background()); err != nil {
					c.logger.Warn().Err(err).Msg("gc run failed")
				}
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the ticker goroutine, if running.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Run executes one GarbageCollector pass: compact op-log history
// below a causally-safe cutoff, then reclaim blobs no surviving node
// references. ctx is checked before Compact, which only mutates the
// in-memory log; Save follows only when something was pruned, and the
// orphan-blob pass after it checks ctx before each blob it releases.
func (c *Collector) Run(ctx context.Context) (types.GCResult, error) {
	timer := metrics.NewTimer()
	result := types.GCResult{StartedAt: time.Now()}
	defer func() {
		result.FinishedAt = time.Now()
		metrics.GCRunsTotal.Inc()
		metrics.GCBytesReclaimed.Add(float64(result.BytesReclaimed))
		timer.ObserveDuration(metrics.GCDuration)
	}()

	if !c.cfg.Enabled {
		result.Skipped = "disabled"
		return result, nil
	}

	sizeBytes, err := c.docs.DocumentSize()
	if err != nil {
		return result, err
	}
	if sizeBytes < c.cfg.MaxDocSizeMB<<20 {
		result.Skipped = "below max-doc-size threshold"
		return result, nil
	}

	cutoff, ok := c.docs.HistoryAsOf(time.Now().AddDate(0, 0, -c.cfg.MinHistoryDays))
	if !ok {
		result.Skipped = "no history older than min-history-days"
		return result, nil
	}

	if c.cfg.RequirePeerConsensus && c.peers != nil {
		cutoff = c.consensusFloor(cutoff)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.TombstonesPruned = c.docs.Compact(cutoff)
	if result.TombstonesPruned > 0 {
		if err := c.docs.Save(ctx); err != nil {
			return result, err
		}
	}

	blobsRemoved, bytesReclaimed, err := c.reclaimOrphanBlobs(ctx)
	if err != nil {
		return result, err
	}
	result.BlobsReclaimed = blobsRemoved
	result.BytesReclaimed = bytesReclaimed

	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventGCCompleted, Message: "gc run complete"})
	}
	return result, nil
}

// consensusFloor intersects cutoff with every trusted peer's
// last-acknowledged version vector, per replica, so compaction never
// discards an op a connected peer hasn't merged yet. A trusted peer
// that has never synced reports an empty vector, which floors every
// replica's entry to 0 and so compacts nothing this cycle — the same
// outcome as an explicit "not enough consensus yet" skip, reached
// through the intersection itself rather than a separate check.
func (c *Collector) consensusFloor(cutoff types.VersionVector) types.VersionVector {
	states := c.peers.GetPeerSyncStates()
	common := cutoff.Clone()
	for _, peerVV := range states {
		for replica, clock := range common {
			if peerVV[replica] < clock {
				common[replica] = peerVV[replica]
			}
		}
	}
	return common
}

func (c *Collector) reclaimOrphanBlobs(ctx context.Context) (removed int, bytesReclaimed int64, err error) {
	stored, err := c.blobs.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	live := make(map[string]struct{})
	for _, h := range c.docs.LiveBlobHashes() {
		live[h] = struct{}{}
	}

	for _, hash := range stored {
		if err := ctx.Err(); err != nil {
			return removed, bytesReclaimed, err
		}
		if _, ok := live[hash]; ok {
			continue
		}
		meta, err := c.blobs.GetMeta(ctx, hash)
		if err != nil {
			c.logger.Warn().Err(err).Str("hash", hash).Msg("failed to look up orphan blob metadata")
			continue
		}
		if err := c.blobs.Release(ctx, hash); err != nil {
			c.logger.Warn().Err(err).Str("hash", hash).Msg("failed to release orphan blob")
			continue
		}
		removed++
		bytesReclaimed += meta.Size
	}
	return removed, bytesReclaimed, nil
}
