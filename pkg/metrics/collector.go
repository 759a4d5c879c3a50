package metrics

import "time"

// PeerSource is the roster view Collector polls. PeerManager implements
// this by counting its roster by types.PeerState.
type PeerSource interface {
	PeerCountsByState() map[string]int
}

// DocumentSource is the document view Collector polls. DocumentManager
// implements this via its underlying engine's DocumentSize.
type DocumentSource interface {
	DocumentSize() (int, error)
}

// Collector polls PeerManager and DocumentManager on an interval and
// updates the corresponding gauges, grounded on the same
// pkg/manager metrics-collector ticker pattern.
type Collector struct {
	peers     PeerSource
	documents DocumentSource
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector. Either source may be
// nil to skip that half of the poll (useful in tests or a CLI-only
// process that never opens a document).
func NewCollector(peers PeerSource, documents DocumentSource) *Collector {
	return &Collector{
		peers:     peers,
		documents: documents,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPeerMetrics()
	c.collectDocumentMetrics()
}

func (c *Collector) collectPeerMetrics() {
	if c.peers == nil {
		return
	}
	for state, count := range c.peers.PeerCountsByState() {
		PeersTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectDocumentMetrics() {
	if c.documents == nil {
		return
	}
	size, err := c.documents.DocumentSize()
	if err != nil {
		return
	}
	DocumentSizeBytes.Set(float64(size))
}
