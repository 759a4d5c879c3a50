package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakePeerSource struct{ counts map[string]int }

func (f fakePeerSource) PeerCountsByState() map[string]int { return f.counts }

type fakeDocumentSource struct{ size int }

func (f fakeDocumentSource) DocumentSize() (int, error) { return f.size, nil }

func TestCollectorUpdatesGauges(t *testing.T) {
	c := NewCollector(
		fakePeerSource{counts: map[string]int{"connected": 2, "pairing": 1}},
		fakeDocumentSource{size: 4096},
	)

	c.collect()

	require.Equal(t, float64(2), testutil.ToFloat64(PeersTotal.WithLabelValues("connected")))
	require.Equal(t, float64(1), testutil.ToFloat64(PeersTotal.WithLabelValues("pairing")))
	require.Equal(t, float64(4096), testutil.ToFloat64(DocumentSizeBytes))
}

func TestCollectorToleratesNilSources(t *testing.T) {
	c := NewCollector(nil, nil)
	require.NotPanics(t, c.collect)
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(fakePeerSource{counts: map[string]int{"connected": 1}}, nil)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
