package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robcohen/peervault/pkg/types"
)

func TestRecordEditDetectsConcurrentEdit(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()

	tr.RecordEdit("/p.md", "peer-1", "L", now)
	_, ok := tr.GetConflict("/p.md")
	require.False(t, ok)

	tr.RecordEdit("/p.md", "peer-2", "P", now.Add(500*time.Millisecond))
	c, ok := tr.GetConflict("/p.md")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"peer-1", "peer-2"}, c.Peers)
}

func TestRecordEditOutsideWindowNoConflict(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()

	tr.RecordEdit("/p.md", "peer-1", "L", now.Add(-120*time.Second))
	tr.RecordEdit("/p.md", "peer-2", "P", now)

	_, ok := tr.GetConflict("/p.md")
	require.False(t, ok)
}

func TestResolveConflictRetainsRecordForAudit(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()
	tr.RecordEdit("/p.md", "peer-1", "", now)
	tr.RecordEdit("/p.md", "peer-2", "", now)

	tr.ResolveConflict("/p.md")
	_, ok := tr.GetConflict("/p.md")
	require.False(t, ok, "resolved conflicts are excluded from GetConflict")
	require.Empty(t, tr.GetConflicts())
}

func TestClearConflictsAndReset(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()
	tr.RecordEdit("/a.md", "peer-1", "", now)
	tr.RecordEdit("/a.md", "peer-2", "", now)
	require.NotEmpty(t, tr.GetConflicts())

	tr.ClearConflicts()
	require.Empty(t, tr.GetConflicts())

	tr.RecordEdit("/a.md", "peer-1", "", now)
	tr.RecordEdit("/a.md", "peer-2", "", now)
	require.NotEmpty(t, tr.GetConflicts())

	tr.Reset()
	require.Empty(t, tr.GetConflicts())
	tr.RecordEdit("/a.md", "peer-2", "", now)
	_, ok := tr.GetConflict("/a.md")
	require.False(t, ok, "reset should also clear recentEdits, not just conflicts")
}

func TestOnConflictNotifiesListenerAndUnsubscribe(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()

	var received []types.ConflictRecord
	unsubscribe := tr.OnConflict(func(rec types.ConflictRecord) {
		received = append(received, rec)
	})

	tr.RecordEdit("/p.md", "peer-1", "", now)
	tr.RecordEdit("/p.md", "peer-2", "", now)
	require.Len(t, received, 1)
	require.Equal(t, "/p.md", received[0].Path)

	unsubscribe()
	tr.RecordEdit("/q.md", "peer-1", "", now)
	tr.RecordEdit("/q.md", "peer-2", "", now)
	require.Len(t, received, 1, "no further delivery after unsubscribe")
}

func TestOnConflictPanicIsRecoveredAndOthersStillRun(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	now := time.Now()

	var secondCalled bool
	tr.OnConflict(func(_ types.ConflictRecord) { panic("boom") })
	tr.OnConflict(func(_ types.ConflictRecord) { secondCalled = true })

	require.NotPanics(t, func() {
		tr.RecordEdit("/p.md", "peer-1", "", now)
		tr.RecordEdit("/p.md", "peer-2", "", now)
	})
	require.True(t, secondCalled)
}

func TestEvictionBoundsTrackedFiles(t *testing.T) {
	tr := NewTracker(Config{WindowMS: 60_000, MaxTrackedFiles: 10, MaxConflicts: 500})
	now := time.Now()
	for i := 0; i < 25; i++ {
		tr.RecordEdit("/file-"+string(rune('a'+i))+".md", "peer-1", "", now.Add(time.Duration(i)*time.Second))
	}
	tr.mu.Lock()
	count := len(tr.recentEdits)
	tr.mu.Unlock()
	require.LessOrEqual(t, count, 10)
}
