package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureObserver struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *captureObserver) Observe(snap Snapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, snap)
	c.mu.Unlock()
}

func (c *captureObserver) last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func TestTracker_StageLifecycle(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("session-1")
	obs := &captureObserver{}
	tracker.Register(obs)

	tracker.StartStage(StageListCollection, 4)
	tracker.ItemDone(ItemOutcome{})
	tracker.ItemDone(ItemOutcome{Failed: true})

	snap := tracker.Snapshot()
	require.Equal(t, StageListCollection, snap.Stage)
	require.Equal(t, 2, snap.Processed)
	require.Equal(t, 4, snap.Total)
	require.Equal(t, 1, snap.Failed)
	require.InDelta(t, 50.0, snap.Percentage, 0.001)
	require.False(t, snap.Terminal)

	tracker.Complete()
	require.True(t, obs.last().Terminal)
	require.Equal(t, StageCompleted, obs.last().Stage)
}

func TestTracker_NewAndUpdatedCounts(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("session-2")
	tracker.StartStage(StageDetailCollection, 3)
	tracker.ItemDone(ItemOutcome{New: true})
	tracker.ItemDone(ItemOutcome{Updated: true})
	tracker.ItemDone(ItemOutcome{New: true})

	snap := tracker.Snapshot()
	require.Equal(t, 2, snap.New)
	require.Equal(t, 1, snap.Updated)
	require.InDelta(t, 100.0, snap.Percentage, 0.001)
}

func TestTracker_RemainingEstimate(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("session-3")
	current := time.Unix(0, 0)
	tracker.now = func() time.Time { return current }

	tracker.StartStage(StageListCollection, 10)
	current = current.Add(20 * time.Second)
	tracker.ItemDone(ItemOutcome{})
	tracker.ItemDone(ItemOutcome{})

	snap := tracker.Snapshot()
	require.Equal(t, 20*time.Second, snap.Elapsed)
	// 10s per item, 8 left.
	require.Equal(t, 80*time.Second, snap.Remaining)
}

func TestTracker_StageStartResetsCounters(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("session-4")
	tracker.StartStage(StageListCollection, 5)
	tracker.ItemDone(ItemOutcome{Failed: true})

	tracker.StartStage(StageDetailCollection, 7)
	snap := tracker.Snapshot()
	require.Equal(t, StageDetailCollection, snap.Stage)
	require.Zero(t, snap.Processed)
	require.Zero(t, snap.Failed)
	require.Equal(t, 7, snap.Total)
	require.Equal(t, "session-4", snap.SessionID)
}

func TestTracker_FailCarriesError(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("session-5")
	obs := &captureObserver{}
	tracker.Register(obs)

	tracker.StartStage(StageListCollection, 1)
	tracker.Fail("total page count fetch failed")

	last := obs.last()
	require.Equal(t, StageFailed, last.Stage)
	require.True(t, last.Terminal)
	require.Equal(t, "total page count fetch failed", last.Error)
}

func TestObserverFunc(t *testing.T) {
	t.Parallel()

	var got Snapshot
	tracker := NewTracker("session-6")
	tracker.Register(ObserverFunc(func(snap Snapshot) { got = snap }))
	tracker.StartStage(StageListCollection, 2)

	require.Equal(t, StageListCollection, got.Stage)
}
