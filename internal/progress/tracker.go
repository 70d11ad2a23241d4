// Package progress aggregates stage-aware crawl progress and fans snapshots
// out to registered observers.
package progress

import (
	"sync"
	"time"
)

// Stage identifies which crawl phase a snapshot belongs to.
type Stage string

// Stages. ListCollection and DetailCollection are strictly sequential and
// never active at the same time.
const (
	StageIdle             Stage = "idle"
	StageListCollection   Stage = "list-collection"
	StageDetailCollection Stage = "detail-collection"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

// Snapshot is the aggregate progress view published to observers.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	Stage      Stage         `json:"stage"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Percentage float64       `json:"percentage"`
	Elapsed    time.Duration `json:"elapsed"`
	Remaining  time.Duration `json:"remaining"`
	New        int           `json:"new"`
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	Terminal   bool          `json:"terminal"`
	Error      string        `json:"error,omitempty"`
}

// Observer consumes snapshots. Implementations must be fast or hand off to
// their own goroutine; the tracker calls them synchronously under no lock.
type Observer interface {
	Observe(snap Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(snap Snapshot)

// Observe implements Observer.
func (f ObserverFunc) Observe(snap Snapshot) { f(snap) }

// Tracker owns one crawl's progress state. It is a single-writer aggregate:
// the orchestrator mutates it, everyone else reads snapshots.
type Tracker struct {
	mu        sync.Mutex
	snap      Snapshot
	started   time.Time
	observers []Observer
	now       func() time.Time
}

// NewTracker builds an idle tracker for the given session.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{
		snap: Snapshot{SessionID: sessionID, Stage: StageIdle},
		now:  time.Now,
	}
}

// Register adds an observer. Registration after the crawl has started is
// allowed; the observer simply misses earlier snapshots.
func (t *Tracker) Register(obs Observer) {
	if obs == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, obs)
	t.mu.Unlock()
}

// StartStage resets counters for a new stage and publishes the first
// snapshot.
func (t *Tracker) StartStage(stage Stage, total int) {
	t.mu.Lock()
	t.snap = Snapshot{
		SessionID: t.snap.SessionID,
		Stage:     stage,
		Total:     total,
	}
	t.started = t.now()
	snap, obs := t.snapshotLocked()
	t.mu.Unlock()
	publish(snap, obs)
}

// ItemOutcome describes one resolved task for progress accounting.
type ItemOutcome struct {
	Failed  bool
	New     bool
	Updated bool
}

// ItemDone records a task resolution and publishes the derived snapshot.
func (t *Tracker) ItemDone(outcome ItemOutcome) {
	t.mu.Lock()
	t.snap.Processed++
	if outcome.Failed {
		t.snap.Failed++
	}
	if outcome.New {
		t.snap.New++
	}
	if outcome.Updated {
		t.snap.Updated++
	}
	snap, obs := t.snapshotLocked()
	t.mu.Unlock()
	publish(snap, obs)
}

// Complete marks the current stage terminal without error.
func (t *Tracker) Complete() {
	t.finish(StageCompleted, "")
}

// Fail marks the crawl terminal with the given error text.
func (t *Tracker) Fail(errText string) {
	t.finish(StageFailed, errText)
}

func (t *Tracker) finish(stage Stage, errText string) {
	t.mu.Lock()
	t.snap.Stage = stage
	t.snap.Terminal = true
	t.snap.Error = errText
	snap, obs := t.snapshotLocked()
	t.mu.Unlock()
	publish(snap, obs)
}

// Snapshot returns the current derived view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, _ := t.snapshotLocked()
	return snap
}

// snapshotLocked derives percentage and time estimates. Callers hold t.mu.
func (t *Tracker) snapshotLocked() (Snapshot, []Observer) {
	snap := t.snap
	if !t.started.IsZero() {
		snap.Elapsed = t.now().Sub(t.started)
	}
	if snap.Total > 0 {
		snap.Percentage = float64(snap.Processed) / float64(snap.Total) * 100
	}
	if snap.Processed > 0 && snap.Processed < snap.Total {
		perItem := snap.Elapsed / time.Duration(snap.Processed)
		snap.Remaining = perItem * time.Duration(snap.Total-snap.Processed)
	}
	return snap, append([]Observer(nil), t.observers...)
}

func publish(snap Snapshot, observers []Observer) {
	for _, obs := range observers {
		obs.Observe(snap)
	}
}
