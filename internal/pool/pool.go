// Package pool provides a bounded-parallelism executor with ordered results
// and optional adaptive throughput.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// claimPollInterval is how often a worker parked above the current
// concurrency width re-checks whether it may claim work again.
const claimPollInterval = 10 * time.Millisecond

// Config bounds the scheduler. Initial is the starting worker count; the
// adaptive controller moves within [Min, Initial] and never above Initial.
// Max is a configuration sanity ceiling validated by callers.
type Config struct {
	Initial int
	Min     int
	Max     int
	// Adaptive enables the sliding-window concurrency controller.
	Adaptive bool
	// Window is the number of recent outcomes considered (default 10).
	Window int
	// ShrinkThreshold is the failure rate at which concurrency shrinks by
	// one (default 0.30). Growth happens below ShrinkThreshold/2; the gap
	// between the two is the hysteresis band that prevents oscillation.
	ShrinkThreshold float64
}

func (c Config) normalized() Config {
	if c.Initial <= 0 {
		c.Initial = 1
	}
	if c.Min <= 0 {
		c.Min = 1
	}
	if c.Min > c.Initial {
		c.Min = c.Initial
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.ShrinkThreshold <= 0 || c.ShrinkThreshold > 1 {
		c.ShrinkThreshold = 0.30
	}
	return c
}

// Result is one output slot. Done is false when no worker claimed the item
// before the run ended; callers treat such slots as failures.
type Result[R any] struct {
	Done  bool
	Value R
	Err   error
}

// Scheduler executes ordered work under a concurrency budget. A Scheduler
// owns all of its mutable state and may be created per crawl instance.
type Scheduler struct {
	cfg    Config
	ctrl   *controller
	logger *zap.Logger
	stop   atomic.Bool
}

// New builds a Scheduler from the given bounds.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	cfg = cfg.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		ctrl:   newController(cfg),
		logger: logger,
	}
}

// RequestStop asks workers to exit before their next claim. In-flight work
// is never preempted.
func (s *Scheduler) RequestStop() {
	s.stop.Store(true)
}

// Stopped reports whether a stop has been requested.
func (s *Scheduler) Stopped() bool {
	return s.stop.Load()
}

// Concurrency returns the current adaptive worker width.
func (s *Scheduler) Concurrency() int {
	return s.ctrl.width()
}

// Reset clears the stop flag and the outcome window so the scheduler can be
// reused for a subsequent stage.
func (s *Scheduler) Reset() {
	s.stop.Store(false)
	s.ctrl.reset()
}

// Run executes work over every item, with at most the current concurrency
// in flight. Result slot i is written exactly once, by whichever worker
// claims index i; the slice preserves input order regardless of completion
// order. Worker errors are captured per slot and never abort the pool.
func Run[T, R any](ctx context.Context, s *Scheduler, items []T, work func(ctx context.Context, index int, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for id := 0; id < s.cfg.Initial; id++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			workerLoop(ctx, s, workerID, items, results, &next, work)
		}(id)
	}
	wg.Wait()
	return results
}

func workerLoop[T, R any](ctx context.Context, s *Scheduler, id int, items []T, results []Result[R], next *atomic.Int64, work func(ctx context.Context, index int, item T) (R, error)) {
	for {
		if ctx.Err() != nil || s.stop.Load() {
			return
		}
		if !s.awaitWidth(ctx, id, next, int64(len(items))) {
			return
		}
		i := int(next.Add(1)) - 1
		if i >= len(items) {
			return
		}
		value, err := work(ctx, i, items[i])
		if err != nil {
			results[i] = Result[R]{Done: true, Err: err}
			s.ctrl.record(false)
			s.logger.Debug("pool item failed",
				zap.Int("index", i),
				zap.Int("worker", id),
				zap.Error(err),
			)
			continue
		}
		results[i] = Result[R]{Done: true, Value: value}
		s.ctrl.record(true)
	}
}

// awaitWidth parks workers whose id is at or above the current concurrency
// width. Shrinks therefore only affect workers that have not yet started
// their next claim.
func (s *Scheduler) awaitWidth(ctx context.Context, id int, next *atomic.Int64, total int64) bool {
	for id >= s.ctrl.width() {
		if next.Load() >= total {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(claimPollInterval):
		}
		if s.stop.Load() {
			return false
		}
	}
	return true
}
