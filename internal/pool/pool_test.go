package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	for _, concurrency := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("c=%d", concurrency), func(t *testing.T) {
			t.Parallel()

			items := make([]int, 40)
			for i := range items {
				items[i] = i * 10
			}
			s := New(Config{Initial: concurrency, Min: 1}, zap.NewNop())

			results := Run(context.Background(), s, items, func(_ context.Context, index int, item int) (int, error) {
				// Random latency so completion order differs from input order.
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				return item + index, nil
			})

			require.Len(t, results, len(items))
			for i, res := range results {
				require.True(t, res.Done, "slot %d", i)
				require.NoError(t, res.Err)
				require.Equal(t, i*10+i, res.Value)
			}
		})
	}
}

func TestRun_SingleFailureDoesNotAbortPool(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := New(Config{Initial: 4, Min: 1}, zap.NewNop())
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	results := Run(context.Background(), s, items, func(_ context.Context, index int, item int) (string, error) {
		if index == 3 {
			return "", boom
		}
		return fmt.Sprintf("ok-%d", item), nil
	})

	for i, res := range results {
		require.True(t, res.Done)
		if i == 3 {
			require.ErrorIs(t, res.Err, boom)
		} else {
			require.NoError(t, res.Err)
		}
	}
}

func TestRun_CancellationLeavesPartialResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Initial: 5, Min: 1}, zap.NewNop())
	items := make([]int, 100)

	var processed atomic.Int64
	go func() {
		for processed.Load() < 10 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	results := Run(ctx, s, items, func(_ context.Context, index int, _ int) (int, error) {
		time.Sleep(2 * time.Millisecond)
		processed.Add(1)
		return index, nil
	})

	done := 0
	for _, res := range results {
		if res.Done {
			done++
		}
	}
	require.Greater(t, done, 0)
	require.Less(t, done, 100)
}

func TestRun_RequestStopExitsCleanly(t *testing.T) {
	t.Parallel()

	s := New(Config{Initial: 5, Min: 1}, zap.NewNop())
	items := make([]int, 100)

	var processed atomic.Int64
	results := Run(context.Background(), s, items, func(_ context.Context, index int, _ int) (int, error) {
		if processed.Add(1) == 10 {
			s.RequestStop()
		}
		time.Sleep(time.Millisecond)
		return index, nil
	})

	done := 0
	for _, res := range results {
		if res.Done {
			require.NoError(t, res.Err)
			done++
		}
	}
	require.Greater(t, done, 0)
	require.Less(t, done, 100)
	require.True(t, s.Stopped())
}

func TestAdaptive_ShrinksOnFailures(t *testing.T) {
	t.Parallel()

	s := New(Config{Initial: 4, Min: 2, Adaptive: true, Window: 10, ShrinkThreshold: 0.30}, zap.NewNop())
	items := make([]int, 60)

	Run(context.Background(), s, items, func(_ context.Context, index int, _ int) (int, error) {
		if index%2 == 0 {
			return 0, errors.New("flaky upstream")
		}
		return index, nil
	})

	// 50% failure rate is far above the 30% threshold; width must have
	// shrunk but never below the floor.
	require.GreaterOrEqual(t, s.Concurrency(), 2)
	require.Less(t, s.Concurrency(), 4)
}

func TestAdaptive_NeverExceedsInitial(t *testing.T) {
	t.Parallel()

	s := New(Config{Initial: 3, Min: 1, Adaptive: true, Window: 10}, zap.NewNop())
	items := make([]int, 50)

	Run(context.Background(), s, items, func(_ context.Context, index int, _ int) (int, error) {
		return index, nil
	})

	require.Equal(t, 3, s.Concurrency())
}

func TestController_HysteresisBand(t *testing.T) {
	t.Parallel()

	ctrl := newController(Config{Initial: 5, Min: 1, Adaptive: true, Window: 10, ShrinkThreshold: 0.30}.normalized())

	// A steady 20% failure rate lands inside the band: >= 0.15 so no
	// growth, < 0.30 so no shrink. Once the window is saturated the width
	// must hold still instead of oscillating.
	for i := 0; i < 10; i++ {
		ctrl.record(i%5 != 0)
	}
	width := ctrl.width()
	for i := 0; i < 10; i++ {
		ctrl.record(i%5 != 0)
	}
	require.Equal(t, width, ctrl.width())
	require.GreaterOrEqual(t, width, 1)
	require.LessOrEqual(t, width, 5)
}

func TestController_WarmupBeforeAdjusting(t *testing.T) {
	t.Parallel()

	ctrl := newController(Config{Initial: 4, Min: 1, Adaptive: true, Window: 10, ShrinkThreshold: 0.30}.normalized())

	// Fewer than min(5, W) samples: all failures, still no adjustment.
	for i := 0; i < 4; i++ {
		ctrl.record(false)
	}
	require.Equal(t, 4, ctrl.width())

	ctrl.record(false)
	require.Equal(t, 3, ctrl.width())
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	s := New(Config{Initial: 3, Min: 1}, zap.NewNop())
	results := Run(context.Background(), s, nil, func(_ context.Context, index int, _ struct{}) (int, error) {
		return index, nil
	})
	require.Empty(t, results)
}
