package pool

import "sync"

// controller owns the sliding outcome window and the current concurrency
// width. All mutation happens under its mutex so no worker ever reads a
// partially updated window.
type controller struct {
	mu      sync.Mutex
	current int

	min      int
	initial  int
	adaptive bool
	shrinkAt float64

	window []bool
	head   int
	filled int
}

func newController(cfg Config) *controller {
	return &controller{
		current:  cfg.Initial,
		min:      cfg.Min,
		initial:  cfg.Initial,
		adaptive: cfg.Adaptive,
		shrinkAt: cfg.ShrinkThreshold,
		window:   make([]bool, cfg.Window),
	}
}

func (c *controller) width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.initial
	c.head = 0
	c.filled = 0
}

// record pushes one outcome and adjusts the width. min <= current <=
// initial holds at all times; adjustment waits for min(5, window) samples.
func (c *controller) record(ok bool) {
	if !c.adaptive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window[c.head] = ok
	c.head = (c.head + 1) % len(c.window)
	if c.filled < len(c.window) {
		c.filled++
	}

	warmup := 5
	if len(c.window) < warmup {
		warmup = len(c.window)
	}
	if c.filled < warmup {
		return
	}

	failures := 0
	for i := 0; i < c.filled; i++ {
		if !c.window[i] {
			failures++
		}
	}
	rate := float64(failures) / float64(c.filled)
	switch {
	case rate >= c.shrinkAt && c.current > c.min:
		c.current--
	case rate < c.shrinkAt/2 && c.current < c.initial:
		c.current++
	}
}
