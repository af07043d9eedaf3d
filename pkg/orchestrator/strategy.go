package orchestrator

import "sync"

// Strategy governs how many subtasks may run concurrently
type Strategy string

const (
	// StrategySequential runs one subtask at a time
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs up to the configured agent cap
	StrategyParallel Strategy = "parallel"
	// StrategyAdaptive moves the cap inside [1, max] based on outcomes
	StrategyAdaptive Strategy = "adaptive"
)

// ValidStrategy reports whether s names a known strategy
func ValidStrategy(s Strategy) bool {
	return s == StrategySequential || s == StrategyParallel || s == StrategyAdaptive
}

// concurrencyController turns a strategy into an effective concurrency cap.
// Sequential pins the cap at 1 and parallel at max; adaptive starts at 1,
// gains a slot after a run of consecutive successes and loses one after any
// failure, clamped to [1, max].
type concurrencyController struct {
	mu       sync.Mutex
	strategy Strategy
	max      int
	window   int

	cap    int
	streak int
}

func newConcurrencyController(strategy Strategy, max, window int) *concurrencyController {
	if max < 1 {
		max = 1
	}
	if window < 1 {
		window = 3
	}

	c := &concurrencyController{strategy: strategy, max: max, window: window}
	switch strategy {
	case StrategySequential:
		c.cap = 1
	case StrategyAdaptive:
		c.cap = 1
	default:
		c.cap = max
	}
	return c
}

// Cap returns the current effective concurrency cap
func (c *concurrencyController) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.strategy {
	case StrategySequential:
		return 1
	case StrategyParallel:
		return c.max
	default:
		return c.cap
	}
}

// RecordSuccess feeds a successful execution into the adaptive window
func (c *concurrencyController) RecordSuccess() {
	if c.strategy != StrategyAdaptive {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.streak++
	if c.streak >= c.window {
		c.streak = 0
		if c.cap < c.max {
			c.cap++
		}
	}
}

// RecordFailure shrinks the adaptive cap and resets the success streak
func (c *concurrencyController) RecordFailure() {
	if c.strategy != StrategyAdaptive {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.streak = 0
	if c.cap > 1 {
		c.cap--
	}
}
