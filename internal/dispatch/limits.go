package dispatch

import (
	"context"
	"runtime"
)

// Limit configures one job class's concurrency ceiling.
type Limit int

const (
	// Default uses the class's built-in heuristic.
	Default Limit = 0

	// Unlimited disables gating for the class.
	Unlimited Limit = -1
)

// Explicit returns a limit of exactly n. n must be positive.
func Explicit(n int) Limit {
	return Limit(n)
}

// Limits configures per-class concurrency ceilings. Solving is CPU and
// memory heavy but parallelizes well, so it defaults to the processor count.
// Builds are resource-heavy and unsafe to run unbounded, so they default
// to one at a time.
type Limits struct {
	MaxConcurrentSolves Limit
	MaxConcurrentBuilds Limit
}

// ResolvedLimits holds the concrete gates derived from Limits once at
// dispatcher construction.
type ResolvedLimits struct {
	Solves gate
	Builds gate
}

func (l Limits) resolve() ResolvedLimits {
	return ResolvedLimits{
		Solves: newGate(l.MaxConcurrentSolves, runtime.NumCPU()),
		Builds: newGate(l.MaxConcurrentBuilds, 1),
	}
}

// gate is a counting semaphore. A nil gate admits everything. Gates are
// acquired inside a spawned future, after the pending entry exists, so
// saturation delays admission without breaking coalescing.
type gate chan struct{}

func newGate(l Limit, def int) gate {
	n := int(l)
	switch {
	case l == Unlimited:
		return nil
	case l == Default:
		n = def
	}
	if n <= 0 {
		n = 1
	}
	return make(gate, n)
}

func (g gate) acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) release() {
	if g == nil {
		return
	}
	<-g
}
