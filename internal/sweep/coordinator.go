// Package sweep schedules suspend evaluation passes and collapses
// overlapping triggers into at most one in-flight run plus one bounded
// catch-up run.
package sweep

import (
	"context"
	"sync"
)

// RunFunc performs one full sweep at the given epoch-minute.
type RunFunc func(ctx context.Context, nowMinute int64) error

// Coordinator is the sole concurrency-control primitive around sweeps.
// Callers from any goroutine may request a sweep; while one is in flight,
// later requests join it and at most one catch-up run is queued at the
// latest requested minute.
type Coordinator struct {
	run      RunFunc
	interval func() int64
	onError  func(err error)

	mu            sync.Mutex
	inFlight      *inflightRun
	pendingMinute int64
	hasPending    bool
	nextDueMinute int64
}

// inflightRun pairs one run's completion signal with its outcome, so a joiner
// reads the result of the run it joined rather than whichever ran last.
type inflightRun struct {
	done chan struct{}
	err  error
}

// NewCoordinator wires the sweep body and an interval provider (minutes
// between due sweeps, consulted after each run). onError observes run
// failures in addition to the error return.
func NewCoordinator(run RunFunc, interval func() int64, onError func(err error)) *Coordinator {
	return &Coordinator{run: run, interval: interval, onError: onError}
}

// RequestSweep triggers a sweep at nowMinute. If a sweep is already in
// flight, the call records nowMinute for a single catch-up run, waits for the
// in-flight sweep, and returns its outcome; two full sweeps never run
// concurrently. On error the recorded backlog is discarded: the next alarm
// tick retries, not this path.
func (c *Coordinator) RequestSweep(ctx context.Context, nowMinute int64) error {
	c.mu.Lock()
	if c.inFlight != nil {
		if !c.hasPending || nowMinute > c.pendingMinute {
			c.pendingMinute = nowMinute
			c.hasPending = true
		}
		run := c.inFlight
		c.mu.Unlock()

		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := &inflightRun{done: make(chan struct{})}
	c.inFlight = run
	c.mu.Unlock()

	err := c.run(ctx, nowMinute)
	if err == nil {
		c.mu.Lock()
		if c.hasPending {
			catchUp := c.pendingMinute
			c.hasPending = false
			c.mu.Unlock()
			err = c.run(ctx, catchUp)
		} else {
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	c.hasPending = false
	run.err = err
	c.inFlight = nil
	c.mu.Unlock()
	close(run.done)

	if err != nil && c.onError != nil {
		c.onError(err)
	}
	return err
}

// InFlight reports whether a sweep is currently running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight != nil
}

// ShouldRun reports whether the due-minute cursor has been reached.
func (c *Coordinator) ShouldRun(nowMinute int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nowMinute >= c.nextDueMinute
}

// MarkRan pushes the due cursor one interval past nowMinute.
func (c *Coordinator) MarkRan(nowMinute int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextDueMinute = nowMinute + c.interval()
}

// AlignDueCandidate pulls the due cursor earlier, to candidateMinute, but
// only while not already overdue. Used after a settings change shrinks the
// sweep interval.
func (c *Coordinator) AlignDueCandidate(nowMinute, candidateMinute int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nowMinute >= c.nextDueMinute {
		return
	}
	if candidateMinute < c.nextDueMinute {
		c.nextDueMinute = candidateMinute
	}
}

// SetDueMinute overwrites the due cursor.
func (c *Coordinator) SetDueMinute(minute int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextDueMinute = minute
}

// DueMinute returns the current due cursor.
func (c *Coordinator) DueMinute() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDueMinute
}

// Tick is the alarm entry point: run a sweep if due and advance the cursor
// on success.
func (c *Coordinator) Tick(ctx context.Context, nowMinute int64) {
	if !c.ShouldRun(nowMinute) {
		return
	}
	if err := c.RequestSweep(ctx, nowMinute); err != nil {
		return
	}
	c.MarkRan(nowMinute)
}
