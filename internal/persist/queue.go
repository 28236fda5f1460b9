// Package persist provides a coalescing write scheduler: many dirty signals,
// at most one flush in flight, and every signal followed by at least one
// completed flush of the then-current state.
package persist

import (
	"context"
	"sync"
)

// Queue coalesces dirty signals into serialized flushes. Each logical store
// (activity, recovery, settings) gets its own Queue so their writes never
// interleave within a store but remain independent across stores.
type Queue struct {
	flush   func(ctx context.Context) error
	onError func(err error)

	mu        sync.Mutex
	dirty     bool
	scheduled bool
	idle      chan struct{}
}

// NewQueue builds a queue around flush. The flush function must capture the
// state it persists at call time, not at MarkDirty time. onError observes
// flush failures; failures never stop future scheduling.
func NewQueue(flush func(ctx context.Context) error, onError func(err error)) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{flush: flush, onError: onError, idle: idle}
}

// MarkDirty records that state changed and must eventually be flushed. If no
// flush loop is running, one is started; otherwise the running loop picks the
// signal up before exiting.
func (q *Queue) MarkDirty() {
	q.mu.Lock()
	q.dirty = true
	if q.scheduled {
		q.mu.Unlock()
		return
	}
	q.scheduled = true
	q.idle = make(chan struct{})
	q.mu.Unlock()
	go q.run()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if !q.dirty {
			q.scheduled = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		q.dirty = false
		q.mu.Unlock()

		if err := q.flush(context.Background()); err != nil && q.onError != nil {
			q.onError(err)
		}
	}
}

// WaitForIdle blocks until no flush is pending or running. A MarkDirty
// arriving after an idle point is observed starts a fresh cycle; callers get
// "idle as of the moment of return", which is all shutdown needs.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.scheduled {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
