package flock

import (
	"sync"

	"github.com/creachadair/taskgroup"
)

// DefaultDispatchQueueName is the queue used when no handler capability
// tag or dispatch context names a different one.
const DefaultDispatchQueueName = "DispatchQueue"

// DispatchQueue is a named, cooperative, single-consumer executor.
// Tasks enqueued on one DispatchQueue run strictly serially, in
// arrival order; a task never observes another task of the same queue
// running concurrently. Distinct queues run independently, each on its
// own goroutine, so they make progress in parallel.
//
// A task that panics is recovered and discarded by the queue loop
// itself, mirroring the pipe chain's own panic recovery for handler
// invocations — the queue must never die because one task misbehaved.
//
// Because the queue's worker goroutine simply calls the enqueued func
// directly, any goroutine a task spawns with "go" runs on the Go
// runtime's ambient scheduler, never on the queue's own goroutine —
// there is no SynchronizationContext-style capture to guard against
// here the way the source design notes describe, which is what
// "handlers observe the default executor" reduces to in Go.
type DispatchQueue struct {
	name string

	mu      sync.Mutex
	pending []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	tasks *taskgroup.Group
}

// NewDispatchQueue creates and starts a DispatchQueue with the given
// name. The queue's worker goroutine runs until Stop is called.
func NewDispatchQueue(name string) *DispatchQueue {
	q := &DispatchQueue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		tasks: taskgroup.New(nil),
	}
	q.tasks.Go(q.run)
	return q
}

// Name reports the queue's name.
func (q *DispatchQueue) Name() string { return q.name }

// Enqueue appends task to the queue and returns immediately. task runs
// once every task enqueued ahead of it has completed.
func (q *DispatchQueue) Enqueue(task func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PurgeTasks atomically discards every pending (not-yet-started) task
// and reports how many were discarded. A task already running is not
// affected and is allowed to complete.
func (q *DispatchQueue) PurgeTasks() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	return n
}

// Stop stops dequeuing further tasks. Tasks still pending are
// abandoned; a task currently running is allowed to finish. Stop
// blocks until the worker goroutine has exited.
func (q *DispatchQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.done)
	q.tasks.Wait()
}

func (q *DispatchQueue) run() error {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.done:
				return nil
			}
			q.mu.Lock()
		}
		if q.stopped || len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		runTaskSafely(task)
	}
}

// runTaskSafely invokes task, recovering any panic so a single
// misbehaving task can never take down the queue's worker goroutine.
func runTaskSafely(task func()) {
	defer func() { recover() }()
	task()
}
