package flock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchQueueNeverRunsTasksConcurrently(t *testing.T) {
	q := NewDispatchQueue("q")
	defer q.Stop()

	const n = 50
	var (
		mu      sync.Mutex
		running bool
		overlap bool
		wg      sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		q.Enqueue(func() {
			defer wg.Done()
			mu.Lock()
			if running {
				overlap = true
			}
			running = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running = false
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue never drained")
	}

	if overlap {
		t.Error("two tasks on the same queue ran concurrently")
	}
}

func TestDispatchQueueRunsDistinctQueuesInParallel(t *testing.T) {
	qa := NewDispatchQueue("a")
	qb := NewDispatchQueue("b")
	defer qa.Stop()
	defer qb.Stop()

	release := make(chan struct{})
	bStarted := make(chan struct{})

	qa.Enqueue(func() { <-release })
	qb.Enqueue(func() { close(bStarted) })

	select {
	case <-bStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("queue b never ran its task while queue a's task was still blocked, want independent progress")
	}
	close(release)
}

// TestDispatchQueueHandlerObservesDefaultExecutor confirms a goroutine a
// task spawns with "go" runs concurrently with the next task on the same
// queue, rather than inheriting the queue as its own ambient scheduler —
// the Go translation of "handlers observe the default executor, not the
// queue's".
func TestDispatchQueueHandlerObservesDefaultExecutor(t *testing.T) {
	q := NewDispatchQueue("q")
	defer q.Stop()

	spawnedBlocked := make(chan struct{})
	release := make(chan struct{})
	var secondTaskRan atomic.Bool

	q.Enqueue(func() {
		go func() {
			close(spawnedBlocked)
			<-release
		}()
	})
	q.Enqueue(func() {
		secondTaskRan.Store(true)
	})

	select {
	case <-spawnedBlocked:
	case <-time.After(2 * time.Second):
		t.Fatal("spawned goroutine never ran")
	}

	deadline := time.After(2 * time.Second)
	for !secondTaskRan.Load() {
		select {
		case <-deadline:
			t.Fatal("second queue task never ran while the first task's spawned goroutine was still blocked")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
}

func TestDispatchQueuePurgeTasksDiscardsOnlyPending(t *testing.T) {
	q := NewDispatchQueue("q")
	defer q.Stop()

	running := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32

	q.Enqueue(func() {
		close(running)
		<-release
		ran.Add(1)
	})
	<-running

	for i := 0; i < 3; i++ {
		q.Enqueue(func() { ran.Add(1) })
	}

	if n := q.PurgeTasks(); n != 3 {
		t.Errorf("PurgeTasks() = %d, want 3", n)
	}
	close(release)

	time.Sleep(20 * time.Millisecond)
	if got := ran.Load(); got != 1 {
		t.Errorf("ran = %d, want 1 (only the already-running task)", got)
	}
}

func TestNamedQueueFactoryPurgeQueuesSumsAcrossQueues(t *testing.T) {
	f := NewNamedQueueFactory()
	defer f.StopAll()

	release := make(chan struct{})
	for _, name := range []string{"a", "b", "c"} {
		q := f.Create(name)
		started := make(chan struct{})
		q.Enqueue(func() { close(started); <-release })
		<-started
		q.Enqueue(func() {})
	}

	total := 0
	for _, q := range f.All() {
		total += q.PurgeTasks()
	}
	close(release)
	if total != 3 {
		t.Errorf("summed PurgeTasks() = %d, want 3 (one pending task per queue, the already-dequeued first task excluded)", total)
	}
}
