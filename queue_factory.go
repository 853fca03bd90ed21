package flock

import "sync"

// NamedQueueFactory is the default DispatcherTaskSchedulerFactory: it
// hands out one DispatchQueue per distinct name, creating it lazily on
// first use and reusing it thereafter.
type NamedQueueFactory struct {
	mu     sync.Mutex
	queues map[string]*DispatchQueue
}

// NewNamedQueueFactory returns an empty factory.
func NewNamedQueueFactory() *NamedQueueFactory {
	return &NamedQueueFactory{queues: make(map[string]*DispatchQueue)}
}

// Create returns the queue named queueName, creating it if this is the
// first request for that name.
func (f *NamedQueueFactory) Create(queueName string) *DispatchQueue {
	if queueName == "" {
		queueName = DefaultDispatchQueueName
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[queueName]; ok {
		return q
	}
	q := NewDispatchQueue(queueName)
	f.queues[queueName] = q
	return q
}

// All returns every queue the factory has created so far. The returned
// slice is a snapshot; queues created afterward are not included.
func (f *NamedQueueFactory) All() []*DispatchQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*DispatchQueue, 0, len(f.queues))
	for _, q := range f.queues {
		out = append(out, q)
	}
	return out
}

// StopAll stops every queue the factory has created.
func (f *NamedQueueFactory) StopAll() {
	for _, q := range f.All() {
		q.Stop()
	}
}
