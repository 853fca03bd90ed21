package flock

import (
	"sync"
	"time"
)

// LogicalClock produces strictly increasing int64 timestamps suitable
// for PeerDescriptor.TimestampUtc and the directory's conflict
// resolution. It is wall-clock based (nanoseconds since epoch) but
// ratchets forward under a lock so two calls on the same process can
// never observe the same or a decreasing value, even if the system
// clock is coarse or steps backward.
type LogicalClock struct {
	mu   sync.Mutex
	last int64
}

// NewLogicalClock returns a clock with no prior timestamp issued.
func NewLogicalClock() *LogicalClock { return &LogicalClock{} }

// Now returns the next timestamp, guaranteed strictly greater than
// every value this clock has returned before.
func (c *LogicalClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}
