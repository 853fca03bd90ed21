package flock

import lru "github.com/hashicorp/golang-lru/v2"

// DedupCache suppresses re-delivery of a message this process has
// already dispatched, keyed by MessageContext.MessageId. Directory
// gossip and at-least-once redelivery from a transport both mean the
// same message can arrive more than once; the dispatcher consults this
// cache before doing any invoker work.
type DedupCache struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedupCache returns a cache remembering up to capacity message
// IDs, evicting the least recently seen once full.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = 4096
	}
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &DedupCache{cache: c}
}

// SeenBefore reports whether messageId has already been recorded, and
// records it if not. The check and the record happen atomically with
// respect to other callers, so two concurrent dispatches of the same
// message ID cannot both observe "not seen".
func (d *DedupCache) SeenBefore(messageId string) bool {
	if messageId == "" {
		return false
	}
	alreadyPresent, _ := d.cache.ContainsOrAdd(messageId, struct{}{})
	return alreadyPresent
}
