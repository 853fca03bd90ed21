package flock

import "sync"

// SubscriptionTree is a trie of routing-key tokens, one per message
// type, that answers "which peers are subscribed to this message with
// a binding key matching this routing key" without a linear scan over
// every subscription on every dispatch. It is the same shape of
// problem an AMQP topic exchange solves, and is matched the same way:
// walk the routing key token by token, following both the literal
// child and the "*" child at every level, and collecting subscribers
// parked on a "#" node (or the match-all root) along the way.
type SubscriptionTree struct {
	mu    sync.RWMutex
	roots map[MessageTypeId]*trieNode
}

type trieNode struct {
	children map[string]*trieNode
	star     *trieNode
	hashSubs map[PeerId]bool // peers bound via a trailing "#" (or the empty, match-all key) at this node
	subs     map[PeerId]bool // peers whose binding key ends exactly at this node
}

// NewSubscriptionTree returns an empty tree.
func NewSubscriptionTree() *SubscriptionTree {
	return &SubscriptionTree{roots: make(map[MessageTypeId]*trieNode)}
}

// Bind adds peerId as a subscriber of sub.
func (t *SubscriptionTree) Bind(peerId PeerId, sub Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.roots[sub.MessageTypeId]
	if !ok {
		root = &trieNode{}
		t.roots[sub.MessageTypeId] = root
	}
	insertBinding(root, sub.BindingKey, peerId)
}

// Unbind removes peerId from sub. sub must match a previous Bind call
// for the same peer exactly — the tree has no reverse index, so it
// retraces the same path Bind took rather than searching for it.
func (t *SubscriptionTree) Unbind(peerId PeerId, sub Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.roots[sub.MessageTypeId]
	if !ok {
		return
	}
	removeBinding(root, sub.BindingKey, peerId)
}

// UnbindAll removes peerId from every binding key it holds across
// subs, in one locked pass.
func (t *SubscriptionTree) UnbindAll(peerId PeerId, subs []Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range subs {
		if root, ok := t.roots[sub.MessageTypeId]; ok {
			removeBinding(root, sub.BindingKey, peerId)
		}
	}
}

// MatchingPeers returns every peer subscribed to binding.MessageTypeId
// with a binding key that matches binding.RoutingKey, in no particular
// order, deduplicated.
func (t *SubscriptionTree) MatchingPeers(binding MessageBinding) []PeerId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	root, ok := t.roots[binding.MessageTypeId]
	if !ok {
		return nil
	}
	out := make(map[PeerId]bool)
	collectMatches(root, binding.RoutingKey, 0, out)
	peers := make([]PeerId, 0, len(out))
	for id := range out {
		peers = append(peers, id)
	}
	return peers
}

func insertBinding(root *trieNode, key BindingKey, peerId PeerId) {
	if len(key) == 0 {
		if root.hashSubs == nil {
			root.hashSubs = make(map[PeerId]bool)
		}
		root.hashSubs[peerId] = true
		return
	}
	cur := root
	for _, tok := range key {
		if tok == "#" {
			if cur.hashSubs == nil {
				cur.hashSubs = make(map[PeerId]bool)
			}
			cur.hashSubs[peerId] = true
			return
		}
		if tok == "*" {
			if cur.star == nil {
				cur.star = &trieNode{}
			}
			cur = cur.star
			continue
		}
		if cur.children == nil {
			cur.children = make(map[string]*trieNode)
		}
		child, ok := cur.children[tok]
		if !ok {
			child = &trieNode{}
			cur.children[tok] = child
		}
		cur = child
	}
	if cur.subs == nil {
		cur.subs = make(map[PeerId]bool)
	}
	cur.subs[peerId] = true
}

func removeBinding(root *trieNode, key BindingKey, peerId PeerId) {
	if len(key) == 0 {
		delete(root.hashSubs, peerId)
		return
	}
	cur := root
	for _, tok := range key {
		if tok == "#" {
			delete(cur.hashSubs, peerId)
			return
		}
		if tok == "*" {
			if cur.star == nil {
				return
			}
			cur = cur.star
			continue
		}
		child, ok := cur.children[tok]
		if !ok {
			return
		}
		cur = child
	}
	delete(cur.subs, peerId)
}

func collectMatches(node *trieNode, routing RoutingKey, idx int, out map[PeerId]bool) {
	if node == nil {
		return
	}
	for id := range node.hashSubs {
		out[id] = true
	}
	if idx == len(routing) {
		for id := range node.subs {
			out[id] = true
		}
		return
	}
	if node.children != nil {
		if child, ok := node.children[routing[idx]]; ok {
			collectMatches(child, routing, idx+1, out)
		}
	}
	if node.star != nil {
		collectMatches(node.star, routing, idx+1, out)
	}
}
