package flock

import "sync"

// PeerEntry is the live, mutable record the directory client keeps for
// one remote peer. Every update carries a logical timestamp (see
// LogicalClock); an update whose timestamp does not exceed the one
// already stored is rejected as an OutdatedUpdateError rather than
// applied, so updates that race over the network can never be applied
// out of order.
//
// Subscription changes are tracked as a diff against the entry's prior
// state, so callers (the directory client) can apply exactly the
// Bind/Unbind calls a SubscriptionTree needs instead of rebuilding it
// from scratch on every update.
type PeerEntry struct {
	mu sync.Mutex

	peerId              PeerId
	endpoint            Endpoint
	isUp                bool
	isResponding        bool
	isPersistent        bool
	hasDebuggerAttached bool
	busVersion          string
	timestampUtc        int64
	subs                subscriptionSet
}

// NewPeerEntry creates an entry from a peer's initial registration
// descriptor. No timestamp gating applies to this first insert.
func NewPeerEntry(desc PeerDescriptor) *PeerEntry {
	return &PeerEntry{
		peerId:              desc.Peer.PeerId,
		endpoint:            desc.Peer.Endpoint,
		isUp:                desc.Peer.IsUp,
		isResponding:        desc.Peer.IsResponding,
		isPersistent:        desc.IsPersistent,
		hasDebuggerAttached: desc.HasDebuggerAttached,
		busVersion:          desc.BusVersion,
		timestampUtc:        desc.TimestampUtc,
		subs:                newSubscriptionSet(desc.Subscriptions),
	}
}

// PeerId returns the entry's peer identity.
func (e *PeerEntry) PeerId() PeerId { return e.peerId }

// Peer returns a snapshot of the entry's Peer fields.
func (e *PeerEntry) Peer() Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Peer{PeerId: e.peerId, Endpoint: e.endpoint, IsUp: e.isUp, IsResponding: e.isResponding}
}

// Descriptor returns a snapshot of the entry as a PeerDescriptor.
func (e *PeerEntry) Descriptor() PeerDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PeerDescriptor{
		Peer:                Peer{PeerId: e.peerId, Endpoint: e.endpoint, IsUp: e.isUp, IsResponding: e.isResponding},
		IsPersistent:        e.isPersistent,
		TimestampUtc:        e.timestampUtc,
		Subscriptions:       e.subs.slice(),
		HasDebuggerAttached: e.hasDebuggerAttached,
		BusVersion:          e.busVersion,
	}
}

// TimestampUtc returns the logical timestamp of the last applied
// update.
func (e *PeerEntry) TimestampUtc() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timestampUtc
}

// ApplyDescriptor replaces the entry's full state with desc, provided
// desc.TimestampUtc is newer than what is stored. It reports the
// subscriptions added and removed by the change, for the caller to
// apply to a SubscriptionTree.
func (e *PeerEntry) ApplyDescriptor(desc PeerDescriptor) (added, removed []Subscription, err error) {
	for _, s := range desc.Subscriptions {
		if err := s.BindingKey.Validate(); err != nil {
			return nil, nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if desc.TimestampUtc <= e.timestampUtc {
		return nil, nil, &OutdatedUpdateError{PeerId: e.peerId, Incoming: desc.TimestampUtc, Stored: e.timestampUtc}
	}
	newSubs := newSubscriptionSet(desc.Subscriptions)
	added, removed = diffSubscriptionSets(e.subs, newSubs)

	e.endpoint = desc.Peer.Endpoint
	e.isUp = desc.Peer.IsUp
	e.isResponding = desc.Peer.IsResponding
	e.isPersistent = desc.IsPersistent
	e.hasDebuggerAttached = desc.HasDebuggerAttached
	e.busVersion = desc.BusVersion
	e.timestampUtc = desc.TimestampUtc
	e.subs = newSubs
	return added, removed, nil
}

// ApplySubscriptionsForType replaces the binding keys for one message
// type only, leaving every other message type's bindings untouched.
// It is gated by timestampUtc exactly like ApplyDescriptor.
func (e *PeerEntry) ApplySubscriptionsForType(update SubscriptionsForType, timestampUtc int64) (added, removed []Subscription, err error) {
	for _, bk := range update.BindingKeys {
		if err := bk.Validate(); err != nil {
			return nil, nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if timestampUtc <= e.timestampUtc {
		return nil, nil, &OutdatedUpdateError{PeerId: e.peerId, Incoming: timestampUtc, Stored: e.timestampUtc}
	}
	next := e.subs.clone()
	oldForType := next[update.MessageTypeId]
	delete(next, update.MessageTypeId)
	if len(update.BindingKeys) > 0 {
		m := make(map[string]BindingKey, len(update.BindingKeys))
		for _, bk := range update.BindingKeys {
			m[bk.String()] = bk
		}
		next[update.MessageTypeId] = m
	}
	added, removed = diffSubscriptionSets(subscriptionSet{update.MessageTypeId: oldForType}, subscriptionSet{update.MessageTypeId: next[update.MessageTypeId]})

	e.timestampUtc = timestampUtc
	e.subs = next
	return added, removed, nil
}

// SetAvailability updates the peer's liveness flags, gated by
// timestampUtc like any other update.
func (e *PeerEntry) SetAvailability(isUp, isResponding bool, timestampUtc int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timestampUtc <= e.timestampUtc {
		return &OutdatedUpdateError{PeerId: e.peerId, Incoming: timestampUtc, Stored: e.timestampUtc}
	}
	e.isUp = isUp
	e.isResponding = isResponding
	e.timestampUtc = timestampUtc
	return nil
}

// subscriptionSet is a peer's current bindings, indexed by message
// type and then by the binding key's canonical string form so that
// equal keys collapse and diffing against a replacement set is a
// couple of map scans instead of a nested slice comparison.
type subscriptionSet map[MessageTypeId]map[string]BindingKey

func newSubscriptionSet(subs []Subscription) subscriptionSet {
	out := make(subscriptionSet)
	for _, s := range subs {
		m, ok := out[s.MessageTypeId]
		if !ok {
			m = make(map[string]BindingKey)
			out[s.MessageTypeId] = m
		}
		m[s.BindingKey.String()] = s.BindingKey
	}
	return out
}

func (s subscriptionSet) clone() subscriptionSet {
	out := make(subscriptionSet, len(s))
	for mt, m := range s {
		nm := make(map[string]BindingKey, len(m))
		for k, bk := range m {
			nm[k] = bk
		}
		out[mt] = nm
	}
	return out
}

func (s subscriptionSet) slice() []Subscription {
	var out []Subscription
	for mt, m := range s {
		for _, bk := range m {
			out = append(out, Subscription{MessageTypeId: mt, BindingKey: bk})
		}
	}
	return out
}

// diffSubscriptionSets reports the bindings present in next but not
// old (added) and present in old but not next (removed).
func diffSubscriptionSets(old, next subscriptionSet) (added, removed []Subscription) {
	for mt, nextBindings := range next {
		oldBindings := old[mt]
		for key, bk := range nextBindings {
			if _, ok := oldBindings[key]; !ok {
				added = append(added, Subscription{MessageTypeId: mt, BindingKey: bk})
			}
		}
	}
	for mt, oldBindings := range old {
		nextBindings := next[mt]
		for key, bk := range oldBindings {
			if _, ok := nextBindings[key]; !ok {
				removed = append(removed, Subscription{MessageTypeId: mt, BindingKey: bk})
			}
		}
	}
	return added, removed
}
