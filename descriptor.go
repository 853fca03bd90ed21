package flock

import "time"

// PeerDescriptor is an immutable snapshot of a peer, as exchanged over
// the wire in registration responses and directory events.
type PeerDescriptor struct {
	Peer                Peer
	IsPersistent        bool
	TimestampUtc        int64 // logical timestamp, see LogicalClock
	Subscriptions       []Subscription
	HasDebuggerAttached bool
	BusVersion          string // semver of the bus implementation, see CheckVersionCompatible
}

// SubscriptionsForType is the payload of a partial subscription update:
// the full replacement set of bindings for one message type.
type SubscriptionsForType struct {
	MessageTypeId MessageTypeId
	BindingKeys   []BindingKey
}

// SentAt returns the descriptor's logical timestamp as a wall-clock
// approximation, useful only for logging; ordering decisions must use
// TimestampUtc directly, never this conversion.
func (d PeerDescriptor) SentAt() time.Time {
	return time.Unix(0, d.TimestampUtc)
}
