package flock

import "fmt"

// PeerId is the opaque, comparable identity of a peer on the bus.
type PeerId string

// String satisfies fmt.Stringer.
func (id PeerId) String() string { return string(id) }

// Endpoint is a transport-dependent address for a peer, typically in
// host:port form, but the bus core treats it as an opaque string.
type Endpoint string

// MessageTypeId is the stable string identifier of a message class, such
// as a fully-qualified Go type name. It is an explicit string given when
// a handler is registered, and it travels with every message a
// transport carries, which hands it to Bus.HandleInbound.
type MessageTypeId string

// Peer is the live, mutable state the directory client keeps for one
// known peer.
type Peer struct {
	PeerId       PeerId
	Endpoint     Endpoint
	IsUp         bool
	IsResponding bool
}

// String satisfies fmt.Stringer.
func (p Peer) String() string {
	return fmt.Sprintf("Peer(%s@%s, up=%v, responding=%v)", p.PeerId, p.Endpoint, p.IsUp, p.IsResponding)
}
