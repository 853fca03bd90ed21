// Package busx provides support code for wiring up and testing Bus
// instances, the same role the source design's peers package plays
// for chirp.Peer.
package busx

import (
	"context"
	"sync"

	"github.com/flockbus/flock"
	"github.com/flockbus/flock/transport/local"
)

// LocalPair is a pair of in-memory connected buses, each registered
// against the other as its sole directory peer, suitable for testing
// dispatch and directory propagation without a real transport or a
// standalone directory service.
type LocalPair struct {
	A, B *flock.Bus
}

// NewLocalPair builds and starts a LocalPair. cfgA and cfgB are used
// as given except that their DirectoryEndpoints are overwritten to
// point at each other. setup, if non-nil, runs after both buses are
// built but before either registers, so a caller can populate
// a.Invokers() and b.Invokers() with handlers that must be in place
// for their ShouldBeSubscribedOnStartup bindings to take effect.
func NewLocalPair(ctx context.Context, cfgA, cfgB flock.Config, setup func(a, b *flock.Bus)) (*LocalPair, error) {
	connA, connB := local.NewDirectPair(cfgA.Self, cfgB.Self)

	cfgA.DirectoryEndpoints = []flock.Endpoint{flock.Endpoint(cfgB.Self)}
	cfgB.DirectoryEndpoints = []flock.Endpoint{flock.Endpoint(cfgA.Self)}

	a := flock.New(cfgA)
	b := flock.New(cfgB)

	connA.SetReceiver(&directoryEcho{bus: a, next: local.BusReceiver{Bus: a}, known: make(map[flock.PeerId]flock.PeerDescriptor)})
	connB.SetReceiver(&directoryEcho{bus: b, next: local.BusReceiver{Bus: b}, known: make(map[flock.PeerId]flock.PeerDescriptor)})

	if setup != nil {
		setup(a, b)
	}

	if err := a.Start(ctx, connA); err != nil {
		return nil, err
	}
	if err := b.Start(ctx, connB); err != nil {
		return nil, err
	}
	return &LocalPair{A: a, B: b}, nil
}

// Stop shuts down both buses' dispatch queues.
func (p *LocalPair) Stop(ctx context.Context) error {
	aerr := p.A.Stop(ctx)
	berr := p.B.Stop(ctx)
	if aerr != nil {
		return aerr
	}
	return berr
}

// directoryEcho stands in for a real directory service in tests: it
// records every registrant as a known peer of bus, acknowledges the
// RegisterPeer command with the directory's current peer snapshot (so
// a joining peer's view is bootstrapped with whoever registered
// earlier, not just its own descriptor), rejects a peer ID already
// bound to a different endpoint with ErrPeerAlreadyExists, and forwards
// every other message type to next.
type directoryEcho struct {
	mu    sync.Mutex
	known map[flock.PeerId]flock.PeerDescriptor

	bus  *flock.Bus
	next local.Receiver
}

func (d *directoryEcho) Receive(ctx context.Context, from flock.PeerId, msgType flock.MessageTypeId, payload []byte) ([]byte, error) {
	if msgType == flock.MessageTypeRegisterPeer {
		return d.register(payload)
	}
	return d.next.Receive(ctx, from, msgType, payload)
}

func (d *directoryEcho) register(payload []byte) ([]byte, error) {
	desc, err := (flock.EnvelopeCodec{}).DecodeDescriptor(payload)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if existing, ok := d.known[desc.Peer.PeerId]; ok && existing.Peer.Endpoint != desc.Peer.Endpoint {
		d.mu.Unlock()
		return (flock.EnvelopeCodec{}).EncodeRegisterResponse(nil, flock.ErrPeerAlreadyExists)
	}
	d.known[desc.Peer.PeerId] = desc
	snapshot := make([]flock.PeerDescriptor, 0, len(d.known))
	for _, p := range d.known {
		snapshot = append(snapshot, p)
	}
	d.mu.Unlock()

	// A bus that has not started yet has no directory client; the
	// registrant is then kept in known only.
	if d.bus.Directory() != nil {
		_ = d.bus.HandlePeerDescriptorEvent(desc)
	}
	return (flock.EnvelopeCodec{}).EncodeRegisterResponse(snapshot, nil)
}
