package flock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Directory message types. These are ordinary MessageTypeIds dispatched
// like any other message; the directory client is simply the invoker
// loader's wiring target for them.
const (
	MessageTypeRegisterPeer            MessageTypeId = "flock.directory.RegisterPeer"
	MessageTypeUnregisterPeer          MessageTypeId = "flock.directory.UnregisterPeer"
	MessageTypeUpdateSubscriptionsType MessageTypeId = "flock.directory.UpdatePeerSubscriptionsForTypes"
	MessageTypePeerDescriptorEvent     MessageTypeId = "flock.directory.PeerDescriptorEvent"
	MessageTypeSubscriptionUpdate      MessageTypeId = "flock.directory.SubscriptionUpdateEvent"
	MessageTypePeerStopped             MessageTypeId = "flock.directory.PeerStopped"
	MessageTypePeerDecommissioned      MessageTypeId = "flock.directory.PeerDecommissioned"
	MessageTypePeerNotResponding       MessageTypeId = "flock.directory.PeerNotResponding"
	MessageTypePeerResponding          MessageTypeId = "flock.directory.PeerResponding"
)

// PeerUpdateKind classifies the change a DirectoryClient applied to one
// PeerEntry, reported through DirectoryClientConfig.OnPeerUpdated. It
// is the typed stand-in for the dynamic-dispatch event hierarchy the
// source design switches on at runtime (see SPEC_FULL's redesign note
// on dynamic dispatch).
type PeerUpdateKind int

const (
	PeerUpdateStarted PeerUpdateKind = iota
	PeerUpdateStopped
	PeerUpdateDecommissioned
	PeerUpdateSubscriptionsChanged
	PeerUpdateResponding
	PeerUpdateNotResponding
)

// String satisfies fmt.Stringer.
func (k PeerUpdateKind) String() string {
	switch k {
	case PeerUpdateStarted:
		return "Started"
	case PeerUpdateStopped:
		return "Stopped"
	case PeerUpdateDecommissioned:
		return "Decommissioned"
	case PeerUpdateSubscriptionsChanged:
		return "SubscriptionsChanged"
	case PeerUpdateResponding:
		return "Responding"
	case PeerUpdateNotResponding:
		return "NotResponding"
	default:
		return "Unknown"
	}
}

// DirectoryCodec encodes and decodes the payloads a DirectoryClient
// exchanges with directory peers. The default implementation is
// EnvelopeCodec, in envelope.go; tests may substitute a fake.
type DirectoryCodec interface {
	EncodeRegister(desc PeerDescriptor) ([]byte, error)
	DecodeDescriptor(data []byte) (PeerDescriptor, error)
	EncodeRegisterResponse(peers []PeerDescriptor, err error) ([]byte, error)
	DecodeRegisterResponse(data []byte) ([]PeerDescriptor, error)
	EncodeSubscriptionUpdate(update SubscriptionsForType, timestampUtc int64) ([]byte, error)
	DecodeSubscriptionUpdate(data []byte) (SubscriptionsForType, int64, error)
	EncodeUnregister(self Peer, timestampUtc int64) ([]byte, error)
	EncodePeerStopped(peerId PeerId, endpoint Endpoint, timestampUtc int64) ([]byte, error)
	DecodePeerStopped(data []byte) (PeerId, Endpoint, int64, error)
	EncodePeerId(peerId PeerId) ([]byte, error)
	DecodePeerId(data []byte) (PeerId, error)
}

// DirectoryClientConfig configures a DirectoryClient.
type DirectoryClientConfig struct {
	Self                PeerId
	Endpoints           []Endpoint
	IsDirectoryRandom   bool
	Sender              Sender
	Codec               DirectoryCodec
	Clock               *LogicalClock
	Logger              Logger
	RegistrationTimeout time.Duration
	InboxSizePerPeer    int

	// OnPeerUpdated, if set, is called after every applied (not
	// dropped) directory event, outside any internal lock.
	OnPeerUpdated func(PeerId, PeerUpdateKind)
}

// DirectoryClient is the peer-directory collaborator (component G): it
// registers this process with one of several configured directory
// peers, applies incoming descriptor and lifecycle events to its local
// view, and answers routing queries against that view through a
// SubscriptionTree.
//
// A directory event arriving while RegisterAsync is in flight is not
// necessarily stale: gossip about peers other than the one registering
// can race the registration response itself. Every event handler first
// checks whether the inbox is open; if so, the event is buffered and
// replayed once registration completes, rather than applied against a
// peer map that registration has not finished seeding. Events about the
// same peer replay in arrival order; the order between events about
// different peers is not defined.
type DirectoryClient struct {
	mu                sync.RWMutex
	self              PeerId
	endpoints         []Endpoint
	isDirectoryRandom bool
	sender            Sender
	codec             DirectoryCodec
	clock             *LogicalClock
	logger            Logger
	timeout           time.Duration
	tree              *SubscriptionTree
	peers             map[PeerId]*PeerEntry
	inbox             *eventInbox
	registering       bool
	onUpdate          func(PeerId, PeerUpdateKind)

	// registeredEndpoints is the directory peer list as it stood at
	// the moment registration last succeeded, captured so Unregister
	// targets the same directory the peer originally joined even if
	// the configuration proxy has since changed Endpoints.
	registeredEndpoints []Endpoint
}

// NewDirectoryClient builds a DirectoryClient from cfg.
func NewDirectoryClient(cfg DirectoryClientConfig) *DirectoryClient {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewLogicalClock()
	}
	timeout := cfg.RegistrationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	codec := cfg.Codec
	if codec == nil {
		codec = EnvelopeCodec{}
	}
	return &DirectoryClient{
		self:              cfg.Self,
		endpoints:         cfg.Endpoints,
		isDirectoryRandom: cfg.IsDirectoryRandom,
		sender:            cfg.Sender,
		codec:             codec,
		clock:             clock,
		logger:            logger,
		timeout:           timeout,
		tree:              NewSubscriptionTree(),
		peers:             make(map[PeerId]*PeerEntry),
		inbox:             newEventInbox(cfg.InboxSizePerPeer),
		onUpdate:          cfg.OnPeerUpdated,
	}
}

func (d *DirectoryClient) emit(peerId PeerId, kind PeerUpdateKind) {
	if d.onUpdate != nil {
		d.onUpdate(peerId, kind)
	}
}

// candidateEndpoints returns the configured endpoints in the order
// they should be tried: shuffled if IsDirectoryRandom, in configured
// order otherwise.
func (d *DirectoryClient) candidateEndpoints() []Endpoint {
	out := make([]Endpoint, len(d.endpoints))
	copy(out, d.endpoints)
	if d.isDirectoryRandom {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// RegisterAsync registers desc with one of the configured directory
// endpoints, in the order candidateEndpoints prescribes, each send
// bounded by the client's RegistrationTimeout, until one accepts. It
// returns RegistrationExhaustedError if every endpoint fails, which
// includes an endpoint rejecting the peer ID with ErrPeerAlreadyExists.
//
// desc's own entry is added locally before any endpoint is contacted.
// While registration is in flight, the event inbox is open: every
// directory event handler buffers rather than applies its event. Once
// an endpoint accepts, its RegisterPeerResponse carries the directory's
// full peer snapshot; each returned descriptor is applied via
// AddOrUpdatePeerEntry, then the inbox is closed and every buffered
// event replayed before RegisterAsync returns (in arrival order per
// peer; the order across peers is not defined).
func (d *DirectoryClient) RegisterAsync(ctx context.Context, desc PeerDescriptor) error {
	added, removed, err := d.AddOrUpdatePeerEntry(desc)
	if err != nil {
		return err
	}
	for _, s := range added {
		d.tree.Bind(desc.Peer.PeerId, s)
	}
	for _, s := range removed {
		d.tree.Unbind(desc.Peer.PeerId, s)
	}

	d.mu.Lock()
	d.registering = true
	order := d.candidateEndpoints()
	d.mu.Unlock()

	payload, err := d.codec.EncodeRegister(desc)
	if err != nil {
		d.mu.Lock()
		d.registering = false
		d.mu.Unlock()
		return err
	}

	var errs []error
	for _, ep := range order {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		resp, sendErr := d.sender.Send(callCtx, Peer{Endpoint: ep}, MessageTypeRegisterPeer, payload)
		cancel()
		if sendErr != nil {
			d.logger.Warnf("directory registration against %s failed: %v", ep, sendErr)
			errs = append(errs, &TimeoutError{Endpoint: ep, Err: sendErr})
			continue
		}
		peers, decodeErr := d.codec.DecodeRegisterResponse(resp)
		if decodeErr != nil {
			if errors.Is(decodeErr, ErrPeerAlreadyExists) {
				d.logger.Warnf("directory registration against %s rejected: peer %s already exists", ep, desc.Peer.PeerId)
			}
			errs = append(errs, decodeErr)
			continue
		}
		d.finishRegistration(peers, order)
		return nil
	}
	d.mu.Lock()
	d.registering = false
	d.mu.Unlock()
	return &RegistrationExhaustedError{Attempted: order, Errs: errs}
}

// AddOrUpdatePeerEntry creates peerId's entry if this client has never
// seen it, or applies desc as a timestamp-gated update to the existing
// entry otherwise, reporting the subscriptions added and removed for
// the caller to apply to the SubscriptionTree. It is the shared
// primitive behind self-registration, registration-response snapshot
// application, and PeerStarted handling.
func (d *DirectoryClient) AddOrUpdatePeerEntry(desc PeerDescriptor) (added, removed []Subscription, err error) {
	d.mu.Lock()
	entry, ok := d.peers[desc.Peer.PeerId]
	if !ok {
		for _, s := range desc.Subscriptions {
			if err := s.BindingKey.Validate(); err != nil {
				d.mu.Unlock()
				return nil, nil, err
			}
		}
		entry = NewPeerEntry(desc)
		d.peers[desc.Peer.PeerId] = entry
		d.mu.Unlock()
		return desc.Subscriptions, nil, nil
	}
	d.mu.Unlock()
	return entry.ApplyDescriptor(desc)
}

func (d *DirectoryClient) finishRegistration(peers []PeerDescriptor, tried []Endpoint) {
	d.mu.Lock()
	d.registeredEndpoints = tried
	d.registering = false
	replay := d.inbox.drainAll()
	d.mu.Unlock()

	for _, desc := range peers {
		added, removed, err := d.AddOrUpdatePeerEntry(desc)
		if err != nil {
			d.logger.Infof("rejected registration snapshot entry for %s: %v", desc.Peer.PeerId, err)
			continue
		}
		for _, s := range added {
			d.tree.Bind(desc.Peer.PeerId, s)
		}
		for _, s := range removed {
			d.tree.Unbind(desc.Peer.PeerId, s)
		}
		d.emit(desc.Peer.PeerId, PeerUpdateStarted)
	}

	for _, fn := range replay {
		if err := fn(); err != nil {
			d.logger.Infof("replayed directory event rejected: %v", err)
		}
	}
}

// bufferIfRegistering enqueues fn for later replay and returns true if
// the inbox is currently open; it does nothing and returns false
// otherwise. Callers invoke fn themselves when this returns false.
func (d *DirectoryClient) bufferIfRegistering(peerId PeerId, fn func() error) bool {
	d.mu.Lock()
	if !d.registering {
		d.mu.Unlock()
		return false
	}
	d.inbox.enqueue(peerId, fn)
	d.mu.Unlock()
	return true
}

// HandlePeerStarted applies a PeerStarted event: add-or-update, gated
// by timestamp once the peer is already known.
func (d *DirectoryClient) HandlePeerStarted(desc PeerDescriptor) error {
	peerId := desc.Peer.PeerId
	if d.bufferIfRegistering(peerId, func() error { return d.HandlePeerStarted(desc) }) {
		return nil
	}

	if err := CheckVersionCompatible(desc.BusVersion); err != nil {
		d.logger.Warnf("peer %s reported an incompatible bus version, registering anyway: %v", peerId, err)
	}

	added, removed, err := d.AddOrUpdatePeerEntry(desc)
	if err != nil {
		d.logger.Infof("rejected PeerStarted for %s: %v", peerId, err)
		return nil
	}
	for _, s := range added {
		d.tree.Bind(peerId, s)
	}
	for _, s := range removed {
		d.tree.Unbind(peerId, s)
	}
	d.emit(peerId, PeerUpdateStarted)
	return nil
}

// HandlePeerStopped flips a known peer's liveness flags to down,
// gated by timestamp. A PeerStopped for a peer this client does not
// know about is a no-op: PeerStopped never creates an entry.
func (d *DirectoryClient) HandlePeerStopped(peerId PeerId, endpoint Endpoint, timestampUtc int64) error {
	if d.bufferIfRegistering(peerId, func() error { return d.HandlePeerStopped(peerId, endpoint, timestampUtc) }) {
		return nil
	}

	d.mu.RLock()
	entry, ok := d.peers[peerId]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := entry.SetAvailability(false, false, timestampUtc); err != nil {
		d.logger.Infof("rejected PeerStopped for %s: %v", peerId, err)
		return nil
	}
	d.emit(peerId, PeerUpdateStopped)
	return nil
}

// HandlePeerDecommissioned removes peerId's entry and every binding it
// held, atomically with respect to MatchingPeers lookups.
func (d *DirectoryClient) HandlePeerDecommissioned(peerId PeerId) error {
	if d.bufferIfRegistering(peerId, func() error { return d.HandlePeerDecommissioned(peerId) }) {
		return nil
	}
	d.RemovePeer(peerId)
	d.emit(peerId, PeerUpdateDecommissioned)
	return nil
}

// HandlePeerSubscriptionsUpdated applies a full subscription-set
// replacement pushed by a directory peer. An update for a peer this
// client has never seen is logged at warn level and dropped, rather
// than adopted — unlike HandlePeerStarted, PeerSubscriptionsUpdated
// never creates an entry.
func (d *DirectoryClient) HandlePeerSubscriptionsUpdated(desc PeerDescriptor) error {
	peerId := desc.Peer.PeerId
	if d.bufferIfRegistering(peerId, func() error { return d.HandlePeerSubscriptionsUpdated(desc) }) {
		return nil
	}

	d.mu.RLock()
	entry, ok := d.peers[peerId]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warnf("subscription update for unknown peer %s", peerId)
		return &UnknownPeerUpdateError{PeerId: peerId}
	}
	added, removed, err := entry.ApplyDescriptor(desc)
	if err != nil {
		d.logger.Infof("rejected PeerSubscriptionsUpdated for %s: %v", peerId, err)
		return nil
	}
	for _, s := range added {
		d.tree.Bind(peerId, s)
	}
	for _, s := range removed {
		d.tree.Unbind(peerId, s)
	}
	d.emit(peerId, PeerUpdateSubscriptionsChanged)
	return nil
}

// HandlePeerSubscriptionsForTypesUpdated applies a partial,
// one-message-type subscription update for peerId. An update for a
// peer this client does not know returns UnknownPeerUpdateError.
func (d *DirectoryClient) HandlePeerSubscriptionsForTypesUpdated(peerId PeerId, update SubscriptionsForType, timestampUtc int64) error {
	if d.bufferIfRegistering(peerId, func() error {
		return d.HandlePeerSubscriptionsForTypesUpdated(peerId, update, timestampUtc)
	}) {
		return nil
	}

	d.mu.RLock()
	entry, ok := d.peers[peerId]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warnf("subscription-for-types update for unknown peer %s", peerId)
		return &UnknownPeerUpdateError{PeerId: peerId}
	}

	added, removed, err := entry.ApplySubscriptionsForType(update, timestampUtc)
	if err != nil {
		d.logger.Infof("rejected PeerSubscriptionsForTypesUpdated for %s: %v", peerId, err)
		return nil
	}
	for _, s := range added {
		d.tree.Bind(peerId, s)
	}
	for _, s := range removed {
		d.tree.Unbind(peerId, s)
	}
	d.emit(peerId, PeerUpdateSubscriptionsChanged)
	return nil
}

// HandlePeerNotResponding flips a known peer's IsResponding flag to
// false, without affecting IsUp. A peer this client does not know is a
// no-op.
func (d *DirectoryClient) HandlePeerNotResponding(peerId PeerId) error {
	return d.setResponding(peerId, false, PeerUpdateNotResponding)
}

// HandlePeerResponding flips a known peer's IsResponding flag to true.
func (d *DirectoryClient) HandlePeerResponding(peerId PeerId) error {
	return d.setResponding(peerId, true, PeerUpdateResponding)
}

func (d *DirectoryClient) setResponding(peerId PeerId, responding bool, kind PeerUpdateKind) error {
	if d.bufferIfRegistering(peerId, func() error { return d.setResponding(peerId, responding, kind) }) {
		return nil
	}
	d.mu.RLock()
	entry, ok := d.peers[peerId]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	ts := d.clock.Now()
	if err := entry.SetAvailability(entry.Peer().IsUp, responding, ts); err != nil {
		return nil
	}
	d.emit(peerId, kind)
	return nil
}

// HandlePeerDescriptorEvent is a compatibility alias for
// HandlePeerStarted: directory peers announce both a peer's initial
// appearance and later full-descriptor refreshes with the same wire
// shape, and the add-or-update semantics are identical.
func (d *DirectoryClient) HandlePeerDescriptorEvent(desc PeerDescriptor) error {
	return d.HandlePeerStarted(desc)
}

// HandleSubscriptionUpdateEvent is a compatibility alias for
// HandlePeerSubscriptionsForTypesUpdated.
func (d *DirectoryClient) HandleSubscriptionUpdateEvent(peerId PeerId, update SubscriptionsForType, timestampUtc int64) error {
	return d.HandlePeerSubscriptionsForTypesUpdated(peerId, update, timestampUtc)
}

// UpdatePeerSubscriptionsForTypes sends a fresh, per-type subscription
// replacement to one configured directory peer, trying candidates in
// order until one succeeds, exactly like RegisterAsync.
func (d *DirectoryClient) UpdatePeerSubscriptionsForTypes(ctx context.Context, update SubscriptionsForType) error {
	ts := d.clock.Now()
	payload, err := d.codec.EncodeSubscriptionUpdate(update, ts)
	if err != nil {
		return err
	}
	d.mu.RLock()
	order := d.candidateEndpoints()
	d.mu.RUnlock()

	var errs []error
	for _, ep := range order {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, sendErr := d.sender.Send(callCtx, Peer{Endpoint: ep}, MessageTypeUpdateSubscriptionsType, payload)
		cancel()
		if sendErr != nil {
			errs = append(errs, &TimeoutError{Endpoint: ep, Err: sendErr})
			continue
		}
		return nil
	}
	return &RegistrationExhaustedError{Attempted: order, Errs: errs}
}

// Unregister sends UnregisterPeerCommand to the directory peer list
// captured at the moment registration last succeeded, not a freshly
// resolved one, per the spec's note that the configuration proxy may
// have moved endpoints since registration. It is a no-op if this
// client never successfully registered.
func (d *DirectoryClient) Unregister(ctx context.Context, self Peer) error {
	d.mu.RLock()
	order := d.registeredEndpoints
	d.mu.RUnlock()
	if len(order) == 0 {
		return nil
	}
	ts := d.clock.Now()
	payload, err := d.codec.EncodeUnregister(self, ts)
	if err != nil {
		return err
	}
	var errs []error
	for _, ep := range order {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, sendErr := d.sender.Send(callCtx, Peer{Endpoint: ep}, MessageTypeUnregisterPeer, payload)
		cancel()
		if sendErr == nil {
			return nil
		}
		errs = append(errs, sendErr)
	}
	return &RegistrationExhaustedError{Attempted: order, Errs: errs}
}

// RemovePeer discards peerId's entry and every binding it held.
func (d *DirectoryClient) RemovePeer(peerId PeerId) {
	d.mu.Lock()
	entry, ok := d.peers[peerId]
	delete(d.peers, peerId)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.tree.UnbindAll(peerId, entry.Descriptor().Subscriptions)
}

// Lookup returns the known state of peerId, if any.
func (d *DirectoryClient) Lookup(peerId PeerId) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.peers[peerId]
	if !ok {
		return Peer{}, false
	}
	return entry.Peer(), true
}

// GetPeerDescriptor returns a full snapshot of peerId's current state,
// if known.
func (d *DirectoryClient) GetPeerDescriptor(peerId PeerId) (PeerDescriptor, bool) {
	d.mu.RLock()
	entry, ok := d.peers[peerId]
	d.mu.RUnlock()
	if !ok {
		return PeerDescriptor{}, false
	}
	return entry.Descriptor(), true
}

// Peers returns a snapshot of every peer this client currently knows
// about.
func (d *DirectoryClient) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, e := range d.peers {
		out = append(out, e.Peer())
	}
	return out
}

// Snapshot returns a full PeerDescriptor for every peer this client
// currently knows about, a point-in-time copy safe to retain.
func (d *DirectoryClient) Snapshot() []PeerDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerDescriptor, 0, len(d.peers))
	for _, e := range d.peers {
		out = append(out, e.Descriptor())
	}
	return out
}

// MatchingPeers returns every peer subscribed with a binding matching
// binding.
func (d *DirectoryClient) MatchingPeers(binding MessageBinding) []PeerId {
	return d.tree.MatchingPeers(binding)
}
