package flock

import (
	"context"
	"encoding"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config configures a Bus.
type Config struct {
	Self                      PeerId
	Endpoint                  Endpoint
	DirectoryEndpoints        []Endpoint
	IsDirectoryPickedRandomly bool
	IsPersistent              bool
	HasDebuggerAttached       bool
	RegistrationTimeout       time.Duration
	DedupCacheSize            int
	Logger                    Logger
	Pipes                     []Pipe
	Container                 Container
}

// Bus is one participant on the service bus: it owns an invoker
// registry, a message dispatcher, and a directory client, and ties
// them together with the local dispatch guard so that a message
// published to a binding this same peer also subscribes to is
// delivered in-process instead of round-tripping over the transport.
type Bus struct {
	cfg Config

	logger     Logger
	metrics    *busMetrics
	clock      *LogicalClock
	registry   *InvokerRegistry
	queues     *NamedQueueFactory
	pipes      *DefaultPipeManager
	dedup      *DedupCache
	dispatcher *MessageDispatcher
	codec      DirectoryCodec

	mu             sync.RWMutex
	started        bool
	sender         Sender
	directory      *DirectoryClient
	selfDescriptor PeerDescriptor
}

// New builds a Bus from cfg. The bus is not live until Start is
// called with a Sender.
func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	metrics := newBusMetrics()
	registry := NewInvokerRegistry().Bind(cfg.Container)
	queues := NewNamedQueueFactory()
	pipes := &DefaultPipeManager{Pipes: cfg.Pipes}
	dedup := NewDedupCache(cfg.DedupCacheSize)
	dispatcher := NewMessageDispatcher(registry, queues, pipes, dedup, logger, metrics)
	b := &Bus{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		clock:      NewLogicalClock(),
		registry:   registry,
		queues:     queues,
		pipes:      pipes,
		dedup:      dedup,
		dispatcher: dispatcher,
		codec:      EnvelopeCodec{},
	}
	b.registerDirectoryInvokers()
	return b
}

// directoryInvokerHandlerType is the handler-type tag the directory
// event invokers register under, keeping them out of a deployment's
// own (HandlerType, MessageTypeId) namespace.
const directoryInvokerHandlerType = "flock.directory"

// registerDirectoryInvokers wires every directory event message type
// into b.registry against the matching DirectoryClient method, so a
// directory event arriving over the wire — PeerStarted, PeerStopped,
// PeerDecommissioned, a subscription update, PeerNotResponding,
// PeerResponding — flows through the same dispatcher/queue/pipe-chain
// path as any other message instead of requiring a caller to invoke
// DirectoryClient directly.
func (b *Bus) registerDirectoryInvokers() {
	codec := b.codec
	b.registry.
		Handle(directoryInvokerHandlerType, MessageTypePeerDescriptorEvent, "", false, func(ctx context.Context, msg any) error {
			desc, err := codec.DecodeDescriptor(msg.([]byte))
			if err != nil {
				return err
			}
			return b.HandlePeerDescriptorEvent(desc)
		}).
		Handle(directoryInvokerHandlerType, MessageTypePeerStopped, "", false, func(ctx context.Context, msg any) error {
			peerId, endpoint, ts, err := codec.DecodePeerStopped(msg.([]byte))
			if err != nil {
				return err
			}
			return b.HandlePeerStopped(peerId, endpoint, ts)
		}).
		Handle(directoryInvokerHandlerType, MessageTypePeerDecommissioned, "", false, func(ctx context.Context, msg any) error {
			peerId, err := codec.DecodePeerId(msg.([]byte))
			if err != nil {
				return err
			}
			return b.HandlePeerDecommissioned(peerId)
		}).
		Handle(directoryInvokerHandlerType, MessageTypePeerNotResponding, "", false, func(ctx context.Context, msg any) error {
			peerId, err := codec.DecodePeerId(msg.([]byte))
			if err != nil {
				return err
			}
			return b.HandlePeerNotResponding(peerId)
		}).
		Handle(directoryInvokerHandlerType, MessageTypePeerResponding, "", false, func(ctx context.Context, msg any) error {
			peerId, err := codec.DecodePeerId(msg.([]byte))
			if err != nil {
				return err
			}
			return b.HandlePeerResponding(peerId)
		}).
		Handle(directoryInvokerHandlerType, MessageTypeSubscriptionUpdate, "", false, b.handleSubscriptionUpdateWire).
		Handle(directoryInvokerHandlerType, MessageTypeUpdateSubscriptionsType, "", false, b.handleSubscriptionUpdateWire)
}

// handleSubscriptionUpdateWire decodes a SubscriptionsForType payload
// and applies it against whichever peer sent it. Unlike every other
// directory event payload, this wire shape carries no peer identity
// of its own, so the sending peer comes from the dispatch context via
// senderIdFromContext instead.
func (b *Bus) handleSubscriptionUpdateWire(ctx context.Context, msg any) error {
	update, ts, err := b.codec.DecodeSubscriptionUpdate(msg.([]byte))
	if err != nil {
		return err
	}
	return b.HandleSubscriptionUpdateEvent(senderIdFromContext(ctx), update, ts)
}

// senderIdKey is the context key carrying the sending peer's identity
// through a dispatch, for handlers (like handleSubscriptionUpdateWire)
// that need it but aren't given a *MessageContext directly.
type senderIdKey struct{}

func withSenderId(ctx context.Context, id PeerId) context.Context {
	return context.WithValue(ctx, senderIdKey{}, id)
}

func senderIdFromContext(ctx context.Context) PeerId {
	id, _ := ctx.Value(senderIdKey{}).(PeerId)
	return id
}

// Invokers returns the bus's invoker registry, for a deployment to
// populate before calling Start.
func (b *Bus) Invokers() *InvokerRegistry { return b.registry }

// Metrics returns the expvar map of bus activity counters.
func (b *Bus) Metrics() *busMetrics { return b.metrics }

// Start registers this bus with a directory peer over sender and
// begins accepting dispatch. It must be called at most once.
func (b *Bus) Start(ctx context.Context, sender Sender) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("flock: bus already started")
	}
	b.sender = sender
	b.directory = NewDirectoryClient(DirectoryClientConfig{
		Self:                b.cfg.Self,
		Endpoints:           b.cfg.DirectoryEndpoints,
		IsDirectoryRandom:   b.cfg.IsDirectoryPickedRandomly,
		Sender:              sender,
		Codec:               b.codec,
		Clock:               b.clock,
		Logger:              b.logger,
		RegistrationTimeout: b.cfg.RegistrationTimeout,
		OnPeerUpdated: func(peerId PeerId, kind PeerUpdateKind) {
			b.logger.Debugf("directory: peer %s %s", peerId, kind)
		},
	})
	b.started = true
	b.mu.Unlock()

	desc := PeerDescriptor{
		Peer:                Peer{PeerId: b.cfg.Self, Endpoint: b.cfg.Endpoint, IsUp: true, IsResponding: true},
		IsPersistent:        b.cfg.IsPersistent,
		TimestampUtc:        b.clock.Now(),
		Subscriptions:       b.registry.StartupSubscriptions(),
		HasDebuggerAttached: b.cfg.HasDebuggerAttached,
		BusVersion:          BusVersion,
	}
	if err := b.directory.RegisterAsync(ctx, desc); err != nil {
		b.metrics.registrationErrors.Add(1)
		return err
	}
	b.mu.Lock()
	b.selfDescriptor = desc
	b.mu.Unlock()
	b.metrics.registrations.Add(1)
	return nil
}

// LocalPeerDescriptor returns the self-descriptor this bus registered
// with, valid only after a successful Start.
func (b *Bus) LocalPeerDescriptor() PeerDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfDescriptor
}

// Stop unregisters this bus from the directory it joined (using the
// directory peer list captured at registration, per
// DirectoryClient.Unregister), then stops every dispatch queue the bus
// has created. Tasks already running are allowed to finish; pending
// tasks are abandoned. Stop is a no-op if the bus was never started.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.RLock()
	directory := b.directory
	self := Peer{PeerId: b.cfg.Self, Endpoint: b.cfg.Endpoint}
	b.mu.RUnlock()
	if directory != nil {
		if err := directory.Unregister(ctx, self); err != nil {
			b.logger.Warnf("unregister on stop failed: %v", err)
		}
	}
	b.queues.StopAll()
	return nil
}

// PurgeQueues discards every pending task on every dispatch queue the
// bus has created so far, and reports the total number discarded.
func (b *Bus) PurgeQueues() int {
	total := 0
	for _, q := range b.queues.All() {
		total += q.PurgeTasks()
	}
	return total
}

// Directory returns the bus's directory client, valid only after
// Start.
func (b *Bus) Directory() *DirectoryClient {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.directory
}

// HandlePeerDescriptorEvent forwards a PeerStarted event to the bus's
// directory client.
func (b *Bus) HandlePeerDescriptorEvent(desc PeerDescriptor) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerDescriptorEvent(desc)
}

// HandlePeerStopped forwards a PeerStopped event to the bus's
// directory client.
func (b *Bus) HandlePeerStopped(peerId PeerId, endpoint Endpoint, timestampUtc int64) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerStopped(peerId, endpoint, timestampUtc)
}

// HandlePeerDecommissioned forwards a PeerDecommissioned event to the
// bus's directory client.
func (b *Bus) HandlePeerDecommissioned(peerId PeerId) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerDecommissioned(peerId)
}

// HandlePeerSubscriptionsUpdated forwards a full subscription-set
// replacement event to the bus's directory client.
func (b *Bus) HandlePeerSubscriptionsUpdated(desc PeerDescriptor) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerSubscriptionsUpdated(desc)
}

// HandleSubscriptionUpdateEvent forwards a partial subscription event
// to the bus's directory client.
func (b *Bus) HandleSubscriptionUpdateEvent(peerId PeerId, update SubscriptionsForType, timestampUtc int64) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandleSubscriptionUpdateEvent(peerId, update, timestampUtc)
}

// HandlePeerNotResponding forwards a PeerNotResponding event to the
// bus's directory client.
func (b *Bus) HandlePeerNotResponding(peerId PeerId) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerNotResponding(peerId)
}

// HandlePeerResponding forwards a PeerResponding event to the bus's
// directory client.
func (b *Bus) HandlePeerResponding(peerId PeerId) error {
	b.metrics.directoryEvents.Add(1)
	return b.Directory().HandlePeerResponding(peerId)
}

// HandleInbound dispatches payload, received from senderId over the
// transport, to every local invoker registered for msgType. It always
// runs with the local dispatch guard set, since a message that just
// arrived over the wire can never also need in-process re-delivery.
func (b *Bus) HandleInbound(ctx context.Context, senderId PeerId, msgType MessageTypeId, payload []byte) DispatchResult {
	return b.dispatchBytes(WithLocalDispatchSuppressed(ctx), msgType, payload, senderId)
}

// Publish delivers msg, marshaled once, to every peer subscribed to
// msgType with a binding key matching routingKey: peers other than
// this one receive it over the transport, while this peer (if it is
// itself a matching subscriber, and ctx does not already carry the
// local dispatch guard) receives it in-process through the message
// dispatcher, without a round trip.
func (b *Bus) Publish(ctx context.Context, msgType MessageTypeId, routingKey RoutingKey, msg any) (DispatchResult, error) {
	payload, err := marshalPayload(msg)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("flock: marshal %s payload: %w", msgType, err)
	}

	dir := b.Directory()
	targets := dir.MatchingPeers(MessageBinding{MessageTypeId: msgType, RoutingKey: routingKey})
	suppressed := IsLocalDispatchSuppressed(ctx)

	var aggregate DispatchResult
	for _, peerId := range targets {
		if peerId == b.cfg.Self && !suppressed {
			r := b.dispatchBytes(ctx, msgType, payload, b.cfg.Self)
			aggregate.WasHandled = aggregate.WasHandled || r.WasHandled
			aggregate.Errors = append(aggregate.Errors, r.Errors...)
			continue
		}
		target, ok := dir.Lookup(peerId)
		if !ok {
			continue
		}
		if _, sendErr := b.sender.Send(WithLocalDispatchSuppressed(ctx), target, msgType, payload); sendErr != nil {
			aggregate.AddError(&HandlerError{MessageTypeId: msgType, HandlerType: string(peerId), Err: sendErr})
		} else {
			aggregate.WasHandled = true
		}
	}
	return aggregate, nil
}

func (b *Bus) dispatchBytes(ctx context.Context, msgType MessageTypeId, payload []byte, senderId PeerId) DispatchResult {
	ctx = withSenderId(ctx, senderId)
	var (
		result DispatchResult
		wg     sync.WaitGroup
	)
	wg.Add(1)
	b.dispatcher.Dispatch(ctx, msgType, MessageDispatch{
		Context: MessageContext{SenderId: senderId, MessageId: uuid.NewString()},
		Message: payload,
		CompletionCallback: func(r DispatchResult) {
			result = r
			wg.Done()
		},
	})
	wg.Wait()
	return result
}

// marshalPayload encodes v the same way the source design's handler
// adapters do: []byte and string pass through, and anything else must
// implement encoding.BinaryMarshaler or encoding.TextMarshaler.
func marshalPayload(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
