package flock

import (
	"fmt"
	"sync"
)

// InvokerRegistry is the explicit, code-driven replacement for
// assembly-scanning handler discovery: instead of reflecting over a
// loaded set of types to find handler methods, a deployment builds its
// registry once, by chaining calls the same way catalog.Catalog is
// built in the source design this pattern is drawn from.
//
//	reg := flock.NewInvokerRegistry().
//		Bind(container).
//		Handle("OrderCreated", "order.create", "", true, handleOrderCreated).
//		HandleAsync("OrderShipped", "order.ship", "shipping", false, handleOrderShipped)
type InvokerRegistry struct {
	mu            sync.RWMutex
	container     Container
	byKey         map[registryKey]Invoker
	byType        map[MessageTypeId][]Invoker
	handlerFilter func(Invoker) bool
}

type registryKey struct {
	handlerType   string
	messageTypeId MessageTypeId
}

// NewInvokerRegistry returns an empty registry.
func NewInvokerRegistry() *InvokerRegistry {
	return &InvokerRegistry{
		byKey:  make(map[registryKey]Invoker),
		byType: make(map[MessageTypeId][]Invoker),
	}
}

// Bind attaches the container an invoker uses to resolve handler
// instances by name. It returns r to permit chaining.
func (r *InvokerRegistry) Bind(container Container) *InvokerRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.container = container
	return r
}

// Container returns the registry's bound Container, or nil.
func (r *InvokerRegistry) Container() Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.container
}

// Add registers one or more fully-built invokers and returns r to
// permit chaining. Add panics if an invoker's (HandlerType,
// MessageTypeId) pair was already registered — exactly one invoker may
// exist per pair, the same uniqueness catalog.Catalog enforces over
// method names.
func (r *InvokerRegistry) Add(invokers ...Invoker) *InvokerRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range invokers {
		key := registryKey{handlerType: inv.HandlerType(), messageTypeId: inv.MessageTypeId()}
		if _, exists := r.byKey[key]; exists {
			panic(fmt.Sprintf("flock: invoker already registered for handler %q, message %q", key.handlerType, key.messageTypeId))
		}
		r.byKey[key] = inv
		r.byType[inv.MessageTypeId()] = append(r.byType[inv.MessageTypeId()], inv)
	}
	return r
}

// Handle builds a synchronous invoker and registers it, returning r to
// permit chaining.
func (r *InvokerRegistry) Handle(handlerType string, msgType MessageTypeId, queueName string, subscribeOnStartup bool, fn HandlerFunc) *InvokerRegistry {
	return r.Add(NewSyncInvoker(handlerType, msgType, queueName, subscribeOnStartup, fn))
}

// HandleAsync builds an asynchronous invoker and registers it,
// returning r to permit chaining.
func (r *InvokerRegistry) HandleAsync(handlerType string, msgType MessageTypeId, queueName string, subscribeOnStartup bool, fn AsyncHandlerFunc) *InvokerRegistry {
	return r.Add(NewAsyncInvoker(handlerType, msgType, queueName, subscribeOnStartup, fn))
}

// HandleMulti builds a multi-event invoker and registers it, returning
// r to permit chaining.
func (r *InvokerRegistry) HandleMulti(handlerType string, msgType MessageTypeId, queueName string, subscribeOnStartup bool, fn MultiHandlerFunc) *InvokerRegistry {
	return r.Add(NewMultiInvoker(handlerType, msgType, queueName, subscribeOnStartup, fn))
}

// Lookup returns the invoker registered for (handlerType, msgType), if
// any.
func (r *InvokerRegistry) Lookup(handlerType string, msgType MessageTypeId) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.byKey[registryKey{handlerType: handlerType, messageTypeId: msgType}]
	return inv, ok
}

// InvokersFor returns every invoker registered for msgType, a fresh
// slice safe for the caller to retain.
func (r *InvokerRegistry) InvokersFor(msgType MessageTypeId) []Invoker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.byType[msgType]
	out := make([]Invoker, len(src))
	copy(out, src)
	return out
}

// All returns every registered invoker, in no particular order.
func (r *InvokerRegistry) All() []Invoker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Invoker, 0, len(r.byKey))
	for _, inv := range r.byKey {
		out = append(out, inv)
	}
	return out
}

// StartupSubscriptions returns one catch-all Subscription per message
// type that has at least one invoker whose ShouldBeSubscribedOnStartup
// is true — the loader's answer to
// handlers that want every message of their type regardless of binding
// key, without a deployment having to spell that out by hand.
func (r *InvokerRegistry) StartupSubscriptions() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	seen := make(map[MessageTypeId]bool)
	for _, inv := range r.byKey {
		if !inv.ShouldBeSubscribedOnStartup() || seen[inv.MessageTypeId()] {
			continue
		}
		seen[inv.MessageTypeId()] = true
		out = append(out, Subscription{MessageTypeId: inv.MessageTypeId()})
	}
	return out
}

// ConfigureHandlerFilter sets the predicate the next
// LoadMessageHandlerInvokers call consumes to decide which registered
// invokers participate in dispatch: an invoker for which filter
// returns false is excluded from InvokersFor, though it remains
// registered and reachable through Lookup/All. A nil filter (the
// default) excludes nothing. Returns r to permit chaining.
func (r *InvokerRegistry) ConfigureHandlerFilter(filter func(Invoker) bool) *InvokerRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerFilter = filter
	return r
}

// LoadMessageHandlerInvokers rebuilds the message-type index
// (InvokersFor's backing map) from every invoker currently registered
// in byKey, applying the handler filter set by ConfigureHandlerFilter.
// It never mutates byKey, so it is idempotent: calling it twice with
// no intervening Add or ConfigureHandlerFilter call yields the exact
// same invoker set, satisfying the reload contract without needing
// Add itself to tolerate re-registration.
func (r *InvokerRegistry) LoadMessageHandlerInvokers() *InvokerRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := make(map[MessageTypeId][]Invoker, len(r.byType))
	for _, inv := range r.byKey {
		if r.handlerFilter != nil && !r.handlerFilter(inv) {
			continue
		}
		byType[inv.MessageTypeId()] = append(byType[inv.MessageTypeId()], inv)
	}
	r.byType = byType
	return r
}

// GetMessageHandlerInvokers returns every registered invoker, the same
// snapshot All provides; it exists under this name to match the
// dispatcher's own vocabulary for the operation.
func (r *InvokerRegistry) GetMessageHandlerInvokers() []Invoker {
	return r.All()
}

// GetHandledMessageTypes returns every MessageTypeId with at least one
// registered invoker, each exactly once.
func (r *InvokerRegistry) GetHandledMessageTypes() []MessageTypeId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MessageTypeId, 0, len(r.byType))
	for msgType := range r.byType {
		out = append(out, msgType)
	}
	return out
}
