package flock

import "context"

// Sender is the wire transport collaborator: everything the core needs
// from a network client in order to place a call on a remote peer. A
// concrete implementation (see transport/local and transport/nats)
// owns connection management, retries below the RegistrationTimeout
// boundary, and serialization of the Envelope itself.
type Sender interface {
	// Send delivers payload to target and returns the raw response
	// payload, or an error. Implementations must respect ctx
	// cancellation/deadline.
	Send(ctx context.Context, target Peer, methodId MessageTypeId, payload []byte) ([]byte, error)
}

// Container is the dependency-injection collaborator the invoker
// loader uses to obtain handler instances, so that handler
// construction is never the loader's responsibility.
type Container interface {
	// GetInstance returns an instance implementing the named handler
	// type, or an error if none is registered.
	GetInstance(handlerType string) (any, error)
}

// Invoker adapts one concrete handler to one message type. Exactly one
// invoker exists per (HandlerType, MessageType) pair.
type Invoker interface {
	// MessageTypeId identifies the message type this invoker handles.
	MessageTypeId() MessageTypeId

	// HandlerType names the concrete handler type, for diagnostics and
	// for the (HandlerType, MessageType) uniqueness invariant.
	HandlerType() string

	// ShouldBeSubscribedOnStartup reports whether the invoker loader
	// should auto-subscribe this invoker's binding on startup. It is
	// false for NoScan handlers and for handlers of Routable message
	// types, which are subscribed explicitly by binding key instead.
	ShouldBeSubscribedOnStartup() bool

	// DispatchQueueName names the dispatch queue this invoker requires
	// its invocations to be serialized on, or "" to defer the choice to
	// the dispatch context's queue name, and finally the default.
	DispatchQueueName() string

	// Invoke runs the handler against message and ctx, and reports its
	// outcome on done exactly once. Invoke itself must not block past
	// starting the work; sync handlers may call done before returning.
	Invoke(ctx context.Context, msg any, mctx *MessageContext, done func(error))
}

// PipeInvocation is what a PipeManager builds for one dispatch: the
// target invoker together with the ordered pipe chain that wraps it.
type PipeInvocation interface {
	// Run executes the Before hooks, the invoker, the After hooks, and
	// (on failure) the OnError hooks, then reports the final error, if
	// any, to done exactly once.
	Run(ctx context.Context, done func(error))
}

// PipeManager is the interceptor-chain collaborator: given an invoker
// and the message being dispatched, it builds the ordered pipe chain
// that should wrap the invocation.
type PipeManager interface {
	BuildPipeInvocation(inv Invoker, msg any, mctx *MessageContext) PipeInvocation
}

// DispatcherTaskSchedulerFactory creates (or returns the existing)
// named dispatch queue for a queue name.
type DispatcherTaskSchedulerFactory interface {
	Create(queueName string) *DispatchQueue
}

// Logger is the logging-sink collaborator. It is intentionally tiny —
// concrete backends (see the logging package) adapt a real structured
// logger to it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything; it is the default when no Logger is
// configured, so core code never needs a nil check.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
