package flock

import "fmt"

// ReplyCode is a small status code a handler may set on the
// MessageContext it was invoked with, to be echoed back to the sender
// of a call-shaped message. The zero value means "no reply code set".
type ReplyCode int

// MessageContext flows with one dispatch, mutable by handlers only in
// its ReplyCode field.
type MessageContext struct {
	SenderId  PeerId
	MessageId string // opaque; dispatchBytes in bus.go assigns a fresh UUID

	// DispatchQueueName, if set, names the queue a dispatch should run
	// on when the matching invoker has no queue name of its own. It is
	// the middle tier of MessageDispatcher's queue-selection fallback,
	// between the invoker's own name and DefaultDispatchQueueName.
	DispatchQueueName string

	ReplyCode ReplyCode
}

// MessageDispatch is one in-flight invocation of a message across every
// matching local handler. CompletionCallback fires exactly once, when
// every matching invoker has completed.
type MessageDispatch struct {
	Context            MessageContext
	Message            any
	CompletionCallback func(DispatchResult)
}

// DispatchResult is the outcome aggregate of one MessageDispatch across
// all local invokers.
type DispatchResult struct {
	WasHandled bool
	Errors     []error
}

// AddError appends err to r and marks the dispatch as handled — a
// handler that ran and failed still counts as "handled" per spec.
func (r *DispatchResult) AddError(err error) {
	r.WasHandled = true
	r.Errors = append(r.Errors, err)
}

// String satisfies fmt.Stringer, mainly for test failure messages.
func (r DispatchResult) String() string {
	return fmt.Sprintf("DispatchResult(handled=%v, errors=%d)", r.WasHandled, len(r.Errors))
}
