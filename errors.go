package flock

import (
	"errors"
	"fmt"
)

// ErrAsyncNotStarted is the fixed error reported when an async handler
// returns a nil/absent deferred result instead of a value that will
// eventually complete. It is treated as a HandlerError: it is caught,
// appended to the DispatchResult, and never propagates to the queue.
var ErrAsyncNotStarted = errors.New("dispatch failed because handler did not start its task")

// HandlerError wraps a panic or error raised by a handler invocation.
// It is always caught by the pipe chain and never escapes a dispatch
// queue task.
type HandlerError struct {
	MessageTypeId MessageTypeId
	HandlerType   string
	Err           error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s: %v", e.HandlerType, e.MessageTypeId, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// TimeoutError reports that a directory send exceeded its configured
// RegistrationTimeout against one directory peer endpoint.
type TimeoutError struct {
	Endpoint Endpoint
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("directory request to %s timed out: %v", e.Endpoint, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RegistrationExhaustedError is returned by RegisterAsync when every
// configured directory peer timed out or rejected registration.
type RegistrationExhaustedError struct {
	Attempted []Endpoint
	Errs      []error
}

func (e *RegistrationExhaustedError) Error() string {
	return fmt.Sprintf("registration failed against all %d configured directory endpoints: %v", len(e.Attempted), e.Errs)
}

// OutdatedUpdateError describes a directory event dropped because its
// logical timestamp did not exceed the stored one. It is never
// returned to a caller; it is logged at info level and discarded.
type OutdatedUpdateError struct {
	PeerId       PeerId
	Incoming     int64
	Stored       int64
}

func (e *OutdatedUpdateError) Error() string {
	return fmt.Sprintf("outdated update for peer %s: incoming timestamp %d <= stored %d", e.PeerId, e.Incoming, e.Stored)
}

// UnknownPeerUpdateError describes a subscription update received for a
// peer the directory client does not know about. It is logged at warn
// level, leaves the directory unchanged, and is returned to the caller.
type UnknownPeerUpdateError struct {
	PeerId PeerId
}

func (e *UnknownPeerUpdateError) Error() string {
	return fmt.Sprintf("subscription update for unknown peer %s", e.PeerId)
}

// ErrPeerAlreadyExists is the error code a directory server returns
// from RegisterPeerCommand when the registering peer's ID is already
// bound to a different, live endpoint. RegisterAsync treats it exactly
// like a timed-out endpoint: the attempt fails and the next configured
// directory peer is tried.
var ErrPeerAlreadyExists = errors.New("flock: peer already exists")
