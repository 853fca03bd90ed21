// Package flock implements the core of a peer-to-peer service bus: a
// distributed messaging fabric where autonomous peers exchange typed
// commands and events discovered through a shared directory.
//
// # Bus
//
// The core type defined by this package is the [Bus]. A Bus is one
// participant on the fabric: it dispatches inbound messages to local
// handlers through a dispatcher, maintains a replica of the shared
// directory through a directory client, and decides, through the local
// dispatch guard, whether an outbound message the local peer also
// handles should be delivered in-process instead of over the wire.
//
// To create a bus and start it against a transport:
//
//	b := flock.New(flock.Config{Self: flock.PeerId("peer-a")})
//	if err := b.Start(ctx, sender); err != nil {
//	    log.Fatalf("start: %v", err)
//	}
//	defer b.Stop(context.Background())
//
// # Messages
//
// A message is dispatched by wrapping it, together with a
// [MessageContext], in a [MessageDispatch] and handing it to
// [MessageDispatcher.Dispatch]. The dispatcher resolves every local
// invoker for the message's [MessageTypeId], runs each one on its dispatch queue through the
// pipe chain, and reports one aggregate [DispatchResult] to the
// dispatch's completion callback exactly once.
//
// # Directory
//
// The directory tells a bus which remote peers handle a given message
// type and routing key. The directory client registers the local peer
// with one of the configured directory servers, applies the returned
// snapshot, and keeps the local replica current by treating directory
// events (PeerStarted, PeerStopped, PeerDecommissioned, ...) as
// ordinary dispatched messages, routed to its own handlers the same way
// any other message type is.
//
// # Collaborators
//
// The wire transport, a codec beyond the wire envelope, the logging
// sink, and process bootstrapping are external collaborators. This
// package defines narrow interfaces for them ([Sender], [Container],
// [PipeManager], [DispatcherTaskSchedulerFactory], [Logger]) so that
// concrete implementations — an in-memory transport for tests, a
// NATS-backed transport for a real deployment — can be swapped in
// without touching the dispatch or directory logic.
//
// # Local dispatch
//
// [Bus.Publish] consults the directory before choosing a transport: if
// the local peer itself handles the outbound message's binding, and
// the calling context does not already carry the local dispatch guard
// (see [WithLocalDispatchSuppressed]), the message is looped back
// through the dispatcher directly rather than round-tripping through
// the wire.
//
// # Shutdown
//
// [Bus.Stop] unregisters the local peer from the directory endpoints
// it last registered against, then stops every dispatch queue: a task
// already running finishes, and tasks still pending are abandoned.
package flock
