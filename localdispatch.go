package flock

import "context"

// localDispatchKey is the context key for the local dispatch guard.
type localDispatchKey struct{}

// WithLocalDispatchSuppressed returns a context in which
// IsLocalDispatchSuppressed reports true. It is used when sending a
// message out over a transport, to prevent the bus from also handing
// that same message to any local handlers subscribed to it — the
// local-delivery decision belongs to the caller that is already
// inside a dispatch, not to the transport round trip it is about to
// start.
//
// The source design this is drawn from threads a thread-local flag
// through an explicit acquire/restore pair; context.Context gives the
// same nesting behavior for free, since a derived context never
// mutates its parent; once the call that pushed the flag returns, the
// parent context (and so the ambient "suppressed" state) is exactly
// what it was before, with no separate restore step required.
func WithLocalDispatchSuppressed(ctx context.Context) context.Context {
	return context.WithValue(ctx, localDispatchKey{}, true)
}

// IsLocalDispatchSuppressed reports whether ctx carries the local
// dispatch guard set by WithLocalDispatchSuppressed.
func IsLocalDispatchSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(localDispatchKey{}).(bool)
	return v
}
