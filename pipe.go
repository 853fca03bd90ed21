package flock

import "context"

// Pipe is an interceptor around one handler invocation. Concrete pipes
// implement whichever subset of BeforeInvokePipe, AfterInvokePipe, and
// OnErrorPipe they need; the pipe chain checks each via a type
// assertion rather than requiring a single fat interface.
type Pipe any

// BeforeInvokePipe runs before the handler. Its return value is
// per-invocation state, later handed to the matching AfterInvokePipe
// or OnErrorPipe call for the same pipe.
type BeforeInvokePipe interface {
	BeforeInvoke(ctx context.Context, msg any, mctx *MessageContext) (state any)
}

// AfterInvokePipe runs after the handler, in the reverse of the pipe
// chain's registration order. It always runs, whether or not the
// handler (or an earlier pipe) failed; invokeErr is nil on success.
type AfterInvokePipe interface {
	AfterInvoke(ctx context.Context, msg any, mctx *MessageContext, state any, invokeErr error)
}

// OnErrorPipe runs, in reverse registration order, when the handler or
// any hook reports an error. AfterInvokePipe hooks still run
// afterward, informed of the same error.
type OnErrorPipe interface {
	OnError(ctx context.Context, msg any, mctx *MessageContext, state any, err error)
}

// pipeInvocation is the concrete PipeInvocation built by
// DefaultPipeManager: one invoker call wrapped by an ordered chain of
// pipes.
type pipeInvocation struct {
	inv   Invoker
	msg   any
	mctx  *MessageContext
	pipes []Pipe
}

// Run satisfies PipeInvocation. It executes Before hooks in
// registration order, then the invoker, then (on error) OnError hooks
// in reverse order, then After hooks in reverse order, and finally
// reports the invoker's error, if any, to done exactly once.
func (p *pipeInvocation) Run(ctx context.Context, done func(error)) {
	states := make(map[int]any, len(p.pipes))
	for i, pp := range p.pipes {
		if b, ok := pp.(BeforeInvokePipe); ok {
			states[i] = safeBefore(b, ctx, p.msg, p.mctx)
		}
	}

	p.inv.Invoke(ctx, p.msg, p.mctx, func(invokeErr error) {
		if invokeErr != nil {
			for i := len(p.pipes) - 1; i >= 0; i-- {
				if oe, ok := p.pipes[i].(OnErrorPipe); ok {
					safeOnError(oe, ctx, p.msg, p.mctx, states[i], invokeErr)
				}
			}
		}
		for i := len(p.pipes) - 1; i >= 0; i-- {
			if af, ok := p.pipes[i].(AfterInvokePipe); ok {
				safeAfter(af, ctx, p.msg, p.mctx, states[i], invokeErr)
			}
		}
		done(invokeErr)
	})
}

func safeBefore(b BeforeInvokePipe, ctx context.Context, msg any, mctx *MessageContext) (state any) {
	defer func() { recover() }()
	return b.BeforeInvoke(ctx, msg, mctx)
}

func safeAfter(a AfterInvokePipe, ctx context.Context, msg any, mctx *MessageContext, state any, err error) {
	defer func() { recover() }()
	a.AfterInvoke(ctx, msg, mctx, state, err)
}

func safeOnError(o OnErrorPipe, ctx context.Context, msg any, mctx *MessageContext, state any, err error) {
	defer func() { recover() }()
	o.OnError(ctx, msg, mctx, state, err)
}

// DefaultPipeManager builds a PipeInvocation from a fixed, ordered
// list of pipes shared by every invocation. Bus wires one of these up
// with the pipes passed to New, mirroring how PipeManager is an
// external collaborator in the source design that a real deployment
// configures once at startup.
type DefaultPipeManager struct {
	Pipes []Pipe
}

// BuildPipeInvocation satisfies PipeManager.
func (m *DefaultPipeManager) BuildPipeInvocation(inv Invoker, msg any, mctx *MessageContext) PipeInvocation {
	return &pipeInvocation{inv: inv, msg: msg, mctx: mctx, pipes: m.Pipes}
}
