package flock

import (
	"context"
	"sync"
)

// MessageDispatcher is the message dispatch orchestrator (component H):
// given a message and its type, it resolves every local invoker
// registered for that type, submits each invocation to its own named
// dispatch queue wrapped in the configured pipe chain, aggregates
// their outcomes into a single DispatchResult, and fires the
// dispatch's completion callback exactly once, after every invoker has
// finished.
type MessageDispatcher struct {
	registry *InvokerRegistry
	queues   DispatcherTaskSchedulerFactory
	pipes    PipeManager
	dedup    *DedupCache
	logger   Logger
	metrics  *busMetrics
}

// NewMessageDispatcher builds a MessageDispatcher. pipes and dedup may
// be nil: a nil pipes falls back to an empty pipe chain, and a nil
// dedup disables message-ID deduplication.
func NewMessageDispatcher(registry *InvokerRegistry, queues DispatcherTaskSchedulerFactory, pipes PipeManager, dedup *DedupCache, logger Logger, metrics *busMetrics) *MessageDispatcher {
	if pipes == nil {
		pipes = &DefaultPipeManager{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if metrics == nil {
		metrics = newBusMetrics()
	}
	return &MessageDispatcher{registry: registry, queues: queues, pipes: pipes, dedup: dedup, logger: logger, metrics: metrics}
}

// Dispatch resolves every invoker registered for msgType and runs
// dispatch.Message through each, reporting the aggregate outcome to
// dispatch.CompletionCallback exactly once. A message whose
// MessageId was already seen by the dedup cache is not redelivered;
// its completion callback fires immediately with an unhandled result.
func (d *MessageDispatcher) Dispatch(ctx context.Context, msgType MessageTypeId, dispatch MessageDispatch) {
	if dispatch.Context.MessageId != "" && d.dedup != nil && d.dedup.SeenBefore(dispatch.Context.MessageId) {
		d.logger.Debugf("dropping duplicate delivery of message %s", dispatch.Context.MessageId)
		d.complete(dispatch, DispatchResult{})
		return
	}

	invokers := d.registry.InvokersFor(msgType)
	d.metrics.messagesDispatched.Add(1)
	if len(invokers) == 0 {
		d.complete(dispatch, DispatchResult{})
		return
	}

	var (
		mu        sync.Mutex
		result    DispatchResult
		remaining = len(invokers)
	)
	finish := func(err error) {
		mu.Lock()
		if err != nil {
			result.AddError(err)
		} else {
			result.WasHandled = true
		}
		remaining--
		done := remaining == 0
		snapshot := result
		mu.Unlock()
		if err != nil {
			d.metrics.handlerErrors.Add(1)
		}
		if done {
			d.metrics.messagesHandled.Add(1)
			d.complete(dispatch, snapshot)
		}
	}

	for _, inv := range invokers {
		inv := inv
		queueName := inv.DispatchQueueName()
		if queueName == "" {
			queueName = dispatch.Context.DispatchQueueName
		}
		if queueName == "" {
			queueName = DefaultDispatchQueueName
		}
		queue := d.queues.Create(queueName)
		mctx := dispatch.Context
		queue.Enqueue(func() {
			pipeInv := d.pipes.BuildPipeInvocation(inv, dispatch.Message, &mctx)
			pipeInv.Run(ctx, finish)
		})
	}
}

func (d *MessageDispatcher) complete(dispatch MessageDispatch, result DispatchResult) {
	if dispatch.CompletionCallback != nil {
		dispatch.CompletionCallback(result)
	}
}
