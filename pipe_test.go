package flock

import (
	"context"
	"errors"
	"testing"
)

type recordingInvoker struct {
	msgType MessageTypeId
	err     error
}

func (r *recordingInvoker) MessageTypeId() MessageTypeId     { return r.msgType }
func (r *recordingInvoker) HandlerType() string              { return "recording" }
func (r *recordingInvoker) ShouldBeSubscribedOnStartup() bool { return true }
func (r *recordingInvoker) DispatchQueueName() string         { return "" }
func (r *recordingInvoker) Invoke(ctx context.Context, msg any, mctx *MessageContext, done func(error)) {
	done(r.err)
}

type recordingPipe struct {
	name   string
	trace  *[]string
	errSeen *error
}

func (p *recordingPipe) BeforeInvoke(ctx context.Context, msg any, mctx *MessageContext) any {
	*p.trace = append(*p.trace, "before:"+p.name)
	return p.name
}

func (p *recordingPipe) AfterInvoke(ctx context.Context, msg any, mctx *MessageContext, state any, err error) {
	*p.trace = append(*p.trace, "after:"+p.name+":"+state.(string))
}

func (p *recordingPipe) OnError(ctx context.Context, msg any, mctx *MessageContext, state any, err error) {
	*p.trace = append(*p.trace, "onerror:"+p.name)
	if p.errSeen != nil {
		*p.errSeen = err
	}
}

func TestPipeInvocationOrderOnSuccess(t *testing.T) {
	var trace []string
	pm := &DefaultPipeManager{Pipes: []Pipe{
		&recordingPipe{name: "outer", trace: &trace},
		&recordingPipe{name: "inner", trace: &trace},
	}}
	inv := &recordingInvoker{msgType: "t"}
	pipeInv := pm.BuildPipeInvocation(inv, nil, &MessageContext{})

	done := make(chan error, 1)
	pipeInv.Run(context.Background(), func(err error) { done <- err })

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"before:outer", "before:inner", "after:inner:inner", "after:outer:outer"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("trace[%d] = %q, want %q", i, trace[i], want[i])
		}
	}
}

func TestPipeInvocationRunsOnErrorBeforeAfter(t *testing.T) {
	var trace []string
	var seen error
	pm := &DefaultPipeManager{Pipes: []Pipe{
		&recordingPipe{name: "p", trace: &trace, errSeen: &seen},
	}}
	sentinel := errors.New("boom")
	inv := &recordingInvoker{msgType: "t", err: sentinel}
	pipeInv := pm.BuildPipeInvocation(inv, nil, &MessageContext{})

	done := make(chan error, 1)
	pipeInv.Run(context.Background(), func(err error) { done <- err })

	if err := <-done; !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want %v", err, sentinel)
	}
	want := []string{"before:p", "onerror:p", "after:p:p"}
	if len(trace) != len(want) || trace[0] != want[0] || trace[1] != want[1] || trace[2] != want[2] {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	if !errors.Is(seen, sentinel) {
		t.Errorf("OnError saw %v, want %v", seen, sentinel)
	}
}

type panickyPipe struct{}

func (panickyPipe) BeforeInvoke(context.Context, any, *MessageContext) any { panic("before boom") }
func (panickyPipe) AfterInvoke(context.Context, any, *MessageContext, any, error) {
	panic("after boom")
}

func TestPipeInvocationSurvivesPanickingPipe(t *testing.T) {
	pm := &DefaultPipeManager{Pipes: []Pipe{panickyPipe{}}}
	inv := &recordingInvoker{msgType: "t"}
	pipeInv := pm.BuildPipeInvocation(inv, nil, &MessageContext{})

	done := make(chan error, 1)
	pipeInv.Run(context.Background(), func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
