package flock

import (
	"context"
	"errors"
	"testing"
)

func invokeSync(t *testing.T, inv Invoker, msg any) error {
	t.Helper()
	done := make(chan error, 1)
	inv.Invoke(context.Background(), msg, &MessageContext{}, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	default:
		t.Fatal("Invoke did not call done synchronously")
		return nil
	}
}

func TestSyncInvokerSuccess(t *testing.T) {
	var got any
	inv := NewSyncInvoker("H", "t", "", true, func(_ context.Context, msg any) error {
		got = msg
		return nil
	})
	if err := invokeSync(t, inv, "payload"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "payload" {
		t.Errorf("got %v, want %q", got, "payload")
	}
}

func TestSyncInvokerPanicBecomesHandlerError(t *testing.T) {
	inv := NewSyncInvoker("H", "t", "", true, func(context.Context, any) error {
		panic("boom")
	})
	err := invokeSync(t, inv, nil)
	var he *HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("got %v, want *HandlerError", err)
	}
	if he.HandlerType != "H" || he.MessageTypeId != "t" {
		t.Errorf("HandlerError fields = %+v", he)
	}
}

func TestAsyncInvokerNilChannel(t *testing.T) {
	inv := NewAsyncInvoker("H", "t", "", true, func(context.Context, any) <-chan error {
		return nil
	})
	err := invokeSync(t, inv, nil)
	if !errors.Is(err, ErrAsyncNotStarted) {
		t.Errorf("got %v, want ErrAsyncNotStarted", err)
	}
}

func TestAsyncInvokerCompletes(t *testing.T) {
	inv := NewAsyncInvoker("H", "t", "", true, func(context.Context, any) <-chan error {
		ch := make(chan error, 1)
		ch <- nil
		return ch
	})
	done := make(chan error, 1)
	inv.Invoke(context.Background(), nil, &MessageContext{}, func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMultiInvokerJoinsErrors(t *testing.T) {
	e1 := errors.New("one")
	e2 := errors.New("two")
	inv := NewMultiInvoker("H", "t", "", true, func(context.Context, any) []error {
		return []error{e1, e2}
	})
	err := invokeSync(t, inv, nil)
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("got %v, want joined %v and %v", err, e1, e2)
	}
}

func TestMultiInvokerNoErrors(t *testing.T) {
	inv := NewMultiInvoker("H", "t", "", true, func(context.Context, any) []error {
		return nil
	})
	if err := invokeSync(t, inv, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInvokerMetaQueueNameEmptyWhenUnconfigured(t *testing.T) {
	inv := NewSyncInvoker("H", "t", "", true, func(context.Context, any) error { return nil })
	if got := inv.(*syncInvoker).DispatchQueueName(); got != "" {
		t.Errorf("queue name = %q, want empty (resolved by the dispatcher, not the invoker)", got)
	}
}
