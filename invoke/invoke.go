// Package invoke adapts typed Go functions to the flock.HandlerFunc,
// flock.AsyncHandlerFunc, and flock.MultiHandlerFunc signatures, the
// same way the source design's handler package adapts typed functions
// to chirp.Handler: parameters may be []byte or string, or a type
// whose pointer implements encoding.BinaryUnmarshaler or
// encoding.TextUnmarshaler.
package invoke

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/flockbus/flock"
)

// Param adapts a function that accepts P and returns no error to a
// flock.HandlerFunc.
func Param[P any](f func(context.Context, P)) flock.HandlerFunc {
	return func(ctx context.Context, msg any) error {
		p, err := decode[P](msg)
		if err != nil {
			return err
		}
		f(ctx, p)
		return nil
	}
}

// ParamError adapts a function that accepts P and returns an error to
// a flock.HandlerFunc.
func ParamError[P any](f func(context.Context, P) error) flock.HandlerFunc {
	return func(ctx context.Context, msg any) error {
		p, err := decode[P](msg)
		if err != nil {
			return err
		}
		return f(ctx, p)
	}
}

// NoParamError adapts a function that accepts no parameters to a
// flock.HandlerFunc.
func NoParamError(f func(context.Context) error) flock.HandlerFunc {
	return func(ctx context.Context, _ any) error { return f(ctx) }
}

// AsyncParamError adapts a function that accepts P and starts
// asynchronous work to a flock.AsyncHandlerFunc.
func AsyncParamError[P any](f func(context.Context, P) <-chan error) flock.AsyncHandlerFunc {
	return func(ctx context.Context, msg any) <-chan error {
		p, err := decode[P](msg)
		if err != nil {
			ch := make(chan error, 1)
			ch <- err
			return ch
		}
		return f(ctx, p)
	}
}

// MultiParam adapts a function that accepts P and reports against
// several sub-events to a flock.MultiHandlerFunc.
func MultiParam[P any](f func(context.Context, P) []error) flock.MultiHandlerFunc {
	return func(ctx context.Context, msg any) []error {
		p, err := decode[P](msg)
		if err != nil {
			return []error{err}
		}
		return f(ctx, p)
	}
}

func decode[P any](msg any) (P, error) {
	var p P
	data, ok := msg.([]byte)
	if !ok {
		return p, fmt.Errorf("invoke: expected []byte payload, got %T", msg)
	}
	if err := unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// unmarshal decodes data into v. The concrete type of v must be a
// pointer to a []byte or string, or must implement
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler. If v
// implements both, BinaryUnmarshaler is preferred.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("invoke: cannot unmarshal into %T", v)
	}
	return nil
}
