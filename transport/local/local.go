// Package local provides an in-memory flock.Sender for tests and
// single-process deployments: a pair of Conns connected by Go
// channels, carrying request/response frames the same way the source
// design's channel package carries packets directly between a pair of
// in-memory chirp.Channel values, without any encoding step.
package local

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/flockbus/flock"
)

// Receiver answers an inbound request from another peer. flock.Bus
// implements this shape via its HandleInbound-derived adapter; see
// BusReceiver.
type Receiver interface {
	Receive(ctx context.Context, from flock.PeerId, msgType flock.MessageTypeId, payload []byte) ([]byte, error)
}

// BusReceiver adapts a *flock.Bus to Receiver: it runs the payload
// through the bus's dispatcher and reports the first handler error, if
// any, as the RPC's error.
type BusReceiver struct {
	Bus *flock.Bus
}

// Receive satisfies Receiver.
func (r BusReceiver) Receive(ctx context.Context, from flock.PeerId, msgType flock.MessageTypeId, payload []byte) ([]byte, error) {
	result := r.Bus.HandleInbound(ctx, from, msgType, payload)
	if len(result.Errors) > 0 {
		return nil, result.Errors[0]
	}
	return nil, nil
}

const (
	frameRequest = iota
	frameResponse
)

type frame struct {
	kind    int
	id      uint64
	from    flock.PeerId
	payload []byte
	msgType flock.MessageTypeId
	errText string
}

// Conn is one end of a direct, in-memory connection to another Conn.
// It implements flock.Sender.
type Conn struct {
	self flock.PeerId
	out  chan<- *frame
	in   <-chan *frame

	receiver Receiver

	nextId  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan *frame

	closeOnce sync.Once
	done      chan struct{}
}

// NewDirectPair returns two Conns wired directly to each other: a
// request sent on one is served by the other's Receiver, and its
// response is delivered back to the caller of Send.
func NewDirectPair(selfA, selfB flock.PeerId) (a, b *Conn) {
	a2b := make(chan *frame, 16)
	b2a := make(chan *frame, 16)
	a = newConn(selfA, a2b, b2a)
	b = newConn(selfB, b2a, a2b)
	return a, b
}

func newConn(self flock.PeerId, out chan<- *frame, in <-chan *frame) *Conn {
	c := &Conn{self: self, out: out, in: in, pending: make(map[uint64]chan *frame), done: make(chan struct{})}
	go c.run()
	return c
}

// SetReceiver installs r as the handler for requests arriving from the
// peer at the other end of c.
func (c *Conn) SetReceiver(r Receiver) { c.receiver = r }

// Send implements flock.Sender: it ships payload to the peer at the
// other end of c and blocks for its response.
func (c *Conn) Send(ctx context.Context, target flock.Peer, msgType flock.MessageTypeId, payload []byte) ([]byte, error) {
	id := c.nextId.Add(1)
	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := &frame{kind: frameRequest, id: id, from: c.self, msgType: msgType, payload: payload}
	select {
	case c.out <- req:
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(id)
		return nil, net.ErrClosed
	}

	select {
	case resp := <-ch:
		if resp.errText != "" {
			return nil, errors.New(resp.errText)
		}
		return resp.payload, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close stops c from sending or serving further frames. Requests
// already in flight are abandoned.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) run() {
	for {
		select {
		case f, ok := <-c.in:
			if !ok {
				return
			}
			switch f.kind {
			case frameRequest:
				go c.serve(f)
			case frameResponse:
				c.mu.Lock()
				ch := c.pending[f.id]
				delete(c.pending, f.id)
				c.mu.Unlock()
				if ch != nil {
					ch <- f
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) serve(f *frame) {
	resp := &frame{kind: frameResponse, id: f.id}
	if c.receiver == nil {
		resp.errText = "local: no receiver configured"
	} else {
		data, err := c.receiver.Receive(context.Background(), f.from, f.msgType, f.payload)
		if err != nil {
			resp.errText = err.Error()
		} else {
			resp.payload = data
		}
	}
	select {
	case c.out <- resp:
	case <-c.done:
	}
}
