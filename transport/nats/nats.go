// Package nats provides a flock.Sender backed by a real NATS
// connection: every Send is a NATS request, and the bus is exposed to
// the network by subscribing its inbound subject to a handler that
// replies with whatever HandleInbound reports.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/flockbus/flock"
)

// SubjectPrefix namespaces every subject this package uses, so a
// single NATS cluster can host more than one bus deployment side by
// side.
const SubjectPrefix = "flock."

// Subject returns the NATS subject a peer at endpoint answers
// requests on.
func Subject(endpoint flock.Endpoint) string {
	return SubjectPrefix + string(endpoint)
}

// Conn adapts a *nats.Conn to flock.Sender: Send issues a NATS
// request to the subject named by target.Endpoint and returns the
// reply payload.
type Conn struct {
	nc *nats.Conn
}

// New wraps an already-connected NATS client.
func New(nc *nats.Conn) *Conn { return &Conn{nc: nc} }

// Send implements flock.Sender.
func (c *Conn) Send(ctx context.Context, target flock.Peer, msgType flock.MessageTypeId, payload []byte) ([]byte, error) {
	msg := nats.NewMsg(Subject(target.Endpoint))
	msg.Header.Set("Flock-Message-Type", string(msgType))
	msg.Data = payload

	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("nats: request to %s: %w", target.Endpoint, err)
	}
	if errText := reply.Header.Get("Flock-Error"); errText != "" {
		return nil, fmt.Errorf("nats: %s", errText)
	}
	return reply.Data, nil
}

// Listener subscribes a bus's inbound endpoint to nc, replying to
// every request with the bus's dispatch result.
type Listener struct {
	sub *nats.Subscription
}

// Listen subscribes endpoint's subject on nc and routes every request
// through bus.HandleInbound, replying with the first handler error (if
// any) carried in the Flock-Error header, and an empty reply
// otherwise. senderOf extracts the originating PeerId from an inbound
// message's headers; pass nil to report every inbound message as
// coming from unknown.
func Listen(nc *nats.Conn, endpoint flock.Endpoint, bus *flock.Bus, senderOf func(*nats.Msg) flock.PeerId) (*Listener, error) {
	subject := Subject(endpoint)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		msgType := flock.MessageTypeId(msg.Header.Get("Flock-Message-Type"))
		var from flock.PeerId
		if senderOf != nil {
			from = senderOf(msg)
		}

		result := bus.HandleInbound(context.Background(), from, msgType, msg.Data)

		reply := nats.NewMsg(msg.Reply)
		if len(result.Errors) > 0 {
			reply.Header.Set("Flock-Error", result.Errors[0].Error())
		}
		if err := msg.RespondMsg(reply); err != nil {
			bus.Metrics().Map().Add("natsReplyErrors", 1)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", subject, err)
	}
	return &Listener{sub: sub}, nil
}

// Close unsubscribes the listener.
func (l *Listener) Close() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Unsubscribe()
}
