package flock

import (
	"errors"
	"fmt"

	"github.com/flockbus/flock/wire"
)

// EnvelopeCodec is the default DirectoryCodec: a compact, self-framing
// binary encoding of PeerDescriptor and SubscriptionsForType values,
// built from wire.Builder/wire.Scanner the same way the source
// design's own packet and catalog formats are built from that
// package's Builder/Scanner pair.
type EnvelopeCodec struct{}

// EncodeRegister satisfies DirectoryCodec.
func (EnvelopeCodec) EncodeRegister(desc PeerDescriptor) ([]byte, error) {
	var b wire.Builder
	encodeDescriptor(&b, desc)
	return b.Bytes(), nil
}

// DecodeDescriptor satisfies DirectoryCodec.
func (EnvelopeCodec) DecodeDescriptor(data []byte) (PeerDescriptor, error) {
	s := wire.NewScanner(data)
	return decodeDescriptor(s)
}

// EncodeRegisterResponse satisfies DirectoryCodec: it builds the
// RegisterPeerResponse a directory peer sends back to a registering
// client, either the full peer-descriptor snapshot or a rejection. err,
// if non-nil, must be ErrPeerAlreadyExists; any other error is not
// representable on the wire and is returned unchanged.
func (EnvelopeCodec) EncodeRegisterResponse(peers []PeerDescriptor, err error) ([]byte, error) {
	var b wire.Builder
	switch {
	case err == nil:
		b.Bool(false)
	case errors.Is(err, ErrPeerAlreadyExists):
		b.Bool(true)
	default:
		return nil, err
	}
	b.Vint30(uint32(len(peers)))
	for _, p := range peers {
		encodeDescriptor(&b, p)
	}
	return b.Bytes(), nil
}

// DecodeRegisterResponse satisfies DirectoryCodec. A response flagged
// as a rejection decodes as ErrPeerAlreadyExists with a nil peer slice.
func (EnvelopeCodec) DecodeRegisterResponse(data []byte) ([]PeerDescriptor, error) {
	s := wire.NewScanner(data)
	alreadyExists, err := s.Bool()
	if err != nil {
		return nil, fmt.Errorf("flock: decode register response flag: %w", err)
	}
	n, err := s.Vint30()
	if err != nil {
		return nil, fmt.Errorf("flock: decode register response count: %w", err)
	}
	peers := make([]PeerDescriptor, 0, n)
	for i := 0; i < n; i++ {
		d, err := decodeDescriptor(s)
		if err != nil {
			return nil, fmt.Errorf("flock: decode register response peer %d: %w", i, err)
		}
		peers = append(peers, d)
	}
	if alreadyExists {
		return nil, ErrPeerAlreadyExists
	}
	return peers, nil
}

// EncodeSubscriptionUpdate satisfies DirectoryCodec.
func (EnvelopeCodec) EncodeSubscriptionUpdate(update SubscriptionsForType, timestampUtc int64) ([]byte, error) {
	var b wire.Builder
	b.VPutString(string(update.MessageTypeId))
	b.Int64(timestampUtc)
	b.Vint30(uint32(len(update.BindingKeys)))
	for _, bk := range update.BindingKeys {
		b.VPutString(bk.String())
	}
	return b.Bytes(), nil
}

// DecodeSubscriptionUpdate satisfies DirectoryCodec.
func (EnvelopeCodec) DecodeSubscriptionUpdate(data []byte) (SubscriptionsForType, int64, error) {
	s := wire.NewScanner(data)
	msgType, err := wire.VGet[string](s)
	if err != nil {
		return SubscriptionsForType{}, 0, fmt.Errorf("flock: decode subscription update message type: %w", err)
	}
	ts, err := s.Int64()
	if err != nil {
		return SubscriptionsForType{}, 0, fmt.Errorf("flock: decode subscription update timestamp: %w", err)
	}
	n, err := s.Vint30()
	if err != nil {
		return SubscriptionsForType{}, 0, fmt.Errorf("flock: decode subscription update count: %w", err)
	}
	keys := make([]BindingKey, 0, n)
	for i := 0; i < n; i++ {
		raw, err := wire.VGet[string](s)
		if err != nil {
			return SubscriptionsForType{}, 0, fmt.Errorf("flock: decode subscription update key %d: %w", i, err)
		}
		keys = append(keys, ParseBindingKey(raw))
	}
	return SubscriptionsForType{MessageTypeId: MessageTypeId(msgType), BindingKeys: keys}, ts, nil
}

// EncodeUnregister satisfies DirectoryCodec.
func (EnvelopeCodec) EncodeUnregister(self Peer, timestampUtc int64) ([]byte, error) {
	var b wire.Builder
	b.VPutString(string(self.PeerId))
	b.VPutString(string(self.Endpoint))
	b.Int64(timestampUtc)
	return b.Bytes(), nil
}

// EncodePeerStopped satisfies DirectoryCodec.
func (EnvelopeCodec) EncodePeerStopped(peerId PeerId, endpoint Endpoint, timestampUtc int64) ([]byte, error) {
	var b wire.Builder
	b.VPutString(string(peerId))
	b.VPutString(string(endpoint))
	b.Int64(timestampUtc)
	return b.Bytes(), nil
}

// DecodePeerStopped satisfies DirectoryCodec.
func (EnvelopeCodec) DecodePeerStopped(data []byte) (PeerId, Endpoint, int64, error) {
	s := wire.NewScanner(data)
	peerId, err := wire.VGet[string](s)
	if err != nil {
		return "", "", 0, fmt.Errorf("flock: decode PeerStopped peer id: %w", err)
	}
	endpoint, err := wire.VGet[string](s)
	if err != nil {
		return "", "", 0, fmt.Errorf("flock: decode PeerStopped endpoint: %w", err)
	}
	ts, err := s.Int64()
	if err != nil {
		return "", "", 0, fmt.Errorf("flock: decode PeerStopped timestamp: %w", err)
	}
	return PeerId(peerId), Endpoint(endpoint), ts, nil
}

// EncodePeerId satisfies DirectoryCodec: the wire shape shared by
// PeerDecommissioned, PeerNotResponding, and PeerResponding, which
// carry nothing but the subject peer's identity.
func (EnvelopeCodec) EncodePeerId(peerId PeerId) ([]byte, error) {
	var b wire.Builder
	b.VPutString(string(peerId))
	return b.Bytes(), nil
}

// DecodePeerId satisfies DirectoryCodec.
func (EnvelopeCodec) DecodePeerId(data []byte) (PeerId, error) {
	s := wire.NewScanner(data)
	peerId, err := wire.VGet[string](s)
	if err != nil {
		return "", fmt.Errorf("flock: decode peer id: %w", err)
	}
	return PeerId(peerId), nil
}

func encodeDescriptor(b *wire.Builder, d PeerDescriptor) {
	b.VPutString(string(d.Peer.PeerId))
	b.VPutString(string(d.Peer.Endpoint))
	b.Bool(d.Peer.IsUp)
	b.Bool(d.Peer.IsResponding)
	b.Bool(d.IsPersistent)
	b.Int64(d.TimestampUtc)
	b.Bool(d.HasDebuggerAttached)
	b.VPutString(d.BusVersion)
	b.Vint30(uint32(len(d.Subscriptions)))
	for _, sub := range d.Subscriptions {
		b.VPutString(string(sub.MessageTypeId))
		b.VPutString(sub.BindingKey.String())
	}
}

func decodeDescriptor(s *wire.Scanner) (PeerDescriptor, error) {
	var d PeerDescriptor
	peerId, err := wire.VGet[string](s)
	if err != nil {
		return d, fmt.Errorf("flock: decode peer id: %w", err)
	}
	endpoint, err := wire.VGet[string](s)
	if err != nil {
		return d, fmt.Errorf("flock: decode endpoint: %w", err)
	}
	isUp, err := s.Bool()
	if err != nil {
		return d, fmt.Errorf("flock: decode is-up: %w", err)
	}
	isResponding, err := s.Bool()
	if err != nil {
		return d, fmt.Errorf("flock: decode is-responding: %w", err)
	}
	isPersistent, err := s.Bool()
	if err != nil {
		return d, fmt.Errorf("flock: decode is-persistent: %w", err)
	}
	ts, err := s.Int64()
	if err != nil {
		return d, fmt.Errorf("flock: decode timestamp: %w", err)
	}
	hasDebugger, err := s.Bool()
	if err != nil {
		return d, fmt.Errorf("flock: decode debugger flag: %w", err)
	}
	busVersion, err := wire.VGet[string](s)
	if err != nil {
		return d, fmt.Errorf("flock: decode bus version: %w", err)
	}
	n, err := s.Vint30()
	if err != nil {
		return d, fmt.Errorf("flock: decode subscription count: %w", err)
	}
	subs := make([]Subscription, 0, n)
	for i := 0; i < n; i++ {
		msgType, err := wire.VGet[string](s)
		if err != nil {
			return d, fmt.Errorf("flock: decode subscription %d message type: %w", i, err)
		}
		bindingKey, err := wire.VGet[string](s)
		if err != nil {
			return d, fmt.Errorf("flock: decode subscription %d binding key: %w", i, err)
		}
		subs = append(subs, Subscription{MessageTypeId: MessageTypeId(msgType), BindingKey: ParseBindingKey(bindingKey)})
	}

	d.Peer = Peer{PeerId: PeerId(peerId), Endpoint: Endpoint(endpoint), IsUp: isUp, IsResponding: isResponding}
	d.IsPersistent = isPersistent
	d.TimestampUtc = ts
	d.HasDebuggerAttached = hasDebugger
	d.BusVersion = busVersion
	d.Subscriptions = subs
	return d, nil
}
