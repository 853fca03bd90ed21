package flock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// fakeSender hands a fixed response to every Send call, or fails n
// times before succeeding, to exercise RegisterAsync's directory-peer
// fallback. If responses is set, successive calls (beyond failN) walk
// through it in order, holding on the last entry once exhausted.
type fakeSender struct {
	mu        sync.Mutex
	failN     int
	response  []byte
	responses [][]byte
	err       error
	calls     []Endpoint
}

func (f *fakeSender) Send(ctx context.Context, target Peer, methodId MessageTypeId, payload []byte) ([]byte, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, target.Endpoint)
	fail := f.failN > 0
	if fail {
		f.failN--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	if len(f.responses) > 0 {
		if idx >= len(f.responses) {
			idx = len(f.responses) - 1
		}
		return f.responses[idx], nil
	}
	return f.response, nil
}

// newRegisterAckSender builds a fakeSender whose RegisterPeerResponse
// carries peers as the directory's snapshot, for every endpoint.
func newRegisterAckSender(t *testing.T, peers ...PeerDescriptor) *fakeSender {
	t.Helper()
	payload, err := (EnvelopeCodec{}).EncodeRegisterResponse(peers, nil)
	if err != nil {
		t.Fatalf("EncodeRegisterResponse: %v", err)
	}
	return &fakeSender{response: payload}
}

func TestDirectoryClientRegisterAppliesSnapshotAndDrainsRace(t *testing.T) {
	selfDesc := PeerDescriptor{Peer: Peer{PeerId: "self", Endpoint: "self-ep"}, TimestampUtc: 1}
	sender := newRegisterAckSender(t, selfDesc)

	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1"},
		Sender:    sender,
	})

	// Simulate a directory event about an unrelated peer P racing the
	// in-flight registration: deliver it on a separate goroutine right
	// as RegisterAsync starts.
	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		<-started
		_ = d.HandlePeerStarted(PeerDescriptor{
			Peer:         Peer{PeerId: "P", Endpoint: "p-ep"},
			TimestampUtc: 10,
		})
	}()

	close(started)
	if err := d.RegisterAsync(context.Background(), selfDesc); err != nil {
		t.Fatalf("RegisterAsync: %v", err)
	}
	wg.Wait()

	// Regardless of whether HandlePeerStarted ran before or after
	// RegisterAsync returned, P must be known once registration and any
	// buffered replay have settled.
	deadline := time.Now().Add(time.Second)
	for {
		if desc, ok := d.GetPeerDescriptor("P"); ok {
			if desc.Peer.Endpoint != "p-ep" || desc.TimestampUtc != 10 {
				t.Fatalf("GetPeerDescriptor(P) = %+v, want endpoint p-ep, timestamp 10", desc)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("GetPeerDescriptor(P) never became non-null")
		}
		time.Sleep(time.Millisecond)
	}

	if _, ok := d.GetPeerDescriptor("self"); !ok {
		t.Error("self entry missing immediately after RegisterAsync returns")
	}
}

func TestDirectoryClientRegisterFallsBackToNextEndpoint(t *testing.T) {
	selfDesc := PeerDescriptor{Peer: Peer{PeerId: "self"}, TimestampUtc: 1}
	sender := newRegisterAckSender(t, selfDesc)
	sender.failN = 1
	sender.err = context.DeadlineExceeded

	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1", "dir-2"},
		Sender:    sender,
	})
	if err := d.RegisterAsync(context.Background(), selfDesc); err != nil {
		t.Fatalf("RegisterAsync: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("sender was called %d times, want 2 (one failure, one success)", len(sender.calls))
	}
}

func TestDirectoryClientRegisterExhaustedReturnsError(t *testing.T) {
	sender := &fakeSender{failN: 99, err: context.DeadlineExceeded}
	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1", "dir-2"},
		Sender:    sender,
	})
	err := d.RegisterAsync(context.Background(), PeerDescriptor{Peer: Peer{PeerId: "self"}})
	var exhausted *RegistrationExhaustedError
	if err == nil {
		t.Fatal("RegisterAsync succeeded, want RegistrationExhaustedError")
	}
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want *RegistrationExhaustedError", err)
	}
	if len(exhausted.Attempted) != 2 {
		t.Errorf("Attempted = %v, want 2 endpoints", exhausted.Attempted)
	}
}

func TestDirectoryClientTimestampMonotonicity(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	if err := d.HandlePeerStarted(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 10}); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	if err := d.HandlePeerSubscriptionsUpdated(PeerDescriptor{
		Peer:          Peer{PeerId: "a", Endpoint: "stale"},
		TimestampUtc:  5,
		Subscriptions: []Subscription{{MessageTypeId: "t", BindingKey: ParseBindingKey("x")}},
	}); err != nil {
		t.Fatalf("HandlePeerSubscriptionsUpdated with stale timestamp returned an error: %v", err)
	}
	desc, ok := d.GetPeerDescriptor("a")
	if !ok {
		t.Fatal("peer a not found")
	}
	if desc.TimestampUtc != 10 || desc.Peer.Endpoint != "" {
		t.Errorf("stale update was applied: %+v", desc)
	}
}

func TestDirectoryClientPeerStoppedDoesNotRemoveEntry(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	if err := d.HandlePeerStarted(PeerDescriptor{Peer: Peer{PeerId: "a", IsUp: true}, TimestampUtc: 1}); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	if err := d.HandlePeerStopped("a", "ep", 2); err != nil {
		t.Fatalf("HandlePeerStopped: %v", err)
	}
	p, ok := d.Lookup("a")
	if !ok {
		t.Fatal("peer a was removed by PeerStopped, want entry retained")
	}
	if p.IsUp || p.IsResponding {
		t.Errorf("peer a liveness flags = %+v, want both false", p)
	}
}

func TestDirectoryClientPeerDecommissionedRemovesEntryAndBindings(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	if err := d.HandlePeerStarted(PeerDescriptor{
		Peer:          Peer{PeerId: "a"},
		TimestampUtc:  1,
		Subscriptions: []Subscription{{MessageTypeId: "t", BindingKey: ParseBindingKey("x")}},
	}); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	if got := d.MatchingPeers(MessageBinding{MessageTypeId: "t", RoutingKey: ParseRoutingKey("x")}); len(got) != 1 {
		t.Fatalf("MatchingPeers before decommission = %v, want [a]", got)
	}
	if err := d.HandlePeerDecommissioned("a"); err != nil {
		t.Fatalf("HandlePeerDecommissioned: %v", err)
	}
	if _, ok := d.Lookup("a"); ok {
		t.Error("peer a still present after decommission")
	}
	if got := d.MatchingPeers(MessageBinding{MessageTypeId: "t", RoutingKey: ParseRoutingKey("x")}); len(got) != 0 {
		t.Errorf("MatchingPeers after decommission = %v, want none", got)
	}

	// A decommissioned peer is never resurrected by a later
	// out-of-order subscriptions update for the same ID.
	if err := d.HandlePeerSubscriptionsUpdated(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 99}); err == nil {
		t.Error("HandlePeerSubscriptionsUpdated for a decommissioned peer unexpectedly succeeded")
	}
	if _, ok := d.Lookup("a"); ok {
		t.Error("peer a was resurrected")
	}
}

func TestDirectoryClientNotRespondingAndResponding(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	if err := d.HandlePeerStarted(PeerDescriptor{Peer: Peer{PeerId: "a", IsResponding: true}, TimestampUtc: 1}); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	if err := d.HandlePeerNotResponding("a"); err != nil {
		t.Fatalf("HandlePeerNotResponding: %v", err)
	}
	if p, _ := d.Lookup("a"); p.IsResponding {
		t.Error("IsResponding still true after PeerNotResponding")
	}
	if err := d.HandlePeerResponding("a"); err != nil {
		t.Fatalf("HandlePeerResponding: %v", err)
	}
	if p, _ := d.Lookup("a"); !p.IsResponding {
		t.Error("IsResponding still false after PeerResponding")
	}
}

func TestDirectoryClientSubscriptionUpdateForUnknownPeerWarnsAndDrops(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	err := d.HandlePeerSubscriptionsForTypesUpdated("ghost", SubscriptionsForType{MessageTypeId: "t"}, 1)
	var unknown *UnknownPeerUpdateError
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want *UnknownPeerUpdateError", err)
	}
}

func TestDirectoryClientSnapshotReturnsEveryPeer(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	for _, id := range []PeerId{"a", "b", "c"} {
		if err := d.HandlePeerStarted(PeerDescriptor{Peer: Peer{PeerId: id}, TimestampUtc: 1}); err != nil {
			t.Fatalf("HandlePeerStarted(%s): %v", id, err)
		}
	}
	snap := d.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() = %d descriptors, want 3", len(snap))
	}
}

func TestDirectoryClientRejectsMisplacedHashWildcardAtSubscribeTime(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	if err := d.HandlePeerStarted(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 1}); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	err := d.HandlePeerSubscriptionsForTypesUpdated("a", SubscriptionsForType{
		MessageTypeId: "t",
		BindingKeys:   []BindingKey{{"order", "#", "created"}},
	}, 2)
	if err != nil {
		t.Fatalf("HandlePeerSubscriptionsForTypesUpdated surfaced the validation error instead of dropping it: %v", err)
	}
	if got := d.MatchingPeers(MessageBinding{MessageTypeId: "t", RoutingKey: ParseRoutingKey("order.anything.created")}); len(got) != 0 {
		t.Errorf("invalid binding key was bound into the tree: %v", got)
	}
}

func TestDirectoryClientGetPeerDescriptorMatchesApplied(t *testing.T) {
	d := NewDirectoryClient(DirectoryClientConfig{Self: "self", Sender: &fakeSender{}})
	want := PeerDescriptor{
		Peer:         Peer{PeerId: "a", Endpoint: "a-ep", IsUp: true, IsResponding: true},
		TimestampUtc: 7,
		Subscriptions: []Subscription{
			{MessageTypeId: "t", BindingKey: ParseBindingKey("order.created")},
			{MessageTypeId: "t", BindingKey: ParseBindingKey("order.#")},
		},
		BusVersion: BusVersion,
	}
	if err := d.HandlePeerStarted(want); err != nil {
		t.Fatalf("HandlePeerStarted: %v", err)
	}
	got, ok := d.GetPeerDescriptor("a")
	if !ok {
		t.Fatal("peer a not found")
	}
	less := func(a, b Subscription) bool { return a.BindingKey.String() < b.BindingKey.String() }
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty(), cmpopts.SortSlices(less)); diff != "" {
		t.Errorf("GetPeerDescriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectoryClientUnregisterUsesCachedEndpoints(t *testing.T) {
	ack := PeerDescriptor{Peer: Peer{PeerId: "self"}, TimestampUtc: 1}
	sender := newRegisterAckSender(t, ack)
	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1"},
		Sender:    sender,
	})
	if err := d.RegisterAsync(context.Background(), ack); err != nil {
		t.Fatalf("RegisterAsync: %v", err)
	}

	// Endpoints changes after registration; Unregister must still use
	// the list captured when registration succeeded.
	d.mu.Lock()
	d.endpoints = []Endpoint{"dir-moved"}
	d.mu.Unlock()

	sender.mu.Lock()
	sender.calls = nil
	sender.mu.Unlock()

	if err := d.Unregister(context.Background(), Peer{PeerId: "self"}); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) != 1 || sender.calls[0] != "dir-1" {
		t.Errorf("Unregister called %v, want [dir-1]", sender.calls)
	}
}

func TestDirectoryClientRegisterBootstrapsPeersFromResponseSnapshot(t *testing.T) {
	selfDesc := PeerDescriptor{Peer: Peer{PeerId: "self"}, TimestampUtc: 1}
	existing := PeerDescriptor{
		Peer:         Peer{PeerId: "existing", Endpoint: "existing-ep"},
		TimestampUtc: 5,
		Subscriptions: []Subscription{
			{MessageTypeId: "t", BindingKey: ParseBindingKey("order.created")},
		},
	}
	sender := newRegisterAckSender(t, selfDesc, existing)

	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1"},
		Sender:    sender,
	})
	if err := d.RegisterAsync(context.Background(), selfDesc); err != nil {
		t.Fatalf("RegisterAsync: %v", err)
	}

	got, ok := d.GetPeerDescriptor("existing")
	if !ok {
		t.Fatal("registration response snapshot was not applied: peer \"existing\" not bootstrapped")
	}
	if got.Peer.Endpoint != "existing-ep" {
		t.Errorf("GetPeerDescriptor(existing) = %+v, want endpoint existing-ep", got)
	}
	if matches := d.MatchingPeers(MessageBinding{MessageTypeId: "t", RoutingKey: ParseRoutingKey("order.created")}); len(matches) != 1 {
		t.Errorf("MatchingPeers for a bootstrapped peer's subscription = %v, want [existing]", matches)
	}
}

func TestDirectoryClientRegisterPeerAlreadyExistsTriesNextEndpoint(t *testing.T) {
	selfDesc := PeerDescriptor{Peer: Peer{PeerId: "self"}, TimestampUtc: 1}
	rejected, err := (EnvelopeCodec{}).EncodeRegisterResponse(nil, ErrPeerAlreadyExists)
	if err != nil {
		t.Fatalf("EncodeRegisterResponse: %v", err)
	}
	accepted, err := (EnvelopeCodec{}).EncodeRegisterResponse([]PeerDescriptor{selfDesc}, nil)
	if err != nil {
		t.Fatalf("EncodeRegisterResponse: %v", err)
	}
	sender := &fakeSender{responses: [][]byte{rejected, accepted}}

	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1", "dir-2"},
		Sender:    sender,
	})
	if err := d.RegisterAsync(context.Background(), selfDesc); err != nil {
		t.Fatalf("RegisterAsync: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("sender was called %d times, want 2 (one PeerAlreadyExists rejection, one accepted)", len(sender.calls))
	}
}

func TestDirectoryClientRegisterAllEndpointsRejectPeerAlreadyExists(t *testing.T) {
	rejected, err := (EnvelopeCodec{}).EncodeRegisterResponse(nil, ErrPeerAlreadyExists)
	if err != nil {
		t.Fatalf("EncodeRegisterResponse: %v", err)
	}
	sender := &fakeSender{response: rejected}
	d := NewDirectoryClient(DirectoryClientConfig{
		Self:      "self",
		Endpoints: []Endpoint{"dir-1", "dir-2"},
		Sender:    sender,
	})

	err = d.RegisterAsync(context.Background(), PeerDescriptor{Peer: Peer{PeerId: "self"}, TimestampUtc: 1})
	var exhausted *RegistrationExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want *RegistrationExhaustedError", err)
	}
	var sawAlreadyExists bool
	for _, e := range exhausted.Errs {
		if errors.Is(e, ErrPeerAlreadyExists) {
			sawAlreadyExists = true
		}
	}
	if !sawAlreadyExists {
		t.Errorf("Errs = %v, want at least one ErrPeerAlreadyExists", exhausted.Errs)
	}
}
