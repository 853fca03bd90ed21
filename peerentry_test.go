package flock

import (
	"errors"
	"testing"
)

func TestPeerEntryApplyDescriptorDiff(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{
		Peer:         Peer{PeerId: "a", Endpoint: "ep1"},
		TimestampUtc: 1,
		Subscriptions: []Subscription{
			{MessageTypeId: "t", BindingKey: ParseBindingKey("order.created")},
		},
	})

	added, removed, err := entry.ApplyDescriptor(PeerDescriptor{
		Peer:         Peer{PeerId: "a", Endpoint: "ep2"},
		TimestampUtc: 2,
		Subscriptions: []Subscription{
			{MessageTypeId: "t", BindingKey: ParseBindingKey("order.shipped")},
		},
	})
	if err != nil {
		t.Fatalf("ApplyDescriptor: %v", err)
	}
	if len(added) != 1 || added[0].BindingKey.String() != "order.shipped" {
		t.Errorf("added = %v", added)
	}
	if len(removed) != 1 || removed[0].BindingKey.String() != "order.created" {
		t.Errorf("removed = %v", removed)
	}
	if entry.Peer().Endpoint != "ep2" {
		t.Errorf("endpoint not updated: %v", entry.Peer())
	}
}

func TestPeerEntryApplyDescriptorRejectsStaleTimestamp(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 5})
	_, _, err := entry.ApplyDescriptor(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 5})
	var oe *OutdatedUpdateError
	if !errors.As(err, &oe) {
		t.Fatalf("got %v, want *OutdatedUpdateError", err)
	}
}

func TestPeerEntryApplySubscriptionsForTypeIsolatesOtherTypes(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{
		Peer:         Peer{PeerId: "a"},
		TimestampUtc: 1,
		Subscriptions: []Subscription{
			{MessageTypeId: "t1", BindingKey: ParseBindingKey("x")},
			{MessageTypeId: "t2", BindingKey: ParseBindingKey("y")},
		},
	})

	added, removed, err := entry.ApplySubscriptionsForType(SubscriptionsForType{
		MessageTypeId: "t1",
		BindingKeys:   []BindingKey{ParseBindingKey("z")},
	}, 2)
	if err != nil {
		t.Fatalf("ApplySubscriptionsForType: %v", err)
	}
	if len(added) != 1 || added[0].BindingKey.String() != "z" {
		t.Errorf("added = %v", added)
	}
	if len(removed) != 1 || removed[0].BindingKey.String() != "x" {
		t.Errorf("removed = %v", removed)
	}

	subs := entry.Descriptor().Subscriptions
	foundT2 := false
	for _, s := range subs {
		if s.MessageTypeId == "t2" && s.BindingKey.String() == "y" {
			foundT2 = true
		}
	}
	if !foundT2 {
		t.Errorf("t2 subscription was disturbed: %v", subs)
	}
}

func TestPeerEntrySetAvailabilityGated(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{Peer: Peer{PeerId: "a", IsUp: true}, TimestampUtc: 1})
	if err := entry.SetAvailability(false, false, 2); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if entry.Peer().IsUp {
		t.Error("IsUp still true after SetAvailability(false, ...)")
	}
	if err := entry.SetAvailability(true, true, 1); err == nil {
		t.Error("expected stale update to be rejected")
	}
}

func TestPeerEntryApplyDescriptorRejectsMisplacedHashWildcard(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 1})
	_, _, err := entry.ApplyDescriptor(PeerDescriptor{
		Peer:         Peer{PeerId: "a"},
		TimestampUtc: 2,
		Subscriptions: []Subscription{
			{MessageTypeId: "t", BindingKey: BindingKey{"order", "#", "created"}},
		},
	})
	if err == nil {
		t.Fatal("expected a misplaced '#' wildcard to be rejected")
	}
	if entry.Peer().Endpoint != "" || entry.TimestampUtc() != 1 {
		t.Errorf("invalid update was partially applied: %+v", entry.Descriptor())
	}
}

func TestPeerEntryApplySubscriptionsForTypeRejectsMisplacedHashWildcard(t *testing.T) {
	entry := NewPeerEntry(PeerDescriptor{Peer: Peer{PeerId: "a"}, TimestampUtc: 1})
	_, _, err := entry.ApplySubscriptionsForType(SubscriptionsForType{
		MessageTypeId: "t",
		BindingKeys:   []BindingKey{{"order", "#", "created"}},
	}, 2)
	if err == nil {
		t.Fatal("expected a misplaced '#' wildcard to be rejected")
	}
	if entry.TimestampUtc() != 1 {
		t.Errorf("invalid update advanced the stored timestamp: got %d, want 1", entry.TimestampUtc())
	}
}

func TestDiffSubscriptionSetsEmpty(t *testing.T) {
	added, removed := diffSubscriptionSets(subscriptionSet{}, subscriptionSet{})
	if len(added) != 0 || len(removed) != 0 {
		t.Errorf("added=%v removed=%v, want both empty", added, removed)
	}
}
