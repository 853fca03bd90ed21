package flock

import (
	"context"
	"testing"
)

func TestLocalDispatchSuppressedDefaultsFalse(t *testing.T) {
	if IsLocalDispatchSuppressed(context.Background()) {
		t.Error("a fresh context reports suppressed, want false")
	}
}

func TestLocalDispatchSuppressedNestsCorrectly(t *testing.T) {
	outer := WithLocalDispatchSuppressed(context.Background())
	if !IsLocalDispatchSuppressed(outer) {
		t.Fatal("outer context not suppressed immediately after WithLocalDispatchSuppressed")
	}

	inner := WithLocalDispatchSuppressed(outer)
	if !IsLocalDispatchSuppressed(inner) {
		t.Error("inner context not suppressed")
	}

	// Leaving the inner scope must not unset the outer scope's guard:
	// a derived context never mutates its parent, so outer is
	// unaffected by anything done to inner.
	if !IsLocalDispatchSuppressed(outer) {
		t.Error("outer context lost its suppressed state after an inner scope derived from it was created")
	}
}

func TestLocalDispatchSuppressedUnrelatedContextUnaffected(t *testing.T) {
	suppressed := WithLocalDispatchSuppressed(context.Background())
	plain := context.Background()

	if IsLocalDispatchSuppressed(plain) {
		t.Error("a context never derived from WithLocalDispatchSuppressed reports suppressed")
	}
	if !IsLocalDispatchSuppressed(suppressed) {
		t.Error("suppressed context lost its guard")
	}
}

func TestLocalDispatchSuppressedSurvivesUnrelatedValues(t *testing.T) {
	type otherKey struct{}

	ctx := WithLocalDispatchSuppressed(context.Background())
	ctx = context.WithValue(ctx, otherKey{}, "x")

	if !IsLocalDispatchSuppressed(ctx) {
		t.Error("attaching an unrelated value to a suppressed context cleared the guard")
	}
}
