package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, 1) {
			t.Fatalf("expected token %d to be granted", i)
		}
	}
	if l.Allow("k", 3, 1) {
		t.Fatalf("expected burst to exhaust the bucket")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 100) {
		t.Fatalf("expected first token")
	}
	if l.Allow("k", 1, 100) {
		t.Fatalf("expected empty bucket")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("k", 1, 100) {
		t.Fatalf("expected refilled token")
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0) {
		t.Fatalf("expected token for a")
	}
	if !l.Allow("b", 1, 0) {
		t.Fatalf("expected independent bucket for b")
	}
	if l.Allow("a", 1, 0) {
		t.Fatalf("expected a to stay exhausted")
	}
}
