package gateway

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket_ExhaustsAndRefills(t *testing.T) {
	tb := newTokenBucket(5)
	for i := 0; i < 5; i++ {
		if !tb.allow() {
			t.Fatalf("token %d denied", i)
		}
	}
	if tb.allow() {
		t.Fatal("empty bucket allowed a token")
	}

	// Refill is proportional to elapsed time: backdate the refill clock
	// instead of sleeping.
	tb.mu.Lock()
	tb.lastRefill = time.Now().Add(-time.Second)
	tb.mu.Unlock()
	if !tb.allow() {
		t.Error("bucket did not refill")
	}
}

func TestTokenBucket_CapsAtMax(t *testing.T) {
	tb := newTokenBucket(3)
	tb.mu.Lock()
	tb.lastRefill = time.Now().Add(-time.Minute)
	tb.mu.Unlock()

	for i := 0; i < 3; i++ {
		if !tb.allow() {
			t.Fatalf("token %d denied", i)
		}
	}
	if tb.allow() {
		t.Error("bucket exceeded its capacity after a long idle period")
	}
}

func TestAllow_UnlimitedEvents(t *testing.T) {
	c := newClient("c1", newFakeWire(), context.Background())
	for i := 0; i < 100; i++ {
		if ok, _ := c.allow(EvPing); !ok {
			t.Fatal("unlimited event throttled")
		}
	}
}

func TestAllow_SilentDropFlag(t *testing.T) {
	c := newClient("c1", newFakeWire(), context.Background())

	for i := 0; i < 10; i++ {
		if ok, _ := c.allow(EvTerminalResize); !ok {
			t.Fatalf("token %d denied", i)
		}
	}
	ok, silent := c.allow(EvTerminalResize)
	if ok {
		t.Fatal("11th resize allowed")
	}
	if !silent {
		t.Error("resize overflow must drop silently")
	}

	// Input overflow is reported, not silent.
	c2 := newClient("c2", newFakeWire(), context.Background())
	for i := 0; i < 1000; i++ {
		c2.allow(EvTerminalInput)
	}
	if ok, silent := c2.allow(EvTerminalInput); !ok && silent {
		t.Error("input overflow must not be silent")
	}
}
