package buffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/altair-labs/salesagent/internal/bus"
)

func event(id, text string) bus.InboundEvent {
	return bus.InboundEvent{PhoneNumber: "77011234567", MessageID: id, MessageText: text}
}

func waitReady(t *testing.T, b *Buffer, within time.Duration) string {
	t.Helper()
	select {
	case key := <-b.Ready():
		return key
	case <-time.After(within):
		t.Fatal("no flush signal within deadline")
		return ""
	}
}

func TestDebounceSingleFlush(t *testing.T) {
	b := New(50*time.Millisecond, 10)
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Add("key", event(fmt.Sprintf("m%d", i), fmt.Sprintf("part %d", i)))
	}

	key := waitReady(t, b, time.Second)
	if key != "key" {
		t.Errorf("flushed key = %q, want %q", key, "key")
	}

	got := b.Drain(key)
	if len(got) != 3 {
		t.Fatalf("drained %d events, want 3", len(got))
	}
	for i, ev := range got {
		want := fmt.Sprintf("m%d", i)
		if ev.MessageID != want {
			t.Errorf("event %d id = %q, want %q (order lost)", i, ev.MessageID, want)
		}
	}

	// Exactly one signal per cycle.
	select {
	case k := <-b.Ready():
		t.Errorf("unexpected second flush signal for %q", k)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebounceTimerResetsOnAdd(t *testing.T) {
	b := New(80*time.Millisecond, 10)
	defer b.Stop()

	b.Add("key", event("m1", "first"))
	time.Sleep(50 * time.Millisecond)
	b.Add("key", event("m2", "second"))

	// The first timer would have fired by now if Add had not reset it.
	select {
	case <-b.Ready():
		t.Fatal("flush fired before the reset quiet period elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	waitReady(t, b, time.Second)
	if n := len(b.Drain("key")); n != 2 {
		t.Errorf("drained %d events, want 2", n)
	}
}

func TestCapForcesImmediateFlush(t *testing.T) {
	b := New(time.Hour, 3)
	defer b.Stop()

	b.Add("key", event("m1", "a"))
	b.Add("key", event("m2", "b"))
	b.Add("key", event("m3", "c"))

	// No quiet period: the cap path signals synchronously.
	key := waitReady(t, b, 100*time.Millisecond)
	if got := b.Drain(key); len(got) != 3 {
		t.Fatalf("drained %d events, want 3", len(got))
	}
}

func TestDrainClearsPending(t *testing.T) {
	b := New(time.Hour, 10)
	defer b.Stop()

	b.Add("key", event("m1", "a"))
	if got := b.Drain("key"); len(got) != 1 {
		t.Fatalf("first drain returned %d events, want 1", len(got))
	}
	if got := b.Drain("key"); len(got) != 0 {
		t.Errorf("second drain returned %d events, want 0", len(got))
	}
	if n := b.Len("key"); n != 0 {
		t.Errorf("Len after drain = %d, want 0", n)
	}
}

func TestPeekDoesNotClear(t *testing.T) {
	b := New(time.Hour, 10)
	defer b.Stop()

	b.Add("key", event("m1", "a"))
	if got := b.Peek("key"); len(got) != 1 {
		t.Fatalf("peek returned %d events, want 1", len(got))
	}
	if n := b.Len("key"); n != 1 {
		t.Errorf("Len after peek = %d, want 1", n)
	}
}

func TestSweepKeepsLiveKeys(t *testing.T) {
	b := New(time.Hour, 10)
	defer b.Stop()

	b.Add("armed", event("m1", "a"))
	b.Drain("drained")
	b.Add("idle", event("m2", "b"))
	b.Drain("idle")

	removed := b.Sweep()
	if removed != 1 {
		t.Fatalf("sweep removed %d keys, want 1", removed)
	}
	if n := b.Len("armed"); n != 1 {
		t.Errorf("armed key lost its pending events: len = %d", n)
	}
}

func TestStats(t *testing.T) {
	b := New(time.Hour, 10)
	defer b.Stop()

	b.Add("a", event("m1", "x"))
	b.Add("a", event("m2", "y"))
	b.Add("b", event("m3", "z"))

	st := b.Stats()
	if st.ActiveContacts != 2 {
		t.Errorf("ActiveContacts = %d, want 2", st.ActiveContacts)
	}
	if st.BufferedMessages != 3 {
		t.Errorf("BufferedMessages = %d, want 3", st.BufferedMessages)
	}
	if st.ActiveTimers != 2 {
		t.Errorf("ActiveTimers = %d, want 2", st.ActiveTimers)
	}
}
