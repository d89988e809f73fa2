package presence

import (
	"testing"
	"time"

	"github.com/bazario/chatkit/internal/bus"
)

func TestDeltasInArrivalOrder(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetOnline("a")
	tr.SetOnline("b")
	tr.SetOffline("a")

	if tr.IsOnline("a") {
		t.Error("a should be offline")
	}
	if !tr.IsOnline("b") {
		t.Error("b should be online")
	}
}

func TestDeltasAreIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetOnline("a")
	tr.SetOnline("a")
	tr.SetOffline("b") // never was online

	got := tr.Online()
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("online = %v, want [a]", got)
	}
}

func TestSnapshotOverridesPriorDeltas(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetOnline("a")

	tr.ApplySnapshot([]string{"b"})

	if tr.IsOnline("a") {
		t.Error("a must be absent after snapshot replacement")
	}
	if !tr.IsOnline("b") {
		t.Error("b must be online from snapshot")
	}
	got := tr.Online()
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("online = %v, want exactly [b]", got)
	}
}

func TestSnapshotDeduplicates(t *testing.T) {
	tr := NewTracker(nil)
	tr.ApplySnapshot([]string{"a", "a", "b"})
	if got := tr.Online(); len(got) != 2 {
		t.Errorf("online = %v, want [a b]", got)
	}
}

func TestPublishesOnChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	tr := NewTracker(b)
	tr.SetOnline("a")

	select {
	case evt := <-ch:
		users, ok := evt.Payload.([]string)
		if !ok || len(users) != 1 || users[0] != "a" {
			t.Errorf("payload = %v, want [a]", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.updated event")
	}

	// Redundant delta: no event.
	tr.SetOnline("a")
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for idempotent delta: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
