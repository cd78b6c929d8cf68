package core

import "testing"

func TestMergeTriggersAfterAll(t *testing.T) {
	a, b := NewUserEvent(), NewUserEvent()
	merged := Merge(a.Event, b.Event)
	if merged.HasTriggered() {
		t.Fatal("merged event should not have triggered yet")
	}
	a.Trigger()
	if merged.HasTriggered() {
		t.Fatal("merged event should wait for both inputs")
	}
	b.Trigger()
	merged.Wait()
	if !merged.HasTriggered() {
		t.Fatal("merged event should have triggered once both inputs did")
	}
}

func TestMergePropagatesPoison(t *testing.T) {
	a, b := NewUserEvent(), NewUserEvent()
	merged := Merge(a.Event, b.Event)
	a.Poison()
	b.Trigger()
	merged.Wait()
	if !merged.Poisoned() {
		t.Fatal("a poisoned input must poison the merged event")
	}
}

func TestBarrierArriveTriggersOnQuorum(t *testing.T) {
	b := NewBarrier(3)
	e1 := b.Arrive()
	e2 := b.Arrive()
	if e1.HasTriggered() || e2.HasTriggered() {
		t.Fatal("barrier should not trigger before quorum")
	}
	e3 := b.Arrive()
	e3.Wait()
	if !e1.HasTriggered() {
		t.Fatal("all three arrivals' events should share the same generation and trigger together")
	}
}
