package core

import "testing"

func TestOperationStateMachine(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	op := DefaultPool.Get(OpCopy, ctx)
	gen := op.Generation()

	if op.State() != StateExecuting {
		t.Fatalf("new op should start EXECUTING, got %s", op.State())
	}
	if !op.MarkExecuted(gen) {
		t.Fatal("EXECUTING -> EXECUTED should succeed")
	}
	if op.State() != StateExecuted {
		t.Fatalf("expected EXECUTED, got %s", op.State())
	}
	// Idempotent re-delivery.
	if !op.MarkExecuted(gen) {
		t.Fatal("re-delivery of register_child_executed should be a no-op success")
	}
	if !op.MarkComplete(gen) {
		t.Fatal("EXECUTED -> COMPLETE should succeed")
	}
	if !op.MarkCommitted(gen) {
		t.Fatal("COMPLETE -> COMMITTED should succeed")
	}
	if op.State() != StateCommitted {
		t.Fatalf("expected COMMITTED, got %s", op.State())
	}
}

func TestOperationStaleGenerationDropped(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	op := DefaultPool.Get(OpFill, ctx)
	stale := op.Generation()

	DefaultPool.Put(op)
	op2 := DefaultPool.Get(OpFill, ctx) // likely recycles op, bumping generation
	if op2.Generation() == stale {
		t.Skip("pool did not recycle the same slot; nothing to assert")
	}
	if op2.MarkExecuted(stale) {
		t.Fatal("a transition stamped with a stale generation must be dropped")
	}
}

func TestOperationUnregisterCancels(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	op := DefaultPool.Get(OpDeletion, ctx)
	gen := op.Generation()
	if !op.Unregister(gen) {
		t.Fatal("unregister from EXECUTING should succeed")
	}
	if op.State() != StateGone {
		t.Fatalf("expected GONE, got %s", op.State())
	}
	if op.MarkExecuted(gen) {
		t.Fatal("a cancelled op must not transition to EXECUTED")
	}
}
