package core

import (
	"testing"

	"github.com/taskmesh/taskmesh/cmn"
)

func TestRegisterNewChildOperationAssignsIndices(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	for i := 0; i < 5; i++ {
		op := DefaultPool.Get(OpCopy, ctx)
		idx, err := ctx.RegisterNewChildOperation(op)
		if err != nil {
			t.Fatalf("register_new_child_operation: %v", err)
		}
		if idx != i {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}
}

// TestChildCountInvariant exercises §8 property 6: len(executing) +
// len(executed) + len(complete) == total registered - total committed.
func TestChildCountInvariant(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	ops := make([]*Operation, 0, 6)
	for i := 0; i < 6; i++ {
		op := DefaultPool.Get(OpCopy, ctx)
		if _, err := ctx.RegisterNewChildOperation(op); err != nil {
			t.Fatal(err)
		}
		ops = append(ops, op)
	}
	for i, op := range ops {
		gen := op.Generation()
		if i%3 != 2 {
			continue
		}
		ctx.RegisterChildExecuted(op)
		ctx.RegisterChildComplete(op)
		ctx.RegisterChildCommit(op)
		_ = gen
	}
	executing, executed, complete := ctx.ChildCounts()
	total := ctx.totalChildrenCount
	committed := ctx.totalChildrenCommitted
	if got, want := executing+executed+complete, total-committed; got != want {
		t.Fatalf("invariant violated: executing+executed+complete=%d, total-committed=%d", got, want)
	}
}

func TestWindowAdmissionBlocksAndReopens(t *testing.T) {
	cfg := cmn.DefaultConfig()
	cfg.Context.MaxOutstandingChildren = 1
	cfg.Context.LowWater = 0
	ctx := NewTopLevelContext(cfg)

	op1 := DefaultPool.Get(OpCopy, ctx)
	if _, err := ctx.RegisterNewChildOperation(op1); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		op2 := DefaultPool.Get(OpCopy, ctx)
		if _, err := ctx.RegisterNewChildOperation(op2); err != nil {
			t.Error(err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second register_new_child_operation should have blocked on the closed window")
	default:
	}

	gen := op1.Generation()
	ctx.RegisterChildExecuted(op1)
	ctx.RegisterChildComplete(op1)
	ctx.RegisterChildCommit(op1)
	_ = gen

	<-done // must unblock once the window reopens
}

func TestFenceDependenceRecordedOnRegistration(t *testing.T) {
	ctx := NewTopLevelContext(nil)
	early := DefaultPool.Get(OpCopy, ctx)
	if _, err := ctx.RegisterNewChildOperation(early); err != nil {
		t.Fatal(err)
	}

	fence := DefaultPool.Get(OpFence, ctx)
	ctx.UpdateCurrentFence(fence)

	later := DefaultPool.Get(OpCopy, ctx)
	if _, err := ctx.RegisterNewChildOperation(later); err != nil {
		t.Fatal(err)
	}
	if later.FenceDependence().HasTriggered() {
		t.Fatal("a child registered after a fence should depend on that fence, which has not completed")
	}
}

func TestLeafContextRefusesChildOperations(t *testing.T) {
	ctx := NewLeafContext(NewTopLevelContext(nil), nil)
	defer func() {
		if recover() == nil {
			t.Fatal("leaf context should panic on register_new_child_operation")
		}
	}()
	_, _ = ctx.RegisterNewChildOperation(DefaultPool.Get(OpCopy, ctx))
}

func TestInlineContextRedirects(t *testing.T) {
	top := NewTopLevelContext(nil)
	inline := NewInlineContext(top, nil)
	op := DefaultPool.Get(OpCopy, inline)
	idx, err := inline.RegisterNewChildOperation(op)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("expected the enclosing context's counter, got %d", idx)
	}
	if top.totalChildrenCount != 1 {
		t.Fatalf("inline registration should have landed on the enclosing context, got count=%d", top.totalChildrenCount)
	}
}
