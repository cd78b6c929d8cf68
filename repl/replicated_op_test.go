package repl

import (
	"testing"

	"github.com/taskmesh/taskmesh/core"
)

func TestModShardingFunctionScenario3(t *testing.T) {
	// §8 scenario 3: 4-shard replicated index task over domain [0,15]
	// with sharding function `point mod 4`; shard k sees exactly points
	// {k, k+4, k+8, k+12}.
	fn := NewModShardingFunction(0)
	for k := 0; k < 4; k++ {
		for _, p := range []int64{int64(k), int64(k + 4), int64(k + 8), int64(k + 12)} {
			if owner := fn.FindOwner(DomainPoint{p}, Domain{}, 4); owner != k {
				t.Fatalf("point %d: expected owner %d, got %d", p, k, owner)
			}
		}
	}
}

func TestShardingFunctionIdenticalAcrossShards(t *testing.T) {
	// §8 property 4: every shard must compute the identical owner for
	// the identical (point, domain).
	fnA := NewHashShardingFunction(1)
	fnB := NewHashShardingFunction(1)
	domain := Domain{Lo: DomainPoint{0}, Hi: DomainPoint{100}}
	for p := int64(0); p < 50; p++ {
		if fnA.FindOwner(DomainPoint{p}, domain, 8) != fnB.FindOwner(DomainPoint{p}, domain, 8) {
			t.Fatalf("point %d: two instances of the same functor disagree", p)
		}
	}
}

func TestVerifyConsistentChoiceDetectsMismatch(t *testing.T) {
	if err := VerifyConsistentChoice([]uint32{2, 2, 2}); err != nil {
		t.Fatalf("expected no error for unanimous choice: %v", err)
	}
	if err := VerifyConsistentChoice([]uint32{2, 2, 3}); err == nil {
		t.Fatal("expected a mapper contract violation for inconsistent sharding choice")
	}
}

func TestResolveMustEpochWeightTieBreak(t *testing.T) {
	// §8 scenario 4: shard 1 and shard 2 report identical weight=5 for
	// constraint 0; the tie must break in favor of shard 1 (lower id).
	reports := map[core.ShardID]MustEpochMapOutput{
		0: {Weights: map[int]int{0: 3}, ConstraintMappings: map[int]uint32{0: 100}},
		1: {Weights: map[int]int{0: 5}, ConstraintMappings: map[int]uint32{0: 101}},
		2: {Weights: map[int]int{0: 5}, ConstraintMappings: map[int]uint32{0: 102}},
	}
	mapping, winner, ok := ResolveMustEpochWeight(reports, 0)
	if !ok {
		t.Fatal("expected a resolved winner")
	}
	if winner != 1 {
		t.Fatalf("expected shard 1 to win the tie, got shard %d", winner)
	}
	if mapping != 101 {
		t.Fatalf("expected shard 1's mapping (101), got %d", mapping)
	}
}

func TestReplicatedOpNonOwnerShortCircuits(t *testing.T) {
	ctx := core.NewTopLevelContext(nil)
	op := core.DefaultPool.Get(core.OpTask, ctx)
	mgr := NewShardManager(1, 4)
	r := NewReplicatedOp(op, ReplIndividual, mgr, 2)
	if err := r.Prepipeline([]uint32{0, 0, 0, 0}, 0); err != nil {
		t.Fatalf("prepipeline: %v", err)
	}
	if err := r.Ready(DomainPoint{1}, Domain{}); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.IsOwner {
		t.Fatal("shard 2 should not own point 1 under mod-4 sharding")
	}
	if !op.CompleteEvent().HasTriggered() {
		t.Fatal("non-owning shard should short-circuit straight to complete")
	}
}

func TestReduceInShardOrderIsDeterministic(t *testing.T) {
	partials := map[core.ShardID][]byte{
		2: {2},
		0: {0},
		1: {1},
	}
	fold := func(acc, next []byte) []byte { return append(acc, next...) }
	got := ReduceInShardOrder(partials, fold)
	want := []byte{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}
