package repl

import (
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/core"
)

func TestThunkOwnedColorsFollowsShardingFunction(t *testing.T) {
	mgr := NewShardManager(1, 4)

	colors := []DomainPoint{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}}
	th := NewThunk(ThunkByImage, mgr, 2, 0)
	th.ShardingID = 0
	owned := th.OwnedColors(colors, Domain{})
	for _, c := range owned {
		if c[0]%4 != 2 {
			t.Fatalf("shard 2 should only own colors congruent to 2 mod 4, got %v", c)
		}
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 owned colors out of 8, got %d", len(owned))
	}
}

func TestCrossProductCollectiveMergesNonEmptyColors(t *testing.T) {
	const total = 3
	router := NewLocalRouter()
	var cps []*CrossProductCollective
	for s := 0; s < total; s++ {
		cps = append(cps, NewCrossProductCollective(10, core.ShardID(s), total, 2, router))
	}
	cps[0].Contribute(CrossProductResult{Entries: []CrossProductEntry{{Color: DomainPoint{0}, NonEmpty: true}}})
	cps[1].Contribute(CrossProductResult{Entries: []CrossProductEntry{{Color: DomainPoint{1}, NonEmpty: false}}})
	cps[2].Contribute(CrossProductResult{Entries: []CrossProductEntry{{Color: DomainPoint{2}, NonEmpty: true}}})

	done := make(chan struct{})
	go func() { cps[0].DoneEvent().Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross product collective")
	}

	merged := cps[0].Merged()
	if len(merged) != 3 {
		t.Fatalf("expected 3 distinct colors in the merged view, got %d", len(merged))
	}
	if !merged[domainPointKey([]int64{0})] {
		t.Fatal("color 0 should be non-empty")
	}
	if merged[domainPointKey([]int64{1})] {
		t.Fatal("color 1 should be empty")
	}
}
