package repl

import (
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/core"
)

func waitOrTimeout(t *testing.T, e core.Event) {
	t.Helper()
	done := make(chan struct{})
	go func() { e.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collective to complete")
	}
}

func TestBroadcastReachesAllShards(t *testing.T) {
	const total = 5
	router := NewLocalRouter()
	var bcs []*Broadcast
	for s := 0; s < total; s++ {
		bcs = append(bcs, NewBroadcast(1, core.ShardID(s), 0, total, 2, router))
	}
	bcs[0].PerformAsync([]byte("hello"))
	for _, bc := range bcs {
		waitOrTimeout(t, bc.DoneEvent())
		if string(bc.Value()) != "hello" {
			t.Fatalf("shard %d: expected broadcast value, got %q", bc.Shard, bc.Value())
		}
	}
}

func TestGatherCollectsAllContributions(t *testing.T) {
	const total = 7
	router := NewLocalRouter()
	var gs []*Gather
	for s := 0; s < total; s++ {
		gs = append(gs, NewGather(2, core.ShardID(s), 0, total, 2, router))
	}
	for _, g := range gs {
		g.Contribute([]byte{byte(g.Shard)})
	}
	waitOrTimeout(t, gs[0].DoneEvent())
	got := gs[0].Contributions()
	if len(got) != total {
		t.Fatalf("expected %d contributions at target, got %d", total, len(got))
	}
	for s := 0; s < total; s++ {
		if v, ok := got[core.ShardID(s)]; !ok || v[0] != byte(s) {
			t.Fatalf("missing or wrong contribution from shard %d: %v", s, v)
		}
	}
}

func TestAllGatherPowerOfRadixConverges(t *testing.T) {
	const total = 4
	router := NewLocalRouter()
	var ags []*AllGather
	for s := 0; s < total; s++ {
		ags = append(ags, NewAllGather(3, core.ShardID(s), total, 2, router))
	}
	for _, ag := range ags {
		ag.Contribute([]byte{byte(ag.Shard)})
	}
	for _, ag := range ags {
		waitOrTimeout(t, ag.DoneEvent())
		vals := ag.Values()
		if len(vals) != total {
			t.Fatalf("shard %d: expected all %d values, got %d", ag.Shard, total, len(vals))
		}
	}
}

func TestAllGatherWithNonPowerOfRadixTotal(t *testing.T) {
	const total = 6 // largest power of 2 <= 6 is 4; shards 4,5 are non-participating
	router := NewLocalRouter()
	var ags []*AllGather
	for s := 0; s < total; s++ {
		ags = append(ags, NewAllGather(4, core.ShardID(s), total, 2, router))
	}
	for _, ag := range ags {
		ag.Contribute([]byte{byte(ag.Shard)})
	}
	for _, ag := range ags {
		waitOrTimeout(t, ag.DoneEvent())
		vals := ag.Values()
		if len(vals) != total {
			t.Fatalf("shard %d: expected all %d values after pre/post steps, got %d", ag.Shard, total, len(vals))
		}
	}
}

func TestAllGatherSingleShardCompletesImmediately(t *testing.T) {
	router := NewLocalRouter()
	ag := NewAllGather(5, 0, 1, 2, router)
	if !ag.DoneEvent().HasTriggered() {
		t.Fatal("§8 edge case: AllGather on total_shards==1 must complete immediately")
	}
}

func TestBarrierExchangeMergesWindows(t *testing.T) {
	const total = 4
	router := NewLocalRouter()
	results := make(chan map[core.ShardID][]byte, total)
	for s := 0; s < total; s++ {
		be := NewBarrierExchange(6, core.ShardID(s), total, 2, router)
		go func(s int, be *BarrierExchange) {
			results <- be.Exchange([]byte{byte(s)})
		}(s, be)
	}
	for i := 0; i < total; i++ {
		select {
		case r := <-results:
			if len(r) != total {
				t.Fatalf("expected merged window of %d barriers, got %d", total, len(r))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for barrier exchange")
		}
	}
}
