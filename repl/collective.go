package repl

import (
	"sync"

	"github.com/taskmesh/taskmesh/core"
)

// base implements the two-phase registration every ShardCollective shares
// (§4.6): construction allocates a CollectiveID from the context's
// per-location counter (the caller does this, via ShardManager.
// NextCollectiveID, before constructing a base); PerformAsync (Broadcast)
// or Contribute (Gather, AllGather) publishes through the LocalRouter
// passed to the constructor; PerformWait blocks on the done event.
type base struct {
	ID     core.CollectiveID
	Shard  core.ShardID
	Total  int
	Router *LocalRouter

	mu   sync.Mutex
	done core.UserEvent
}

func newBase(id core.CollectiveID, shard core.ShardID, total int, router *LocalRouter) base {
	return base{ID: id, Shard: shard, Total: total, Router: router, done: core.NewUserEvent()}
}

// PerformWait implements perform_collective_wait (§4.6).
func (b *base) PerformWait() { b.done.Wait() }

func (b *base) DoneEvent() core.Event { return b.done.Event }

// treeChildren returns the shard ids of this shard's children in a
// radix-ary tree rooted at `root`, using ranks relative to root modulo
// Total (shared by Broadcast's fan-out and Gather's fan-in, just walked
// in opposite directions).
func treeChildren(shard, root core.ShardID, total, radix int) []core.ShardID {
	rank := (int(shard) - int(root) + total) % total
	var children []core.ShardID
	for i := 1; i <= radix; i++ {
		childRank := rank*radix + i
		if childRank >= total {
			break
		}
		children = append(children, core.ShardID((childRank+int(root))%total))
	}
	return children
}

func treeParent(shard, root core.ShardID, total, radix int) (core.ShardID, bool) {
	rank := (int(shard) - int(root) + total) % total
	if rank == 0 {
		return 0, false
	}
	parentRank := (rank - 1) / radix
	return core.ShardID((parentRank + int(root)) % total), true
}

// Broadcast is a tree fan-out collective (§4.6 "Broadcast"): the origin
// sends to `radix` children; each non-origin shard receives exactly
// once, forwards to its own children, then triggers its local done
// event.
type Broadcast struct {
	base
	Origin core.ShardID
	Radix  int

	received bool
	value    []byte
}

func NewBroadcast(id core.CollectiveID, shard, origin core.ShardID, total, radix int, router *LocalRouter) *Broadcast {
	bc := &Broadcast{base: newBase(id, shard, total, router), Origin: origin, Radix: radix}
	router.Register(id, shard, bc)
	return bc
}

// PerformAsync publishes the broadcast value; only the origin shard's
// call has any effect; non-origin shards must instead wait for Deliver.
func (bc *Broadcast) PerformAsync(value []byte) {
	if bc.Shard != bc.Origin {
		return
	}
	bc.land(value)
}

func (bc *Broadcast) Deliver(_ core.ShardID, payload any) {
	bc.land(payload.([]byte))
}

func (bc *Broadcast) land(value []byte) {
	bc.mu.Lock()
	if bc.received {
		bc.mu.Unlock()
		return
	}
	bc.received = true
	bc.value = value
	bc.mu.Unlock()

	for _, child := range treeChildren(bc.Shard, bc.Origin, bc.Total, bc.Radix) {
		bc.Router.Send(bc.ID, child, bc.Shard, value)
	}
	bc.done.Trigger()
}

func (bc *Broadcast) Value() []byte {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.value
}

// Gather is the inverse tree (§4.6 "Gather"): every leaf contributes,
// each interior shard waits for expected_notifications (its own
// contribution plus one per child) before forwarding the merged set
// upward. Only the target shard's done event signals data availability.
type Gather struct {
	base
	Target core.ShardID
	Radix  int

	contributions map[core.ShardID][]byte
	notified      int // own contribution plus one per child delivery
	forwarded     bool
}

func NewGather(id core.CollectiveID, shard, target core.ShardID, total, radix int, router *LocalRouter) *Gather {
	g := &Gather{
		base:          newBase(id, shard, total, router),
		Target:        target,
		Radix:         radix,
		contributions: make(map[core.ShardID][]byte),
	}
	router.Register(id, shard, g)
	return g
}

// Contribute supplies this shard's own value into the gather.
func (g *Gather) Contribute(value []byte) {
	g.mu.Lock()
	g.contributions[g.Shard] = value
	g.notified++
	g.mu.Unlock()
	g.maybeForward()
}

func (g *Gather) Deliver(_ core.ShardID, payload any) {
	m := payload.(map[core.ShardID][]byte)
	g.mu.Lock()
	for k, v := range m {
		g.contributions[k] = v
	}
	g.notified++
	g.mu.Unlock()
	g.maybeForward()
}

func (g *Gather) maybeForward() {
	children := treeChildren(g.Shard, g.Target, g.Total, g.Radix)
	expected := 1 + len(children)

	g.mu.Lock()
	if g.forwarded || g.notified < expected {
		g.mu.Unlock()
		return
	}
	g.forwarded = true
	snapshot := make(map[core.ShardID][]byte, len(g.contributions))
	for k, v := range g.contributions {
		snapshot[k] = v
	}
	g.mu.Unlock()

	if g.Shard == g.Target {
		g.done.Trigger()
		return
	}
	parent, ok := treeParent(g.Shard, g.Target, g.Total, g.Radix)
	if ok {
		g.Router.Send(g.ID, parent, g.Shard, snapshot)
	}
}

// Contributions returns the merged contribution set; only meaningful on
// the target shard once DoneEvent has triggered.
func (g *Gather) Contributions() map[core.ShardID][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[core.ShardID][]byte, len(g.contributions))
	for k, v := range g.contributions {
		out[k] = v
	}
	return out
}
