package repl

import (
	"sync"

	"github.com/taskmesh/taskmesh/core"
)

// allGatherMsg tags a butterfly message with the stage it belongs to so
// a shard can buffer a message that arrives for a stage it hasn't
// reached yet (§4.6: "map of out-of-order future-stage notifications").
// stagePre (-1) is the pre-step contribution from a non-participating
// shard to its paired participant; stagePost (== Stages) is the final
// result sent back to that same non-participating shard.
type allGatherMsg struct {
	Stage int
	Data  map[core.ShardID][]byte
}

const stagePre = -1

// AllGather is a radix-k dissemination all-gather over `ceil(log_k P)`
// stages, where P is the largest power of radix not exceeding Total
// (§4.6 "AllGather"). Shards with rank >= P are non-participating: each
// pairs with the participant at rank (its own rank - P), sends its
// contribution in the pre-step, and receives the fully merged result
// back in the post-step, exactly mirroring the spec's description of
// pre/post steps for shards outside the largest power-of-k count.
//
// ShardIDs are assumed contiguous over [0, Total) (§1 Identifiers:
// "ShardID (0...N-1)"), so a shard's rank is simply its ShardID.
type AllGather struct {
	base
	Radix  int
	P      int
	Stages int

	participating bool
	partner       core.ShardID
	hasPartner    bool

	mu2        sync.Mutex
	values     map[core.ShardID][]byte
	contributed bool
	preRecvd   bool
	recvCount  map[int]int
	sentStage  map[int]bool
	finished   bool
}

func ipow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// largestPow returns the largest P = radix^stages with P <= total.
func largestPow(total, radix int) (p, stages int) {
	p, stages = 1, 0
	if radix < 2 {
		radix = 2
	}
	for p*radix <= total {
		p *= radix
		stages++
	}
	return p, stages
}

func NewAllGather(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	p, stages := largestPow(total, radix)
	rank := int(shard)
	ag := &AllGather{
		base:      newBase(id, shard, total, router),
		Radix:     radix,
		P:         p,
		Stages:    stages,
		values:    make(map[core.ShardID][]byte),
		recvCount: make(map[int]int),
		sentStage: make(map[int]bool),
	}
	ag.participating = rank < p
	if ag.participating && rank < total-p {
		ag.partner = core.ShardID(rank + p)
		ag.hasPartner = true
	} else if !ag.participating {
		ag.partner = core.ShardID(rank - p)
		ag.hasPartner = true
	}
	router.Register(id, shard, ag)
	if total == 1 {
		// §8 edge case: "AllGather on total_shards == 1 completes
		// immediately with no messages sent."
		ag.finished = true
		ag.done.Trigger()
	}
	return ag
}

// Contribute supplies this shard's own value and starts the collective.
func (ag *AllGather) Contribute(value []byte) {
	ag.mu2.Lock()
	ag.values[ag.Shard] = value
	ag.contributed = true
	ag.mu2.Unlock()

	if !ag.participating {
		ag.Router.Send(ag.ID, ag.partner, ag.Shard, allGatherMsg{Stage: stagePre, Data: map[core.ShardID][]byte{ag.Shard: value}})
		return
	}
	ag.tryAdvance()
}

func (ag *AllGather) Deliver(_ core.ShardID, payload any) {
	msg := payload.(allGatherMsg)
	ag.mu2.Lock()
	for k, v := range msg.Data {
		ag.values[k] = v
	}
	switch {
	case msg.Stage == stagePre:
		ag.preRecvd = true
	case msg.Stage == ag.Stages:
		ag.finished = true
	default:
		ag.recvCount[msg.Stage]++
	}
	ag.mu2.Unlock()

	if !ag.participating {
		if ag.finished {
			ag.done.Trigger()
		}
		return
	}
	ag.tryAdvance()
}

// tryAdvance drives this shard's state machine forward as far as current
// knowledge allows: wait for the pre-step (if any), run the dissemination
// stages in order, then (if this shard is the butterfly-side partner of
// a non-participating shard) ship the final merged set back to it.
func (ag *AllGather) tryAdvance() {
	for {
		ag.mu2.Lock()
		readyForStage0 := ag.contributed && (!ag.hasPartner || int(ag.Shard) >= ag.Total-ag.P || ag.preRecvd)
		if readyForStage0 && !ag.sentStage[0] {
			ag.sentStage[0] = true
			if ag.Stages == 0 {
				// Degenerate case: P == 1, i.e. radix exceeds Total.
				// There is no participant ring to disseminate across.
				ag.finished = true
			}
			snapshot := ag.snapshotLocked()
			ag.mu2.Unlock()
			ag.sendStage(0, snapshot)
			continue
		}

		advanced := false
		for s := 0; s < ag.Stages; s++ {
			if ag.sentStage[s] && ag.recvCount[s] >= ag.Radix-1 && !ag.sentStage[s+1] {
				if s+1 < ag.Stages {
					ag.sentStage[s+1] = true
					snapshot := ag.snapshotLocked()
					ag.mu2.Unlock()
					ag.sendStage(s+1, snapshot)
					advanced = true
					break
				}
				// last stage's quorum met: the collective is complete
				// among participants.
				ag.sentStage[s+1] = true
				ag.finished = true
				advanced = true
				break
			}
		}
		if advanced {
			continue
		}
		finished := ag.finished
		hasPartner := ag.hasPartner && int(ag.Shard) < ag.Total-ag.P
		alreadySentFinal := ag.sentStage[ag.Stages+1]
		if finished && hasPartner && !alreadySentFinal {
			ag.sentStage[ag.Stages+1] = true
			snapshot := ag.snapshotLocked()
			partner := ag.partner
			ag.mu2.Unlock()
			ag.Router.Send(ag.ID, partner, ag.Shard, allGatherMsg{Stage: ag.Stages, Data: snapshot})
			continue
		}
		ag.mu2.Unlock()
		if finished {
			ag.done.Trigger()
		}
		return
	}
}

func (ag *AllGather) snapshotLocked() map[core.ShardID][]byte {
	out := make(map[core.ShardID][]byte, len(ag.values))
	for k, v := range ag.values {
		out[k] = v
	}
	return out
}

func (ag *AllGather) sendStage(stage int, snapshot map[core.ShardID][]byte) {
	rank := int(ag.Shard)
	offset := ipow(ag.Radix, stage)
	for k := 1; k < ag.Radix; k++ {
		partnerIdx := ((rank+k*offset)%ag.P + ag.P) % ag.P
		if partnerIdx == rank {
			continue
		}
		ag.Router.Send(ag.ID, core.ShardID(partnerIdx), ag.Shard, allGatherMsg{Stage: stage, Data: snapshot})
	}
	if ag.Radix-1 == 0 {
		// Degenerate radix (single-participant ring): no peers to wait
		// on, so the stage is trivially satisfied.
		ag.mu2.Lock()
		ag.recvCount[stage] = ag.Radix - 1
		ag.mu2.Unlock()
		ag.tryAdvance()
	}
}

func (ag *AllGather) Values() map[core.ShardID][]byte {
	ag.mu2.Lock()
	defer ag.mu2.Unlock()
	return ag.snapshotLocked()
}

// BarrierExchange is an AllGather whose payload is a window of freshly
// allocated phase barriers (§4.6 "BarrierExchange"), used to pre-publish
// a pipeline of synchronization points to every shard.
type BarrierExchange struct {
	*AllGather
}

func NewBarrierExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *BarrierExchange {
	return &BarrierExchange{AllGather: NewAllGather(id, shard, total, radix, router)}
}

// Exchange contributes this shard's barrier window and, once done,
// returns the merged per-shard windows.
func (be *BarrierExchange) Exchange(window []byte) map[core.ShardID][]byte {
	be.Contribute(window)
	be.PerformWait()
	return be.Values()
}
