package repl

import (
	"sort"

	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/core"
)

// ReplKind names the eight replicated operation variants (§4.2,
// component table row "Replicated operations").
type ReplKind int

const (
	ReplIndividual ReplKind = iota
	ReplIndex
	ReplCopy
	ReplFill
	ReplDeletion
	ReplDepPartition
	ReplMustEpoch
	ReplTiming
)

// ReplicatedOp drives the five-stage lifecycle shared by every
// replicated operation kind (§4.2): prepipeline sharding-functor
// selection, owner computation, owner-only mapping, shard-ordered
// reduction, and owner-only side effects at completion.
type ReplicatedOp struct {
	Op         *core.Operation
	Kind       ReplKind
	Manager    *ShardManager
	LocalShard core.ShardID

	ShardingID uint32
	OwnerShard core.ShardID
	IsOwner    bool
}

func NewReplicatedOp(op *core.Operation, kind ReplKind, mgr *ShardManager, localShard core.ShardID) *ReplicatedOp {
	return &ReplicatedOp{Op: op, Kind: kind, Manager: mgr, LocalShard: localShard}
}

// Prepipeline implements §4.2 step 1: in debug builds every shard
// contributes its chosen functor id to a gather targeted at shard 0,
// which verifies all shards agree; the caller collects `chosen` via a
// Gather collective and passes the result here.
func (r *ReplicatedOp) Prepipeline(chosen []uint32, functorID uint32) error {
	if err := VerifyConsistentChoice(chosen); err != nil {
		return err
	}
	if functorID == UnknownFunctor {
		return cmn.NewErrMapperContract("select_sharding_functor", "mapper", "mapper returned an invalid (UINT32_MAX) functor id")
	}
	r.ShardingID = functorID
	return nil
}

// Ready implements §4.2 step 2 for a single-point operation: compute the
// owner shard and, if this shard does not own the point, short-circuit
// straight to complete_mapping/complete_execution.
func (r *ReplicatedOp) Ready(point DomainPoint, domain Domain) error {
	fn, ok := r.Manager.ShardingFunction(r.ShardingID)
	if !ok {
		return cmn.NewErrMapperContract("find_owner", "mapper", "unknown sharding functor id")
	}
	r.OwnerShard = core.ShardID(fn.FindOwner(point, domain, r.Manager.TotalShards))
	r.IsOwner = r.OwnerShard == r.LocalShard
	if !r.IsOwner {
		gen := r.Op.Generation()
		r.Op.CompleteMapping()
		r.Op.MarkExecuted(gen)
		r.Op.MarkComplete(gen)
	}
	return nil
}

// OwnedPoints filters a flat point set down to the points this shard
// owns, implementing the index-task half of §4.2 step 2 ("restrict the
// launch index space to this shard's subset").
func (r *ReplicatedOp) OwnedPoints(points []DomainPoint, domain Domain) []DomainPoint {
	fn, ok := r.Manager.ShardingFunction(r.ShardingID)
	if !ok {
		return nil
	}
	var owned []DomainPoint
	for _, p := range points {
		if core.ShardID(fn.FindOwner(p, domain, r.Manager.TotalShards)) == r.LocalShard {
			owned = append(owned, p)
		}
	}
	return owned
}

// ReduceInShardOrder implements §4.2 step 4: every shard applies
// gathered partial results in ascending shard-id order, guaranteeing
// bitwise-identical folds regardless of arrival order (§8 property 5).
func ReduceInShardOrder(partials map[core.ShardID][]byte, fold func(acc, next []byte) []byte) []byte {
	shards := make([]core.ShardID, 0, len(partials))
	for s := range partials {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })
	var acc []byte
	for _, s := range shards {
		acc = fold(acc, partials[s])
	}
	return acc
}

// PerformDeletion implements §4.2 step 5's deletion special case: only
// shard 0 performs the destructive region-tree mutation; every other
// shard runs localBookkeeping so its own parent context still observes
// the deletion.
func (r *ReplicatedOp) PerformDeletion(destructive, localBookkeeping func()) {
	if r.LocalShard == 0 {
		destructive()
	} else {
		localBookkeeping()
	}
}

// ResolveMustEpochWeight implements the deterministic must-epoch
// constraint tie-break (§4.2 "Must-epoch", §8 scenario 4): the highest
// reported weight for a constraint wins; ties are broken in favor of the
// lowest-numbered reporting shard.
func ResolveMustEpochWeight(reports map[core.ShardID]MustEpochMapOutput, constraintID int) (mapping uint32, winner core.ShardID, ok bool) {
	shards := make([]core.ShardID, 0, len(reports))
	for s := range reports {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

	bestWeight := 0
	found := false
	for _, s := range shards {
		out := reports[s]
		w, has := out.Weights[constraintID]
		if !has {
			continue
		}
		if !found || w > bestWeight {
			bestWeight = w
			winner = s
			mapping = out.ConstraintMappings[constraintID]
			found = true
		}
	}
	return mapping, winner, found
}
