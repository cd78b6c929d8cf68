package repl

import (
	"github.com/taskmesh/taskmesh/core"
)

// The generic Broadcast/Gather/AllGather/BarrierExchange primitives in
// collective.go and allgather.go implement the wire protocol every named
// collective in §4.6 reduces to; what follows are the named
// specializations, each just the primitive constructed with the
// parameters its role in the replicated-operation lifecycle calls for
// (mirrors legion_replication.cc: VersioningInfoBroadcast, FutureExchange,
// and friends are themselves thin subclasses of the same handful of
// ShardCollective base algorithms).

// NewVersioningInfoBroadcast ships one shard's (usually the owner's)
// region-tree versioning state to every other shard, so non-owning
// shards can update their local version-number bookkeeping after an
// owner-only mutation (§4.2 step 5's deletion special case, and any
// replicated op whose owner mutates shared versioning state).
func NewVersioningInfoBroadcast(id core.CollectiveID, shard core.ShardID, origin core.ShardID, total, radix int, router *LocalRouter) *Broadcast {
	return NewBroadcast(id, shard, origin, total, radix, router)
}

// NewFutureBroadcast ships a single future's value from the shard that
// produced it to every shard that depends on it.
func NewFutureBroadcast(id core.CollectiveID, shard core.ShardID, origin core.ShardID, total, radix int, router *LocalRouter) *Broadcast {
	return NewBroadcast(id, shard, origin, total, radix, router)
}

// NewFutureExchange builds the collective an index task's FutureMap
// reduction uses: every shard contributes the futures it produced for
// the points it owns, and every shard ends up with the complete map
// (§4.2 "Index task" + "Reduce-in-shard-order").
func NewFutureExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// NewFutureNameExchange is like NewFutureExchange but carries only
// future identifiers (not values), letting every shard build a
// consistent FutureMap index before the values themselves are computed
// or transferred.
func NewFutureNameExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// FieldDescriptor is one field's layout as a dependent-partition Thunk
// needs to see it: which field space it lives in, which field, and its
// per-element size.
type FieldDescriptor struct {
	Space core.FieldSpaceID
	Field core.FieldID
	Size  int
}

// NewFieldDescriptorGather collects every shard's local field
// descriptors at a single target shard, used when only the target (e.g.
// the shard performing a by-field Thunk's final color computation) needs
// the full picture.
func NewFieldDescriptorGather(id core.CollectiveID, shard core.ShardID, target core.ShardID, total, radix int, router *LocalRouter) *Gather {
	return NewGather(id, shard, target, total, radix, router)
}

// NewFieldDescriptorExchange is the all-to-all form: every shard ends up
// knowing every other shard's field descriptors, needed when a by-field
// Thunk must be evaluated identically on every shard (§8 property 4).
func NewFieldDescriptorExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// NewMustEpochMappingBroadcast ships the resolved must-epoch mapping
// decision (ResolveMustEpochWeight's winner) from the shard that
// computed it to every participating shard.
func NewMustEpochMappingBroadcast(id core.CollectiveID, shard core.ShardID, origin core.ShardID, total, radix int, router *LocalRouter) *Broadcast {
	return NewBroadcast(id, shard, origin, total, radix, router)
}

// NewMustEpochMappingExchange lets every shard contribute its
// MustEpochMapOutput and see every other shard's, the input
// ResolveMustEpochWeight consumes.
func NewMustEpochMappingExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// NewMustEpochDependenceExchange exchanges each shard's view of
// inter-task mapping dependences within a must-epoch launch, so every
// shard can compute the identical dependence graph before mapping.
func NewMustEpochDependenceExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// NewMustEpochCompletionExchange lets every shard learn when every other
// shard's locally-owned must-epoch tasks have completed, so the
// must-epoch launch as a whole can trigger its completion event only
// once every shard agrees.
func NewMustEpochCompletionExchange(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *AllGather {
	return NewAllGather(id, shard, total, radix, router)
}

// NewShardSyncTree is a one-shot resynchronization rendezvous (§4.6):
// every shard calls Exchange once and returns when all shards have
// arrived. An instance completes only once; each later resynchronization
// point needs a new instance with its own CollectiveID.
func NewShardSyncTree(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *BarrierExchange {
	return NewBarrierExchange(id, shard, total, radix, router)
}
