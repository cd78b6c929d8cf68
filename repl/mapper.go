package repl

import "github.com/taskmesh/taskmesh/core"

// Mapper is the opaque policy callback surface replicated operations
// invoke (§1 "the mapper policy surface", §4.1 "Mapper callback
// surface"). The runtime never second-guesses its answers except to
// detect a contract violation (inconsistent sharding choice across
// shards, an unknown functor id, a must-epoch slice split across
// shards); picking good answers is entirely the mapper's business.
type Mapper interface {
	// SelectTaskShardingFunctor implements invoke_task_select_sharding_functor:
	// returns UnknownFunctor (UINT32_MAX) to mean "invalid".
	SelectTaskShardingFunctor(op *core.Operation, totalShards int) uint32
	SelectCopyShardingFunctor(op *core.Operation, totalShards int) uint32
	SelectFillShardingFunctor(op *core.Operation, totalShards int) uint32
	SelectPartitionShardingFunctor(op *core.Operation, totalShards int) uint32

	// SelectMustEpochShardingFunctor implements
	// invoke_must_epoch_select_sharding_functor.
	SelectMustEpochShardingFunctor(op *core.Operation, totalShards int) (functor uint32, collectiveMap bool)

	// MapMustEpoch implements invoke_map_must_epoch: given the task set,
	// constraints, and this shard's assignment, returns a processor per
	// task, a mapping per constraint, and a weight per constraint used
	// to break ties when shards disagree (§4.2 "Must-epoch").
	MapMustEpoch(input MustEpochMapInput) MustEpochMapOutput
}

type MustEpochMapInput struct {
	Tasks        []*core.Operation
	Constraints  []MustEpochConstraint
	ShardMapping map[core.ShardID]uint32
	LocalShard   core.ShardID
}

type MustEpochConstraint struct {
	ID int
}

type MustEpochMapOutput struct {
	TaskProcessors      map[core.UniqueID]uint32
	ConstraintMappings  map[int]uint32
	Weights             map[int]int
}
