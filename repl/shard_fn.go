// Package repl implements the control-replication layer (§4.2, §4.6,
// §4.7): turning one logical task into N cooperating shards via a
// ShardManager, the ShardCollective family (Broadcast/Gather/AllGather/
// BarrierExchange), and the replicated operation variants.
package repl

import (
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/taskmesh/taskmesh/cmn"
)

// DomainPoint is the coordinate a ShardingFunction maps to an owning
// shard; kept as a flat int64 slice rather than a fixed-rank struct so
// 1D, 2D, and 3D launch domains share one representation.
type DomainPoint []int64

// Domain is the iteration space a replicated index operation is sharded
// over. Only Lo/Hi are needed by the sharding functions this package
// ships; region-tree domains proper stay with the opaque forest.
type Domain struct {
	Lo, Hi DomainPoint
}

// ShardingFunction maps a point in a domain to the shard that owns it.
// Every shard must compute the identical answer for the identical input
// (§4.1 invariant 4, §3 "Shard / ShardManager"): this package's two
// implementations are both pure functions of (point, domain, totalShards).
type ShardingFunction interface {
	ID() uint32
	FindOwner(point DomainPoint, domain Domain, totalShards int) int
}

// ModShardingFunction assigns shard ids by `point[0] mod totalShards`,
// the canonical "round-robin over the leading dimension" functor named
// in the spec's end-to-end scenario 3.
type ModShardingFunction struct{ id uint32 }

func NewModShardingFunction(id uint32) *ModShardingFunction {
	return &ModShardingFunction{id: id}
}

func (f *ModShardingFunction) ID() uint32 { return f.id }

func (f *ModShardingFunction) FindOwner(point DomainPoint, _ Domain, totalShards int) int {
	if totalShards <= 0 || len(point) == 0 {
		return 0
	}
	p := point[0] % int64(totalShards)
	if p < 0 {
		p += int64(totalShards)
	}
	return int(p)
}

// HashShardingFunction assigns shard ids by hashing the point's
// coordinates with xxhash, for domains with no useful linear structure
// (scattered point sets, irregular partitions).
type HashShardingFunction struct{ id uint32 }

func NewHashShardingFunction(id uint32) *HashShardingFunction {
	return &HashShardingFunction{id: id}
}

func (f *HashShardingFunction) ID() uint32 { return f.id }

func (f *HashShardingFunction) FindOwner(point DomainPoint, _ Domain, totalShards int) int {
	if totalShards <= 0 {
		return 0
	}
	h := xxhash.New64()
	buf := make([]byte, 8)
	for _, c := range point {
		for i := 0; i < 8; i++ {
			buf[i] = byte(c >> (8 * i))
		}
		h.Write(buf)
	}
	return int(h.Sum64() % uint64(totalShards))
}

// Registry resolves a ShardingID (as selected by the mapper's "select
// sharding functor" callback, §4.2 step 1) to a ShardingFunction; one
// instance is shared by every Operation in a replicated context, mirroring
// ShardManager's "cache of ShardingID -> ShardingFunction" (§3).
type Registry struct {
	fns map[uint32]ShardingFunction
}

func NewRegistry() *Registry {
	r := &Registry{fns: make(map[uint32]ShardingFunction)}
	r.Register(NewModShardingFunction(0))
	r.Register(NewHashShardingFunction(1))
	return r
}

func (r *Registry) Register(fn ShardingFunction) { r.fns[fn.ID()] = fn }

func (r *Registry) Lookup(id uint32) (ShardingFunction, bool) {
	fn, ok := r.fns[id]
	return fn, ok
}

// UnknownFunctor is the mapper-output sentinel meaning "no valid
// sharding id chosen" (§4.1 Sentinels: owner_shard == UINT32_MAX before
// selection; this is its functor-id analogue).
const UnknownFunctor uint32 = ^uint32(0)

// VerifyConsistentChoice implements the debug-build gather described in
// §4.2 step 1: every shard's chosen functor id must match, or the
// replicated operation has hit a mapper contract violation.
func VerifyConsistentChoice(chosen []uint32) error {
	if len(chosen) == 0 {
		return nil
	}
	want := chosen[0]
	for i, got := range chosen[1:] {
		if got != want {
			return cmn.NewErrMapperContract("select_sharding_functor", "mapper",
				fmt.Sprintf("shard %d chose functor %d, shard 0 chose %d", i+1, got, want))
		}
	}
	return nil
}
