package core

import (
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"

	"github.com/taskmesh/taskmesh/cmn/atomic"
)

type (
	// UniqueID identifies an Operation, monotonically assigned per
	// process (§3 "Identifiers").
	UniqueID uint64
	// ContextID identifies an inner context.
	ContextID uint64
	// ShardID is 0..N-1 within a replicated task.
	ShardID uint32
	// ReplicationID identifies a replicated task.
	ReplicationID uint64
	// CollectiveID identifies a collective site within a replicated
	// context; allocated from a per-context sequence.
	CollectiveID uint64
)

// idGen is the process-wide monotonic id source for UniqueID/ContextID/
// ReplicationID. shortid additionally gives each replicated launch a
// short, collision-resistant human-readable tag (mirroring the teacher's
// `PrefixTcoID + uuid` convention) used in log lines and Snap output.
type idGen struct {
	nextUnique atomic.Uint64
	nextCtx    atomic.Uint64
	nextRepl   atomic.Uint64
	shortIDGen *shortid.Shortid
}

var ids = newIDGen()

func newIDGen() *idGen {
	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		// shortid.New only fails on a bad alphabet; DefaultABC is always
		// valid, so this is unreachable in practice.
		sid = nil
	}
	return &idGen{shortIDGen: sid}
}

func NextUniqueID() UniqueID { return UniqueID(ids.nextUnique.Inc()) }
func NextContextID() ContextID { return ContextID(ids.nextCtx.Inc()) }
func NextReplicationID() ReplicationID { return ReplicationID(ids.nextRepl.Inc()) }

// ShortTag returns a short, human-readable id suitable for prefixing a
// replicated-op UUID (e.g. "tco-" + ShortTag()), mirroring the teacher's
// PrefixTcoID convention.
func ShortTag() string {
	if ids.shortIDGen == nil {
		return "x"
	}
	s, err := ids.shortIDGen.Generate()
	if err != nil {
		return "x"
	}
	return s
}

// HashPoint reduces an arbitrary domain point (already serialized by the
// caller, e.g. "%d,%d,%d" for a 3-D point) to a uint64 for use by sharding
// functions (§4.6, ShardingFunction.find_owner).
func HashPoint(serialized string) uint64 {
	return xxhash.ChecksumString64(serialized)
}
