package repl

import "github.com/taskmesh/taskmesh/core"

// ThunkKind names the five dependent-partition operation flavors (§4.2
// "Dependent partition"): each computes a partition's sub-index-spaces
// from an existing field or a prior partition rather than from an
// explicit coloring.
type ThunkKind int

const (
	ThunkByField ThunkKind = iota
	ThunkByImage
	ThunkByImageRange
	ThunkByPreimage
	ThunkByPreimageRange
)

func (k ThunkKind) String() string {
	switch k {
	case ThunkByField:
		return "by_field"
	case ThunkByImage:
		return "by_image"
	case ThunkByImageRange:
		return "by_image_range"
	case ThunkByPreimage:
		return "by_preimage"
	case ThunkByPreimageRange:
		return "by_preimage_range"
	default:
		return "unknown_thunk"
	}
}

// Thunk is one replicated dependent-partition operation: like
// ReplicatedOp, it shards by color (the sub-index-space identifier)
// rather than by point, and for ByField/ByPreimage variants it also
// needs every shard's view of the driving field's layout, obtained via
// NewFieldDescriptorExchange before colors can be computed.
type Thunk struct {
	Kind       ThunkKind
	Manager    *ShardManager
	ShardingID uint32
	LocalShard core.ShardID

	// SourceField names the field a ByField/ByImage/ByPreimage Thunk
	// reads to compute its coloring; unused for pure image/preimage
	// range variants that instead walk an existing partition's bounds.
	SourceField core.FieldID

	// Descriptors is this Thunk's view of every shard's FieldDescriptor
	// for SourceField, populated from a NewFieldDescriptorExchange
	// result before OwnedColors is called for a ByField/ByPreimage
	// Thunk (§8 property 4: every shard must reach the identical
	// coloring, so every shard needs the identical descriptor set).
	Descriptors map[core.ShardID]FieldDescriptor
}

func NewThunk(kind ThunkKind, mgr *ShardManager, localShard core.ShardID, field core.FieldID) *Thunk {
	return &Thunk{Kind: kind, Manager: mgr, LocalShard: localShard, SourceField: field}
}

// OwnedColors restricts a flat set of candidate sub-partition colors to
// the ones this shard owns under its sharding functor, the same
// owner-filtering ReplicatedOp.OwnedPoints does for index-task points
// (§4.2 step 2's "restrict the launch index space to this shard's
// subset", generalized from points to partition colors).
func (t *Thunk) OwnedColors(colors []DomainPoint, domain Domain) []DomainPoint {
	fn, ok := t.Manager.ShardingFunction(t.ShardingID)
	if !ok {
		return nil
	}
	var owned []DomainPoint
	for _, c := range colors {
		if core.ShardID(fn.FindOwner(c, domain, t.Manager.TotalShards)) == t.LocalShard {
			owned = append(owned, c)
		}
	}
	return owned
}

// CrossProductEntry records whether one color's sub-index-space came out
// non-empty.
type CrossProductEntry struct {
	Color    DomainPoint
	NonEmpty bool
}

// CrossProductResult is the publication a dependent-partition Thunk
// makes available to a subsequent CrossProductCollective: for each color
// in the partition it just created, whether that sub-index-space is
// non-empty (§2 SUPPLEMENTED FEATURES: "publishes the non-empty
// sub-partition handles needed by a subsequent cross-product"). A plain
// slice rather than a map keyed by DomainPoint, since DomainPoint is a
// slice and so not itself a valid map key.
type CrossProductResult struct {
	Entries []CrossProductEntry
}

// CrossProductCollective all-gathers every shard's locally-computed
// CrossProductResult so that a later cross-product partition operation
// (which needs to know, for every pair of colors across two partitions,
// whether both sides are non-empty) can be computed identically on every
// shard without a second partition-creation round trip.
type CrossProductCollective struct {
	ag *AllGather
}

func NewCrossProductCollective(id core.CollectiveID, shard core.ShardID, total, radix int, router *LocalRouter) *CrossProductCollective {
	return &CrossProductCollective{ag: NewAllGather(id, shard, total, radix, router)}
}

// encodeColors serializes a color set as a length-prefixed flat array of
// (coord-count, coords..., nonEmpty) tuples; kept deliberately simple
// since DomainPoint coordinates and a bool are all this collective ever
// carries.
func encodeColors(r CrossProductResult) []byte {
	var out []byte
	for _, e := range r.Entries {
		out = append(out, byte(len(e.Color)))
		for _, coord := range e.Color {
			out = appendVarint(out, coord)
		}
		if e.NonEmpty {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func appendVarint(b []byte, v int64) []byte {
	uv := uint64(v)
	for i := 0; i < 8; i++ {
		b = append(b, byte(uv>>(8*i)))
	}
	return b
}

func (c *CrossProductCollective) Contribute(r CrossProductResult) {
	c.ag.Contribute(encodeColors(r))
}

// Merged decodes and unions every shard's contribution: a color is
// non-empty in the merged view if any shard reported it non-empty (a
// color is only ever owned by one shard, so in practice there is no
// real conflict to resolve, but the union keeps this correct even if a
// caller contributes overlapping views).
func (c *CrossProductCollective) Merged() map[string]bool {
	merged := make(map[string]bool)
	for _, blob := range c.ag.Values() {
		for i := 0; i < len(blob); {
			n := int(blob[i])
			i++
			coords := make([]int64, n)
			for j := 0; j < n; j++ {
				var uv uint64
				for b := 0; b < 8; b++ {
					uv |= uint64(blob[i+b]) << (8 * b)
				}
				coords[j] = int64(uv)
				i += 8
			}
			nonEmpty := blob[i] == 1
			i++
			key := domainPointKey(coords)
			merged[key] = merged[key] || nonEmpty
		}
	}
	return merged
}

func domainPointKey(coords []int64) string {
	key := make([]byte, 0, len(coords)*8)
	for _, c := range coords {
		key = appendVarint(key, c)
	}
	return string(key)
}

func (c *CrossProductCollective) DoneEvent() core.Event { return c.ag.DoneEvent() }
