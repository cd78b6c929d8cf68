package core

import "fmt"

// Privilege is a region requirement's access mode (§3 "Operation").
type Privilege int

const (
	ReadOnly Privilege = iota
	ReadWrite
	WriteDiscard
	Reduce // carries an associated reduction op id, see RegionRequirement.ReduceOp
	NoAccess
)

func (p Privilege) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	case WriteDiscard:
		return "WRITE_DISCARD"
	case Reduce:
		return "REDUCE"
	case NoAccess:
		return "NO_ACCESS"
	default:
		return "UNKNOWN_PRIVILEGE"
	}
}

// Coherence mirrors Legion's exclusive/atomic/simultaneous/relaxed
// coherence modes; the region-tree analysis that interprets it is the
// opaque RegionTreeForest collaborator (§1 Out of scope), so here it is
// just a tag the dependence pipeline compares.
type Coherence int

const (
	Exclusive Coherence = iota
	Atomic
	Simultaneous
	Relaxed
)

// RegionRequirement is an operation's declaration of (region-or-partition,
// fields, privilege, coherence, projection) used to compute dependences
// (§3, GLOSSARY).
type RegionRequirement struct {
	Handle     RegionHandle
	Fields     []FieldID
	Privilege  Privilege
	ReduceOp   int // meaningful only when Privilege == Reduce
	Coherence  Coherence
	Projection ProjectionID
}

// RegionHandle stands in for a logical region-or-partition handle; the
// region tree itself is the opaque RegionTreeForest service (§1).
type RegionHandle struct {
	TreeID    uint64
	IndexPart bool // true if this handle names a partition, not a region
}

type (
	FieldID      uint32
	ProjectionID uint32
	IndexSpaceID uint64
)

// OpKind enumerates the operation kinds named in §3.
type OpKind int

const (
	OpTask OpKind = iota
	OpCopy
	OpFill
	OpClose
	OpDeletion
	OpFence
	OpTraceCapture
	OpTraceComplete
	OpDependentPartition
	OpMustEpoch
	OpTiming
	OpAttach
	OpDetach
	OpAcquire
	OpRelease
)

func (k OpKind) String() string {
	switch k {
	case OpTask:
		return "task"
	case OpCopy:
		return "copy"
	case OpFill:
		return "fill"
	case OpClose:
		return "close"
	case OpDeletion:
		return "deletion"
	case OpFence:
		return "fence"
	case OpTraceCapture:
		return "trace-capture"
	case OpTraceComplete:
		return "trace-complete"
	case OpDependentPartition:
		return "dependent-partition"
	case OpMustEpoch:
		return "must-epoch"
	case OpTiming:
		return "timing"
	case OpAttach:
		return "attach"
	case OpDetach:
		return "detach"
	case OpAcquire:
		return "acquire"
	case OpRelease:
		return "release"
	default:
		return fmt.Sprintf("op-kind(%d)", int(k))
	}
}

// ChildState is an operation's state as observed by its parent context
// (§4.1 state machine).
type ChildState int

const (
	StateExecuting ChildState = iota
	StateExecuted
	StateComplete
	StateCommitted
	StateGone // unregistered (cancelled) before reaching EXECUTED
)

func (s ChildState) String() string {
	switch s {
	case StateExecuting:
		return "EXECUTING"
	case StateExecuted:
		return "EXECUTED"
	case StateComplete:
		return "COMPLETE"
	case StateCommitted:
		return "COMMITTED"
	case StateGone:
		return "GONE"
	default:
		return "UNKNOWN_STATE"
	}
}
