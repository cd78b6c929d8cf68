package core

import (
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/cmn/atomic"
	"github.com/taskmesh/taskmesh/cmn/debug"
)

// Operation is a unit of work registered with a Context: a task, copy,
// fill, close, deletion, fence, trace marker, dependent-partition,
// must-epoch, or timing op (§3 "Operation", GLOSSARY).
//
// Lifecycle: created by the parent context (or deserialized from a remote
// message), lives until both "complete" and "commit" have been signaled,
// then is returned to a pool (see Pool below).
type Operation struct {
	mu sync.Mutex

	uid  UniqueID
	kind OpKind
	gen  atomic.Uint64 // bumped on reuse, guards idempotent transitions

	parent Context
	index  int // context-local index assigned by register_new_child_operation

	regions []RegionRequirement

	state ChildState

	// completion/commit events observed by downstream operations and by
	// the parent context's quorum bookkeeping.
	mapped   UserEvent
	executed UserEvent
	complete UserEvent
	commit   UserEvent

	fenceDep Event // dependence recorded against the context's current fence

	err error // sticky failure, set at most once
}

// Pool recycles Operation values the way Legion recycles TaskOp/CopyOp
// instances instead of allocating a fresh one per launch; Get always
// returns a value with a freshly bumped generation so stale references
// from a previous lifetime fail their generation check (see transition).
type Pool struct {
	mu   sync.Mutex
	free []*Operation
}

var DefaultPool = &Pool{}

func (p *Pool) Get(kind OpKind, parent Context) *Operation {
	p.mu.Lock()
	var op *Operation
	if n := len(p.free); n > 0 {
		op, p.free = p.free[n-1], p.free[:n-1]
	}
	p.mu.Unlock()
	if op == nil {
		op = &Operation{}
	}
	op.reset(kind, parent)
	return op
}

func (p *Pool) Put(op *Operation) {
	p.mu.Lock()
	p.free = append(p.free, op)
	p.mu.Unlock()
}

func (op *Operation) reset(kind OpKind, parent Context) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.uid = NextUniqueID()
	op.kind = kind
	op.gen.Inc()
	op.parent = parent
	op.index = -1
	op.regions = op.regions[:0]
	op.state = StateExecuting
	op.mapped = NewUserEvent()
	op.executed = NewUserEvent()
	op.complete = NewUserEvent()
	op.commit = NewUserEvent()
	op.fenceDep = NoEvent()
	op.err = nil
}

func (op *Operation) UniqueID() UniqueID { return op.uid }
func (op *Operation) Kind() OpKind       { return op.kind }
func (op *Operation) Generation() uint64 { return op.gen.Load() }
func (op *Operation) Index() int         { return op.index }
func (op *Operation) Parent() Context    { return op.parent }

func (op *Operation) SetIndex(i int) { op.index = i }

func (op *Operation) SetRegions(reqs []RegionRequirement) { op.regions = reqs }
func (op *Operation) Regions() []RegionRequirement        { return op.regions }

func (op *Operation) RegionCount() int { return len(op.regions) }

func (op *Operation) String() string {
	return fmt.Sprintf("%s[%d]", op.kind, op.uid)
}

// State returns the child state as observed by the parent context.
func (op *Operation) State() ChildState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// transition moves the op forward in the §4.1 state machine, guarded by
// the generation stamped at the call site: a transition callback arriving
// for a stale generation (the op slot has since been reused) is silently
// dropped, which is what makes register_child_{executed,complete,commit}
// idempotent under reuse per §3's invariants.
func (op *Operation) transition(gen uint64, from, to ChildState) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.gen.Load() != gen {
		return false // stale: slot was recycled under us
	}
	if op.state != from {
		// Already past `from` (idempotent re-delivery) or cancelled.
		return op.state == to
	}
	op.state = to
	return true
}

// MarkExecuted implements register_child_executed (§4.1): EXECUTING -> EXECUTED.
func (op *Operation) MarkExecuted(gen uint64) bool {
	ok := op.transition(gen, StateExecuting, StateExecuted)
	if ok {
		op.executed.Trigger()
	}
	return ok
}

// MarkComplete implements register_child_complete: EXECUTED -> COMPLETE.
func (op *Operation) MarkComplete(gen uint64) bool {
	ok := op.transition(gen, StateExecuted, StateComplete)
	if ok {
		op.complete.Trigger()
	}
	return ok
}

// MarkCommitted implements register_child_commit: COMPLETE -> COMMITTED.
func (op *Operation) MarkCommitted(gen uint64) bool {
	ok := op.transition(gen, StateComplete, StateCommitted)
	if ok {
		op.commit.Trigger()
	}
	return ok
}

// Unregister implements the cancellation edge EXECUTING -> GONE
// (unregister_child_operation).
func (op *Operation) Unregister(gen uint64) bool {
	return op.transition(gen, StateExecuting, StateGone)
}

func (op *Operation) MappedEvent() Event   { return op.mapped.Event }
func (op *Operation) ExecutedEvent() Event { return op.executed.Event }
func (op *Operation) CompleteEvent() Event { return op.complete.Event }
func (op *Operation) CommitEvent() Event   { return op.commit.Event }

func (op *Operation) CompleteMapping() { op.mapped.Trigger() }

// Fail records a sticky failure; per §7 an operation whose precondition is
// poisoned is "marked failed at commit" rather than retried.
func (op *Operation) Fail(err error) {
	op.mu.Lock()
	if op.err == nil {
		op.err = err
	}
	op.mu.Unlock()
	debug.Assert(err != nil)
}

func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// SetFenceDependence records the dependence a newly registered op takes on
// the context's current fence (§4.1 update_current_fence).
func (op *Operation) SetFenceDependence(e Event) { op.fenceDep = e }
func (op *Operation) FenceDependence() Event     { return op.fenceDep }
