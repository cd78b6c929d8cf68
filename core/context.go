// Package core implements the TaskContext hierarchy (§4.1): the
// bookkeeping object every Operation registers with, including admission
// control, fence/trace wiring, local-field lifetime, and region-conflict
// detection.
package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/cmn/atomic"
	"github.com/taskmesh/taskmesh/cmn/debug"
	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// Context is the capability trait shared by every context variant
// (§9 "Deep inheritance of contexts and operations": restated here as a
// fixed method set plus a tagged Kind rather than a class hierarchy).
type Context interface {
	ContextID() ContextID
	Kind() ContextKind
	Depth() int
	ParentContext() Context

	RegisterNewChildOperation(op *Operation) (int, error)
	AddToDependenceQueue(op *Operation, opPre Event)
	RegisterChildExecuted(op *Operation)
	RegisterChildComplete(op *Operation)
	RegisterChildCommit(op *Operation)
	UnregisterChildOperation(op *Operation)

	UpdateCurrentFence(op *Operation)
	PerformFenceAnalysis(op *Operation)

	BeginTrace(tid uint64) error
	EndTrace(tid uint64) error
	CurrentTrace() TraceRecorder

	IssueFrame(frame *Operation, termination Event) error
	FinishFrame(termination Event)

	IncrementPending()
	DecrementPending(child *Operation)

	HasConflictingRegions(reqs []RegionRequirement) int

	AddLocalField(space FieldSpaceID, fid FieldID, size int, serdez uint32) error
	FindEnclosingLocalFields(out *[]LocalFieldInfo)

	String() string
}

// ContextKind distinguishes the Inner/Leaf/Top/Remote/Inline variants; the
// bookkeeping struct (contextCore) is embedded by all of them, per §9's
// "shared bookkeeping lives in an embedded struct; variant-specific
// behavior in per-variant modules."
type ContextKind int

const (
	KindInner ContextKind = iota
	KindLeaf
	KindTop
	KindRemote
	KindInline
)

func (k ContextKind) String() string {
	switch k {
	case KindInner:
		return "inner"
	case KindLeaf:
		return "leaf"
	case KindTop:
		return "top"
	case KindRemote:
		return "remote"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

type FieldSpaceID uint64

// LocalFieldInfo describes a per-context local field (§3 "TaskContext":
// local fields), reclaimed when the owning context exits.
type LocalFieldInfo struct {
	Space        FieldSpaceID
	Fid          FieldID
	Size         int
	ReclaimEvent Event
	SerdezID     uint32
}

// TraceRecorder is the capability a Context needs from the trace package,
// expressed as an interface here (rather than a direct import of the
// trace package) to avoid a core<->trace import cycle: trace.Trace needs
// *core.Operation, so core cannot also import trace.
type TraceRecorder interface {
	TraceID() uint64
	Tracing() bool
	RegisterOperation(op *Operation) error
}

// NewTraceRecorder is the factory the trace package installs at process
// init (trace.init sets this), matching the DI pattern note in §9 for
// lifting global state into an injected Runtime-scoped dependency.
var NewTraceRecorder func(tid uint64, ctx Context) TraceRecorder

// RuntimeOverhead accumulates the profiling counters the original
// TaskContext::begin_runtime_call/end_runtime_call/begin_task_wait track
// (§2 SUPPLEMENTED FEATURES); exported so metrics.go can surface it.
type RuntimeOverhead struct {
	mu        sync.Mutex
	RuntimeNS int64
	WaitNS    int64
	CallDepth int
}

// Snapshot reads the three counters under lock, for a metrics collector
// that polls this struct from a different goroutine than the one
// accumulating into it.
func (o *RuntimeOverhead) Snapshot() (runtimeNS, waitNS int64, callDepth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.RuntimeNS, o.WaitNS, o.CallDepth
}

// contextCore is the bookkeeping struct embedded by every context
// variant: children tracking, fence/trace state, window admission,
// frames, local fields, restriction list, and the safe-cast cache named
// in §3 "TaskContext".
type contextCore struct {
	id     ContextID
	kind   ContextKind
	depth  int
	parent Context
	config *cmn.Config

	mu sync.Mutex // the per-context lock named in §3 invariants

	totalChildrenCount      int
	outstandingChildrenCount int
	totalChildrenCommitted  int
	executingChildren       map[UniqueID]*Operation
	executedChildren        map[UniqueID]*Operation
	completeChildren        map[UniqueID]*Operation

	windowSem *semaphore.Weighted
	lowWater  int64

	currentFence   *Operation
	fenceGeneration uint64

	traces       map[uint64]TraceRecorder
	currentTrace TraceRecorder

	pendingSubtasks     atomic.Int32
	outstandingSubtasks atomic.Int32
	pendingFrames       atomic.Int32
	maxFrames           int32
	frameWaiters        []chan struct{}

	localFields []LocalFieldInfo

	inlineRegions []RegionRequirement // for has_conflicting_regions

	createdRegions map[RegionHandle]bool
	deletedRegions map[RegionHandle]bool

	restrictions []RegionRequirement

	safeCast map[IndexSpaceID]string // index space -> cached domain tag

	tunableCounter atomic.Int32

	overhead RuntimeOverhead

	active atomic.Bool

	selfRef Context

	depQueue chan depQueueItem
}

func newContextCore(kind ContextKind, parent Context, config *cmn.Config) contextCore {
	if config == nil {
		config = cmn.GCO.Get()
	}
	c := contextCore{
		id:             NextContextID(),
		kind:           kind,
		parent:         parent,
		config:         config,
		executingChildren: make(map[UniqueID]*Operation),
		executedChildren:  make(map[UniqueID]*Operation),
		completeChildren:  make(map[UniqueID]*Operation),
		windowSem:      semaphore.NewWeighted(int64(config.Context.MaxOutstandingChildren)),
		lowWater:       int64(config.Context.LowWater),
		traces:         make(map[uint64]TraceRecorder),
		createdRegions: make(map[RegionHandle]bool),
		deletedRegions: make(map[RegionHandle]bool),
		safeCast:       make(map[IndexSpaceID]string),
		maxFrames:      int32(config.Context.MaxOutstandingFrames),
	}
	if parent != nil {
		c.depth = parent.Depth() + 1
	}
	c.active.Store(true)
	return c
}

func (c *contextCore) ContextID() ContextID  { return c.id }
func (c *contextCore) Kind() ContextKind     { return c.kind }
func (c *contextCore) Depth() int            { return c.depth }
func (c *contextCore) ParentContext() Context { return c.parent }
func (c *contextCore) CurrentTrace() TraceRecorder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTrace
}

func (c *contextCore) String() string {
	return fmt.Sprintf("context[%d depth=%d kind=%s]", c.id, c.depth, c.kind)
}

// registerNewChildOperation implements §4.1 register_new_child_operation:
// assigns a monotonically increasing index under the context lock, and
// blocks on window admission (a weighted semaphore standing in for
// window_wait/decrement_pending) once outstanding children reach the
// configured high-water mark.
func (c *contextCore) registerNewChildOperation(op *Operation) (int, error) {
	if err := c.windowSem.Acquire(context.Background(), 1); err != nil {
		return 0, err
	}
	c.mu.Lock()
	idx := c.totalChildrenCount
	c.totalChildrenCount++
	c.outstandingChildrenCount++
	c.executingChildren[op.UniqueID()] = op
	op.SetIndex(idx)
	fence := c.currentFence
	fenceGen := c.fenceGeneration
	trc := c.currentTrace
	c.mu.Unlock()

	if fence != nil && fence != op {
		op.SetFenceDependence(fence.CompleteEvent())
	}
	_ = fenceGen
	if trc != nil {
		if err := trc.RegisterOperation(op); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// releaseWindowSlot releases one unit of window admission. It runs once
// per committed or unregistered child, so a blocked
// registerNewChildOperation resumes as soon as any one child commits;
// the release does not wait for the count to fall to lowWater.
func (c *contextCore) releaseWindowSlot() {
	c.windowSem.Release(1)
}

func (c *contextCore) registerChildExecuted(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !op.MarkExecuted(op.Generation()) {
		return
	}
	delete(c.executingChildren, op.UniqueID())
	c.executedChildren[op.UniqueID()] = op
}

func (c *contextCore) registerChildComplete(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !op.MarkComplete(op.Generation()) {
		return
	}
	delete(c.executedChildren, op.UniqueID())
	c.completeChildren[op.UniqueID()] = op
}

func (c *contextCore) registerChildCommit(op *Operation) {
	c.mu.Lock()
	wasOutstanding := c.outstandingChildrenCount
	if op.State() == StateCommitted {
		c.mu.Unlock()
		return // re-delivered commit: the slot was already released
	}
	if !op.MarkCommitted(op.Generation()) {
		c.mu.Unlock()
		return
	}
	delete(c.completeChildren, op.UniqueID())
	c.outstandingChildrenCount--
	c.totalChildrenCommitted++
	crossedLowWater := int64(wasOutstanding) > c.lowWater && int64(c.outstandingChildrenCount) <= c.lowWater
	c.mu.Unlock()

	c.releaseWindowSlot()
	if crossedLowWater {
		nlog.Infof("%s: outstanding children dropped to %d, window reopened", c.String(), c.outstandingChildrenCount)
	}
}

func (c *contextCore) unregisterChildOperation(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op.Unregister(op.Generation()) {
		delete(c.executingChildren, op.UniqueID())
		c.outstandingChildrenCount--
		c.releaseWindowSlotLocked()
	}
}

func (c *contextCore) releaseWindowSlotLocked() {
	c.mu.Unlock()
	c.releaseWindowSlot()
	c.mu.Lock()
}

// updateCurrentFence implements §4.1 update_current_fence: the new fence
// records a dependence on all still-executing children, then becomes the
// context's current fence.
func (c *contextCore) updateCurrentFence(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]Event, 0, len(c.executingChildren))
	for _, child := range c.executingChildren {
		if child != op {
			events = append(events, child.ExecutedEvent())
		}
	}
	op.SetFenceDependence(Merge(events...))
	c.currentFence = op
	c.fenceGeneration++
}

// performFenceAnalysis implements §4.1 perform_fence_analysis by making op
// the current fence (see updateCurrentFence): op depends on every child
// still executing, and every child registered after this call records a
// dependence on op at registration time (see registerNewChildOperation).
func (c *contextCore) performFenceAnalysis(op *Operation) {
	c.updateCurrentFence(op)
}

func (c *contextCore) beginTrace(tid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.traces[tid]; ok {
		// Reopening an existing trace id makes it current again without
		// re-capturing: a trace that was never fixed keeps capturing, and
		// a fixed trace is in replay mode, so the operations registered
		// next are validated against it (see registerNewChildOperation).
		c.currentTrace = c.traces[tid]
		return nil
	}
	if NewTraceRecorder == nil {
		return fmt.Errorf("core: trace.New not installed (import the trace package for side effects)")
	}
	trc := NewTraceRecorder(tid, c.self())
	c.traces[tid] = trc
	c.currentTrace = trc
	return nil
}

func (c *contextCore) endTrace(tid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTrace == nil || c.currentTrace.TraceID() != tid {
		return fmt.Errorf("core: end_trace(%d) without matching begin_trace", tid)
	}
	c.currentTrace = nil
	return nil
}

// self is overridden per-variant so beginTrace can hand the trace package
// a Context that dispatches through the full variant (Inner/Top/...),
// not just the embedded core. Set by each variant's constructor.
func (c *contextCore) self() Context {
	if c.selfRef != nil {
		return c.selfRef
	}
	return nil
}

// selfRef lets embedding variants register themselves once constructed;
// Go has no "virtual this" for embedded structs, so each constructor sets
// it explicitly (see InnerContext.setSelf).
func (c *contextCore) setSelf(ctx Context) { c.selfRef = ctx }

// issueFrame implements §4.1 issue_frame: frames are coarse windows of
// independent operations; pending_frames is throttled against
// max_outstanding_frames. A caller blocks synchronously, on an internal
// wake-up channel closed by finishFrame, once the configured depth is full.
func (c *contextCore) issueFrame(frame *Operation, termination Event) error {
	for {
		cur := c.pendingFrames.Load()
		if cur < c.maxFrames || c.maxFrames <= 0 {
			break
		}
		ch := make(chan struct{})
		c.mu.Lock()
		c.frameWaiters = append(c.frameWaiters, ch)
		c.mu.Unlock()
		<-ch
	}
	c.pendingFrames.Inc()
	termination.OnTrigger(func() { c.finishFrame(termination) })
	return nil
}

// finishFrame implements §4.1 finish_frame: decrements pending_frames and
// wakes one waiter if the window had been closed.
func (c *contextCore) finishFrame(_ Event) {
	c.pendingFrames.Dec()
	c.mu.Lock()
	var wake chan struct{}
	if len(c.frameWaiters) > 0 {
		wake, c.frameWaiters = c.frameWaiters[0], c.frameWaiters[1:]
	}
	c.mu.Unlock()
	if wake != nil {
		close(wake)
	}
}

// incrementPending/decrementPending maintain the §4.1 pending-subtask
// counter: a child expected to produce children itself bumps it at
// dispatch and clears it at first child creation. Window admission
// (registerNewChildOperation) does not read this counter.
func (c *contextCore) incrementPending() { c.pendingSubtasks.Inc() }

func (c *contextCore) decrementPending(child *Operation) {
	c.pendingSubtasks.Dec()
	debug.Assert(child != nil)
}

// hasConflictingRegions implements §4.1 has_conflicting_regions: returns
// the index of the first incoming requirement that aliases any currently
// mapped inline region, or -1.
func (c *contextCore) hasConflictingRegions(reqs []RegionRequirement) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, req := range reqs {
		for _, inline := range c.inlineRegions {
			if regionsAlias(req, inline) {
				return i
			}
		}
	}
	return -1
}

func regionsAlias(a, b RegionRequirement) bool {
	if a.Handle.TreeID != b.Handle.TreeID {
		return false
	}
	if a.Privilege == NoAccess || b.Privilege == NoAccess {
		return false
	}
	if a.Privilege == ReadOnly && b.Privilege == ReadOnly {
		return false
	}
	return fieldsOverlap(a.Fields, b.Fields)
}

func fieldsOverlap(a, b []FieldID) bool {
	set := make(map[FieldID]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return true
		}
	}
	return false
}

func (c *contextCore) registerInlineMappedRegion(req RegionRequirement) {
	c.mu.Lock()
	c.inlineRegions = append(c.inlineRegions, req)
	c.mu.Unlock()
}

func (c *contextCore) unregisterInlineMappedRegion(req RegionRequirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.inlineRegions {
		if r == req {
			c.inlineRegions = append(c.inlineRegions[:i], c.inlineRegions[i+1:]...)
			return
		}
	}
}

// addLocalField implements §4.1's local-field API: reserves a field that
// is reclaimed when the context exits.
func (c *contextCore) addLocalField(space FieldSpaceID, fid FieldID, size int, serdez uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.localFields {
		if f.Space == space && f.Fid == fid {
			return fmt.Errorf("core: local field %d already reserved in space %d", fid, space)
		}
	}
	c.localFields = append(c.localFields, LocalFieldInfo{
		Space: space, Fid: fid, Size: size,
		ReclaimEvent: NoEvent(), SerdezID: serdez,
	})
	return nil
}

// findEnclosingLocalFields implements find_enclosing_local_fields:
// recurses up the parent chain to snapshot all local fields visible to a
// child task.
func (c *contextCore) findEnclosingLocalFields(out *[]LocalFieldInfo) {
	c.mu.Lock()
	*out = append(*out, c.localFields...)
	c.mu.Unlock()
	if c.parent != nil {
		c.parent.FindEnclosingLocalFields(out)
	}
}

// AddRestriction/RemoveRestriction/ReleaseRestrictions/HasRestrictions
// supplement the distilled spec with the original's restriction/acquire-
// release bookkeeping (§2 SUPPLEMENTED FEATURES).
func (c *contextCore) AddRestriction(req RegionRequirement) {
	c.mu.Lock()
	c.restrictions = append(c.restrictions, req)
	c.mu.Unlock()
}

func (c *contextCore) RemoveRestriction(req RegionRequirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.restrictions {
		if r == req {
			c.restrictions = append(c.restrictions[:i], c.restrictions[i+1:]...)
			return
		}
	}
}

func (c *contextCore) ReleaseRestrictions() {
	c.mu.Lock()
	c.restrictions = c.restrictions[:0]
	c.mu.Unlock()
}

func (c *contextCore) HasRestrictions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.restrictions) > 0
}

// SafeCast implements the original's perform_safe_cast domain cache.
func (c *contextCore) SafeCast(space IndexSpaceID, domainTag string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.safeCast[space]; ok {
		return cached
	}
	c.safeCast[space] = domainTag
	return domainTag
}

// NextTunableIndex implements get_tunable_index.
func (c *contextCore) NextTunableIndex() int { return int(c.tunableCounter.Inc()) - 1 }

// BeginRuntimeCall/EndRuntimeCall track runtime-call nesting by adjusting
// CallDepth only; nothing in this package accumulates RuntimeNS or WaitNS,
// and there is no task-wait counterpart.
func (c *contextCore) BeginRuntimeCall() { c.overhead.mu.Lock(); c.overhead.CallDepth++; c.overhead.mu.Unlock() }
func (c *contextCore) EndRuntimeCall()   { c.overhead.mu.Lock(); c.overhead.CallDepth--; c.overhead.mu.Unlock() }

func (c *contextCore) Overhead() *RuntimeOverhead { return &c.overhead }

// ChildCounts reports the invariant named in §8 property 6:
// len(executing)+len(executed)+len(complete) == total registered - total committed.
func (c *contextCore) ChildCounts() (executing, executed, complete int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executingChildren), len(c.executedChildren), len(c.completeChildren)
}
