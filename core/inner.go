package core

import (
	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/cmn/debug"
	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// InnerContext is a context capable of holding children: the common case
// for any non-leaf task (§9: InnerContext generalizes Legion's
// InnerContext/ShardTask-owning contexts).
type InnerContext struct {
	contextCore
}

var _ Context = (*InnerContext)(nil)

func NewInnerContext(parent Context, config *cmn.Config) *InnerContext {
	ic := &InnerContext{contextCore: newContextCore(KindInner, parent, config)}
	ic.setSelf(ic)
	return ic
}

func (ic *InnerContext) RegisterNewChildOperation(op *Operation) (int, error) {
	return ic.registerNewChildOperation(op)
}

// AddToDependenceQueue implements §4.1 add_to_dependence_queue: defers
// dependence analysis until op_pre triggers, then performs analysis in
// program order with respect to other children in the same context. The
// "program order" guarantee (§5 Ordering guarantees) comes from draining
// a single-goroutine FIFO queue per context rather than a lock dance.
func (ic *InnerContext) AddToDependenceQueue(op *Operation, opPre Event) {
	ic.ensureQueue()
	ic.depQueue <- depQueueItem{op: op, pre: opPre}
}

type depQueueItem struct {
	op  *Operation
	pre Event
}

func (ic *InnerContext) ensureQueue() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.depQueue != nil {
		return
	}
	ic.depQueue = make(chan depQueueItem, 1024)
	go ic.drainDependenceQueue()
}

func (ic *InnerContext) drainDependenceQueue() {
	for item := range ic.depQueue {
		item.pre.Wait()
		if debug.Enabled {
			nlog.Infof("%s: dependence analysis for %s", ic.String(), item.op)
		}
		// The actual edge insertion happens against the opaque
		// RegionTreeForest collaborator (§1 out of scope); here we only
		// guarantee program-order sequencing of that analysis, which is
		// this package's contract.
		item.op.CompleteMapping()
	}
}

func (ic *InnerContext) RegisterChildExecuted(op *Operation) { ic.registerChildExecuted(op) }
func (ic *InnerContext) RegisterChildComplete(op *Operation) { ic.registerChildComplete(op) }
func (ic *InnerContext) RegisterChildCommit(op *Operation)   { ic.registerChildCommit(op) }
func (ic *InnerContext) UnregisterChildOperation(op *Operation) { ic.unregisterChildOperation(op) }

func (ic *InnerContext) UpdateCurrentFence(op *Operation)   { ic.updateCurrentFence(op) }
func (ic *InnerContext) PerformFenceAnalysis(op *Operation) { ic.performFenceAnalysis(op) }

func (ic *InnerContext) BeginTrace(tid uint64) error { return ic.beginTrace(tid) }
func (ic *InnerContext) EndTrace(tid uint64) error   { return ic.endTrace(tid) }

func (ic *InnerContext) IssueFrame(frame *Operation, termination Event) error {
	return ic.issueFrame(frame, termination)
}
func (ic *InnerContext) FinishFrame(termination Event) { ic.finishFrame(termination) }

func (ic *InnerContext) IncrementPending()                { ic.incrementPending() }
func (ic *InnerContext) DecrementPending(child *Operation) { ic.decrementPending(child) }

func (ic *InnerContext) HasConflictingRegions(reqs []RegionRequirement) int {
	return ic.hasConflictingRegions(reqs)
}

func (ic *InnerContext) AddLocalField(space FieldSpaceID, fid FieldID, size int, serdez uint32) error {
	return ic.addLocalField(space, fid, size, serdez)
}
func (ic *InnerContext) FindEnclosingLocalFields(out *[]LocalFieldInfo) {
	ic.findEnclosingLocalFields(out)
}

// depQueue is a field of contextCore (see context.go); InnerContext uses
// it through embedding.
