package core

import "github.com/taskmesh/taskmesh/cmn"

// InlineContext wraps an enclosing Context for an inline-mapped task: it
// redirects every parent-context query to the enclosing context rather
// than keeping its own children bookkeeping (§3: "inline contexts
// redirect parent-context queries to their enclosing context").
type InlineContext struct {
	contextCore
	enclosing Context
}

var _ Context = (*InlineContext)(nil)

func NewInlineContext(enclosing Context, config *cmn.Config) *InlineContext {
	ic := &InlineContext{contextCore: newContextCore(KindInline, enclosing, config), enclosing: enclosing}
	ic.setSelf(ic)
	return ic
}

func (ic *InlineContext) RegisterNewChildOperation(op *Operation) (int, error) {
	return ic.enclosing.RegisterNewChildOperation(op)
}
func (ic *InlineContext) AddToDependenceQueue(op *Operation, pre Event) {
	ic.enclosing.AddToDependenceQueue(op, pre)
}
func (ic *InlineContext) RegisterChildExecuted(op *Operation) { ic.enclosing.RegisterChildExecuted(op) }
func (ic *InlineContext) RegisterChildComplete(op *Operation) { ic.enclosing.RegisterChildComplete(op) }
func (ic *InlineContext) RegisterChildCommit(op *Operation)   { ic.enclosing.RegisterChildCommit(op) }
func (ic *InlineContext) UnregisterChildOperation(op *Operation) {
	ic.enclosing.UnregisterChildOperation(op)
}
func (ic *InlineContext) UpdateCurrentFence(op *Operation)   { ic.enclosing.UpdateCurrentFence(op) }
func (ic *InlineContext) PerformFenceAnalysis(op *Operation) { ic.enclosing.PerformFenceAnalysis(op) }
func (ic *InlineContext) BeginTrace(tid uint64) error        { return ic.enclosing.BeginTrace(tid) }
func (ic *InlineContext) EndTrace(tid uint64) error          { return ic.enclosing.EndTrace(tid) }
func (ic *InlineContext) CurrentTrace() TraceRecorder        { return ic.enclosing.CurrentTrace() }
func (ic *InlineContext) IssueFrame(frame *Operation, termination Event) error {
	return ic.enclosing.IssueFrame(frame, termination)
}
func (ic *InlineContext) FinishFrame(termination Event) { ic.enclosing.FinishFrame(termination) }
func (ic *InlineContext) IncrementPending()              { ic.enclosing.IncrementPending() }
func (ic *InlineContext) DecrementPending(child *Operation) {
	ic.enclosing.DecrementPending(child)
}
func (ic *InlineContext) HasConflictingRegions(reqs []RegionRequirement) int {
	return ic.enclosing.HasConflictingRegions(reqs)
}
func (ic *InlineContext) AddLocalField(space FieldSpaceID, fid FieldID, size int, serdez uint32) error {
	return ic.enclosing.AddLocalField(space, fid, size, serdez)
}
func (ic *InlineContext) FindEnclosingLocalFields(out *[]LocalFieldInfo) {
	ic.enclosing.FindEnclosingLocalFields(out)
}
