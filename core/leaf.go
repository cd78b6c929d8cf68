package core

import "github.com/taskmesh/taskmesh/cmn"

// LeafContext is a context for a task that mapped as a leaf: it refuses
// every child-operation call outright, since a leaf task by construction
// issues no sub-operations. Any call here is an internal contract
// violation per §4.1, not a caller-correctable error, so it aborts rather
// than returning a soft error (§7 policy).
type LeafContext struct {
	contextCore
}

var _ Context = (*LeafContext)(nil)

func NewLeafContext(parent Context, config *cmn.Config) *LeafContext {
	lc := &LeafContext{contextCore: newContextCore(KindLeaf, parent, config)}
	lc.setSelf(lc)
	return lc
}

func leafViolation(what string) {
	panic("core: leaf context contract violation: " + what + " called on a leaf task")
}

func (lc *LeafContext) RegisterNewChildOperation(*Operation) (int, error) {
	leafViolation("register_new_child_operation")
	return 0, nil
}
func (lc *LeafContext) AddToDependenceQueue(*Operation, Event) {
	leafViolation("add_to_dependence_queue")
}
func (lc *LeafContext) RegisterChildExecuted(*Operation) { leafViolation("register_child_executed") }
func (lc *LeafContext) RegisterChildComplete(*Operation) { leafViolation("register_child_complete") }
func (lc *LeafContext) RegisterChildCommit(*Operation)   { leafViolation("register_child_commit") }
func (lc *LeafContext) UnregisterChildOperation(*Operation) {
	leafViolation("unregister_child_operation")
}
func (lc *LeafContext) UpdateCurrentFence(*Operation)   { leafViolation("update_current_fence") }
func (lc *LeafContext) PerformFenceAnalysis(*Operation) { leafViolation("perform_fence_analysis") }
func (lc *LeafContext) BeginTrace(uint64) error {
	leafViolation("begin_trace")
	return nil
}
func (lc *LeafContext) EndTrace(uint64) error {
	leafViolation("end_trace")
	return nil
}
func (lc *LeafContext) IssueFrame(*Operation, Event) error {
	leafViolation("issue_frame")
	return nil
}
func (lc *LeafContext) FinishFrame(Event) { leafViolation("finish_frame") }
func (lc *LeafContext) IncrementPending()  {}
func (lc *LeafContext) DecrementPending(*Operation) {}
func (lc *LeafContext) HasConflictingRegions([]RegionRequirement) int { return -1 }
func (lc *LeafContext) AddLocalField(FieldSpaceID, FieldID, int, uint32) error {
	leafViolation("add_local_field")
	return nil
}
func (lc *LeafContext) FindEnclosingLocalFields(out *[]LocalFieldInfo) {
	if lc.parent != nil {
		lc.parent.FindEnclosingLocalFields(out)
	}
}
