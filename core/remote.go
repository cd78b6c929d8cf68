package core

import "github.com/taskmesh/taskmesh/cmn"

// RemoteDispatcher is the capability a RemoteContext needs to ship its
// state across nodes; implemented by the msg package (a ReplicateLaunch /
// ControlReplicateFutureMapRequest-style envelope sender) and injected
// here to avoid core<->msg import cycle, per §9's "lift global state into
// a Runtime context struct passed by shared reference."
type RemoteDispatcher interface {
	SendRegisterChild(ctxID ContextID, op *Operation, index int)
	SendFenceUpdate(ctxID ContextID, op *Operation)
}

// RemoteContext represents a context whose owning InnerContext lives on a
// different node: every mutating call is packaged into a message and
// forwarded rather than applied locally (§3 "TaskContext": "remote
// contexts package their state into messages for shipment across nodes").
type RemoteContext struct {
	contextCore
	dispatch RemoteDispatcher
}

var _ Context = (*RemoteContext)(nil)

func NewRemoteContext(parent Context, config *cmn.Config, dispatch RemoteDispatcher) *RemoteContext {
	rc := &RemoteContext{contextCore: newContextCore(KindRemote, parent, config), dispatch: dispatch}
	rc.setSelf(rc)
	return rc
}

func (rc *RemoteContext) RegisterNewChildOperation(op *Operation) (int, error) {
	idx, err := rc.registerNewChildOperation(op)
	if err == nil && rc.dispatch != nil {
		rc.dispatch.SendRegisterChild(rc.id, op, idx)
	}
	return idx, err
}

func (rc *RemoteContext) AddToDependenceQueue(op *Operation, pre Event) {
	// Dependence analysis for a remotely owned context happens on the
	// owning node; here we only need the local op to observe its own
	// precondition before it is considered mapped locally.
	pre.OnTrigger(op.CompleteMapping)
}

func (rc *RemoteContext) RegisterChildExecuted(op *Operation) { rc.registerChildExecuted(op) }
func (rc *RemoteContext) RegisterChildComplete(op *Operation) { rc.registerChildComplete(op) }
func (rc *RemoteContext) RegisterChildCommit(op *Operation)   { rc.registerChildCommit(op) }
func (rc *RemoteContext) UnregisterChildOperation(op *Operation) {
	rc.unregisterChildOperation(op)
}

func (rc *RemoteContext) UpdateCurrentFence(op *Operation) {
	rc.updateCurrentFence(op)
	if rc.dispatch != nil {
		rc.dispatch.SendFenceUpdate(rc.id, op)
	}
}
func (rc *RemoteContext) PerformFenceAnalysis(op *Operation) { rc.performFenceAnalysis(op) }

func (rc *RemoteContext) BeginTrace(tid uint64) error { return rc.beginTrace(tid) }
func (rc *RemoteContext) EndTrace(tid uint64) error   { return rc.endTrace(tid) }

func (rc *RemoteContext) IssueFrame(frame *Operation, termination Event) error {
	return rc.issueFrame(frame, termination)
}
func (rc *RemoteContext) FinishFrame(termination Event) { rc.finishFrame(termination) }

func (rc *RemoteContext) IncrementPending()                { rc.incrementPending() }
func (rc *RemoteContext) DecrementPending(child *Operation) { rc.decrementPending(child) }

func (rc *RemoteContext) HasConflictingRegions(reqs []RegionRequirement) int {
	return rc.hasConflictingRegions(reqs)
}

func (rc *RemoteContext) AddLocalField(space FieldSpaceID, fid FieldID, size int, serdez uint32) error {
	return rc.addLocalField(space, fid, size, serdez)
}
func (rc *RemoteContext) FindEnclosingLocalFields(out *[]LocalFieldInfo) {
	rc.findEnclosingLocalFields(out)
}
