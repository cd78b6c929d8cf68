package trace

import "github.com/taskmesh/taskmesh/core"

// CaptureOp and CompleteOp are no-op fence-like operations whose sole role
// is to mark the capture/replay boundary inside the parent context's
// dependence pipeline (§4.3 "TraceCaptureOp / TraceCompleteOp").
type CaptureOp struct {
	Op    *core.Operation
	Trace *Trace
}

// Trigger is this operation's trigger_mapping/trigger_execution stand-in
// (§6): it has no payload beyond recording that tracing has begun, which
// already happened in core.Context.BeginTrace/trace.New.
func (c *CaptureOp) Trigger() {
	c.Op.CompleteMapping()
}

type CompleteOp struct {
	Op    *core.Operation
	Trace *Trace
}

// Trigger fixes the trace (capture -> replay) and completes the marker op.
func (c *CompleteOp) Trigger() {
	c.Trace.Fix()
	c.Op.CompleteMapping()
}
