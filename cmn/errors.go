package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAborted wraps an operation abort, carrying the operation's display
// name the way the teacher's XactTCB.TxnAbort annotates aborts with
// r.Name().
type ErrAborted struct {
	Name   string
	Reason string
	Cause  error
}

func (e *ErrAborted) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: aborted (%s): %v", e.Name, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: aborted (%s)", e.Name, e.Reason)
}

func (e *ErrAborted) Unwrap() error { return e.Cause }

func NewErrAborted(name, reason string, cause error) error {
	return errors.WithStack(&ErrAborted{Name: name, Reason: reason, Cause: cause})
}

// ErrUsePrev is returned by a replay-conflicting renewal of an operation
// already in flight under the same UUID (WhenPrevIsRunning in the teacher).
type ErrUsePrev struct {
	Prev string
}

func (e *ErrUsePrev) Error() string {
	return fmt.Sprintf("reusing previous operation %s", e.Prev)
}

func NewErrXactUsePrev(prev string) error {
	return errors.WithStack(&ErrUsePrev{Prev: prev})
}

// ErrMapperContract is fatal per §7: the mapper callback returned
// something the runtime cannot act on (unknown sharding id, inconsistent
// shard choice, must-epoch slice split across shards, ...).
type ErrMapperContract struct {
	Op     string
	Mapper string
	Detail string
}

func (e *ErrMapperContract) Error() string {
	return fmt.Sprintf("mapper %q contract violation on %s: %s", e.Mapper, e.Op, e.Detail)
}

func NewErrMapperContract(op, mapper, detail string) error {
	return errors.WithStack(&ErrMapperContract{Op: op, Mapper: mapper, Detail: detail})
}

// ErrTraceViolation is fatal per §7/§4.3: a replayed operation's kind or
// region count does not match what was captured.
type ErrTraceViolation struct {
	TraceID    uint64
	Index      int
	WantKind   string
	GotKind    string
	WantRegion int
	GotRegion  int
}

func (e *ErrTraceViolation) Error() string {
	return fmt.Sprintf("trace %d violation at index %d: kind %s != %s, region-count %d != %d",
		e.TraceID, e.Index, e.WantKind, e.GotKind, e.WantRegion, e.GotRegion)
}

func NewErrTraceViolation(traceID uint64, index int, wantKind, gotKind string, wantRegion, gotRegion int) error {
	return errors.WithStack(&ErrTraceViolation{
		TraceID: traceID, Index: index,
		WantKind: wantKind, GotKind: gotKind,
		WantRegion: wantRegion, GotRegion: gotRegion,
	})
}

// ErrPrivilege is returned (not fatal) when check_privilege fails (§7):
// the caller reports it to the front end; the operation does not map.
type ErrPrivilege struct {
	Field string
	Mode  string
}

func (e *ErrPrivilege) Error() string {
	return fmt.Sprintf("privilege check failed on field %s: %s", e.Field, e.Mode)
}

func NewErrPrivilege(field, mode string) error {
	return errors.WithStack(&ErrPrivilege{Field: field, Mode: mode})
}

// ErrStaleInstance signals an instance-acquisition failure (§7): the
// mapper handed back a stale instance and the caller should purge its
// per-task cache and retry map_task without it.
var ErrStaleInstance = errors.New("mapper-returned instance is stale")

// ErrQuiesceTimeout mirrors the teacher's cmn.ErrQuiesceTimeout: a
// xaction's best-effort drain loop gave up waiting for senders to go idle.
var ErrQuiesceTimeout = errors.New("quiesce timeout")
