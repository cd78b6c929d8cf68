package xfer

import (
	"sync"

	"github.com/taskmesh/taskmesh/cmn/atomic"
	"github.com/taskmesh/taskmesh/cmn/debug"
	"github.com/taskmesh/taskmesh/cmn/nlog"
	"github.com/taskmesh/taskmesh/core"
)

// UnknownTotal marks PreBytesTotal as not-yet-determined: the producer
// side of a pipeline may not know its own final size until its source
// iterator runs dry (e.g. a filtered scan), so a downstream XferDes must
// treat "total" as open until told otherwise.
const UnknownTotal int64 = -1

// NeighborNotifier lets an XferDes tell its pipeline neighbors about
// newly available or newly freed byte ranges without XferDes depending
// on the transport package that actually delivers those notifications
// across nodes (mirrors the core<->trace DI seam).
type NeighborNotifier interface {
	UpdateNextBytesRead(pred XferDesID, spanStart, delta int64)
	UpdatePreBytesWrite(succ XferDesID, spanStart, delta, total int64)
}

// XferDes is a transfer descriptor: one leg of a (possibly multi-hop)
// pipelined copy, holding a paired source/destination iterator and four
// SequenceAssemblers that account for what has been read, written, and
// what neighboring XDs have told it about their own progress (§3
// "XferDes", §4.4).
type XferDes struct {
	Guid           XferDesID
	PredGuid       XferDesID
	SuccGuid       XferDesID
	SrcMem, DstMem MemoryID
	Kind           Kind
	Priority       int
	MaxReqSize     int64

	SrcIter Iterator
	DstIter Iterator

	SeqRead     *SequenceAssembler // bytes this XD has read from its source
	SeqWrite    *SequenceAssembler // bytes this XD has written to its destination
	SeqPreWrite *SequenceAssembler // bytes the predecessor has told us it wrote (gates reads)
	SeqNextRead *SequenceAssembler // bytes the successor has told us it read (gates writes, backpressure)

	bytesTotal    atomic.Int64
	preBytesTotal atomic.Int64 // UnknownTotal until the predecessor finishes

	iterationCompleted atomic.Bool

	Notifier NeighborNotifier

	CompletionFence core.UserEvent

	mu      sync.Mutex
	inFlight int
}

func NewXferDes(guid XferDesID, kind Kind, src, dst Iterator, maxReqSize int64) *XferDes {
	xd := &XferDes{
		Guid:        guid,
		PredGuid:    NoXferDesID,
		SuccGuid:    NoXferDesID,
		Kind:        kind,
		MaxReqSize:  maxReqSize,
		SrcIter:     src,
		DstIter:     dst,
		SeqRead:     NewSequenceAssembler(),
		SeqWrite:    NewSequenceAssembler(),
		SeqPreWrite: NewSequenceAssembler(),
		SeqNextRead: NewSequenceAssembler(),
	}
	xd.preBytesTotal.Store(UnknownTotal)
	xd.CompletionFence = core.NewUserEvent()
	return xd
}

func (xd *XferDes) HasPredecessor() bool { return xd.PredGuid != NoXferDesID }
func (xd *XferDes) HasSuccessor() bool   { return xd.SuccGuid != NoXferDesID }

// GetRequests implements the request-generation algorithm (§4.4):
//  1. Cap this round's byte budget at MaxReqSize per request, maxCount requests.
//  2. If there is a predecessor, gate available bytes by what it has
//     confirmed written (SeqPreWrite.SpanExists), never exceeding its
//     announced total once known.
//  3. If there is a successor, gate available bytes by the backpressure
//     window it has freed (SeqNextRead.SpanExists) so a fast producer
//     cannot run unboundedly far ahead of a slow consumer.
//  4. Step the source iterator for the gated amount, then the
//     destination iterator for at most that amount; if the destination
//     hands back less, Cancel the surplus on the source step so neither
//     iterator's cursor runs ahead of the other.
//  5. Build one Request per successful paired step, tagged with its
//     [bytesTotal, bytesTotal+n) sequence position, and advance
//     bytesTotal.
//  6. Once both iterators report Done(), mark iteration complete and
//     (if this XD has a successor) publish the final total so the
//     successor can stop treating its predecessor's span as open-ended.
func (xd *XferDes) GetRequests(maxCount int) []*Request {
	if req := xd.emptyTransferRequest(); req != nil {
		return []*Request{req}
	}
	var reqs []*Request
	for i := 0; i < maxCount; i++ {
		if xd.SrcIter.Done() || xd.DstIter.Done() {
			xd.finishIteration()
			break
		}

		budget := xd.MaxReqSize
		pos := xd.bytesTotal.Load()

		if xd.HasPredecessor() {
			avail := xd.SeqPreWrite.SpanExists(pos, budget)
			if avail <= 0 {
				break // predecessor hasn't produced this span yet
			}
			if avail < budget {
				budget = avail
			}
		}
		if xd.HasSuccessor() {
			free := xd.SeqNextRead.SpanExists(pos, budget)
			if free <= 0 {
				break // successor hasn't freed enough window yet
			}
			if free < budget {
				budget = free
			}
		}
		if budget <= 0 {
			break
		}

		srcChunk, ok := xd.SrcIter.Step(budget)
		if !ok {
			xd.finishIteration()
			break
		}
		dstChunk, ok := xd.DstIter.Step(srcChunk.Size)
		if !ok {
			xd.SrcIter.Cancel(0)
			xd.finishIteration()
			break
		}
		n := dstChunk.Size
		if n < srcChunk.Size {
			xd.SrcIter.Cancel(n)
			srcChunk.Size = n
		}

		dim := Dim1D
		if srcChunk.Lines > 0 {
			dim = Dim2D
		}
		req := &Request{
			XD:       xd,
			Dim:      dim,
			Src:      srcChunk,
			Dst:      dstChunk,
			SeqPos:   pos,
			SeqCount: n,
		}
		xd.bytesTotal.Store(pos + n)
		xd.mu.Lock()
		xd.inFlight++
		xd.mu.Unlock()
		reqs = append(reqs, req)
	}
	return reqs
}

// emptyTransferRequest handles the zero-byte boundary case (§4.4 step 1,
// §8 "empty transfer"): a source iterator that is already drained before
// the first Step (a zero-total domain), or a predecessor that has
// already announced an empty total, never produces a chunk for the
// normal loop to pair up, which would otherwise fall straight to
// finishIteration without a downstream Channel ever observing this
// XferDes. Returns the single zero-byte Request the spec requires, or
// nil if this XferDes is not in that boundary case.
func (xd *XferDes) emptyTransferRequest() *Request {
	if xd.iterationCompleted.Load() || xd.bytesTotal.Load() != 0 {
		return nil
	}
	if !xd.SrcIter.Done() && xd.preBytesTotal.Load() != 0 {
		return nil
	}
	req := &Request{XD: xd, Dim: Dim1D, SeqPos: 0, SeqCount: 0}
	xd.mu.Lock()
	xd.inFlight++
	xd.mu.Unlock()
	xd.finishIteration()
	return req
}

func (xd *XferDes) finishIteration() {
	xd.mu.Lock()
	first := xd.iterationCompleted.CAS(false, true)
	idle := first && xd.inFlight == 0
	xd.mu.Unlock()
	if idle {
		// every request already landed, so NotifyRequestWritten
		// will not run again to trigger the fence
		defer xd.CompletionFence.Trigger()
	}
	if first {
		total := xd.bytesTotal.Load()
		xd.preBytesTotal.Store(total)
		if debug.Enabled {
			nlog.Infof("xferdes %s: iteration complete at %d bytes", xd.Guid, total)
		}
		if xd.HasSuccessor() && xd.Notifier != nil {
			xd.Notifier.UpdatePreBytesWrite(xd.SuccGuid, 0, total, total)
		}
	}
}

// NotifyRequestRead records that a request's source bytes have been
// consumed and tells the predecessor (if any) that the corresponding
// window has been freed, implementing the backpressure half of the
// pipeline (§4.4 step 3 mirrored upstream).
func (xd *XferDes) NotifyRequestRead(req *Request) {
	delta := xd.SeqRead.AddSpan(req.SeqPos, req.SeqCount)
	if delta > 0 && xd.HasPredecessor() && xd.Notifier != nil {
		xd.Notifier.UpdateNextBytesRead(xd.PredGuid, req.SeqPos, delta)
	}
}

// NotifyRequestWritten records that a request's destination bytes have
// landed and tells the successor (if any) that more data is available.
func (xd *XferDes) NotifyRequestWritten(req *Request) {
	delta := xd.SeqWrite.AddSpan(req.SeqPos, req.SeqCount)
	xd.mu.Lock()
	xd.inFlight--
	done := xd.inFlight == 0 && xd.iterationCompleted.Load()
	xd.mu.Unlock()

	if delta > 0 && xd.HasSuccessor() && xd.Notifier != nil {
		total := xd.preBytesTotal.Load()
		xd.Notifier.UpdatePreBytesWrite(xd.SuccGuid, req.SeqPos, delta, total)
	}
	if done {
		xd.CompletionFence.Trigger()
	}
}

// OnPredecessorWrote is the inbound half of NotifyRequestWritten: the
// predecessor calls this (via Notifier, cross-XD or cross-node) to
// report that [spanStart, spanStart+delta) is now available to read.
func (xd *XferDes) OnPredecessorWrote(spanStart, delta, total int64) {
	xd.SeqPreWrite.AddSpan(spanStart, delta)
	if total != UnknownTotal {
		xd.preBytesTotal.Store(total)
	}
}

// OnSuccessorRead is the inbound half of NotifyRequestRead: the
// successor calls this to report that [spanStart, spanStart+delta) of
// this XD's output has been consumed and its window can be reused.
func (xd *XferDes) OnSuccessorRead(spanStart, delta int64) {
	xd.SeqNextRead.AddSpan(spanStart, delta)
}

// Done reports whether this XferDes has generated its last request and
// every generated request has completed.
func (xd *XferDes) Done() bool {
	xd.mu.Lock()
	defer xd.mu.Unlock()
	return xd.iterationCompleted.Load() && xd.inFlight == 0
}

func (xd *XferDes) BytesTotal() int64 { return xd.bytesTotal.Load() }
