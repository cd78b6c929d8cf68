package xfer

import (
	"context"
	"testing"
)

func TestSequenceAssemblerInOrder(t *testing.T) {
	sa := NewSequenceAssembler()
	if got := sa.AddSpan(0, 10); got != 10 {
		t.Fatalf("expected contig advance of 10, got %d", got)
	}
	if got := sa.ContigAmount(); got != 10 {
		t.Fatalf("expected contig_amount 10, got %d", got)
	}
}

func TestSequenceAssemblerOutOfOrderMerges(t *testing.T) {
	sa := NewSequenceAssembler()
	if got := sa.AddSpan(10, 5); got != 0 {
		t.Fatalf("out-of-order span must not advance contig_amount, got delta %d", got)
	}
	if got := sa.AddSpan(0, 10); got != 15 {
		t.Fatalf("closing the gap should merge the pending [10,15) span, got delta %d", got)
	}
	if got := sa.ContigAmount(); got != 15 {
		t.Fatalf("expected contig_amount 15 after merge, got %d", got)
	}
}

func TestSequenceAssemblerSpanExists(t *testing.T) {
	sa := NewSequenceAssembler()
	sa.AddSpan(0, 8)
	if got := sa.SpanExists(0, 8); got != 8 {
		t.Fatalf("fully-covered range should report full count, got %d", got)
	}
	if got := sa.SpanExists(4, 8); got != 4 {
		t.Fatalf("straddling range should report only the covered remainder, got %d", got)
	}
	if got := sa.SpanExists(8, 4); got != 0 {
		t.Fatalf("uncovered range at the frontier should report 0, got %d", got)
	}
	sa.AddSpan(20, 4) // out-of-order span starting beyond the frontier
	if got := sa.SpanExists(20, 4); got != 4 {
		t.Fatalf("exact span-map hit should report its full length, got %d", got)
	}
}

func TestXferDesGetRequestsSplitsOnMaxReqSize(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 100)
	mem.Alloc(dst, 100)

	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 100), NewLinearIterator(0, 100), 30)
	xd.SrcMem, xd.DstMem = src, dst

	reqs := xd.GetRequests(10)
	if len(reqs) != 4 {
		t.Fatalf("expected ceil(100/30)=4 requests, got %d", len(reqs))
	}
	total := int64(0)
	for _, r := range reqs {
		total += r.SeqCount
	}
	if total != 100 {
		t.Fatalf("expected total bytes requested 100, got %d", total)
	}
	if !xd.SrcIter.Done() || !xd.DstIter.Done() {
		t.Fatal("both iterators should be drained after covering the whole domain")
	}
}

func TestXferDesMemcpyChannelEndToEnd(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 16)
	mem.Alloc(dst, 16)
	copy(mem.Bytes(src), []byte("0123456789abcdef"))

	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 16), NewLinearIterator(0, 16), 1<<20)
	xd.SrcMem, xd.DstMem = src, dst

	ch := NewMemcpyChannel(mem, 4)
	reqs := xd.GetRequests(8)
	for _, r := range reqs {
		if err := ch.Submit(context.Background(), r); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if !xd.Done() {
		t.Fatal("xferdes should be done after its single request completes")
	}
	if string(mem.Bytes(dst)) != "0123456789abcdef" {
		t.Fatalf("destination mismatch: %q", mem.Bytes(dst))
	}
}

func TestXferDesEmptyTransferEmitsOneZeroByteRequest(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 0)
	mem.Alloc(dst, 0)

	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 0), NewLinearIterator(0, 0), 1<<20)
	xd.SrcMem, xd.DstMem = src, dst

	reqs := xd.GetRequests(8)
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one zero-byte request for an empty transfer, got %d", len(reqs))
	}
	if reqs[0].SeqCount != 0 {
		t.Fatalf("expected a zero-byte request, got SeqCount=%d", reqs[0].SeqCount)
	}

	ch := NewMemcpyChannel(mem, 4)
	if err := ch.Submit(context.Background(), reqs[0]); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !xd.Done() {
		t.Fatal("xferdes should be done after its zero-byte request completes")
	}

	if more := xd.GetRequests(8); len(more) != 0 {
		t.Fatalf("expected no further requests once the empty transfer has completed, got %d", len(more))
	}
}

func TestXferDesEmptyTransferWithPredecessorAnnouncedTotal(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 0)
	mem.Alloc(dst, 0)

	// A downstream leg whose own iterator still thinks it has work, but
	// whose predecessor has already announced a zero-length transfer,
	// must also resolve to the single zero-byte Request rather than
	// waiting forever on a predecessor span that will never arrive.
	xd := NewXferDes(MakeXferDesID(0, 2), KindMemcpy,
		NewLinearIterator(0, 8), NewLinearIterator(0, 8), 1<<20)
	xd.SrcMem, xd.DstMem = src, dst
	xd.PredGuid = MakeXferDesID(0, 1)
	xd.OnPredecessorWrote(0, 0, 0)

	reqs := xd.GetRequests(8)
	if len(reqs) != 1 || reqs[0].SeqCount != 0 {
		t.Fatalf("expected one zero-byte request, got %+v", reqs)
	}
}

func TestXferDesPredecessorGating(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 10)
	mem.Alloc(dst, 10)

	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 10), NewLinearIterator(0, 10), 1<<20)
	xd.SrcMem, xd.DstMem = src, dst
	xd.PredGuid = MakeXferDesID(0, 0)

	if reqs := xd.GetRequests(4); len(reqs) != 0 {
		t.Fatalf("expected no requests before predecessor announces any span, got %d", len(reqs))
	}
	xd.OnPredecessorWrote(0, 5, UnknownTotal)
	reqs := xd.GetRequests(4)
	if len(reqs) != 1 || reqs[0].SeqCount != 5 {
		t.Fatalf("expected one 5-byte request gated by predecessor span, got %+v", reqs)
	}
}
