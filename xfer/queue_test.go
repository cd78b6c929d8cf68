package xfer

import (
	"context"
	"testing"
	"time"
)

// pressuredChannel wraps a MemcpyChannel to exercise the pressureGauge
// seam without pulling in a real DiskChannel (which needs a filesystem
// root to construct).
type pressuredChannel struct {
	*MemcpyChannel
	pressured bool
}

func (c *pressuredChannel) Pressured() bool { return c.pressured }

func TestXferDesQueueSkipsPressuredChannel(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 8)
	mem.Alloc(dst, 8)

	ch := &pressuredChannel{MemcpyChannel: NewMemcpyChannel(mem, 4), pressured: true}
	reg := NewRegistry()
	reg.Register(ch)

	q := NewXferDesQueue(reg)
	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 8), NewLinearIterator(0, 8), 8)
	xd.SrcMem, xd.DstMem = src, dst

	q.drive(context.Background(), ch, xd)
	if xd.BytesTotal() != 0 {
		t.Fatalf("a pressured channel must not have any requests pulled from it, got bytesTotal=%d", xd.BytesTotal())
	}

	q.mu.Lock()
	h := q.byKind[KindMemcpy]
	requeued := h != nil && h.Len() == 1
	q.mu.Unlock()
	if !requeued {
		t.Fatal("expected the xferdes to be requeued rather than dropped while the channel is pressured")
	}
}

func TestXferDesQueueBoundsBatchByAvailableCapacity(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 64)
	mem.Alloc(dst, 64)

	ch := NewMemcpyChannel(mem, 2)
	reg := NewRegistry()
	reg.Register(ch)

	q := NewXferDesQueue(reg)
	q.addInFlight(KindMemcpy, 2) // saturate the channel's capacity of 2

	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 64), NewLinearIterator(0, 64), 8)
	xd.SrcMem, xd.DstMem = src, dst

	q.drive(context.Background(), ch, xd)
	if xd.BytesTotal() != 0 {
		t.Fatalf("expected no requests pulled while the channel is at capacity, got bytesTotal=%d", xd.BytesTotal())
	}
}

func TestXferDesQueueDrivesToCompletion(t *testing.T) {
	mem := NewBufferMemory()
	src, dst := MemoryID(1), MemoryID(2)
	mem.Alloc(src, 64)
	mem.Alloc(dst, 64)
	for i := range mem.Bytes(src) {
		mem.Bytes(src)[i] = byte(i)
	}

	reg := NewRegistry()
	reg.Register(NewMemcpyChannel(mem, 2))

	q := NewXferDesQueue(reg)
	xd := NewXferDes(MakeXferDesID(0, 1), KindMemcpy,
		NewLinearIterator(0, 64), NewLinearIterator(0, 64), 8)
	xd.SrcMem, xd.DstMem = src, dst
	q.Enqueue(xd)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		xd.CompletionFence.Wait()
		close(done)
	}()

	go q.Run(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("xferdes did not complete before timeout")
	}
	q.Close()

	for i, b := range mem.Bytes(dst) {
		if b != byte(i) {
			t.Fatalf("byte %d mismatch: got %d want %d", i, b, byte(i))
		}
	}
}
