package xfer

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/core"
)

// GPUCopyEngine is the pluggable seam a real CUDA/ROCm binding would
// implement; none of the example corpus carries a cgo CUDA wrapper, so
// this package ships only the interface and a synchronous, buffer-backed
// reference engine for tests. A production engine's Enqueue would
// immediately return after submitting to a stream and trigger the
// returned event from a callback or polling thread.
type GPUCopyEngine interface {
	// Enqueue schedules a framebuffer-involving copy of n bytes and
	// returns an event that triggers once it lands.
	Enqueue(srcMem, dstMem MemoryID, srcOff, dstOff, n int64) (core.Event, error)
}

// BufferGPUEngine treats GPU framebuffers as ordinary BufferMemory, for
// use in tests and single-process deployments that have no real GPU.
type BufferGPUEngine struct {
	mem *BufferMemory
}

func NewBufferGPUEngine(mem *BufferMemory) *BufferGPUEngine {
	return &BufferGPUEngine{mem: mem}
}

func (e *BufferGPUEngine) Enqueue(srcMem, dstMem MemoryID, srcOff, dstOff, n int64) (core.Event, error) {
	src := e.mem.Bytes(srcMem)
	dst := e.mem.Bytes(dstMem)
	if src == nil || dst == nil {
		return core.Event{}, fmt.Errorf("xfer: gpu engine: unallocated src/dst memory")
	}
	copy(dst[dstOff:dstOff+n], src[srcOff:srcOff+n])
	return core.NoEvent(), nil
}

// GPUChannel backs the four GPU kinds (to/from/in/peer framebuffer). The
// distinction between them is only which side of the copy is device
// memory; the engine itself doesn't need to know since both sides are
// addressed uniformly by MemoryID.
type GPUChannel struct {
	engine GPUCopyEngine
	kind   Kind
	cap    int
}

func NewGPUChannel(engine GPUCopyEngine, kind Kind, capacity int) *GPUChannel {
	if capacity <= 0 {
		capacity = 32
	}
	return &GPUChannel{engine: engine, kind: kind, cap: capacity}
}

func (c *GPUChannel) Kind() Kind   { return c.kind }
func (c *GPUChannel) Capacity() int { return c.cap }

func (c *GPUChannel) Submit(ctx context.Context, req *Request) error {
	ev, err := c.engine.Enqueue(req.XD.SrcMem, req.XD.DstMem, req.Src.Offset, req.Dst.Offset, req.Src.Size)
	if err != nil {
		req.Err = err
		req.XD.NotifyRequestRead(req)
		req.XD.NotifyRequestWritten(req)
		return err
	}
	req.CompletionEvent = ev
	ev.OnTrigger(func() {
		req.XD.NotifyRequestRead(req)
		req.XD.NotifyRequestWritten(req)
	})
	return nil
}
