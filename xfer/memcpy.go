package xfer

import (
	"context"
	"fmt"
	"sync"
)

// BufferMemory backs a MemoryID with an in-process byte slice, the
// stand-in for "system memory" used by the memcpy channel and by tests
// for every other channel kind (each backend only needs something that
// satisfies io.ReaderAt/io.WriterAt in a real deployment; BufferMemory is
// the minimal such thing for local, same-process transfers).
type BufferMemory struct {
	mu  sync.RWMutex
	buf map[MemoryID][]byte
}

func NewBufferMemory() *BufferMemory {
	return &BufferMemory{buf: make(map[MemoryID][]byte)}
}

func (m *BufferMemory) Alloc(id MemoryID, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[id] = make([]byte, size)
}

func (m *BufferMemory) Bytes(id MemoryID) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf[id]
}

// MemcpyChannel implements Channel for same-process, memory-to-memory
// transfers: the simplest backend, and the only one that copies bytes
// between BufferMemory slices.
type MemcpyChannel struct {
	mem *BufferMemory
	cap int
}

func NewMemcpyChannel(mem *BufferMemory, capacity int) *MemcpyChannel {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemcpyChannel{mem: mem, cap: capacity}
}

func (c *MemcpyChannel) Kind() Kind   { return KindMemcpy }
func (c *MemcpyChannel) Capacity() int { return c.cap }

func (c *MemcpyChannel) Submit(ctx context.Context, req *Request) error {
	src := c.mem.Bytes(req.XD.SrcMem)
	dst := c.mem.Bytes(req.XD.DstMem)
	if src == nil || dst == nil {
		req.Err = fmt.Errorf("xfer: memcpy channel: unallocated src/dst memory")
		req.XD.NotifyRequestRead(req)
		req.XD.NotifyRequestWritten(req)
		return req.Err
	}
	if req.Dim == Dim2D && req.Src.Lines > 0 {
		lineBytes := req.Src.Size / req.Src.Lines
		for i := int64(0); i < req.Src.Lines; i++ {
			so := req.Src.Offset + i*req.Src.Stride
			do := req.Dst.Offset + i*req.Dst.Stride
			copy(dst[do:do+lineBytes], src[so:so+lineBytes])
		}
	} else {
		copy(dst[req.Dst.Offset:req.Dst.Offset+req.Src.Size], src[req.Src.Offset:req.Src.Offset+req.Src.Size])
	}
	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return nil
}
