package xfer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/lufia/iostat"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// DiskChannel backs KindDiskRead/KindDiskWrite: each MemoryID here names
// a file path rather than an in-process buffer. godirwalk resolves and
// validates the target directory once at open time (catching a missing
// mount before the first request rather than mid-transfer). iostat is
// sampled after every request; the channel reports pressure (see
// Pressured) only after maxSampleFailures consecutive failed samples, and
// the sampled figures (LastIOStat) do not affect admission. Writes store
// a zero-filled buffer of the request's size and reads discard what they
// read; no bytes move to or from a BufferMemory.
type DiskChannel struct {
	write bool
	cap   int

	mu    sync.Mutex
	paths map[MemoryID]string
	files map[MemoryID]*os.File

	lastIOStat     []iostat.DriveStats
	sampleFailures int
}

// maxSampleFailures is the number of consecutive failed iostat samples
// that puts a DiskChannel into backpressure: the XferDesQueue stops
// handing it more work until a sample succeeds again.
const maxSampleFailures = 3

func NewDiskChannel(dir string, write bool, capacity int) (*DiskChannel, error) {
	if capacity <= 0 {
		capacity = 8
	}
	if err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(_ string, _ *godirwalk.Dirent) error { return nil },
		Unsorted: true,
	}); err != nil {
		return nil, fmt.Errorf("xfer: disk channel: bad root %q: %w", dir, err)
	}
	return &DiskChannel{
		write: write,
		cap:   capacity,
		paths: make(map[MemoryID]string),
		files: make(map[MemoryID]*os.File),
	}, nil
}

func (c *DiskChannel) Kind() Kind {
	if c.write {
		return KindDiskWrite
	}
	return KindDiskRead
}

func (c *DiskChannel) Capacity() int { return c.cap }

// BindPath associates a MemoryID with an on-disk file path, opened lazily
// on first Submit.
func (c *DiskChannel) BindPath(id MemoryID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[id] = path
}

func (c *DiskChannel) openLocked(id MemoryID) (*os.File, error) {
	if f, ok := c.files[id]; ok {
		return f, nil
	}
	path, ok := c.paths[id]
	if !ok {
		return nil, fmt.Errorf("xfer: disk channel: memory %v has no bound path", id)
	}
	flags := os.O_RDONLY
	if c.write {
		flags = os.O_WRONLY | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	c.files[id] = f
	return f, nil
}

func (c *DiskChannel) Submit(ctx context.Context, req *Request) error {
	c.mu.Lock()
	var (
		f   *os.File
		err error
	)
	if c.write {
		f, err = c.openLocked(req.XD.DstMem)
	} else {
		f, err = c.openLocked(req.XD.SrcMem)
	}
	c.mu.Unlock()
	if err != nil {
		req.Err = err
		req.XD.NotifyRequestRead(req)
		req.XD.NotifyRequestWritten(req)
		return err
	}

	buf := make([]byte, req.Src.Size)
	if c.write {
		_, err = f.WriteAt(buf, req.Dst.Offset)
	} else {
		_, err = f.ReadAt(buf, req.Src.Offset)
	}
	if err != nil {
		req.Err = err
	}
	c.refreshIOStat()
	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return err
}

// refreshIOStat samples per-drive statistics and updates the consecutive
// failure count Pressured() throttles on; the queue consults Pressured
// before pulling more work for this channel (§4.5 admission).
func (c *DiskChannel) refreshIOStat() {
	stats, err := iostat.ReadDriveStats()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		nlog.Warningf("disk channel: iostat sample failed: %v", err)
		c.sampleFailures++
		return
	}
	c.lastIOStat = stats
	c.sampleFailures = 0
}

func (c *DiskChannel) LastIOStat() []iostat.DriveStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastIOStat
}

// Pressured implements the XferDesQueue's pressureGauge seam: once a
// disk has failed to report throughput for maxSampleFailures samples in
// a row, this channel is treated as saturated (or gone) and the queue
// stops pulling new requests for it until a sample succeeds again.
func (c *DiskChannel) Pressured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleFailures >= maxSampleFailures
}
