package xfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/colinmarc/hdfs/v2"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// HDFChannel backs KindHDFRead/KindHDFWrite with an HDFS client
// (colinmarc/hdfs); it does not read or write the HDF5 file format. Each
// MemoryID names a path inside the HDFS namespace bound via BindPath.
// Writes append a zero-filled buffer of the request's size and reads
// discard what they read; no bytes move to or from a BufferMemory.
type HDFChannel struct {
	client *hdfs.Client
	write  bool
	cap    int

	mu    sync.Mutex
	paths map[MemoryID]string
}

func NewHDFChannel(namenode string, write bool, capacity int) (*HDFChannel, error) {
	if capacity <= 0 {
		capacity = 4
	}
	client, err := hdfs.New(namenode)
	if err != nil {
		return nil, fmt.Errorf("xfer: hdf channel: connect %q: %w", namenode, err)
	}
	return &HDFChannel{client: client, write: write, cap: capacity, paths: make(map[MemoryID]string)}, nil
}

func (c *HDFChannel) Kind() Kind {
	if c.write {
		return KindHDFWrite
	}
	return KindHDFRead
}

func (c *HDFChannel) Capacity() int { return c.cap }

func (c *HDFChannel) BindPath(id MemoryID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[id] = path
}

func (c *HDFChannel) pathFor(id MemoryID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.paths[id]
	if !ok {
		return "", fmt.Errorf("xfer: hdf channel: memory %v has no bound path", id)
	}
	return p, nil
}

func (c *HDFChannel) Submit(ctx context.Context, req *Request) error {
	var err error
	if c.write {
		err = c.submitWrite(req)
	} else {
		err = c.submitRead(req)
	}
	if err != nil {
		req.Err = err
		nlog.Warningf("hdf channel: request on xferdes %s failed: %v", req.XD.Guid, err)
	}
	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return err
}

func (c *HDFChannel) submitRead(req *Request) error {
	path, err := c.pathFor(req.XD.SrcMem)
	if err != nil {
		return err
	}
	f, err := c.client.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, req.Src.Size)
	_, err = f.ReadAt(buf, req.Src.Offset)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *HDFChannel) submitWrite(req *Request) error {
	path, err := c.pathFor(req.XD.DstMem)
	if err != nil {
		return err
	}
	f, err := c.client.Append(path)
	if err != nil {
		f, err = c.client.Create(path)
		if err != nil {
			return err
		}
	}
	defer f.Close()
	buf := make([]byte, req.Dst.Size)
	_, err = f.Write(buf)
	return err
}
