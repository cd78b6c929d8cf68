package xfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// GCSChannel backs KindGCSRead/KindGCSWrite with Google Cloud Storage
// objects. Each MemoryID names a (bucket, object) pair bound via
// BindObject. A write replaces the object with a zero-filled buffer of
// the request's size and a read fetches the range and discards it; no
// bytes move to or from a BufferMemory.
type GCSChannel struct {
	client *storage.Client
	write  bool
	cap    int

	mu      sync.Mutex
	objects map[MemoryID]gcsObject
}

type gcsObject struct {
	bucket string
	object string
}

func NewGCSChannel(client *storage.Client, write bool, capacity int) *GCSChannel {
	if capacity <= 0 {
		capacity = 8
	}
	return &GCSChannel{client: client, write: write, cap: capacity, objects: make(map[MemoryID]gcsObject)}
}

func (c *GCSChannel) Kind() Kind {
	if c.write {
		return KindGCSWrite
	}
	return KindGCSRead
}

func (c *GCSChannel) Capacity() int { return c.cap }

func (c *GCSChannel) BindObject(id MemoryID, bucket, object string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id] = gcsObject{bucket: bucket, object: object}
}

func (c *GCSChannel) objectFor(id MemoryID) (gcsObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[id]
	if !ok {
		return gcsObject{}, fmt.Errorf("xfer: gcs channel: memory %v has no bound object", id)
	}
	return o, nil
}

func (c *GCSChannel) Submit(ctx context.Context, req *Request) error {
	var err error
	if c.write {
		err = c.submitWrite(ctx, req)
	} else {
		err = c.submitRead(ctx, req)
	}
	if err != nil {
		req.Err = err
		nlog.Warningf("gcs channel: request on xferdes %s failed: %v", req.XD.Guid, err)
	}
	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return err
}

func (c *GCSChannel) submitRead(ctx context.Context, req *Request) error {
	o, err := c.objectFor(req.XD.SrcMem)
	if err != nil {
		return err
	}
	r, err := c.client.Bucket(o.bucket).Object(o.object).NewRangeReader(ctx, req.Src.Offset, req.Src.Size)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(io.Discard, r)
	return err
}

func (c *GCSChannel) submitWrite(ctx context.Context, req *Request) error {
	o, err := c.objectFor(req.XD.DstMem)
	if err != nil {
		return err
	}
	w := c.client.Bucket(o.bucket).Object(o.object).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(make([]byte, req.Dst.Size))); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
