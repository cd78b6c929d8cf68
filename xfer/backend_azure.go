package xfer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// AzureChannel backs KindAzureRead/KindAzureWrite using Azure Blob
// Storage block blobs. Each MemoryID names a (container, blob) pair
// bound via BindBlob. A write uploads a zero-filled buffer of the
// request's size as the whole blob and a read downloads the range and
// discards it; no bytes move to or from a BufferMemory.
type AzureChannel struct {
	client *azblob.Client
	write  bool
	cap    int

	mu    sync.Mutex
	blobs map[MemoryID]azureBlob
}

type azureBlob struct {
	container string
	blob      string
}

func NewAzureChannel(client *azblob.Client, write bool, capacity int) *AzureChannel {
	if capacity <= 0 {
		capacity = 8
	}
	return &AzureChannel{client: client, write: write, cap: capacity, blobs: make(map[MemoryID]azureBlob)}
}

func (c *AzureChannel) Kind() Kind {
	if c.write {
		return KindAzureWrite
	}
	return KindAzureRead
}

func (c *AzureChannel) Capacity() int { return c.cap }

func (c *AzureChannel) BindBlob(id MemoryID, container, blob string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[id] = azureBlob{container: container, blob: blob}
}

func (c *AzureChannel) blobFor(id MemoryID) (azureBlob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[id]
	if !ok {
		return azureBlob{}, fmt.Errorf("xfer: azure channel: memory %v has no bound blob", id)
	}
	return b, nil
}

func (c *AzureChannel) Submit(ctx context.Context, req *Request) error {
	var err error
	if c.write {
		err = c.submitWrite(ctx, req)
	} else {
		err = c.submitRead(ctx, req)
	}
	if err != nil {
		req.Err = err
		nlog.Warningf("azure channel: request on xferdes %s failed: %v", req.XD.Guid, err)
	}
	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return err
}

func (c *AzureChannel) submitRead(ctx context.Context, req *Request) error {
	b, err := c.blobFor(req.XD.SrcMem)
	if err != nil {
		return err
	}
	offset := req.Src.Offset
	count := req.Src.Size
	resp, err := c.client.DownloadStream(ctx, b.container, b.blob, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: count},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = bytes.NewBuffer(nil).ReadFrom(resp.Body)
	return err
}

func (c *AzureChannel) submitWrite(ctx context.Context, req *Request) error {
	b, err := c.blobFor(req.XD.DstMem)
	if err != nil {
		return err
	}
	_, err = c.client.UploadBuffer(ctx, b.container, b.blob, make([]byte, req.Dst.Size), nil)
	return err
}
