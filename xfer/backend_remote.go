package xfer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// NodeResolver maps a node id to the address its transfer endpoint
// listens on; installed by the msg package, which owns node membership.
type NodeResolver interface {
	AddressFor(node uint16) (string, error)
}

// RemoteWriteChannel backs KindRemoteWrite: it POSTs a zero-filled body
// of the request's size to /xfer/write on the destination node via
// fasthttp, tagged with the successor guid and sequence position.
// msg.Server has no route for /xfer/write and answers 404, which Submit
// records as the request's error; no XferDes on the receiving node is
// updated.
type RemoteWriteChannel struct {
	client   *fasthttp.Client
	resolver NodeResolver
	cap      int
}

func NewRemoteWriteChannel(resolver NodeResolver, capacity int) *RemoteWriteChannel {
	if capacity <= 0 {
		capacity = 16
	}
	return &RemoteWriteChannel{
		client:   &fasthttp.Client{Name: "taskmesh-xfer"},
		resolver: resolver,
		cap:      capacity,
	}
}

func (c *RemoteWriteChannel) Kind() Kind   { return KindRemoteWrite }
func (c *RemoteWriteChannel) Capacity() int { return c.cap }

func (c *RemoteWriteChannel) Submit(ctx context.Context, req *Request) error {
	addr, err := c.resolver.AddressFor(req.DestNode)
	if err != nil {
		req.Err = err
		req.XD.NotifyRequestRead(req)
		req.XD.NotifyRequestWritten(req)
		return err
	}

	r := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(r)
	defer fasthttp.ReleaseResponse(resp)

	r.SetRequestURI("http://" + addr + "/xfer/write")
	r.Header.SetMethod(fasthttp.MethodPost)
	r.Header.Set("X-Xferdes-Guid", req.XD.SuccGuid.String())
	r.Header.Set("X-Seq-Pos", strconv.FormatInt(req.SeqPos, 10))
	r.SetBody(make([]byte, req.Src.Size))

	if err := c.client.Do(r, resp); err != nil {
		req.Err = fmt.Errorf("xfer: remote write to %s: %w", addr, err)
		nlog.Warningf("remote write channel: %v", req.Err)
	} else if resp.StatusCode() != fasthttp.StatusOK {
		req.Err = fmt.Errorf("xfer: remote write to %s: status %d", addr, resp.StatusCode())
	}

	req.XD.NotifyRequestRead(req)
	req.XD.NotifyRequestWritten(req)
	return req.Err
}
