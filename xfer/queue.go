package xfer

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/cmn/atomic"
	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// pressureGauge is an optional Channel capability: a backend that can
// detect its own saturation independent of a static Capacity() count
// (e.g. DiskChannel's iostat sampling) implements it so drive can skip
// pulling more work for it this round.
type pressureGauge interface {
	Pressured() bool
}

// xdHeap is a max-heap over XferDes.Priority, the priority queue named
// in §4.5 ("XferDesQueue... picks the highest-priority XferDes with
// outstanding work for a given channel").
type xdHeap []*XferDes

func (h xdHeap) Len() int            { return len(h) }
func (h xdHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h xdHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *xdHeap) Push(x any)         { *h = append(*h, x.(*XferDes)) }
func (h *xdHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

const defaultBatchSize = 8

// XferDesQueue is the DMA dispatch layer (§4.5): one priority queue per
// channel Kind, drained by a fixed pool of worker goroutines per kind
// that call XferDes.GetRequests and hand the results to the matching
// Channel.
type XferDesQueue struct {
	reg *Registry

	mu     sync.Mutex
	cond   *sync.Cond
	byKind map[Kind]*xdHeap
	closed bool

	batchSize int

	inFlightMu sync.Mutex
	inFlight   map[Kind]*atomic.Int64
}

func NewXferDesQueue(reg *Registry) *XferDesQueue {
	q := &XferDesQueue{
		reg:       reg,
		byKind:    make(map[Kind]*xdHeap),
		batchSize: defaultBatchSize,
		inFlight:  make(map[Kind]*atomic.Int64),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// available returns how many more requests this kind's channel can take
// on right now: its static Capacity() minus the requests currently
// between GetRequests and Submit returning (§4.5: "will not call
// get_requests for more than available() slots").
func (q *XferDesQueue) available(kind Kind, capacity int) int {
	q.inFlightMu.Lock()
	ctr, ok := q.inFlight[kind]
	if !ok {
		ctr = &atomic.Int64{}
		q.inFlight[kind] = ctr
	}
	q.inFlightMu.Unlock()
	avail := int64(capacity) - ctr.Load()
	if avail < 0 {
		return 0
	}
	return int(avail)
}

func (q *XferDesQueue) addInFlight(kind Kind, delta int64) {
	q.inFlightMu.Lock()
	ctr, ok := q.inFlight[kind]
	if !ok {
		ctr = &atomic.Int64{}
		q.inFlight[kind] = ctr
	}
	q.inFlightMu.Unlock()
	ctr.Add(delta)
}

// Enqueue admits an XferDes for dispatch on its Kind's worker pool.
func (q *XferDesQueue) Enqueue(xd *XferDes) {
	q.mu.Lock()
	h, ok := q.byKind[xd.Kind]
	if !ok {
		h = &xdHeap{}
		heap.Init(h)
		q.byKind[xd.Kind] = h
	}
	heap.Push(h, xd)
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *XferDesQueue) popLocked(kind Kind) *XferDes {
	h, ok := q.byKind[kind]
	if !ok || h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*XferDes)
}

// Run starts DMAWorkers goroutines per registered channel kind (per
// cmn.GCO's xfer.dma_workers) and blocks until ctx is cancelled or Close
// is called, at which point it waits for all workers to drain.
func (q *XferDesQueue) Run(ctx context.Context) error {
	cfg := cmn.GCO.Get()
	g, ctx := errgroup.WithContext(ctx)

	for kind, ch := range q.reg.snapshot() {
		kind, ch := kind, ch
		workers := cfg.Xfer.DMAWorkers
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				q.worker(ctx, kind, ch)
				return nil
			})
		}
	}

	go func() {
		<-ctx.Done()
		q.Close()
	}()

	return g.Wait()
}

func (q *XferDesQueue) worker(ctx context.Context, kind Kind, ch Channel) {
	for {
		q.mu.Lock()
		for {
			if q.closed {
				q.mu.Unlock()
				return
			}
			if xd := q.popLocked(kind); xd != nil {
				q.mu.Unlock()
				q.drive(ctx, ch, xd)
				break
			}
			q.cond.Wait()
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// drive pulls at most one batch of requests from xd and submits each to
// ch, requeueing xd if it still has work once the batch is processed
// (§4.5: an XferDes stays resident in the queue across multiple
// dispatch rounds until its iteration completes and all its requests
// have landed). The batch is bounded by the channel's available()
// slots, and skipped entirely while the channel reports pressure, so the
// queue never calls GetRequests for more than the channel can currently
// take on (§4.5 admission).
func (q *XferDesQueue) drive(ctx context.Context, ch Channel, xd *XferDes) {
	kind := ch.Kind()
	if pg, ok := ch.(pressureGauge); ok && pg.Pressured() {
		q.Enqueue(xd)
		return
	}

	n := q.available(kind, ch.Capacity())
	if n <= 0 {
		q.Enqueue(xd)
		return
	}
	if n > q.batchSize {
		n = q.batchSize
	}

	reqs := xd.GetRequests(n)
	if len(reqs) > 0 {
		q.addInFlight(kind, int64(len(reqs)))
		for _, req := range reqs {
			if err := ch.Submit(ctx, req); err != nil {
				nlog.Warningf("xferdes queue: %s request on %s failed: %v", ch.Kind(), xd.Guid, err)
			}
		}
		q.addInFlight(kind, -int64(len(reqs)))
	}
	if !xd.Done() {
		q.Enqueue(xd)
	}
}

func (q *XferDesQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
