// Package xfer implements the data-movement pipeline: XferDes transfer
// descriptors, their paired source/destination iterators, Channels, the
// XferDesQueue DMA worker pool, and the SequenceAssembler byte-range
// accounting that ties pipelined XDs together (§4.4, §4.5).
package xfer

import (
	"sync"

	"github.com/taskmesh/taskmesh/cmn/atomic"
)

// SequenceAssembler is a lock-light monotonic byte-range accumulator
// (§3 "SequenceAssembler"). It maintains a fully-covered contiguous
// prefix [0, contig_amount) plus a map of non-overlapping spans covering
// [first_noncontig, ...). SpanExists answers without the lock when the
// range starts below contig_amount (wholly inside the prefix, or
// straddling its end); a range at or beyond contig_amount is a locked
// span-map lookup. AddSpan always takes the internal mutex since it
// mutates the span map and/or the contiguous prefix.
type SequenceAssembler struct {
	contigAmount   atomic.Int64
	firstNoncontig atomic.Int64

	mu    sync.Mutex
	spans map[int64]int64 // offset -> length, non-overlapping, beyond contigAmount
}

func NewSequenceAssembler() *SequenceAssembler {
	return &SequenceAssembler{spans: make(map[int64]int64)}
}

// ContigAmount is the lock-free read of the monotonic contiguous prefix.
func (sa *SequenceAssembler) ContigAmount() int64 { return sa.contigAmount.Load() }

// SpanExists returns how much of [start, start+count) is already known
// covered: the full `count` if the whole range falls below contig_amount
// (lock-free fast path #1), the covered remainder if the range straddles
// contig_amount (lock-free fast path #2), or an exact span-map hit
// starting at `start` if the range lies entirely at or beyond
// contig_amount (takes the mutex).
func (sa *SequenceAssembler) SpanExists(start, count int64) int64 {
	if count <= 0 {
		return 0
	}
	cur := sa.contigAmount.Load()
	if start+count <= cur {
		return count // fast path: fully inside the contiguous prefix
	}
	if start < cur {
		return cur - start // fast path: partial coverage from the prefix
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if length, ok := sa.spans[start]; ok {
		if length > count {
			return count
		}
		return length
	}
	return 0
}

// AddSpan records that [pos, pos+count) has completed. It returns k > 0
// iff pos == contig_amount at the time of the call (§8 property 8); the
// call also merges any out-of-order spans that become contiguous as a
// result, so a single AddSpan can advance contig_amount by more than
// `count` when it closes a gap.
func (sa *SequenceAssembler) AddSpan(pos, count int64) int64 {
	if count <= 0 {
		return 0
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()

	cur := sa.contigAmount.Load()
	if pos != cur {
		sa.spans[pos] = count
		if fn := sa.firstNoncontig.Load(); fn == 0 || pos < fn {
			sa.firstNoncontig.Store(pos)
		}
		return 0
	}

	next := cur + count
	for {
		length, ok := sa.spans[next]
		if !ok {
			break
		}
		delete(sa.spans, next)
		next += length
	}
	sa.contigAmount.Store(next)
	return next - cur
}

// Reset clears all state; used when an XferDes's sequence assemblers are
// recycled for a new transfer.
func (sa *SequenceAssembler) Reset() {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.contigAmount.Store(0)
	sa.firstNoncontig.Store(0)
	sa.spans = make(map[int64]int64)
}
