package xfer

// AddressInfo is one contiguous (or strided) addressable chunk handed out
// by an Iterator: a byte offset into the owning memory plus a size.
type AddressInfo struct {
	Offset int64
	Size   int64
	Stride int64 // non-zero for a 2D chunk: byte distance between lines
	Lines  int64 // non-zero for a 2D chunk: number of lines at Stride
}

// Iterator is a lazy cursor over a transfer's source or destination
// domain (§3 "paired iterators"). Step hands out the next address chunk
// of at most maxBytes, honoring the 1D/2D split the domain was
// constructed with. A source iterator's step can always be shrunk by the
// destination side's smaller chunk (§4.4 step 2); Cancel puts back a
// step that was requested but not ultimately consumed at that size.
type Iterator interface {
	// Step requests the next chunk, up to maxBytes. ok is false once the
	// domain is exhausted and no chunk was produced.
	Step(maxBytes int64) (chunk AddressInfo, ok bool)
	// Cancel un-steps the most recent Step, optionally re-queuing only
	// `keep` bytes of it as consumed (0 <= keep <= chunk.Size) and
	// returning the remainder to be handed out again by the next Step.
	Cancel(keep int64)
	// Done reports whether the domain has been fully stepped through
	// (independent of any outstanding but not yet committed chunk).
	Done() bool
	// BytesRemaining is the total size of the domain minus what has been
	// committed via Step so far (not counting outstanding Cancel'd bytes).
	BytesRemaining() int64
}

// LinearIterator is a 1D iterator over a single contiguous address range,
// the common case for a buffer-to-buffer or file-backed transfer.
type LinearIterator struct {
	base      int64
	total     int64
	pos       int64
	lastChunk AddressInfo
}

func NewLinearIterator(base, total int64) *LinearIterator {
	return &LinearIterator{base: base, total: total}
}

func (it *LinearIterator) Step(maxBytes int64) (AddressInfo, bool) {
	remaining := it.total - it.pos
	if remaining <= 0 {
		return AddressInfo{}, false
	}
	size := remaining
	if maxBytes > 0 && maxBytes < size {
		size = maxBytes
	}
	chunk := AddressInfo{Offset: it.base + it.pos, Size: size}
	it.lastChunk = chunk
	it.pos += size
	return chunk, true
}

func (it *LinearIterator) Cancel(keep int64) {
	if keep < 0 || keep > it.lastChunk.Size {
		keep = 0
	}
	refund := it.lastChunk.Size - keep
	it.pos -= refund
	it.lastChunk = AddressInfo{}
}

func (it *LinearIterator) Done() bool            { return it.pos >= it.total }
func (it *LinearIterator) BytesRemaining() int64 { return it.total - it.pos }

// StridedIterator is a 2D iterator over `lines` repetitions of a
// `lineBytes`-sized chunk spaced `stride` bytes apart, e.g. one row of a
// row-major array slice.
type StridedIterator struct {
	base      int64
	lineBytes int64
	stride    int64
	lines     int64
	lineIdx   int64
	lastChunk AddressInfo
}

func NewStridedIterator(base, lineBytes, stride, lines int64) *StridedIterator {
	return &StridedIterator{base: base, lineBytes: lineBytes, stride: stride, lines: lines}
}

func (it *StridedIterator) Step(maxBytes int64) (AddressInfo, bool) {
	if it.lineIdx >= it.lines {
		return AddressInfo{}, false
	}
	// A 2D step always hands out whole lines; maxBytes smaller than one
	// line still hands out one whole line, so the chunk exceeds maxBytes.
	linesThisStep := it.lines - it.lineIdx
	if maxBytes > 0 {
		maxLines := maxBytes / it.lineBytes
		if maxLines < 1 {
			maxLines = 1
		}
		if maxLines < linesThisStep {
			linesThisStep = maxLines
		}
	}
	chunk := AddressInfo{
		Offset: it.base + it.lineIdx*it.stride,
		Size:   it.lineBytes * linesThisStep,
		Stride: it.stride,
		Lines:  linesThisStep,
	}
	it.lastChunk = chunk
	it.lineIdx += linesThisStep
	return chunk, true
}

func (it *StridedIterator) Cancel(keep int64) {
	keepLines := int64(0)
	if it.lineBytes > 0 {
		keepLines = keep / it.lineBytes
	}
	refundLines := it.lastChunk.Lines - keepLines
	it.lineIdx -= refundLines
	it.lastChunk = AddressInfo{}
}

func (it *StridedIterator) Done() bool { return it.lineIdx >= it.lines }
func (it *StridedIterator) BytesRemaining() int64 {
	return (it.lines - it.lineIdx) * it.lineBytes
}
