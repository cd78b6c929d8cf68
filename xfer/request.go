package xfer

import "github.com/taskmesh/taskmesh/core"

// Dim is a request's address shape (§3 "Request").
type Dim int

const (
	Dim1D Dim = iota
	Dim2D
)

// Kind names the backend a Channel implements, used both for request
// routing and for the XferDesQueue's per-kind worker pools (§4.5).
type Kind int

const (
	KindMemcpy Kind = iota
	KindDiskRead
	KindDiskWrite
	KindHDFRead
	KindHDFWrite
	KindGCSRead
	KindGCSWrite
	KindAzureRead
	KindAzureWrite
	KindS3Read
	KindS3Write
	KindGPUToFB
	KindGPUFromFB
	KindGPUInFB
	KindGPUPeerFB
	KindRemoteWrite
)

func (k Kind) String() string {
	switch k {
	case KindMemcpy:
		return "memcpy"
	case KindDiskRead:
		return "disk-read"
	case KindDiskWrite:
		return "disk-write"
	case KindHDFRead:
		return "hdf-read"
	case KindHDFWrite:
		return "hdf-write"
	case KindGCSRead:
		return "gcs-read"
	case KindGCSWrite:
		return "gcs-write"
	case KindAzureRead:
		return "azure-read"
	case KindAzureWrite:
		return "azure-write"
	case KindS3Read:
		return "s3-read"
	case KindS3Write:
		return "s3-write"
	case KindGPUToFB:
		return "gpu-to-fb"
	case KindGPUFromFB:
		return "gpu-from-fb"
	case KindGPUInFB:
		return "gpu-in-fb"
	case KindGPUPeerFB:
		return "gpu-peer-fb"
	case KindRemoteWrite:
		return "remote-write"
	default:
		return "unknown"
	}
}

// Request is one transfer unit handed to a Channel (§3 "Request"): a 1D
// contiguous copy or a 2D strided copy, tagged with the sequence position
// it occupies within its owning XferDes so completion can be reported
// back via AddSpan.
type Request struct {
	XD  *XferDes
	Dim Dim

	Src AddressInfo
	Dst AddressInfo

	// SeqPos/SeqCount locate this request's bytes within the XferDes's
	// overall byte stream, for SequenceAssembler bookkeeping on
	// completion.
	SeqPos   int64
	SeqCount int64

	// CompletionEvent lets an asynchronous backend (GPU engine, cloud SDK
	// call) signal completion without blocking the DMA worker that
	// submitted it; GPUChannel.Submit notifies the XferDes from the
	// event's OnTrigger callback.
	CompletionEvent core.Event

	// Remote-write requests ship their payload to this destination node.
	DestNode uint16

	Err error
}

// Bytes is the number of payload bytes this request moves.
func (r *Request) Bytes() int64 {
	if r.Dim == Dim2D {
		return r.Src.Lines * (r.Src.Size / maxInt64(r.Src.Lines, 1))
	}
	return r.Src.Size
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
