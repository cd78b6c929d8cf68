package xfer

import (
	"context"
	"fmt"
	"sync"
)

// Channel executes Requests of a particular Kind (§3 "Channel"): it owns
// whatever backend resource actually moves bytes (a memcpy, a file
// handle, a cloud SDK client, a GPU copy engine) and reports completion
// back to the XferDes that submitted each request.
type Channel interface {
	Kind() Kind
	// Submit starts executing req, calling back into req.XD's
	// NotifyRequestRead/NotifyRequestWritten once the corresponding
	// bytes have been consumed/produced. Submit may run synchronously
	// (memcpy) or hand off to an async SDK call (cloud backends), but
	// either way it must not block past a bounded local operation —
	// long waits belong in a goroutine the backend manages itself.
	Submit(ctx context.Context, req *Request) error
	// Capacity bounds how many requests this channel will run
	// concurrently; the XferDesQueue tracks in-flight requests per Kind
	// against it and will not pull more from a Channel than it reports
	// room for (§4.5 admission).
	Capacity() int
}

// Registry maps a Kind to the Channel implementation responsible for it.
// Exactly one Channel is registered per Kind per process; cross-node
// routing (picking which node's channel handles a remote-write) is the
// msg package's concern, not this one.
type Registry struct {
	mu       sync.RWMutex
	channels map[Kind]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Kind]Channel)}
}

func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Kind()] = ch
}

func (r *Registry) Lookup(k Kind) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[k]
	if !ok {
		return nil, fmt.Errorf("xfer: no channel registered for kind %s", k)
	}
	return ch, nil
}

// snapshot returns a shallow copy of the registered channels, used by
// XferDesQueue.Run to spawn one worker pool per kind without holding the
// registry lock for the pool's lifetime.
func (r *Registry) snapshot() map[Kind]Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind]Channel, len(r.channels))
	for k, v := range r.channels {
		out[k] = v
	}
	return out
}
