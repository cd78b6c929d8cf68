package repl

import (
	"sync"

	"github.com/taskmesh/taskmesh/core"
)

// Receiver is anything a LocalRouter can deliver a collective message to.
type Receiver interface {
	Deliver(src core.ShardID, payload any)
}

// LocalRouter is the in-process transport collectives send through. It
// stands in for the real cross-node delivery path (the msg package's
// ControlReplicate{CollectiveMessage,...} envelopes, §6), the same way
// xfer.BufferMemory stands in for a real memory backend: every shard
// participating in a test or a single-process deployment registers its
// collective instances here, and Send delivers on a fresh goroutine so a
// Deliver implementation that itself calls Send (forwarding in
// Broadcast/Gather) never deadlocks against its caller.
type LocalRouter struct {
	mu    sync.Mutex
	table map[core.CollectiveID]map[core.ShardID]Receiver
}

func NewLocalRouter() *LocalRouter {
	return &LocalRouter{table: make(map[core.CollectiveID]map[core.ShardID]Receiver)}
}

func (r *LocalRouter) Register(cid core.CollectiveID, shard core.ShardID, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.table[cid]
	if !ok {
		m = make(map[core.ShardID]Receiver)
		r.table[cid] = m
	}
	m[shard] = recv
}

func (r *LocalRouter) Send(cid core.CollectiveID, dst, src core.ShardID, payload any) {
	r.mu.Lock()
	recv := r.table[cid][dst]
	r.mu.Unlock()
	if recv == nil {
		return
	}
	go recv.Deliver(src, payload)
}
